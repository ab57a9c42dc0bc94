package device

import (
	"context"

	"github.com/jangala-dev/bg-ltem-go/types"
)

// DebugUART is the minimal surface the device facade needs from the modem's
// secondary diagnostic UART (the source's UART1, distinct from the SC16IS7xx
// bridge that carries the AT-command channel).
type DebugUART interface {
	Write(p []byte) (int, error)
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
	SetBaudRate(br uint32)
	SetFormat(dataBits, stopBits uint8, parity types.Parity) error
}

// DebugUARTConfig names the port to dial and its initial line settings.
type DebugUARTConfig struct {
	Port     string // "uart0", "uart1", ...
	BaudRate uint32
	Format   types.SerialSetFormat
}

// DialDebugUART opens the debug UART named by cfg.Port. The build-tagged
// variants in debuguart_mcu.go (rp2040/rp2350, wired to the teacher's
// tinygo-uartx ports) and debuguart_host.go (everywhere else) supply
// openDebugUART; this indirection lets tests substitute their own dialer.
var DialDebugUART = func(cfg DebugUARTConfig) (DebugUART, error) {
	return openDebugUART(cfg)
}
