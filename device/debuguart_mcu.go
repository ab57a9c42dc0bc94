//go:build rp2040 || rp2350

package device

import (
	"context"

	"github.com/jangala-dev/bg-ltem-go/types"
	"github.com/jangala-dev/bg-ltem-go/x/strx"
	"github.com/jangala-dev/tinygo-uartx/uartx"
)

type mcuDebugUART struct{ u *uartx.UART }

func openDebugUART(cfg DebugUARTConfig) (DebugUART, error) {
	port := uartx.UART0
	if strx.Coalesce(cfg.Port, "uart0") == "uart1" {
		port = uartx.UART1
	}
	if err := port.Configure(uartx.UARTConfig{}); err != nil {
		return nil, err
	}
	d := &mcuDebugUART{u: port}
	if cfg.BaudRate != 0 {
		d.SetBaudRate(cfg.BaudRate)
	}
	if cfg.Format.DataBits != 0 {
		if err := d.SetFormat(cfg.Format.DataBits, cfg.Format.StopBits, cfg.Format.Parity); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *mcuDebugUART) Write(p []byte) (int, error) { return d.u.Write(p) }

func (d *mcuDebugUART) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	return d.u.RecvSomeContext(ctx, p)
}

func (d *mcuDebugUART) SetBaudRate(br uint32) { d.u.SetBaudRate(br) }

func (d *mcuDebugUART) SetFormat(dataBits, stopBits uint8, parity types.Parity) error {
	var p uartx.UARTParity
	switch parity {
	case types.ParityEven:
		p = uartx.ParityEven
	case types.ParityOdd:
		p = uartx.ParityOdd
	default:
		p = uartx.ParityNone
	}
	return d.u.SetFormat(dataBits, stopBits, p)
}
