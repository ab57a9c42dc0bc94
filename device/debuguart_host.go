//go:build !(rp2040 || rp2350)

package device

import (
	"context"
	"sync"

	"github.com/jangala-dev/bg-ltem-go/types"
)

// hostDebugUART is a loopback-free stand-in for hosts with no real debug
// UART attached: writes are discarded and reads block until ctx is done.
type hostDebugUART struct {
	mu     sync.Mutex
	baud   uint32
	format types.SerialSetFormat
}

func openDebugUART(cfg DebugUARTConfig) (DebugUART, error) {
	return &hostDebugUART{baud: cfg.BaudRate, format: cfg.Format}, nil
}

func (d *hostDebugUART) Write(p []byte) (int, error) { return len(p), nil }

func (d *hostDebugUART) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (d *hostDebugUART) SetBaudRate(br uint32) {
	d.mu.Lock()
	d.baud = br
	d.mu.Unlock()
}

func (d *hostDebugUART) SetFormat(dataBits, stopBits uint8, parity types.Parity) error {
	d.mu.Lock()
	d.format = types.SerialSetFormat{DataBits: dataBits, StopBits: stopBits, Parity: parity}
	d.mu.Unlock()
	return nil
}
