//go:build !(rp2040 || rp2350)

// modem-demo is a host-side smoke test for the device facade, in the
// teacher's println-driven cmd/ style: it boots a Device against a scripted
// in-memory bridge standing in for a real SC16IS7xx/modem pair, drives it
// through start/ping/signal-quality/stop, and reports each step.
package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jangala-dev/bg-ltem-go/bridge"
	"github.com/jangala-dev/bg-ltem-go/bus"
	"github.com/jangala-dev/bg-ltem-go/device"
	"github.com/jangala-dev/bg-ltem-go/notify"
)

// loopbackSPI is a minimal scripted SC16IS7xx register file: it answers
// "APP RDY" unprompted, echoes ATE0/URC-routing with bare OK, and answers
// AT+CSQ once so the demo has something to report.
type loopbackSPI struct {
	mu     sync.Mutex
	regs   [16]byte
	rxFIFO []byte
	txFIFO []byte
}

func newLoopbackSPI() *loopbackSPI {
	s := &loopbackSPI{}
	s.rxFIFO = append(s.rxFIFO, []byte("\r\nAPP RDY\r\n")...)
	s.regs[bridge.RegIIR] = 0x02 << 1
	return s
}

func (s *loopbackSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	read := w[0]&0x80 != 0
	reg := (w[0] >> 3) & 0x0F
	switch reg {
	case bridge.RegRHR:
		if read {
			n := copy(r[1:], s.rxFIFO)
			s.rxFIFO = s.rxFIFO[n:]
			return nil
		}
		s.txFIFO = append(s.txFIFO, w[1:]...)
		s.respond()
		return nil
	case bridge.RegTXLVL:
		s.txFIFO = nil
		r[1] = 64
		return nil
	case bridge.RegRXLVL:
		r[1] = byte(len(s.rxFIFO))
		return nil
	case bridge.RegIIR:
		r[1] = s.regs[bridge.RegIIR]
		return nil
	default:
		if read {
			r[1] = s.regs[reg]
		} else {
			s.regs[reg] = w[1]
		}
		return nil
	}
}

// respond answers the most recently written command once it looks complete
// (terminated by '\r'), queuing the matching canned reply.
func (s *loopbackSPI) respond() {
	cmd := string(s.txFIFO)
	var reply string
	switch {
	case strings.Contains(cmd, "AT+CSQ"):
		reply = "\r\nAT+CSQ\r\r\n+CSQ: 22,99\r\n\r\nOK\r\n"
	case strings.Contains(cmd, "AT\r"):
		reply = "\r\nOK\r\n"
	case strings.HasSuffix(cmd, "\r"):
		reply = "\r\nOK\r\n"
	default:
		return
	}
	s.rxFIFO = append(s.rxFIFO, []byte(reply)...)
	s.regs[bridge.RegIIR] = 0x02 << 1
}

// demoPin satisfies both device.GPIOPin and iop.IRQPin without any real
// electrical behaviour: the loopback bridge has no edge-triggered line, so
// main polls and calls the IOP's Kick directly instead of arming handler.
type demoPin struct{}

func (p *demoPin) ConfigureOutput(bool) error { return nil }
func (p *demoPin) Set(bool)                   {}
func (p *demoPin) Get() bool                  { return false }
func (p *demoPin) SetIRQ(func()) error        { return nil }
func (p *demoPin) ClearIRQ() error            { return nil }

func main() {
	println("[modem-demo] boot")

	b := bus.NewBus(8)
	events := notify.New(b, "modem-demo")
	defer events.Close()
	stop := events.Subscribe(func(ev notify.Event) {
		println("[modem-demo] event:", string(ev.Kind), ev.Msg)
	})
	defer stop()

	spi := newLoopbackSPI()
	pin := &demoPin{}

	d, err := device.Create(device.Config{
		SPI:                spi,
		IRQPin:             pin,
		Notify:             events,
		StartupTimeout:     2 * time.Second,
		OperatorAttachWait: 200 * time.Millisecond,
	})
	if err != nil {
		println("[modem-demo] FAIL: create:", err.Error())
		return
	}

	// The loopback bridge has no real interrupt line; nudge the IOP's
	// service loop directly whenever a byte lands in the rx FIFO.
	go func() {
		for {
			time.Sleep(2 * time.Millisecond)
			spi.mu.Lock()
			pending := len(spi.rxFIFO) > 0
			spi.mu.Unlock()
			if pending {
				d.IOP().Kick()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	println("[modem-demo] starting …")
	if err := d.Start(ctx, device.ResetSkipIfOn); err != nil {
		println("[modem-demo] FAIL: start:", err.Error())
		return
	}
	println("[modem-demo] state:", d.DeviceState().String())

	if err := d.Ping(ctx); err != nil {
		println("[modem-demo] FAIL: ping:", err.Error())
	} else {
		println("[modem-demo] ping OK")
	}

	sig, err := d.SignalQuality(ctx)
	if err != nil {
		println("[modem-demo] FAIL: signal quality:", err.Error())
	} else {
		println("[modem-demo] signal: raw=", sig.Raw, " percent=", sig.Percent, " dBm=", sig.DBm)
	}

	if err := d.Stop(); err != nil {
		println("[modem-demo] FAIL: stop:", err.Error())
		return
	}
	println("[modem-demo] stopped, final state:", d.DeviceState().String())
}
