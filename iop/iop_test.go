package iop

import (
	"context"
	"testing"
	"time"

	"github.com/jangala-dev/bg-ltem-go/bridge"
	"github.com/jangala-dev/bg-ltem-go/ring"
)

// fakeSPI mirrors bridge_test.go's in-memory register file, duplicated here
// (unexported) so this package's tests don't depend on bridge's test file.
type fakeSPI struct {
	regs   [16]byte
	rxFIFO []byte
	txFIFO []byte
}

func (f *fakeSPI) Tx(w, r []byte) error {
	read := w[0]&0x80 != 0
	reg := (w[0] >> 3) & 0x0F
	switch reg {
	case bridge.RegRHR:
		if read {
			n := copy(r[1:], f.rxFIFO)
			f.rxFIFO = f.rxFIFO[n:]
			return nil
		}
		f.txFIFO = append(f.txFIFO, w[1:]...)
		return nil
	case bridge.RegTXLVL:
		// The wire carries away queued bytes between polls; model that by
		// draining on read so the fake always reports the FIFO as idle.
		f.txFIFO = nil
		r[1] = 64
		return nil
	case bridge.RegRXLVL:
		r[1] = byte(len(f.rxFIFO))
		return nil
	case bridge.RegIIR:
		r[1] = f.regs[bridge.RegIIR]
		return nil
	default:
		if read {
			r[1] = f.regs[reg]
		} else {
			f.regs[reg] = w[1]
		}
		return nil
	}
}

// fakePin is an IRQPin with no real hardware behind it: tests call p.Kick()
// directly instead of relying on an edge-triggered handler.
type fakePin struct {
	level bool
}

func (f *fakePin) Get() bool                  { return f.level }
func (f *fakePin) SetIRQ(handler func()) error { return nil }
func (f *fakePin) ClearIRQ() error             { return nil }

func newTestProcessor(t *testing.T) (*Processor, *fakeSPI) {
	t.Helper()
	spi := &fakeSPI{}
	b := bridge.New(spi, nil)
	rx := ring.New(64)
	p := New(b, rx, 8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := p.AttachIRQ(ctx, &fakePin{}); err != nil {
		t.Fatalf("AttachIRQ: %v", err)
	}
	return p, spi
}

func waitServiced(t *testing.T, p *Processor, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestServiceDrainsRxDataIntoRing(t *testing.T) {
	p, spi := newTestProcessor(t)
	spi.rxFIFO = []byte("+CSQ: 20,99\r\n")
	spi.regs[bridge.RegIIR] = 0x02 << 1 // RX available, pending (bit0 clear)

	p.Kick()
	waitServiced(t, p, func() bool { return p.rx.Occupied() == len("+CSQ: 20,99\r\n") })

	dst := make([]byte, p.rx.Occupied())
	p.rx.PopTo(dst, len(dst))
	if string(dst) != "+CSQ: 20,99\r\n" {
		t.Fatalf("unexpected ring content %q", dst)
	}
}

func TestStartTxWritesSmallPayloadImmediately(t *testing.T) {
	p, spi := newTestProcessor(t)

	payload := []byte("AT+CSQ\r")
	n, err := p.StartTx(payload)
	if err != nil {
		t.Fatalf("StartTx: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected full immediate write of %d bytes (fits in fifo), got %d", len(payload), n)
	}
	if p.TxPending() != 0 {
		t.Fatalf("expected no pending remainder for a small payload")
	}
	if string(spi.txFIFO) != string(payload) {
		t.Fatalf("unexpected tx fifo content %q", spi.txFIFO)
	}
}

func TestServiceLineStatusResetsRing(t *testing.T) {
	p, spi := newTestProcessor(t)
	p.rx.TryWriteFrom([]byte("garbage"))
	spi.regs[bridge.RegIIR] = 0x03 << 1 // line status

	var gotLSR byte
	hookCalled := make(chan struct{}, 1)
	p.SetLineErrorHook(func(lsr byte) {
		gotLSR = lsr
		hookCalled <- struct{}{}
	})

	p.Kick()
	select {
	case <-hookCalled:
	case <-time.After(time.Second):
		t.Fatal("line error hook never called")
	}
	_ = gotLSR
	waitServiced(t, p, func() bool { return p.rx.Occupied() == 0 })
}

func TestIRQDropsCountedWhenChannelFull(t *testing.T) {
	spi := &fakeSPI{}
	b := bridge.New(spi, nil)
	rx := ring.New(64)
	p := New(b, rx, 1)
	// Fill the channel without a running service loop so Kick must drop.
	p.irqCh <- struct{}{}
	p.Kick()
	if p.IRQDrops() != 1 {
		t.Fatalf("expected 1 drop, got %d", p.IRQDrops())
	}
}

func TestRxIdleDurationBeforeAnyData(t *testing.T) {
	p, _ := newTestProcessor(t)
	if p.RxIdleDuration() != -1 {
		t.Fatalf("expected -1 before any RX, got %d", p.RxIdleDuration())
	}
}

func TestForceTxRejectsOversizedPayload(t *testing.T) {
	p, _ := newTestProcessor(t)
	big := make([]byte, bridge.FIFOCapacity+1)
	if _, err := p.ForceTx(big); err == nil {
		t.Fatalf("expected error for oversized ForceTx payload")
	}
}
