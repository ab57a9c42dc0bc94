package atcmd

import (
	"context"
	"testing"
	"time"

	"github.com/jangala-dev/bg-ltem-go/atresult"
	"github.com/jangala-dev/bg-ltem-go/bridge"
	"github.com/jangala-dev/bg-ltem-go/iop"
	"github.com/jangala-dev/bg-ltem-go/ring"
)

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

type fakePin struct{}

func (fakePin) Get() bool                  { return false }
func (fakePin) SetIRQ(handler func()) error { return nil }
func (fakePin) ClearIRQ() error             { return nil }

type harness struct {
	spi *fakeSPI
	p   *iop.Processor
	rx  *ring.Ring
	e   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	spi := &fakeSPI{}
	b := bridge.New(spi, nil)
	rx := ring.New(256)
	p := iop.New(b, rx, 8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := p.AttachIRQ(ctx, fakePin{}); err != nil {
		t.Fatalf("AttachIRQ: %v", err)
	}
	return &harness{spi: spi, p: p, rx: rx, e: New(p, rx)}
}

// deliver simulates the modem placing resp on the bridge's RX FIFO and the
// IOP draining it into the ring, after a short delay so the engine observes
// the Sent -> Parsing transition first.
func (h *harness) deliver(resp string) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.spi.rxFIFO = []byte(resp)
		h.spi.regs[bridge.RegIIR] = 0x02 << 1
		h.p.Kick()
	}()
}

func TestDispatchSuccessSignalQuality(t *testing.T) {
	h := newHarness(t)
	h.e.ConfigParser("+CSQ: ", true, ",", 2, "\r\n", 0)
	h.deliver("\r\n+CSQ: 20,99\r\n\r\nOK\r\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code := h.e.Dispatch(ctx, "AT+CSQ")
	if code != atresult.Success {
		t.Fatalf("expected success, got %v", code)
	}
	tok0, ok := h.e.GetToken(0)
	if !ok || string(tok0) != "20" {
		t.Fatalf("unexpected token 0: %q ok=%v", tok0, ok)
	}
	tok1, ok := h.e.GetToken(1)
	if !ok || string(tok1) != "99" {
		t.Fatalf("unexpected token 1: %q ok=%v", tok1, ok)
	}
}

func TestDispatchVendorErrorExtendedCode(t *testing.T) {
	h := newHarness(t)
	h.e.ConfigParser("", false, ",", 0, "\r\n", 0)
	h.deliver("\r\n+CME ERROR: 10\r\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code := h.e.Dispatch(ctx, "AT+CFUN=1")
	if code != atresult.Extended(10) {
		t.Fatalf("expected extended(10), got %v", code)
	}
}

func TestDispatchTimeoutWhenNoResponse(t *testing.T) {
	h := newHarness(t)
	h.e.OverrideTimeout(30)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code := h.e.Dispatch(ctx, "AT")
	if code != atresult.Timeout {
		t.Fatalf("expected timeout, got %v", code)
	}
}

func TestSecondDispatchBlocksUntilFirstCloses(t *testing.T) {
	h := newHarness(t)
	if !h.e.TryInvoke("AT") {
		t.Fatalf("expected first TryInvoke to succeed")
	}
	if h.e.TryInvoke("AT") {
		t.Fatalf("expected second TryInvoke to fail while locked")
	}
	if !h.e.Busy() {
		t.Fatalf("expected engine to report busy")
	}

	h.deliver("OK\r\n")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.e.AwaitResult(ctx)
	h.e.Close()

	if h.e.Busy() {
		t.Fatalf("expected engine to be free after Close")
	}
	if !h.e.TryInvoke("AT") {
		t.Fatalf("expected TryInvoke to succeed after Close")
	}
	h.e.Close()
}

func TestDefaultParserAcceptsBareOK(t *testing.T) {
	h := newHarness(t)
	h.deliver("OK\r\n")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code := h.e.Dispatch(ctx, "ATE0")
	if code != atresult.Success {
		t.Fatalf("expected success, got %v", code)
	}
}
