// Package dmode implements the driver's two data-mode handlers: a
// length-framed RX handler for commands that stream bytes back from the
// modem (file reads, socket receives), and a default TX handler for
// commands that push a caller buffer into the modem once a trigger literal
// is observed. Both satisfy atcmd.DataModeHandler and are armed via
// Engine.ConfigDataMode.
package dmode

import (
	"context"
	"time"

	"github.com/jangala-dev/bg-ltem-go/atresult"
	"github.com/jangala-dev/bg-ltem-go/iop"
	"github.com/jangala-dev/bg-ltem-go/ring"
	"github.com/jangala-dev/bg-ltem-go/x/strconvx"
)

const (
	trailer        = "\r\nOK\r\n"
	eolDeadline    = 200 * time.Millisecond
	pollInterval   = 2 * time.Millisecond
	vendorErrorLM1 = "+CME ERROR: "
	vendorErrorLM2 = "+CMS ERROR: "
)

// RecvFunc is the application's receive callback: it observes a contiguous
// slice of payload bytes, in modem order, without retaining the slice past
// the call (the ring reclaims the memory once the callback returns).
type RecvFunc func(contextID int, chunk []byte)

// LengthFramedRx handles responses of the form
// "CONNECT <decimal-length>\r\n<payload>\r\nOK\r\n"; a bare "CONNECT\r\n"
// without a length is not handled. Payload bytes go to Recv in at most two calls
// even across a ring wrap, per the ordering guarantee.
type LengthFramedRx struct {
	ContextID int
	Recv      RecvFunc
	// Requested is the byte count the caller asked for; if the modem
	// reports fewer bytes available, Run returns PartialContent instead of
	// Success. Zero means "accept whatever length is reported."
	Requested int
}

// Run implements atcmd.DataModeHandler. It assumes r's tail already sits
// immediately after the matched trigger literal (Engine consumes through
// the trigger before invoking a data-mode handler configured with
// PrependTrigger=false).
func (h LengthFramedRx) Run(ctx context.Context, r *ring.Ring, _ *iop.Processor) atresult.Code {
	length, ok, code := readFramedLength(ctx, r)
	if !ok {
		return code
	}

	needed := length + len(trailer)
	if !waitOccupied(ctx, r, needed) {
		return atresult.Timeout
	}
	if code, aborted := scanForVendorError(r); aborted {
		return code
	}

	remaining := length
	for remaining > 0 {
		block := r.PopBlock(remaining)
		if len(block) == 0 {
			r.FinalizePop(0, false)
			break
		}
		if h.Recv != nil {
			h.Recv(h.ContextID, block)
		}
		consumed := len(block)
		r.FinalizePop(consumed, true)
		remaining -= consumed
	}

	r.SkipTail(len(trailer))

	if h.Requested > 0 && length < h.Requested {
		return atresult.PartialContent
	}
	return atresult.Success
}

// readFramedLength waits for the EOL following "CONNECT " (or whatever
// trigger Engine matched), parses the decimal length, and consumes through
// it. Returns ok=false with the code to abort with if the deadline elapses
// or a vendor error line arrives first.
func readFramedLength(ctx context.Context, r *ring.Ring) (length int, ok bool, abortCode atresult.Code) {
	deadline := time.Now().Add(eolDeadline)
	for {
		if code, aborted := scanForVendorError(r); aborted {
			return 0, false, code
		}
		if off := r.Find([]byte("\r\n"), 0, 0, false); off != ring.NotFound {
			digits := make([]byte, off)
			for i := 0; i < off; i++ {
				b, _ := r.PeekByte(i)
				digits[i] = b
			}
			n, err := strconvx.Atoi(string(digits))
			r.SkipTail(off + 2)
			if err != nil {
				return 0, false, atresult.InternalError
			}
			return n, true, 0
		}
		if time.Now().After(deadline) {
			return 0, false, atresult.Timeout
		}
		if !sleepOrDone(ctx, pollInterval) {
			return 0, false, atresult.Timeout
		}
	}
}

func waitOccupied(ctx context.Context, r *ring.Ring, n int) bool {
	for r.Occupied() < n {
		select {
		case <-ctx.Done():
			return false
		case <-r.Readable():
		case <-time.After(pollInterval):
		}
	}
	return true
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func scanForVendorError(r *ring.Ring) (atresult.Code, bool) {
	for _, lm := range [...]string{vendorErrorLM1, vendorErrorLM2} {
		off := r.Find([]byte(lm), 0, 0, false)
		if off == ring.NotFound {
			continue
		}
		numStart := off + len(lm)
		eol := r.Find([]byte("\r\n"), numStart, 16, false)
		if eol == ring.NotFound {
			continue
		}
		digits := make([]byte, eol-numStart)
		for i := range digits {
			b, _ := r.PeekByte(numStart + i)
			digits[i] = b
		}
		n, err := strconvx.Atoi(string(digits))
		if err != nil {
			n = 0
		}
		r.SkipTail(eol + 2)
		return atresult.Extended(n), true
	}
	return 0, false
}

// DefaultTx handles commands that push a caller buffer into the modem once
// the trigger is seen (e.g. "AT+QFWRITE" after it echoes "CONNECT\r\n"),
// then lets ATCMD resume parsing for the completion line.
type DefaultTx struct {
	Src []byte
}

// Run implements atcmd.DataModeHandler.
func (h DefaultTx) Run(_ context.Context, _ *ring.Ring, p *iop.Processor) atresult.Code {
	if _, err := p.StartTx(h.Src); err != nil {
		return atresult.InternalError
	}
	return atresult.Success
}
