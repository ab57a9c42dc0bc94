package atcmd

import (
	"bytes"

	"github.com/jangala-dev/bg-ltem-go/atresult"
	"github.com/jangala-dev/bg-ltem-go/ring"
	"github.com/jangala-dev/bg-ltem-go/x/strconvx"
)

// Outcome is what a Parser reports after inspecting the occupied region of
// the RX ring.
type Outcome struct {
	Pending bool
	Code    atresult.Code
	// ConsumeThrough is the number of bytes, counted from the ring's tail,
	// that make up this response (including any landmark and terminator).
	// Only meaningful when Pending is false; the engine drops exactly this
	// many bytes from the ring once it has copied out the content region.
	ConsumeThrough int
	// ContentOffset/ContentLen locate the token-bearing body (between the
	// landmark and the terminator) within the ring, counted from the tail
	// at the time Parse returned. The engine copies this region out (via a
	// non-consuming peek) before consuming ConsumeThrough bytes.
	ContentOffset int
	ContentLen    int
}

// Parser inspects (but does not consume) the RX ring and reports whether a
// complete response is available yet. It must never block and must never
// mutate the ring directly — consumption is always driven by the engine
// from the Outcome it returns, so a parser is safe to swap between calls.
type Parser interface {
	Parse(r *ring.Ring) Outcome
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(r *ring.Ring) Outcome

func (f ParserFunc) Parse(r *ring.Ring) Outcome { return f(r) }

const defaultErrorScan = 48

// StandardParser implements the driver's default response grammar: an
// optional landmark prefix, a delimiter, a minimum token count, and a
// terminator. It also recognizes "ERROR\r\n", "+CME ERROR: <n>\r\n" and
// "+CMS ERROR: <n>\r\n" ahead of the configured landmark, per spec §4.4.
type StandardParser struct {
	Landmark     string
	LandmarkReq  bool
	Delimiter    string
	MinTokens    int
	Terminator   string
	MaxScan      int // 0 = unbounded within the ring's occupied bytes
}

func (p StandardParser) Parse(r *ring.Ring) Outcome {
	if out, handled := scanForVendorError(r, p.MaxScan); handled {
		return out
	}

	lmOff := 0
	if p.Landmark != "" {
		off := r.Find([]byte(p.Landmark), 0, p.MaxScan, false)
		if off == ring.NotFound {
			if p.LandmarkReq {
				return Outcome{Pending: true}
			}
			lmOff = 0
		} else {
			lmOff = off + len(p.Landmark)
		}
	}

	termOff := r.Find([]byte(p.Terminator), lmOff, p.MaxScan, false)
	if termOff == ring.NotFound {
		return Outcome{Pending: true}
	}

	content := sliceFromRing(r, lmOff, termOff-lmOff)
	content = bytes.TrimRight(content, "\r\n")

	tokens := 0
	if len(content) > 0 || p.MinTokens == 0 {
		tokens = countTokens(content, p.Delimiter)
	}
	if tokens < p.MinTokens {
		return Outcome{Pending: true}
	}

	return Outcome{
		Pending:        false,
		Code:           atresult.Success,
		ConsumeThrough: termOff + len(p.Terminator),
		ContentOffset:  lmOff,
		ContentLen:     len(content),
	}
}

func countTokens(content []byte, delim string) int {
	if len(content) == 0 {
		return 0
	}
	if delim == "" {
		return 1
	}
	return bytes.Count(content, []byte(delim)) + 1
}

// scanForVendorError looks for a bare ERROR line or a +CME/+CMS ERROR: <n>
// line anywhere within maxScan bytes of the ring's occupied region. It
// reports handled=true with a final outcome once a complete line (including
// its trailing CRLF) has arrived, and handled=true with a Pending outcome
// when a +CME/+CMS landmark is present but its line is not yet complete.
func scanForVendorError(r *ring.Ring, maxScan int) (Outcome, bool) {
	for _, lm := range [...]string{"+CME ERROR: ", "+CMS ERROR: "} {
		lmOff := r.Find([]byte(lm), 0, maxScan, false)
		if lmOff == ring.NotFound {
			continue
		}
		numStart := lmOff + len(lm)
		eol := r.Find([]byte("\r\n"), numStart, defaultErrorScan, false)
		if eol == ring.NotFound {
			// Landmark seen but the number/terminator hasn't arrived yet;
			// this is the only case where a vendor-error scan returns
			// Pending instead of falling through to the caller's grammar.
			return Outcome{Pending: true}, true
		}
		numBytes := sliceFromRing(r, numStart, eol-numStart)
		n, err := strconvx.Atoi(string(numBytes))
		if err != nil {
			n = 0
		}
		return Outcome{
			Pending:        false,
			Code:           atresult.Extended(n),
			ConsumeThrough: eol + 2,
		}, true
	}

	if off := r.Find([]byte("ERROR\r\n"), 0, maxScan, false); off != ring.NotFound {
		return Outcome{
			Pending:        false,
			Code:           atresult.InternalError,
			ConsumeThrough: off + len("ERROR\r\n"),
		}, true
	}
	return Outcome{}, false
}

// sliceFromRing copies n bytes starting offset bytes from the ring's tail,
// without consuming them.
func sliceFromRing(r *ring.Ring, offset, n int) []byte {
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, ok := r.PeekByte(offset + i)
		if !ok {
			return out[:i]
		}
		out[i] = b
	}
	return out
}
