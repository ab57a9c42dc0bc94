package device

import (
	"strings"
	"testing"
	"time"

	"github.com/google/shlex"
	"github.com/jangala-dev/bg-ltem-go/bridge"
)

// fixtureSPI is the same in-memory SC16IS7xx register file used by the
// bridge/iop/atcmd/operator packages' own tests, duplicated here per the
// package-level _test.go convention.
type fixtureSPI struct {
	regs   [16]byte
	rxFIFO []byte
	txFIFO []byte
}

func (f *fixtureSPI) Tx(w, r []byte) error {
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

type fixturePin struct{ level bool }

func (p *fixturePin) Get() bool                  { return p.level }
func (p *fixturePin) SetIRQ(handler func()) error { return nil }
func (p *fixturePin) ClearIRQ() error             { return nil }
func (p *fixturePin) ConfigureOutput(bool) error  { return nil }
func (p *fixturePin) Set(level bool)              { p.level = level }

// fixtureStep is one scripted modem exchange: once the tx FIFO has grown past
// a command containing Expect as a substring, Respond is placed on the rx
// FIFO and an RX-available interrupt is raised.
type fixtureStep struct {
	Expect  string
	Respond string
}

// parseFixtureLine parses one line of the driver spec's §8 end-to-end
// fixtures, shell-quoted as `expect "<substring>" respond "<response>"`, into
// a fixtureStep. Quoting lets a fixture response embed literal spaces,
// \r\n escapes and the driver's own '+' / ',' wire syntax unambiguously.
func parseFixtureLine(t *testing.T, line string) fixtureStep {
	t.Helper()
	// shlex drops a backslash before an ordinary character, so double the
	// escape backslashes first to keep \r and \n intact for unescape.
	line = strings.ReplaceAll(strings.ReplaceAll(line, `\r`, `\\r`), `\n`, `\\n`)
	fields, err := shlex.Split(line)
	if err != nil {
		t.Fatalf("parseFixtureLine(%q): %v", line, err)
	}
	if len(fields) != 4 || fields[0] != "expect" || fields[2] != "respond" {
		t.Fatalf("malformed fixture line %q", line)
	}
	return fixtureStep{
		Expect:  unescape(fields[1]),
		Respond: unescape(fields[3]),
	}
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\r`, "\r")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return s
}

// runFixture drives spi/pin through a scripted conversation: each step's
// Respond is queued once the tx FIFO contains a command matching Expect. A
// TXLVL register read drains the fake's tx FIFO (see Tx above), so each new
// command starts from an empty FIFO and a plain Contains check is enough —
// no offset bookkeeping needed across steps.
func runFixture(spi *fixtureSPI, pin *fixturePin, kick func(), steps []fixtureStep) {
	go func() {
		for _, step := range steps {
			deadline := time.Now().Add(2 * time.Second)
			for !strings.Contains(string(spi.txFIFO), step.Expect) {
				if time.Now().After(deadline) {
					return
				}
				time.Sleep(time.Millisecond)
			}
			spi.rxFIFO = append(spi.rxFIFO, []byte(step.Respond)...)
			spi.regs[bridge.RegIIR] = 0x02 << 1
			kick()
		}
	}()
}
