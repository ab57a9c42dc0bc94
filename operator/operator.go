// Package operator implements the driver's thin operator-attach client:
// polling AT+COPS? once a second until an operator name is reported, then
// AT+CGPADDR to populate the assigned IPv4 address. The polling loop's
// jittered re-arm is adapted from the teacher's poller idiom (a single
// recurring item doesn't need the full heap scheduler, only its jitter
// discipline).
package operator

import (
	"context"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/bg-ltem-go/atcmd"
	"github.com/jangala-dev/bg-ltem-go/atresult"
)

// IoTMode is the RAT the modem reports via AT+COPS? in its IoT-mode digit.
type IoTMode int

const (
	ModeGSM IoTMode = iota
	ModeM1
	ModeNB1
)

func (m IoTMode) String() string {
	switch m {
	case ModeM1:
		return "M1"
	case ModeNB1:
		return "NB1"
	default:
		return "GSM"
	}
}

// decodeIoTMode maps the AT+COPS? access-technology digit onto IoTMode:
// 8 -> M1, 9 -> NB1, anything else -> GSM.
func decodeIoTMode(digit string) IoTMode {
	switch digit {
	case "8":
		return ModeM1
	case "9":
		return ModeNB1
	default:
		return ModeGSM
	}
}

// Info is the operator attach result surfaced to the device facade.
type Info struct {
	Name      string
	Mode      IoTMode
	IPv4      string
	Attempted bool
}

// Client runs AT+COPS?/AT+CGPADDR against an atcmd.Engine.
type Client struct {
	engine *atcmd.Engine

	cancel atomic.Bool // cancellation_request, polled by long waits
}

// New binds a Client to engine.
func New(engine *atcmd.Engine) *Client {
	return &Client{engine: engine}
}

// Cancel sets the cancellation flag, short-circuiting any in-progress
// Await call on its next poll.
func (c *Client) Cancel() { c.cancel.Store(true) }

func (c *Client) resetCancel() { c.cancel.Store(false) }

const (
	pollInterval = time.Second
	pollJitter   = 150 * time.Millisecond
)

// Await clears the operator struct and polls AT+COPS? every second (plus
// jitter) until an operator name is reported or wait elapses, then issues
// AT+CGPADDR to populate the IPv4 address. Setting Cancel short-circuits the
// wait, returning the best-effort state collected so far.
func (c *Client) Await(ctx context.Context, wait time.Duration) Info {
	c.resetCancel()
	deadline := time.Now().Add(wait)
	var info Info

	for time.Now().Before(deadline) {
		if c.cancel.Load() {
			break
		}
		info.Attempted = true
		if name, mode, ok := c.queryCOPS(ctx); ok {
			info.Name, info.Mode = name, mode
			break
		}
		if !sleepJittered(ctx, pollInterval, pollJitter) {
			break
		}
	}

	if info.Name != "" {
		info.IPv4 = c.queryIPv4(ctx)
	}
	return info
}

// queryCOPS issues AT+COPS? and extracts the operator name and IoT-mode
// digit from "+COPS: <mode>,<format>,\"<name>\",<act>".
func (c *Client) queryCOPS(ctx context.Context) (name string, mode IoTMode, ok bool) {
	c.engine.ConfigParser("+COPS: ", true, ",", 1, "\r\n", 0)
	code := c.engine.Dispatch(ctx, "AT+COPS?")
	if code != atresult.Success {
		return "", ModeGSM, false
	}
	tokens := c.engine.GetResponse()
	if len(tokens) < 3 {
		return "", ModeGSM, false
	}
	name = strings.Trim(string(tokens[2]), "\"")
	if name == "" {
		return "", ModeGSM, false
	}
	if len(tokens) >= 4 {
		mode = decodeIoTMode(strings.TrimSpace(string(tokens[3])))
	}
	return name, mode, true
}

// queryIPv4 issues AT+CGPADDR and extracts the first packet data context's
// IPv4 address from "+CGPADDR: <cid>,\"<ip>\"".
func (c *Client) queryIPv4(ctx context.Context) string {
	c.engine.ConfigParser("+CGPADDR: ", true, ",", 2, "\r\n", 0)
	code := c.engine.Dispatch(ctx, "AT+CGPADDR=1")
	if code != atresult.Success {
		return ""
	}
	tokens := c.engine.GetResponse()
	if len(tokens) < 2 {
		return ""
	}
	return strings.Trim(string(tokens[1]), "\"")
}

func sleepJittered(ctx context.Context, base, jitter time.Duration) bool {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter) + 1))
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
