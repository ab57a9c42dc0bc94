package device

import (
	"context"

	"github.com/jangala-dev/bg-ltem-go/errcode"
	"github.com/jangala-dev/bg-ltem-go/x/mathx"
	"github.com/jangala-dev/bg-ltem-go/x/strconvx"
)

// rssiUnknown is the AT+CSQ sentinel for "not detectable".
const rssiUnknown = 99

// rssiMax is the top of AT+CSQ's 0..31 scale.
const rssiMax = 31

// dBmFloor/dBmSpan express the percent-to-dBm mapping (-113 dBm at 0%,
// -51 dBm at 100%) as integers.
const (
	dBmFloor = -113
	dBmSpan  = 62
)

// Signal is the decoded AT+CSQ reading.
type Signal struct {
	Raw     int // 0..31, or 99 if not detectable
	Percent int // 0..100, 0 when Raw is unknown
	Bars    int // 0..5, 0 when Raw is unknown
	DBm     int // estimated received signal strength in dBm, 0 when Raw is unknown
	Known   bool
}

// SignalQuality issues AT+CSQ and converts the raw 0..31 scale into a
// percentage and a 0..5 bar count, clamped via the teacher's generic
// ordered-clamp helper rather than hand-rolled bounds checks.
func (d *Device) SignalQuality(ctx context.Context) (Signal, error) {
	d.engine.ConfigParser("+CSQ: ", true, ",", 2, "\r\n", 0)
	code := d.engine.Dispatch(ctx, "AT+CSQ")
	if !code.OK() {
		return Signal{}, &errcode.E{C: errcode.Error, Op: "SignalQuality", Err: code}
	}

	tok, ok := d.engine.GetToken(0)
	if !ok {
		return Signal{}, &errcode.E{C: errcode.Error, Op: "SignalQuality", Msg: "missing rssi token"}
	}
	raw, err := strconvx.Atoi(string(tok))
	if err != nil {
		return Signal{}, &errcode.E{C: errcode.Error, Op: "SignalQuality", Msg: "malformed rssi", Err: err}
	}

	if raw == rssiUnknown {
		return Signal{Raw: raw}, nil
	}

	raw = mathx.Clamp(raw, 0, rssiMax)
	percent := mathx.Clamp(raw*100/rssiMax, 0, 100)
	bars := mathx.Clamp(raw*5/rssiMax, 0, 5)
	dBm := dBmFloor + percent*dBmSpan/100
	return Signal{Raw: raw, Percent: percent, Bars: bars, DBm: dBm, Known: true}, nil
}
