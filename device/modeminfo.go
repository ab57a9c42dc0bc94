package device

import (
	"bytes"
	"context"

	"github.com/jangala-dev/bg-ltem-go/atcmd"
	"github.com/jangala-dev/bg-ltem-go/errcode"
	"github.com/jangala-dev/bg-ltem-go/x/strconvx"
)

// ModuleType issues ATI and returns the modem's model line (e.g. "BG95"),
// the second line of the three-line manufacturer/model/revision response.
func (d *Device) ModuleType(ctx context.Context) (string, error) {
	d.engine.OverrideParser(atcmd.StandardParser{Terminator: "OK\r\n", MinTokens: 0})
	code := d.engine.Dispatch(ctx, "ATI")
	if !code.OK() {
		return "", &errcode.E{C: errcode.Error, Op: "ModuleType", Err: code}
	}
	lines := bytes.Split(bytes.TrimSpace(d.engine.GetRawResponse()), []byte("\r\n"))
	if len(lines) < 2 {
		return "", &errcode.E{C: errcode.Error, Op: "ModuleType", Msg: "unexpected ATI response"}
	}
	return string(bytes.TrimSpace(lines[1])), nil
}

// SwVersion issues AT+QGMR and returns the modem's firmware revision string.
func (d *Device) SwVersion(ctx context.Context) (string, error) {
	d.engine.OverrideParser(atcmd.StandardParser{Terminator: "OK\r\n", MinTokens: 0})
	code := d.engine.Dispatch(ctx, "AT+QGMR")
	if !code.OK() {
		return "", &errcode.E{C: errcode.Error, Op: "SwVersion", Err: code}
	}
	return string(bytes.TrimSpace(d.engine.GetRawResponse())), nil
}

// cclk holds the fields of a parsed AT+CCLK? response:
// `+CCLK: "yy/MM/dd,hh:mm:ss±zz"`, zz in quarter-hour units.
type cclk struct {
	yy, mo, dd, hh, mi, ss int
	tzSign                 byte
	tzQuarters             int
}

// queryCCLK dispatches AT+CCLK? and parses its quoted timestamp. An
// uninitialized modem clock (year digits starting '8', as in 80 for 1980) reports
// ok=false rather than a bogus date.
func (d *Device) queryCCLK(ctx context.Context, op string) (cclk, bool, error) {
	d.engine.ConfigParser("+CCLK: ", true, "", 1, "\r\n", 0)
	code := d.engine.Dispatch(ctx, "AT+CCLK?")
	if !code.OK() {
		return cclk{}, false, &errcode.E{C: errcode.Error, Op: op, Err: code}
	}
	tok, ok := d.engine.GetToken(0)
	if !ok {
		return cclk{}, false, &errcode.E{C: errcode.Error, Op: op, Msg: "missing timestamp token"}
	}
	ts := bytes.Trim(tok, `"`)
	// "yy/MM/dd,hh:mm:ss±zz" is exactly 20 bytes.
	if len(ts) != 20 {
		return cclk{}, false, &errcode.E{C: errcode.Error, Op: op, Msg: "malformed AT+CCLK? timestamp"}
	}
	if ts[0] == '8' {
		return cclk{}, false, nil // clock never set
	}
	c := cclk{
		yy:     atoi2(ts[0:2]),
		mo:     atoi2(ts[3:5]),
		dd:     atoi2(ts[6:8]),
		hh:     atoi2(ts[9:11]),
		mi:     atoi2(ts[12:14]),
		ss:     atoi2(ts[15:17]),
		tzSign: ts[17],
	}
	c.tzQuarters, _ = strconvx.Atoi(string(ts[18:20]))
	return c, true, nil
}

func atoi2(b []byte) int {
	n, _ := strconvx.Atoi(string(b))
	return n
}

// LocalDateTime issues AT+CCLK? and formats the modem's local date and time.
// format selects the rendering: 'v' (verbose) returns the modem's own
// "yy/MM/dd,hh:mm:ss" text unchanged; 'c' (compact) returns a two-digit-year
// "yyMMddThhmmss" with no timezone suffix; any other value (conventionally
// 'i') returns full ISO 8601 with a four-digit year and a "±hhmm" timezone
// offset. An unset modem clock reports an empty string and no error.
func (d *Device) LocalDateTime(ctx context.Context, format byte) (string, error) {
	c, ok, err := d.queryCCLK(ctx, "LocalDateTime")
	if err != nil || !ok {
		return "", err
	}

	two := func(n int) string {
		s := strconvx.Itoa(n)
		if len(s) < 2 {
			s = "0" + s
		}
		return s
	}

	switch format {
	case 'v', 'V':
		return two(c.yy) + "/" + two(c.mo) + "/" + two(c.dd) + "," +
			two(c.hh) + ":" + two(c.mi) + ":" + two(c.ss), nil
	case 'c', 'C':
		return two(c.yy) + two(c.mo) + two(c.dd) + "T" + two(c.hh) + two(c.mi) + two(c.ss), nil
	default:
		hours := c.tzQuarters / 4
		minutes := (c.tzQuarters % 4) * 15
		return "20" + two(c.yy) + two(c.mo) + two(c.dd) + "T" + two(c.hh) + two(c.mi) + two(c.ss) +
			string(c.tzSign) + two(hours) + two(minutes), nil
	}
}

// LocalTZOffset issues AT+CCLK? and returns the modem's reported timezone
// offset, in quarter-hour units if precise, otherwise in whole hours
// truncated toward zero. An unset modem clock reports 0 and no error.
func (d *Device) LocalTZOffset(ctx context.Context, precise bool) (int, error) {
	c, ok, err := d.queryCCLK(ctx, "LocalTZOffset")
	if err != nil || !ok {
		return 0, err
	}
	offset := c.tzQuarters
	if !precise {
		offset /= 4
	}
	if c.tzSign == '-' {
		offset = -offset
	}
	return offset, nil
}
