// Package atresult carries the numeric, HTTP-status-like result taxonomy
// that every AT-command operation returns (driver spec §7). It is the only
// error surface the ATCMD/DMODE/operator subsystems use — ambient,
// non-protocol failures use errcode.Code instead and never appear here.
package atresult

import "strconv"

// Code is a numeric result code in the HTTP-status-like scale described by
// the driver spec. It is a comparable, allocation-free newtype.
type Code int

// 2xx — success variants.
const (
	Success        Code = 200
	Accepted       Code = 202
	PartialContent Code = 206
)

// 4xx — caller/environment faults.
const (
	NotFound           Code = 404
	Timeout            Code = 408
	Conflict           Code = 409
	Locked             Code = 423
	PreConditionFailed Code = 412
)

// 5xx — modem/driver faults. ExtendedBase is where vendor +CME/+CMS error
// numbers are offset onto the numeric scale (base + n).
const (
	InternalError Code = 500
	ExtendedBase  Code = 500
)

// OK reports whether c is one of the 2xx success variants.
func (c Code) OK() bool { return c >= 200 && c < 300 }

// Extended builds a vendor-extended result code from a +CME ERROR / +CMS
// ERROR numeric payload.
func Extended(n int) Code { return ExtendedBase + Code(n) }

// ExtendedNumber returns the vendor error number encoded in an extended
// code (c - ExtendedBase), and whether c is in fact an extended code
// (strictly greater than InternalError).
func (c Code) ExtendedNumber() (int, bool) {
	if c <= InternalError {
		return 0, false
	}
	return int(c - ExtendedBase), true
}

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case Accepted:
		return "accepted"
	case PartialContent:
		return "partialContent"
	case NotFound:
		return "notFound"
	case Timeout:
		return "timeout"
	case Conflict:
		return "conflict"
	case Locked:
		return "locked"
	case PreConditionFailed:
		return "preConditionFailed"
	case InternalError:
		return "internalError"
	default:
		if n, ok := c.ExtendedNumber(); ok {
			return "vendor(" + strconv.Itoa(n) + ")"
		}
		return "code(" + strconv.Itoa(int(c)) + ")"
	}
}

// Error implements error so a Code can be returned/wrapped directly when a
// component needs the Go error interface (e.g. from Control()-style
// pass-throughs); OK codes still satisfy error, callers in this driver
// always check the numeric value rather than `err != nil`.
func (c Code) Error() string { return c.String() }
