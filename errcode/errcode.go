// Package errcode provides stable, bus-facing error identifiers for the
// driver's ambient/control-plane concerns (configuration, registry,
// lifecycle). It is deliberately separate from atresult.Code, which carries
// the numeric AT-command result taxonomy (§7 of the driver spec) — the two
// never mix.
package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical ambient codes.
const (
	OK                Code = "ok"
	InvalidConfig     Code = "invalid_config"
	UnknownTransport  Code = "unknown_transport"
	BridgeUnavailable Code = "bridge_unavailable"
	StreamTableFull   Code = "stream_table_full"
	StreamExists      Code = "stream_exists"
	UnknownStream     Code = "unknown_stream"
	NotStarted        Code = "not_started"
	AlreadyStarted    Code = "already_started"
	AppNotReady       Code = "app_not_ready"

	Error Code = "error" // generic fallback
)

// E is an optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
