package errcode

// Code is a stable error identifier shared by drivers and services.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	NotInitialized     Code = "not_initialized"     // operation before open/configure
	InvalidTransfer    Code = "invalid_transfer"    // empty or mismatched transfer buffers
	ChannelUnavailable Code = "channel_unavailable" // manual CS channel without a pin
	Range              Code = "range"               // channel/address/value out of bounds
	Configuration      Code = "configuration"       // missing pin, bad table, bad gains
	Transfer           Code = "transfer"            // underlying exchange failed
	CalibrationRange   Code = "calibration_range"   // SHUNT_CAL does not fit its register
	Unsupported        Code = "unsupported"

	Error Code = "error" // generic fallback
)

// E keeps an operation name, a message and a cause next to a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.Range) match a wrapped E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New builds an E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap builds an E around cause. A nil cause yields nil.
func Wrap(c Code, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: cause}
}

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
	type wrapper interface{ Unwrap() error }
	if w, ok := err.(wrapper); ok {
		if inner := w.Unwrap(); inner != nil {
			return Of(inner)
		}
	}
	return Error
}
