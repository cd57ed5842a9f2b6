package types

// ---- Control session state (retained) ----

type SessionLevel string

const (
	SessionStarting SessionLevel = "starting"
	SessionRunning  SessionLevel = "running"
	SessionStopped  SessionLevel = "stopped" // external stop
	SessionFaulted  SessionLevel = "faulted" // fatal read/write/transfer error
)

type SessionState struct {
	Session string       `json:"session"`
	Level   SessionLevel `json:"level"`
	Error   string       `json:"error,omitempty"`
	TS      int64        `json:"ts_ms"`
}

// ---- Per-iteration sample ----

// Sample is what one control iteration measured and commanded.
type Sample struct {
	Session  string  `json:"session"`
	Step     uint64  `json:"step"`
	TS       int64   `json:"ts_ms"`
	Vout     float64 `json:"vout"`
	Iin      float64 `json:"iin"`
	Iout     float64 `json:"iout"`
	Wind     float64 `json:"wind"`
	Target   float64 `json:"target"`
	Duty     float64 `json:"duty"`
	Integral float64 `json:"integral"`
	StepNs   int64   `json:"step_ns"`
	Overrun  bool    `json:"overrun,omitempty"`
}
