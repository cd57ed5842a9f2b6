// Package spibus arbitrates one physical SPI bus between three logical
// channels: two whose chip-select lines are driven by the transport
// (HardwareCS0, HardwareCS1) and one whose line is toggled in software
// (ManualCS) with explicit setup and hold delays.
//
// Every transaction holds the bus lock from the first CS edge to the last,
// so transactions on different channels never interleave.
package spibus

import "time"

// Selector names a logical endpoint on the shared bus.
type Selector uint8

const (
	HardwareCS0 Selector = iota
	HardwareCS1
	ManualCS

	numSelectors
)

func (s Selector) String() string {
	switch s {
	case HardwareCS0:
		return "cs0"
	case HardwareCS1:
		return "cs1"
	case ManualCS:
		return "manual"
	default:
		return "invalid"
	}
}

// Valid reports whether s is one of the three channels.
func (s Selector) Valid() bool { return s < numSelectors }

// Manual reports whether the channel's CS line is driven in software.
func (s Selector) Manual() bool { return s == ManualCS }

// Transport is the raw byte-exchange primitive supplied by the platform.
// Tx clocks out w and fills r (same length). For hardware channels the
// transport asserts and releases CS around the exchange; for ManualCS it
// must leave CS alone.
type Transport interface {
	Tx(sel Selector, w, r []byte) error
	Close() error
}

// Pin is a raw digital output.
type Pin interface {
	Set(level bool) error
}

// Observer is told about every completed transaction, failed or not.
type Observer func(sel Selector, n int, d time.Duration, err error)
