// Package dout is a logical on/off output over a raw pin, used for the
// gate-driver enable line.
package dout

import (
	"sync"

	"windbuck-go/errcode"
)

// Pin is a raw digital output.
type Pin interface {
	Set(level bool) error
}

type Params struct {
	ActiveLow bool
	Name      string
}

type Output struct {
	pin Pin
	p   Params

	mu sync.Mutex
	on bool
}

func New(pin Pin, p Params) *Output {
	return &Output{pin: pin, p: p}
}

func (o *Output) Name() string { return o.p.Name }

func (o *Output) toPhys(on bool) bool { return on != o.p.ActiveLow }

// Set drives the logical state.
func (o *Output) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pin == nil {
		return errcode.New(errcode.ChannelUnavailable, "dout.set", "no pin for "+o.p.Name)
	}
	if err := o.pin.Set(o.toPhys(on)); err != nil {
		return err
	}
	o.on = on
	return nil
}

func (o *Output) Enable() error  { return o.Set(true) }
func (o *Output) Disable() error { return o.Set(false) }

// On returns the last driven logical state.
func (o *Output) On() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}
