// Package pwmout drives the converter's switching PWM from a duty cycle in
// [0, 1].
package pwmout

import (
	"sync"

	"windbuck-go/errcode"
	"windbuck-go/x/mathx"
)

// PWM is the platform's hardware PWM channel. Percent is 0..100.
type PWM interface {
	Configure(freqHz uint64) error
	SetPercent(percent float64) error
	Stop() error
}

type Params struct {
	FreqHz    uint64
	ActiveLow bool // invert duty at the pin
}

// Output is the duty-cycle surface used by the control loop.
type Output struct {
	pwm PWM
	p   Params

	mu     sync.Mutex
	inited bool
	last   float64 // last logical duty
}

func New(pwm PWM, p Params) *Output {
	return &Output{pwm: pwm, p: p}
}

// --- logical <-> physical mapping (invert if ActiveLow) ---

func (o *Output) toPhys(duty float64) float64 {
	d := mathx.Unit(duty)
	if o.p.ActiveLow {
		d = 1 - d
	}
	return d * 100
}

// Init configures the frequency and drives logical duty 0.
func (o *Output) Init() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pwm == nil {
		return errcode.New(errcode.Configuration, "pwmout.init", "no PWM channel")
	}
	if o.p.FreqHz == 0 {
		return errcode.New(errcode.Configuration, "pwmout.init", "PWM frequency must be > 0")
	}
	if err := o.pwm.Configure(o.p.FreqHz); err != nil {
		return err
	}
	if err := o.pwm.SetPercent(o.toPhys(0)); err != nil {
		return err
	}
	o.inited = true
	o.last = 0
	return nil
}

// SetDuty clamps duty to [0, 1] and applies it. It fails until Init has
// succeeded and after Close.
func (o *Output) SetDuty(duty float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.inited {
		return errcode.New(errcode.NotInitialized, "pwmout.set", "PWM not initialised")
	}
	if err := o.pwm.SetPercent(o.toPhys(duty)); err != nil {
		return err
	}
	o.last = mathx.Unit(duty)
	return nil
}

// Duty returns the last applied logical duty.
func (o *Output) Duty() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Close stops the PWM. Further SetDuty calls fail.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.inited {
		return nil
	}
	o.inited = false
	o.last = 0
	return o.pwm.Stop()
}
