package buck

import (
	"math"

	"windbuck-go/errcode"
	"windbuck-go/x/mathx"
)

// PI is a proportional-integral controller whose output is clamped to a
// duty cycle in [0, 1].
//
// Only the output is clamped. The integral keeps accumulating while the
// output is saturated (no anti-windup), so recovery from saturation lags.
// It is cleared only by Reset.
type PI struct {
	Kp, Ki   float64
	integral float64
}

// NewPI validates the gains.
func NewPI(kp, ki float64) (*PI, error) {
	if !(kp >= 0) || !(ki >= 0) || math.IsInf(kp, 0) || math.IsInf(ki, 0) {
		return nil, errcode.New(errcode.Configuration, "buck.pi", "PI gains must be finite and >= 0")
	}
	return &PI{Kp: kp, Ki: ki}, nil
}

// Update advances the controller by one sample of ts seconds and returns
// the duty command.
func (c *PI) Update(ref, meas, ts float64) float64 {
	e := ref - meas
	c.integral += e * ts
	return mathx.Unit(c.Kp*e + c.Ki*c.integral)
}

// Integral returns the accumulated error·seconds.
func (c *PI) Integral() float64 { return c.integral }

// Reset clears the integral.
func (c *PI) Reset() { c.integral = 0 }
