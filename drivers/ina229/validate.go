package ina229

import (
	"math"

	"windbuck-go/errcode"
)

// shuntCalScale is the SHUNT_CAL constant 13107.2 × 10^6.
const shuntCalScale = 13107.2e6

// currentLSBDivisor derives CURRENT_LSB from the expected maximum: 2^19.
const currentLSBDivisor = 1 << 19

// Calibration scales raw current codes to amps.
type Calibration struct {
	ShuntOhms      float64
	MaxCurrentAmps float64
	// CurrentLSB overrides the derived MaxCurrentAmps/2^19 when > 0.
	CurrentLSB float64
	ADCRange   uint8
}

// LSB returns the effective amps-per-code.
func (c Calibration) LSB() float64 {
	if c.CurrentLSB > 0 {
		return c.CurrentLSB
	}
	return c.MaxCurrentAmps / currentLSBDivisor
}

// Validate checks the calibration inputs.
func (c Calibration) Validate() error {
	const op = "ina229.calibration"
	if !(c.ShuntOhms > 0) {
		return errcode.New(errcode.Configuration, op, "shunt resistance must be > 0")
	}
	if c.CurrentLSB < 0 {
		return errcode.New(errcode.Configuration, op, "current LSB must not be negative")
	}
	if c.CurrentLSB == 0 && !(c.MaxCurrentAmps > 0) {
		return errcode.New(errcode.Configuration, op, "max current must be > 0 when current LSB is derived")
	}
	if c.ADCRange != ADCRange0 && c.ADCRange != ADCRange1 {
		return errcode.New(errcode.Range, op, "ADC range selector must be 0 or 1")
	}
	if !(c.LSB() > 0) {
		return errcode.New(errcode.Configuration, op, "current LSB must be > 0")
	}
	return nil
}

// ShuntCal returns the SHUNT_CAL register value:
//
//	round(13107.2e6 × CURRENT_LSB × R_SHUNT), ×2 when ADCRANGE = 1
//
// A value that does not fit 16 bits fails with CalibrationRange.
func (c Calibration) ShuntCal() (uint16, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	v := math.Round(shuntCalScale * c.LSB() * c.ShuntOhms)
	if c.ADCRange == ADCRange1 {
		v *= 2
	}
	if v > math.MaxUint16 {
		return 0, errcode.New(errcode.CalibrationRange, "ina229.shunt_cal", "SHUNT_CAL exceeds 16 bits")
	}
	return uint16(v), nil
}

// ConfigValue returns the CONFIG register value selecting the ADC range.
func (c Calibration) ConfigValue() uint16 {
	return uint16(c.ADCRange&0x1) << cfgADCRangeShift
}
