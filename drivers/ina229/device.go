package ina229

import (
	"sync"

	"tinygo.org/x/drivers"

	"windbuck-go/errcode"
)

// Device is one INA229 on one bus channel. Input and output current sensors
// are two Devices bound to different channels; nothing else differs.
type Device struct {
	spi drivers.SPI

	mu         sync.RWMutex
	cal        Calibration
	currentLSB float64 // 0 until Configure succeeds
}

// New creates a Device bound to spi. It does not touch the bus.
func New(spi drivers.SPI) *Device {
	return &Device{spi: spi}
}

// Configure writes CONFIG, ADC_CONFIG and SHUNT_CAL in that order. The
// first conversion needs a settle delay before ReadCurrentAmps is
// meaningful; the caller owns that wait.
func (d *Device) Configure(cal Calibration) error {
	shunt, err := cal.ShuntCal()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentLSB = 0

	if err := d.writeU16(RegConfig, cal.ConfigValue()); err != nil {
		return err
	}
	if err := d.writeU16(RegADCConfig, ADCConfigContinuous); err != nil {
		return err
	}
	if err := d.writeU16(RegShuntCal, shunt); err != nil {
		return err
	}
	d.cal = cal
	d.currentLSB = cal.LSB()
	return nil
}

// Calibration returns the last applied calibration.
func (d *Device) Calibration() (Calibration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cal, d.currentLSB > 0
}

// ReadCurrentAmps reads CURRENT and scales it by CURRENT_LSB.
func (d *Device) ReadCurrentAmps() (float64, error) {
	d.mu.RLock()
	lsb := d.currentLSB
	d.mu.RUnlock()
	if lsb == 0 {
		return 0, errcode.New(errcode.NotInitialized, "ina229.current", "sensor not calibrated")
	}
	raw, err := d.readS24(RegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(raw) * lsb, nil
}

// ReadRegister16 reads a 16-bit register (CONFIG, ADC_CONFIG, SHUNT_CAL, ids).
func (d *Device) ReadRegister16(reg uint8) (uint16, error) {
	return d.readU16(reg)
}

// ReadRegister24 reads a 24-bit register. VSHUNT, VBUS and CURRENT are
// sign-extended; POWER is returned as-is.
func (d *Device) ReadRegister24(reg uint8) (int64, error) {
	if reg == RegPower {
		u, err := d.readU24(reg)
		return int64(u), err
	}
	s, err := d.readS24(reg)
	return int64(s), err
}

// Identify reads the manufacturer and device id registers and reports
// whether they match an INA229.
func (d *Device) Identify() (mfr, dev uint16, ok bool, err error) {
	if mfr, err = d.readU16(RegMfrID); err != nil {
		return 0, 0, false, err
	}
	if dev, err = d.readU16(RegDeviceID); err != nil {
		return mfr, 0, false, err
	}
	return mfr, dev, mfr == MfrIDTI && dev>>4 == DeviceID229, nil
}
