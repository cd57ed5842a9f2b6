package config

import "windbuck-go/platform"

// Board maps the SPI, chip-select, gate-driver and PWM sections onto the
// board resources. Device and mode indexes follow spibus selectors.
func (c *Config) Board() platform.BoardConfig {
	return platform.BoardConfig{
		SpeedHz:    c.SPI.SpeedHz,
		Devices:    [3]string{c.SPI.CS0.Device, c.SPI.CS1.Device, c.SPI.Manual.Device},
		Modes:      [3]int{c.SPI.CS0.Mode, c.SPI.CS1.Mode, c.SPI.Manual.Mode},
		CSPin:      c.ManualCS.Pin,
		GatePin:    c.GateDriver.EnablePin,
		PWMPin:     c.PWM.Pin,
		CSIdleHigh: true,

		GateActiveLow: c.GateDriver.ActiveLow,
	}
}

// SimOptions places the simulated converter where the ADC and current
// sensor sections say the real one is.
func (c *Config) SimOptions() platform.SimOptions {
	return platform.SimOptions{
		Channel: c.ADC.Channel,
		VRef:    c.ADC.VRef,
		Divider: c.ADC.Divider,
		InLSB:   c.INAIn.Calibration().LSB(),
		OutLSB:  c.INAOut.Calibration().LSB(),
	}
}
