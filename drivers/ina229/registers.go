// Package ina229 provides register addresses, widths and bitfields for the
// INA229 SPI power monitor, and a driver for current measurement.
package ina229

const (
	// --- Register addresses (6-bit) ---
	RegConfig    = 0x00 // R/W 16: RST, CONVDLY, TEMPCOMP, ADCRANGE
	RegADCConfig = 0x01 // R/W 16: MODE, VBUSCT, VSHCT, VTCT, AVG
	RegShuntCal  = 0x02 // R/W 16: SHUNT_CAL
	RegVShunt    = 0x04 // R 24 signed
	RegVBus      = 0x05 // R 24 signed
	RegCurrent   = 0x07 // R 24 signed
	RegPower     = 0x08 // R 24 unsigned
	RegMfrID     = 0x3E // R 16, reads 0x5449 ("TI")
	RegDeviceID  = 0x3F // R 16, DIEID[15:4] = 0x229

	// --- CONFIG bits ---
	cfgADCRangeShift = 4

	// --- ADC_CONFIG fields ---
	adcModeContShuntBus = 0xB // continuous shunt + bus
	adcCT1052us         = 5   // conversion-time selector
	adcAvg1             = 0

	// ADCConfigContinuous is written at calibration: continuous shunt and
	// bus conversion, 1052 µs per conversion, no averaging.
	ADCConfigContinuous = adcModeContShuntBus<<12 | adcCT1052us<<9 | adcCT1052us<<6 | adcAvg1

	// Identification values.
	MfrIDTI     = 0x5449
	DeviceID229 = 0x229
)

// Register widths in bits.
const (
	width16 = 16
	width24 = 24
)

// ADC range selectors (CONFIG.ADCRANGE).
const (
	ADCRange0 uint8 = 0 // ±163.84 mV
	ADCRange1 uint8 = 1 // ±40.96 mV; doubles SHUNT_CAL
)
