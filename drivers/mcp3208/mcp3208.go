// Package mcp3208 reads the MCP3208 8-channel 12-bit SPI ADC in
// single-ended mode.
//
// The command is positional rather than register-addressed: start bit,
// SGL/DIFF and the three channel bits straddle the first two bytes, and the
// 12-bit result arrives in the low nibble of byte 1 and all of byte 2.
package mcp3208

import (
	"tinygo.org/x/drivers"

	"windbuck-go/errcode"
)

const (
	// MaxChannel is the highest single-ended input.
	MaxChannel = 7
	// FullScale is the largest 12-bit code.
	FullScale = 4095

	cmdStartSingle = 0x06 // start bit + SGL
)

// Device is an MCP3208 bound to one bus channel. It holds no buffers, so
// concurrent readers only contend on the bus itself.
type Device struct {
	bus drivers.SPI
}

// New creates a Device. It does not touch the bus.
func New(bus drivers.SPI) *Device {
	return &Device{bus: bus}
}

// Command returns the 3-byte frame that samples channel ch.
func Command(ch int) ([3]byte, error) {
	if ch < 0 || ch > MaxChannel {
		return [3]byte{}, errcode.New(errcode.Range, "mcp3208.command", "channel must be 0-7")
	}
	return [3]byte{
		cmdStartSingle | byte(ch>>2),
		byte(ch&0x03) << 6,
		0x00,
	}, nil
}

// Decode extracts the 12-bit code from a 3-byte response.
func Decode(rx [3]byte) uint16 {
	return uint16(rx[1]&0x0F)<<8 | uint16(rx[2])
}

// ReadRaw samples channel ch and returns a code in [0, 4095].
func (d *Device) ReadRaw(ch int) (uint16, error) {
	tx, err := Command(ch)
	if err != nil {
		return 0, err
	}
	var rx [3]byte
	if err := d.bus.Tx(tx[:], rx[:]); err != nil {
		return 0, err
	}
	return Decode(rx), nil
}

// ReadVoltage samples channel ch and scales it against vref.
func (d *Device) ReadVoltage(ch int, vref float64) (float64, error) {
	raw, err := d.ReadRaw(ch)
	if err != nil {
		return 0, err
	}
	return ToVolts(raw, vref), nil
}

// ToVolts converts a code to volts: raw/4095*vref.
func ToVolts(raw uint16, vref float64) float64 {
	return float64(raw) / FullScale * vref
}
