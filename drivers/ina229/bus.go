package ina229

import "windbuck-go/drivers/regcodec"

// SPI register operations (big-endian payload after the command byte).

func (d *Device) readReg(reg uint8, width int) ([]byte, error) {
	tx, err := regcodec.ReadFrame(reg, width)
	if err != nil {
		return nil, err
	}
	rx := make([]byte, len(tx))
	if err := d.spi.Tx(tx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (d *Device) readU16(reg uint8) (uint16, error) {
	rx, err := d.readReg(reg, width16)
	if err != nil {
		return 0, err
	}
	v, err := regcodec.DecodeUnsigned(rx, width16)
	return uint16(v), err
}

func (d *Device) readU24(reg uint8) (uint32, error) {
	rx, err := d.readReg(reg, width24)
	if err != nil {
		return 0, err
	}
	return regcodec.DecodeUnsigned(rx, width24)
}

func (d *Device) readS24(reg uint8) (int32, error) {
	rx, err := d.readReg(reg, width24)
	if err != nil {
		return 0, err
	}
	return regcodec.DecodeSigned24(rx)
}

func (d *Device) writeU16(reg uint8, val uint16) error {
	tx, err := regcodec.WriteFrame(reg, width16, uint32(val))
	if err != nil {
		return err
	}
	return d.spi.Tx(tx, nil)
}
