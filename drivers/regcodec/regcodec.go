// Package regcodec frames register transactions for SPI sensors that use a
// 6-bit register address in the command byte:
//
//	cmd = addr<<2 | 0<<1 | R/W̄
//
// A read clocks the command byte followed by one dummy byte per payload
// byte; the byte received during the command slot is discarded and the
// rest form a big-endian payload.
package regcodec

import "windbuck-go/errcode"

// MaxAddress is the largest 6-bit register address.
const MaxAddress = 0x3F

const readBit = 0x01

// EncodeCommand builds the command byte for addr.
func EncodeCommand(addr uint8, read bool) (byte, error) {
	if addr > MaxAddress {
		return 0, errcode.New(errcode.Range, "regcodec.command", "register address above 0x3F")
	}
	cmd := addr << 2
	if read {
		cmd |= readBit
	}
	return cmd, nil
}

// payloadLen validates a register width in bits and returns its byte count.
func payloadLen(widthBits int) (int, error) {
	switch widthBits {
	case 8, 16, 24, 32:
		return widthBits / 8, nil
	default:
		return 0, errcode.New(errcode.Range, "regcodec.width", "register width must be 8, 16, 24 or 32 bits")
	}
}

// ReadFrame returns the bytes to clock out to read a widthBits register.
func ReadFrame(addr uint8, widthBits int) ([]byte, error) {
	n, err := payloadLen(widthBits)
	if err != nil {
		return nil, err
	}
	cmd, err := EncodeCommand(addr, true)
	if err != nil {
		return nil, err
	}
	f := make([]byte, 1+n)
	f[0] = cmd
	return f, nil
}

// WriteFrame returns the bytes to clock out to write value into a
// widthBits register. value must fit the width.
func WriteFrame(addr uint8, widthBits int, value uint32) ([]byte, error) {
	n, err := payloadLen(widthBits)
	if err != nil {
		return nil, err
	}
	if widthBits < 32 && value>>uint(widthBits) != 0 {
		return nil, errcode.New(errcode.Range, "regcodec.write", "value does not fit register width")
	}
	cmd, err := EncodeCommand(addr, false)
	if err != nil {
		return nil, err
	}
	f := make([]byte, 1+n)
	f[0] = cmd
	for i := n; i >= 1; i-- {
		f[i] = byte(value)
		value >>= 8
	}
	return f, nil
}

// DecodeUnsigned extracts the big-endian payload of a read response. resp
// includes the command-echo byte.
func DecodeUnsigned(resp []byte, widthBits int) (uint32, error) {
	n, err := payloadLen(widthBits)
	if err != nil {
		return 0, err
	}
	if len(resp) != 1+n {
		return 0, errcode.New(errcode.InvalidTransfer, "regcodec.decode", "response length does not match register width")
	}
	var v uint32
	for _, b := range resp[1:] {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// DecodeSigned24 decodes a 24-bit two's-complement register response.
func DecodeSigned24(resp []byte) (int32, error) {
	u, err := DecodeUnsigned(resp, 24)
	if err != nil {
		return 0, err
	}
	return SignExtend24(u), nil
}

// SignExtend24 interprets the low 24 bits of raw as two's complement.
func SignExtend24(raw uint32) int32 {
	raw &= 0xFFFFFF
	if raw&0x800000 != 0 {
		return int32(raw) - 1<<24
	}
	return int32(raw)
}
