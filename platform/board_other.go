//go:build !linux

package platform

import (
	"windbuck-go/drivers/dout"
	"windbuck-go/drivers/pwmout"
	"windbuck-go/drivers/spibus"
	"windbuck-go/errcode"
)

// Board exists only on Linux; elsewhere OpenBoard fails.
type Board struct{}

func OpenBoard(BoardConfig) (*Board, error) {
	return nil, errcode.New(errcode.Unsupported, "platform.open", "hardware board requires linux")
}

func (*Board) Transport() spibus.Transport { return nil }
func (*Board) ChipSelectPin() spibus.Pin   { return nil }
func (*Board) GateDriverPin() dout.Pin     { return nil }
func (*Board) PWM() pwmout.PWM             { return nil }
func (*Board) Close() error                { return nil }

func LockMemory() error { return nil }
