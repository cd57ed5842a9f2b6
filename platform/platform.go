// Package platform supplies the hardware behind the drivers: the Linux
// board (spidev ports, GPIO lines and the PWM pin) and host-side fakes plus
// a simulated converter for tests and -sim runs.
package platform

import (
	"windbuck-go/drivers/dout"
	"windbuck-go/drivers/pwmout"
	"windbuck-go/drivers/spibus"
)

// Hardware is what the controller needs from a board.
type Hardware interface {
	Transport() spibus.Transport
	ChipSelectPin() spibus.Pin
	GateDriverPin() dout.Pin
	PWM() pwmout.PWM
	Close() error
}

// BoardConfig names the board resources. Indexes of Devices and Modes
// follow spibus selectors.
type BoardConfig struct {
	SpeedHz    int64
	Devices    [3]string
	Modes      [3]int
	CSPin      int
	GatePin    int
	PWMPin     string
	CSIdleHigh bool
	// GateActiveLow means the gate driver is off while its enable line is high.
	GateActiveLow bool
}

// Open returns a simulated board when sim is set and the Linux board
// otherwise.
func Open(cfg BoardConfig, sim bool, o SimOptions) (Hardware, error) {
	if sim {
		b, _ := NewSimBoard(cfg, o)
		return b, nil
	}
	b, err := OpenBoard(cfg)
	if err != nil {
		return nil, err
	}
	return b, nil
}
