package buck

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ShutdownStep is one action of the stop sequence.
type ShutdownStep struct {
	Name string
	Fn   func() error
}

// Shutdown runs its steps once, in order. Every step runs even when an
// earlier one failed or panicked; the errors are combined.
type Shutdown struct {
	steps []ShutdownStep
	log   *logrus.Entry

	once sync.Once
	err  error
}

func NewShutdown(log *logrus.Entry, steps ...ShutdownStep) *Shutdown {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Shutdown{steps: steps, log: log}
}

// Interfaces of the hardware the stop sequence touches.
type (
	GateDriver interface{ Disable() error }
	BusCloser  interface {
		ReleaseChipSelect() error
		Close() error
	}
	PWMCloser interface{ Close() error }
)

// Sequence returns the standard stop order: disable the gate driver,
// release the manual CS line, close the bus, stop the PWM.
func Sequence(gate GateDriver, spi BusCloser, pwm PWMCloser) []ShutdownStep {
	var steps []ShutdownStep
	if gate != nil {
		steps = append(steps, ShutdownStep{"gate_driver_disable", gate.Disable})
	}
	if spi != nil {
		steps = append(steps,
			ShutdownStep{"chip_select_release", spi.ReleaseChipSelect},
			ShutdownStep{"bus_close", spi.Close},
		)
	}
	if pwm != nil {
		steps = append(steps, ShutdownStep{"pwm_stop", pwm.Close})
	}
	return steps
}

// Run executes the sequence on first call and returns the same combined
// error on every call.
func (s *Shutdown) Run() error {
	s.once.Do(func() {
		for _, st := range s.steps {
			if err := runStep(st); err != nil {
				s.log.WithError(err).WithField("step", st.Name).Error("shutdown step failed")
				s.err = multierr.Append(s.err, err)
				continue
			}
			s.log.WithField("step", st.Name).Debug("shutdown step done")
		}
	})
	return s.err
}

func runStep(st ShutdownStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", st.Name, r)
		}
	}()
	if err := st.Fn(); err != nil {
		return fmt.Errorf("%s: %w", st.Name, err)
	}
	return nil
}
