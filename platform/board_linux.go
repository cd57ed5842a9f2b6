//go:build linux

package platform

import (
	"fmt"
	"sync"

	wgpio "github.com/warthog618/gpio"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"windbuck-go/drivers/dout"
	"windbuck-go/drivers/pwmout"
	"windbuck-go/drivers/spibus"
	"windbuck-go/errcode"
)

// Board is the Raspberry Pi wiring: one spidev port per bus channel (the
// manual channel connected with NoCS), memory-mapped GPIO lines for the
// software chip select and the gate-driver enable, and a hardware PWM pin.
type Board struct {
	mu    sync.Mutex
	ports [3]spi.PortCloser
	conns [3]spi.Conn

	cs      *line
	gate    *line
	gateOff bool
	pwm     *periphPWM

	closeOnce sync.Once
	closeErr  error
}

// OpenBoard initialises the host drivers and claims every resource in cfg.
// On failure everything already claimed is released.
func OpenBoard(cfg BoardConfig) (_ *Board, err error) {
	const op = "platform.open"
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.Configuration, op, err)
	}

	b := &Board{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
		}
	}()

	for sel := spibus.HardwareCS0; sel <= spibus.ManualCS; sel++ {
		p, err := spireg.Open(cfg.Devices[sel])
		if err != nil {
			return nil, errcode.Wrap(errcode.Configuration, op, fmt.Errorf("%s %s: %w", sel, cfg.Devices[sel], err))
		}
		b.ports[sel] = p
		mode := spi.Mode(cfg.Modes[sel])
		if sel.Manual() {
			mode |= spi.NoCS
		}
		c, err := p.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, mode, 8)
		if err != nil {
			return nil, errcode.Wrap(errcode.Configuration, op, fmt.Errorf("%s connect: %w", sel, err))
		}
		b.conns[sel] = c
	}

	if err := wgpio.Open(); err != nil {
		return nil, errcode.Wrap(errcode.Configuration, op, fmt.Errorf("gpio: %w", err))
	}
	b.cs = newLine(cfg.CSPin, cfg.CSIdleHigh)
	b.gateOff = cfg.GateActiveLow
	b.gate = newLine(cfg.GatePin, b.gateOff)

	pin := gpioreg.ByName(cfg.PWMPin)
	if pin == nil {
		return nil, errcode.New(errcode.Configuration, op, "unknown PWM pin "+cfg.PWMPin)
	}
	b.pwm = &periphPWM{pin: pin}
	return b, nil
}

// spiPorts is the board's SPI side as a spibus.Transport. Closing it releases
// the spidev ports only.
type spiPorts Board

func (t *spiPorts) Tx(sel spibus.Selector, w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !sel.Valid() || t.conns[sel] == nil {
		return errcode.New(errcode.ChannelUnavailable, "platform.tx", sel.String())
	}
	return t.conns[sel].Tx(w, r)
}

func (t *spiPorts) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for i, p := range t.ports {
		if p != nil {
			err = multierr.Append(err, p.Close())
			t.ports[i] = nil
			t.conns[i] = nil
		}
	}
	return err
}

func (b *Board) Transport() spibus.Transport { return (*spiPorts)(b) }
func (b *Board) ChipSelectPin() spibus.Pin   { return b.cs }
func (b *Board) GateDriverPin() dout.Pin     { return b.gate }
func (b *Board) PWM() pwmout.PWM             { return b.pwm }

// Close drives the gate enable to its off level, stops the PWM and releases every port
// and line. It is safe to call more than once.
func (b *Board) Close() error {
	b.closeOnce.Do(func() {
		if b.gate != nil {
			b.closeErr = multierr.Append(b.closeErr, b.gate.Set(b.gateOff))
		}
		if b.pwm != nil {
			b.closeErr = multierr.Append(b.closeErr, b.pwm.Stop())
		}
		b.closeErr = multierr.Append(b.closeErr, (*spiPorts)(b).Close())
		if b.cs != nil || b.gate != nil {
			b.closeErr = multierr.Append(b.closeErr, wgpio.Close())
		}
	})
	return b.closeErr
}

// line is an output GPIO on the memory-mapped controller.
type line struct {
	pin *wgpio.Pin
}

func newLine(n int, initial bool) *line {
	l := &line{pin: wgpio.NewPin(n)}
	l.write(initial)
	l.pin.Output()
	return l
}

func (l *line) write(level bool) {
	if level {
		l.pin.High()
	} else {
		l.pin.Low()
	}
}

func (l *line) Set(level bool) error {
	l.write(level)
	return nil
}

// periphPWM drives a hardware PWM pin through periph.
type periphPWM struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

func (p *periphPWM) Configure(freqHz uint64) error {
	if freqHz == 0 {
		return errcode.New(errcode.Configuration, "platform.pwm", "frequency must be > 0")
	}
	p.freq = physic.Frequency(freqHz) * physic.Hertz
	return p.pin.PWM(0, p.freq)
}

func (p *periphPWM) SetPercent(percent float64) error {
	d := gpio.Duty(percent / 100 * float64(gpio.DutyMax))
	return p.pin.PWM(d, p.freq)
}

func (p *periphPWM) Stop() error {
	return multierr.Append(p.pin.Out(gpio.Low), p.pin.Halt())
}

// LockMemory pins the process's pages so the control loop never faults on
// a swapped page.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return errcode.Wrap(errcode.Configuration, "platform.mlockall", err)
	}
	return nil
}
