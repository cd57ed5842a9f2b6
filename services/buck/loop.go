// Package buck runs the converter's control session: read feedback, resolve
// the wind-dependent target, apply the PI law and drive the PWM, once per
// period, until stopped.
package buck

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"windbuck-go/bus"
	"windbuck-go/drivers/mcp3208"
	"windbuck-go/errcode"
	"windbuck-go/types"
	"windbuck-go/x/timex"
)

// Topics the loop publishes on.
var (
	TopicSample = bus.T("buck", "sample")
	TopicState  = bus.T("buck", "state")
)

// Collaborators, satisfied by the drivers.
type (
	VoltageReader interface {
		ReadVoltage(ch int, vref float64) (float64, error)
	}
	CurrentReader interface {
		ReadCurrentAmps() (float64, error)
	}
	WindSource interface {
		WindSpeed() (float64, error)
	}
	DutyWriter interface {
		SetDuty(duty float64) error
	}
	Publisher interface {
		Publish(msg *bus.Message)
	}
)

type Config struct {
	ADCChannel int
	VRef       float64
	// Gain scales the ADC voltage to the output voltage (feedback divider
	// ratio). Zero means 1.
	Gain   float64
	Period time.Duration
}

// Deps wires the loop. Iin, Iout, Pub, Shutdown and Log are optional.
type Deps struct {
	ADC      VoltageReader
	Iin      CurrentReader
	Iout     CurrentReader
	Wind     WindSource
	PWM      DutyWriter
	Table    *Table
	PI       *PI
	Shutdown *Shutdown
	Pub      Publisher
	Log      *logrus.Entry
	Session  string
}

type Option func(*Loop)

// WithClock replaces the wall clock and the pacing sleep.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// Loop owns the controller state for one session.
type Loop struct {
	cfg Config
	d   Deps
	ts  float64

	now   func() time.Time
	sleep func(time.Duration)

	step     uint64
	overruns uint64
}

func New(cfg Config, d Deps, opts ...Option) (*Loop, error) {
	const op = "buck.loop"
	switch {
	case d.ADC == nil, d.Wind == nil, d.PWM == nil:
		return nil, errcode.New(errcode.Configuration, op, "ADC, wind source and PWM are required")
	case d.Table == nil, d.PI == nil:
		return nil, errcode.New(errcode.Configuration, op, "lookup table and PI controller are required")
	case cfg.Period <= 0:
		return nil, errcode.New(errcode.Configuration, op, "sample period must be > 0")
	case cfg.ADCChannel < 0 || cfg.ADCChannel > mcp3208.MaxChannel:
		return nil, errcode.New(errcode.Range, op, "ADC channel must be 0-7")
	case !(cfg.VRef > 0):
		return nil, errcode.New(errcode.Configuration, op, "ADC reference must be > 0")
	case cfg.Gain < 0:
		return nil, errcode.New(errcode.Configuration, op, "feedback gain must be >= 0")
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Loop{
		cfg:   cfg,
		d:     d,
		ts:    timex.Seconds(cfg.Period),
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Steps returns the number of completed iterations.
func (l *Loop) Steps() uint64 { return l.step }

// Overruns returns how many iterations missed their deadline.
func (l *Loop) Overruns() uint64 { return l.overruns }

// Step runs one iteration. On error nothing after the failing stage runs;
// in particular a failed read never reaches the PWM.
func (l *Loop) Step() (types.Sample, error) {
	start := l.now()
	s := types.Sample{Session: l.d.Session}

	var err error
	if s.Vout, err = l.d.ADC.ReadVoltage(l.cfg.ADCChannel, l.cfg.VRef); err != nil {
		return s, fmt.Errorf("read output voltage: %w", err)
	}
	s.Vout *= l.cfg.Gain
	if l.d.Iin != nil {
		if s.Iin, err = l.d.Iin.ReadCurrentAmps(); err != nil {
			return s, fmt.Errorf("read input current: %w", err)
		}
	}
	if l.d.Iout != nil {
		if s.Iout, err = l.d.Iout.ReadCurrentAmps(); err != nil {
			return s, fmt.Errorf("read output current: %w", err)
		}
	}
	if s.Wind, err = l.d.Wind.WindSpeed(); err != nil {
		return s, fmt.Errorf("read wind speed: %w", err)
	}

	s.Target = l.d.Table.Target(s.Wind)
	s.Duty = l.d.PI.Update(s.Target, s.Vout, l.ts)
	s.Integral = l.d.PI.Integral()

	if err := l.d.PWM.SetDuty(s.Duty); err != nil {
		return s, fmt.Errorf("set duty: %w", err)
	}

	l.step++
	end := l.now()
	s.Step = l.step
	s.TS = end.UnixMilli()
	s.StepNs = end.Sub(start).Nanoseconds()
	return s, nil
}

// Run paces Step at the configured period until ctx is cancelled or a step
// fails. Cancellation is checked between iterations only. The shutdown
// sequence runs on every exit path; an external stop returns nil.
func (l *Loop) Run(ctx context.Context) (err error) {
	log := l.d.Log
	defer func() {
		if l.d.Shutdown != nil {
			err = multierr.Append(err, l.d.Shutdown.Run())
		}
		if err != nil {
			l.publishState(types.SessionFaulted, err)
			log.WithError(err).WithField("steps", l.step).Error("control session faulted")
			return
		}
		l.publishState(types.SessionStopped, nil)
		log.WithFields(logrus.Fields{"steps": l.step, "overruns": l.overruns}).Info("control session stopped")
	}()

	l.publishState(types.SessionRunning, nil)
	log.WithFields(logrus.Fields{
		"period":  l.cfg.Period,
		"kp":      l.d.PI.Kp,
		"ki":      l.d.PI.Ki,
		"channel": l.cfg.ADCChannel,
	}).Info("control session running")

	trace := log.Logger.IsLevelEnabled(logrus.TraceLevel)
	next := l.now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		deadline := next.Add(l.cfg.Period)

		s, err := l.Step()
		if err != nil {
			return err
		}

		now := l.now()
		if now.After(deadline) {
			s.Overrun = true
			l.overruns++
		}
		if l.d.Pub != nil {
			l.d.Pub.Publish(&bus.Message{Topic: TopicSample, Payload: s})
		}
		if trace {
			log.WithFields(logrus.Fields{
				"step": s.Step, "vout": s.Vout, "target": s.Target, "duty": s.Duty, "wind": s.Wind,
			}).Trace("step")
		}

		if wait := deadline.Sub(now); wait > 0 {
			l.sleep(wait)
			next = deadline
		} else {
			next = now
		}
	}
}

func (l *Loop) publishState(level types.SessionLevel, err error) {
	if l.d.Pub == nil {
		return
	}
	st := types.SessionState{Session: l.d.Session, Level: level, TS: l.now().UnixMilli()}
	if err != nil {
		st.Error = err.Error()
	}
	l.d.Pub.Publish(&bus.Message{Topic: TopicState, Payload: st, Retained: true})
}
