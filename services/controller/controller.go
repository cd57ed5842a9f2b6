// Package controller assembles one control session from a configuration and
// a board: bus arbiter, sensors, PWM, gate driver, telemetry and the loop.
package controller

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"windbuck-go/bus"
	"windbuck-go/drivers/dout"
	"windbuck-go/drivers/ina229"
	"windbuck-go/drivers/mcp3208"
	"windbuck-go/drivers/pwmout"
	"windbuck-go/drivers/spibus"
	"windbuck-go/errcode"
	"windbuck-go/platform"
	"windbuck-go/services/anemometer"
	"windbuck-go/services/buck"
	"windbuck-go/services/config"
	"windbuck-go/services/heartbeat"
	"windbuck-go/services/telemetry"
	"windbuck-go/types"
	"windbuck-go/x/timex"
)

type Options struct {
	Log     *logrus.Logger
	Session string

	// Sleep is used for the settle wait. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Wind overrides the configured wind source.
	Wind buck.WindSource
	// Sink overrides the configured Redis sink.
	Sink telemetry.Sink
	// LoopOptions are passed to the control loop.
	LoopOptions []buck.Option
}

// Controller owns every resource of one session.
type Controller struct {
	cfg     *config.Config
	hw      platform.Hardware
	log     *logrus.Entry
	session string
	sleep   func(time.Duration)

	bus     *bus.Bus
	arb     *spibus.Arbiter
	adc     *mcp3208.Device
	iin     *ina229.Device
	iout    *ina229.Device
	pwm     *pwmout.Output
	gate    *dout.Output
	metrics *telemetry.Metrics
	tsvc    *telemetry.Service

	wind       buck.WindSource
	windCloser io.Closer

	shutdown *buck.Shutdown
	loop     *buck.Loop
}

// New builds the session without touching the hardware beyond opening the
// bus (which idles the manual chip select).
func New(ctx context.Context, cfg *config.Config, hw platform.Hardware, opts Options) (_ *Controller, err error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	c := &Controller{
		cfg:     cfg,
		hw:      hw,
		log:     opts.Log.WithFields(logrus.Fields{"component": "controller", "session": opts.Session}),
		session: opts.Session,
		sleep:   opts.Sleep,
		bus:     bus.NewBus(256),
		metrics: telemetry.NewMetrics(),
	}

	cs, err := spibus.NewChipSelect(spibus.ChipSelectConfig{
		Pin:        hw.ChipSelectPin(),
		SetupDelay: cfg.ManualCS.SetupDelay,
		HoldDelay:  cfg.ManualCS.HoldDelay,
	})
	if err != nil {
		return nil, err
	}
	c.arb = spibus.New(spibus.WithChipSelect(cs), spibus.WithObserver(c.metrics.ObserveTransfer))
	if err := c.arb.Open(hw.Transport()); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, c.arb.Close())
			if c.windCloser != nil {
				err = multierr.Append(err, c.windCloser.Close())
			}
		}
	}()

	c.adc = mcp3208.New(c.arb.Channel(spibus.HardwareCS0))
	if cfg.INAIn.Enabled {
		c.iin = ina229.New(c.arb.Channel(spibus.ManualCS))
	}
	if cfg.INAOut.Enabled {
		c.iout = ina229.New(c.arb.Channel(spibus.HardwareCS1))
	}
	c.pwm = pwmout.New(hw.PWM(), pwmout.Params{
		FreqHz:    timex.HzFromPeriod(cfg.Control.Period),
		ActiveLow: cfg.PWM.ActiveLow,
	})
	c.gate = dout.New(hw.GateDriverPin(), dout.Params{
		Name:      "gate_driver",
		ActiveLow: cfg.GateDriver.ActiveLow,
	})
	c.shutdown = buck.NewShutdown(c.log.WithField("component", "shutdown"), buck.Sequence(c.gate, c.arb, c.pwm)...)

	table, err := buck.NewTable(cfg.Control.Lookup)
	if err != nil {
		return nil, err
	}
	pi, err := buck.NewPI(cfg.Control.Kp, cfg.Control.Ki)
	if err != nil {
		return nil, err
	}

	if c.wind = opts.Wind; c.wind == nil {
		if err := c.openWind(); err != nil {
			return nil, err
		}
	}

	sink := opts.Sink
	if sink == nil && cfg.Redis.Enabled {
		rs, rerr := telemetry.NewRedisSink(ctx, telemetry.RedisConfig{
			Addr:    cfg.Redis.Addr,
			DB:      cfg.Redis.DB,
			Channel: cfg.Redis.Channel,
			ListLen: cfg.Redis.ListLen,
		}, c.log.WithField("component", "redis"))
		if rerr != nil {
			c.log.WithError(rerr).Warn("redis sink unavailable; continuing without it")
		} else {
			sink = rs
		}
	}
	c.tsvc = telemetry.NewService(c.bus.NewConnection("telemetry"), c.metrics, sink,
		telemetry.Options{Every: cfg.Redis.Every}, c.log.WithField("component", "telemetry"))

	deps := buck.Deps{
		ADC:      c.adc,
		Wind:     c.wind,
		PWM:      c.pwm,
		Table:    table,
		PI:       pi,
		Shutdown: c.shutdown,
		Pub:      c.bus.NewConnection("buck"),
		Log:      c.log.WithField("component", "loop"),
		Session:  c.session,
	}
	if c.iin != nil {
		deps.Iin = c.iin
	}
	if c.iout != nil {
		deps.Iout = c.iout
	}
	c.loop, err = buck.New(buck.Config{
		ADCChannel: cfg.ADC.Channel,
		VRef:       cfg.ADC.VRef,
		Gain:       cfg.ADC.Divider,
		Period:     cfg.Control.Period,
	}, deps, opts.LoopOptions...)
	if err != nil {
		return nil, err
	}

	config.Publish(c.bus.NewConnection("config"), cfg)
	return c, nil
}

func (c *Controller) openWind() error {
	w := c.cfg.Wind
	switch w.Source {
	case "serial":
		s, err := anemometer.OpenSerial(anemometer.SerialConfig{Port: w.Port, Baud: w.Baud, MaxAge: w.MaxAge},
			c.log.WithField("component", "anemometer"))
		if err != nil {
			return err
		}
		c.wind, c.windCloser = s, s
	case "fixed":
		c.wind = anemometer.Fixed(w.Speed)
	default:
		return errcode.New(errcode.Configuration, "controller.wind", "unknown wind source "+w.Source)
	}
	return nil
}

// Bus exposes the session's message bus.
func (c *Controller) Bus() *bus.Bus { return c.bus }

// Metrics exposes the session's collectors.
func (c *Controller) Metrics() *telemetry.Metrics { return c.metrics }

// Loop exposes the control loop.
func (c *Controller) Loop() *buck.Loop { return c.loop }

// bringUp starts the PWM at zero duty and calibrates the current sensors.
func (c *Controller) bringUp() error {
	if err := c.pwm.Init(); err != nil {
		return err
	}
	for _, s := range []struct {
		name string
		dev  *ina229.Device
		cfg  config.INA
	}{{"ina_in", c.iin, c.cfg.INAIn}, {"ina_out", c.iout, c.cfg.INAOut}} {
		if s.dev == nil {
			continue
		}
		log := c.log.WithField("sensor", s.name)
		if mfr, id, ok, err := s.dev.Identify(); err != nil {
			return err
		} else if !ok {
			log.WithFields(logrus.Fields{"mfr": mfr, "device": id}).Warn("unexpected current sensor id")
		}
		if err := s.dev.Configure(s.cfg.Calibration()); err != nil {
			return err
		}
		cal, _ := s.dev.Calibration()
		log.WithField("current_lsb", cal.LSB()).Info("current sensor calibrated")
	}
	return nil
}

// Run brings the hardware up, enables the gate driver and runs the loop
// until ctx is cancelled or a step fails. The shutdown sequence and the
// board release run on every path.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		if c.windCloser != nil {
			err = multierr.Append(err, c.windCloser.Close())
		}
		err = multierr.Append(err, c.hw.Close())
	}()

	c.bus.Publish(&bus.Message{
		Topic:    buck.TopicState,
		Payload:  types.SessionState{Session: c.session, Level: types.SessionStarting, TS: timex.NowMs()},
		Retained: true,
	})

	tctx, stopTelemetry := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		stopTelemetry()
		wg.Wait()
	}()
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.tsvc.Run(tctx)
	}()
	go func() {
		defer wg.Done()
		heartbeat.New(c.log.WithField("component", "heartbeat")).Run(tctx, c.bus.NewConnection("heartbeat"))
	}()
	if c.cfg.Monitor.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := telemetry.Serve(tctx, c.cfg.Monitor.Addr, c.metrics, c.log.WithField("component", "monitor")); err != nil {
				c.log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	if ctx.Err() != nil {
		return c.stopBeforeStart()
	}
	if err := c.bringUp(); err != nil {
		c.log.WithError(err).Error("bring-up failed")
		return multierr.Append(err, c.shutdown.Run())
	}
	c.log.WithField("settle", c.cfg.Control.Settle).Info("waiting for sensors to settle")
	c.sleep(c.cfg.Control.Settle)

	if ctx.Err() != nil {
		return c.stopBeforeStart()
	}
	if err := c.gate.Enable(); err != nil {
		return multierr.Append(err, c.shutdown.Run())
	}
	c.log.Info("gate driver enabled")

	return c.loop.Run(ctx)
}

// stopBeforeStart handles a stop request that arrives before the gate
// driver is enabled: the loop never runs and the gate stays off.
func (c *Controller) stopBeforeStart() error {
	err := c.shutdown.Run()
	st := types.SessionState{Session: c.session, Level: types.SessionStopped, TS: timex.NowMs()}
	if err != nil {
		st.Level = types.SessionFaulted
		st.Error = err.Error()
	}
	c.bus.Publish(&bus.Message{Topic: buck.TopicState, Payload: st, Retained: true})
	c.log.WithField("level", st.Level).Info("stopped before the gate driver was enabled")
	return err
}
