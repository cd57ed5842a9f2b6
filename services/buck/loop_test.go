package buck

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"windbuck-go/bus"
	"windbuck-go/errcode"
	"windbuck-go/types"
)

type calls struct{ log []string }

func (c *calls) add(s string) { c.log = append(c.log, s) }

type fakeADC struct {
	c   *calls
	v   float64
	err error
}

func (a *fakeADC) ReadVoltage(ch int, vref float64) (float64, error) {
	a.c.add("adc")
	return a.v, a.err
}

type fakeCurrent struct {
	c    *calls
	name string
	amps float64
	err  error
}

func (f *fakeCurrent) ReadCurrentAmps() (float64, error) {
	f.c.add(f.name)
	return f.amps, f.err
}

type fakeWind struct {
	c     *calls
	speed float64
}

func (w *fakeWind) WindSpeed() (float64, error) {
	w.c.add("wind")
	return w.speed, nil
}

type fakeDuty struct {
	c      *calls
	duties []float64
	after  func(n int)
}

func (p *fakeDuty) SetDuty(d float64) error {
	p.c.add("pwm")
	p.duties = append(p.duties, d)
	if p.after != nil {
		p.after(len(p.duties))
	}
	return nil
}

type fakePub struct{ msgs []*bus.Message }

func (p *fakePub) Publish(m *bus.Message) { p.msgs = append(p.msgs, m) }

type fakeClock struct {
	t     time.Time
	tick  time.Duration
	slept []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.tick)
	return c.t
}

func (c *fakeClock) sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

type rig struct {
	c     *calls
	adc   *fakeADC
	iin   *fakeCurrent
	iout  *fakeCurrent
	wind  *fakeWind
	pwm   *fakeDuty
	pub   *fakePub
	clock *fakeClock
	sd    *Shutdown
	pi    *PI
}

func newRig(t *testing.T) (*rig, Deps) {
	t.Helper()
	c := &calls{}
	r := &rig{
		c:     c,
		adc:   &fakeADC{c: c, v: 40},
		iin:   &fakeCurrent{c: c, name: "iin", amps: 1.5},
		iout:  &fakeCurrent{c: c, name: "iout", amps: 2.5},
		wind:  &fakeWind{c: c, speed: 10},
		pwm:   &fakeDuty{c: c},
		pub:   &fakePub{},
		clock: &fakeClock{t: time.Unix(0, 0), tick: 10 * time.Microsecond},
	}
	r.sd = NewShutdown(nil, ShutdownStep{"mark", func() error { c.add("shutdown"); return nil }})
	r.pi, _ = NewPI(0.35, 0.01)
	return r, Deps{
		ADC: r.adc, Iin: r.iin, Iout: r.iout, Wind: r.wind, PWM: r.pwm,
		Table: defaultTable(t), PI: r.pi, Shutdown: r.sd, Pub: r.pub, Session: "s1",
	}
}

func newLoop(t *testing.T, r *rig, d Deps) *Loop {
	t.Helper()
	l, err := New(Config{ADCChannel: 0, VRef: 5, Period: time.Millisecond}, d, WithClock(r.clock.now, r.clock.sleep))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestStepOrderAndSample(t *testing.T) {
	r, d := newRig(t)
	l := newLoop(t, r, d)
	s, err := l.Step()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"adc", "iin", "iout", "wind", "pwm"}; !reflect.DeepEqual(r.c.log, want) {
		t.Fatalf("order = %v, want %v", r.c.log, want)
	}
	if s.Target != 55 || s.Vout != 40 || s.Iin != 1.5 || s.Iout != 2.5 || s.Wind != 10 {
		t.Fatalf("sample = %+v", s)
	}
	// e = 15, integral = 0.015, u = 5.25 + 0.00015 -> 1
	if s.Duty != 1 || math.Abs(s.Integral-0.015) > 1e-12 {
		t.Fatalf("duty/integral = %v/%v", s.Duty, s.Integral)
	}
	if s.Step != 1 || s.Session != "s1" || s.StepNs != int64(10*time.Microsecond) {
		t.Fatalf("bookkeeping = %+v", s)
	}
}

func TestStepReadFailureSkipsPWM(t *testing.T) {
	r, d := newRig(t)
	boom := errcode.New(errcode.Transfer, "test", "bus fault")
	r.iin.err = boom
	l := newLoop(t, r, d)
	if _, err := l.Step(); !errors.Is(err, errcode.Transfer) {
		t.Fatalf("err = %v, want transfer", err)
	}
	if len(r.pwm.duties) != 0 {
		t.Fatalf("PWM written after failed read: %v", r.pwm.duties)
	}
	if r.pi.Integral() != 0 {
		t.Fatalf("controller advanced after failed read")
	}
}

func TestStepOptionalCurrentSensors(t *testing.T) {
	r, d := newRig(t)
	d.Iin, d.Iout = nil, nil
	l := newLoop(t, r, d)
	if _, err := l.Step(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"adc", "wind", "pwm"}; !reflect.DeepEqual(r.c.log, want) {
		t.Fatalf("order = %v", r.c.log)
	}
}

func TestStepAppliesGain(t *testing.T) {
	r, d := newRig(t)
	r.adc.v = 2.5
	l, err := New(Config{VRef: 5, Gain: 20, Period: time.Millisecond}, d, WithClock(r.clock.now, r.clock.sleep))
	if err != nil {
		t.Fatal(err)
	}
	s, err := l.Step()
	if err != nil {
		t.Fatal(err)
	}
	if s.Vout != 50 {
		t.Fatalf("vout = %v, want 50", s.Vout)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, d := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.pwm.after = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	l := newLoop(t, r, d)
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if l.Steps() != 3 {
		t.Fatalf("steps = %d, want 3", l.Steps())
	}
	if last := r.c.log[len(r.c.log)-1]; last != "shutdown" {
		t.Fatalf("last call = %q, want shutdown", last)
	}
	var samples int
	var states []types.SessionLevel
	for _, m := range r.pub.msgs {
		switch p := m.Payload.(type) {
		case types.Sample:
			samples++
		case types.SessionState:
			if !m.Retained {
				t.Fatalf("state not retained")
			}
			states = append(states, p.Level)
		}
	}
	if samples != 3 {
		t.Fatalf("samples published = %d", samples)
	}
	if !reflect.DeepEqual(states, []types.SessionLevel{types.SessionRunning, types.SessionStopped}) {
		t.Fatalf("states = %v", states)
	}
}

func TestRunPacesToPeriod(t *testing.T) {
	r, d := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.pwm.after = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	l := newLoop(t, r, d)
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(r.clock.slept) != 2 {
		t.Fatalf("sleeps = %v", r.clock.slept)
	}
	for _, s := range r.clock.slept {
		if s <= 0 || s >= time.Millisecond {
			t.Fatalf("sleep %v outside (0, period)", s)
		}
	}
	if l.Overruns() != 0 {
		t.Fatalf("overruns = %d", l.Overruns())
	}
}

func TestRunFlagsOverrun(t *testing.T) {
	r, d := newRig(t)
	r.clock.tick = 2 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.pwm.after = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	l := newLoop(t, r, d)
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if l.Overruns() != 2 || len(r.clock.slept) != 0 {
		t.Fatalf("overruns = %d, sleeps = %v", l.Overruns(), r.clock.slept)
	}
	for _, m := range r.pub.msgs {
		if s, ok := m.Payload.(types.Sample); ok && !s.Overrun {
			t.Fatalf("sample %d not flagged", s.Step)
		}
	}
}

func TestRunFaultRunsShutdown(t *testing.T) {
	r, d := newRig(t)
	r.adc.err = errcode.New(errcode.Transfer, "test", "adc gone")
	l := newLoop(t, r, d)
	err := l.Run(context.Background())
	if !errors.Is(err, errcode.Transfer) {
		t.Fatalf("err = %v, want transfer", err)
	}
	if want := []string{"adc", "shutdown"}; !reflect.DeepEqual(r.c.log, want) {
		t.Fatalf("calls = %v", r.c.log)
	}
	last := r.pub.msgs[len(r.pub.msgs)-1].Payload.(types.SessionState)
	if last.Level != types.SessionFaulted || last.Error == "" {
		t.Fatalf("final state = %+v", last)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	r, d := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := newLoop(t, r, d)
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if want := []string{"shutdown"}; !reflect.DeepEqual(r.c.log, want) {
		t.Fatalf("calls = %v", r.c.log)
	}
}

func TestNewValidates(t *testing.T) {
	r, d := newRig(t)
	_ = r
	cases := []struct {
		name string
		cfg  Config
		mut  func(*Deps)
		code errcode.Code
	}{
		{"no adc", Config{VRef: 5, Period: time.Millisecond}, func(d *Deps) { d.ADC = nil }, errcode.Configuration},
		{"no table", Config{VRef: 5, Period: time.Millisecond}, func(d *Deps) { d.Table = nil }, errcode.Configuration},
		{"zero period", Config{VRef: 5}, func(*Deps) {}, errcode.Configuration},
		{"bad channel", Config{ADCChannel: 8, VRef: 5, Period: time.Millisecond}, func(*Deps) {}, errcode.Range},
		{"bad vref", Config{Period: time.Millisecond}, func(*Deps) {}, errcode.Configuration},
	}
	for _, c := range cases {
		dd := d
		c.mut(&dd)
		if _, err := New(c.cfg, dd); !errors.Is(err, c.code) {
			t.Errorf("%s: err = %v, want %s", c.name, err, c.code)
		}
	}
}
