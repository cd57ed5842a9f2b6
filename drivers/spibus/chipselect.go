package spibus

import (
	"time"

	"windbuck-go/errcode"
)

// ChipSelectConfig describes a software-driven CS line.
type ChipSelectConfig struct {
	Pin        Pin
	SetupDelay time.Duration // CS active -> first clock
	HoldDelay  time.Duration // last clock -> CS idle
	ActiveHigh bool          // default: active low

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// ChipSelect drives one software CS line. It is owned by an Arbiter and is
// only touched while the bus lock is held.
type ChipSelect struct {
	pin    Pin
	setup  time.Duration
	hold   time.Duration
	active bool
	sleep  func(time.Duration)
}

// NewChipSelect validates cfg. It does not touch the pin.
func NewChipSelect(cfg ChipSelectConfig) (*ChipSelect, error) {
	if cfg.Pin == nil {
		return nil, errcode.New(errcode.Configuration, "spibus.chipselect", "manual CS requires a pin")
	}
	if cfg.SetupDelay < 0 || cfg.HoldDelay < 0 {
		return nil, errcode.New(errcode.Configuration, "spibus.chipselect", "negative CS delay")
	}
	sl := cfg.Sleep
	if sl == nil {
		sl = time.Sleep
	}
	return &ChipSelect{
		pin:    cfg.Pin,
		setup:  cfg.SetupDelay,
		hold:   cfg.HoldDelay,
		active: cfg.ActiveHigh,
		sleep:  sl,
	}, nil
}

// Assert drives the line active and waits the setup delay.
func (c *ChipSelect) Assert() error {
	if err := c.pin.Set(c.active); err != nil {
		return errcode.Wrap(errcode.Transfer, "spibus.cs_assert", err)
	}
	c.wait(c.setup)
	return nil
}

// Deassert waits the hold delay and drives the line idle.
func (c *ChipSelect) Deassert() error {
	c.wait(c.hold)
	return c.Release()
}

// Release drives the line idle without any delay.
func (c *ChipSelect) Release() error {
	if err := c.pin.Set(!c.active); err != nil {
		return errcode.Wrap(errcode.Transfer, "spibus.cs_release", err)
	}
	return nil
}

// Do runs fn between Assert and Deassert. The line is released even when
// fn fails; fn's error wins over a release error.
func (c *ChipSelect) Do(fn func() error) (err error) {
	if err := c.Assert(); err != nil {
		// The pin may have moved before failing.
		_ = c.Release()
		return err
	}
	defer func() {
		if derr := c.Deassert(); err == nil {
			err = derr
		}
	}()
	return fn()
}

func (c *ChipSelect) wait(d time.Duration) {
	if d > 0 {
		c.sleep(d)
	}
}
