package spibus

import (
	"sync"
	"time"

	"go.uber.org/multierr"

	"windbuck-go/errcode"
)

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithChipSelect installs the software CS line used by ManualCS.
func WithChipSelect(cs *ChipSelect) Option {
	return func(a *Arbiter) { a.cs = cs }
}

// WithObserver installs a per-transaction hook. It runs inside the lock
// and must not block.
func WithObserver(o Observer) Option {
	return func(a *Arbiter) { a.obs = o }
}

// Arbiter owns the shared bus and the lock guarding it.
type Arbiter struct {
	mu  sync.Mutex
	tr  Transport // nil until Open, nil again after Close
	cs  *ChipSelect
	obs Observer
	now func() time.Time
}

// New creates a closed Arbiter.
func New(opts ...Option) *Arbiter {
	a := &Arbiter{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Open hands the transport to the arbiter. Opening twice is a
// configuration error; the second transport is left untouched.
func (a *Arbiter) Open(tr Transport) error {
	if tr == nil {
		return errcode.New(errcode.Configuration, "spibus.open", "nil transport")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tr != nil {
		return errcode.New(errcode.Configuration, "spibus.open", "bus already open")
	}
	if a.cs != nil {
		// Start from a known idle line.
		if err := a.cs.Release(); err != nil {
			return err
		}
	}
	a.tr = tr
	return nil
}

// Opened reports whether transfers are currently accepted.
func (a *Arbiter) Opened() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tr != nil
}

// Transfer exchanges out on sel and returns the bytes clocked in.
func (a *Arbiter) Transfer(sel Selector, out []byte) ([]byte, error) {
	in := make([]byte, len(out))
	if err := a.Tx(sel, out, in); err != nil {
		return nil, err
	}
	return in, nil
}

// Tx is Transfer with a caller-owned receive buffer of the same length.
func (a *Arbiter) Tx(sel Selector, w, r []byte) (err error) {
	if !sel.Valid() {
		return errcode.New(errcode.Range, "spibus.tx", "unknown channel")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tr == nil {
		return errcode.New(errcode.NotInitialized, "spibus.tx", "bus not open")
	}
	if len(w) == 0 {
		return errcode.New(errcode.InvalidTransfer, "spibus.tx", "empty transfer")
	}
	if len(r) != len(w) {
		return errcode.New(errcode.InvalidTransfer, "spibus.tx", "rx length differs from tx length")
	}
	if sel.Manual() && a.cs == nil {
		return errcode.New(errcode.ChannelUnavailable, "spibus.tx", "manual CS pin not configured")
	}

	if a.obs != nil {
		start := a.now()
		defer func() { a.obs(sel, len(w), a.now().Sub(start), err) }()
	}

	if !sel.Manual() {
		return errcode.Wrap(errcode.Transfer, "spibus.tx", a.tr.Tx(sel, w, r))
	}
	return a.cs.Do(func() error {
		return errcode.Wrap(errcode.Transfer, "spibus.tx", a.tr.Tx(sel, w, r))
	})
}

// ReleaseChipSelect drives the manual CS line idle. Used by shutdown; it
// waits for any in-flight transaction to finish first.
func (a *Arbiter) ReleaseChipSelect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cs == nil {
		return nil
	}
	return a.cs.Release()
}

// Close releases the manual CS line and closes the transport. Closing a
// closed arbiter is a no-op.
func (a *Arbiter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tr == nil {
		return nil
	}
	var err error
	if a.cs != nil {
		err = multierr.Append(err, a.cs.Release())
	}
	err = multierr.Append(err, a.tr.Close())
	a.tr = nil
	return err
}

// Channel binds a selector to this arbiter.
func (a *Arbiter) Channel(sel Selector) *Channel {
	return &Channel{a: a, sel: sel}
}
