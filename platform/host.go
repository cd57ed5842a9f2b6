package platform

import (
	"errors"
	"sync"

	"windbuck-go/drivers/dout"
	"windbuck-go/drivers/pwmout"
	"windbuck-go/drivers/spibus"
)

// ----------------------------- SPI (host) ------------------------------------

// Responder fills r for one exchange on a channel.
type Responder func(w, r []byte) error

// TxRecord is one exchange seen by HostSPI.
type TxRecord struct {
	Sel spibus.Selector
	W   []byte
}

// HostSPI implements spibus.Transport for host-side tests and simulation.
// Channels without a responder read back zeros.
type HostSPI struct {
	mu         sync.Mutex
	responders [3]Responder
	log        []TxRecord
	keep       int
	closed     bool
}

// NewHostSPI keeps the last keep exchanges (0 keeps none).
func NewHostSPI(keep int) *HostSPI { return &HostSPI{keep: keep} }

// Respond installs fn for sel.
func (h *HostSPI) Respond(sel spibus.Selector, fn Responder) {
	h.mu.Lock()
	h.responders[sel] = fn
	h.mu.Unlock()
}

var errHostClosed = errors.New("host spi: closed")

func (h *HostSPI) Tx(sel spibus.Selector, w, r []byte) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errHostClosed
	}
	if h.keep > 0 {
		if len(h.log) == h.keep {
			h.log = append(h.log[:0], h.log[1:]...)
		}
		h.log = append(h.log, TxRecord{Sel: sel, W: append([]byte(nil), w...)})
	}
	fn := h.responders[sel]
	h.mu.Unlock()

	if fn == nil {
		clear(r)
		return nil
	}
	return fn(w, r)
}

func (h *HostSPI) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Log returns a copy of the recorded exchanges.
func (h *HostSPI) Log() []TxRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TxRecord(nil), h.log...)
}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin is a raw output that remembers every level written.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	history []bool
}

func NewFakePin(number int, initial bool) *FakePin {
	return &FakePin{number: number, level: initial}
}

func (p *FakePin) Set(level bool) error {
	p.mu.Lock()
	p.level = level
	p.history = append(p.history, level)
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *FakePin) Number() int { return p.number }

// History returns every level written, oldest first.
func (p *FakePin) History() []bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]bool(nil), p.history...)
}

// ----------------------------- PWM (host) ------------------------------------

// FakePWM implements pwmout.PWM and remembers the last setting.
type FakePWM struct {
	mu      sync.RWMutex
	freqHz  uint64
	percent float64
	running bool
}

func (f *FakePWM) Configure(freqHz uint64) error {
	f.mu.Lock()
	f.freqHz = freqHz
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *FakePWM) SetPercent(percent float64) error {
	f.mu.Lock()
	f.percent = percent
	f.mu.Unlock()
	return nil
}

func (f *FakePWM) Stop() error {
	f.mu.Lock()
	f.percent = 0
	f.running = false
	f.mu.Unlock()
	return nil
}

// Percent returns the current output percentage, 0 when stopped.
func (f *FakePWM) Percent() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.running {
		return 0
	}
	return f.percent
}

func (f *FakePWM) FreqHz() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.freqHz
}

func (f *FakePWM) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// ----------------------------- Host board ------------------------------------

// HostBoard is a Hardware made of fakes.
type HostBoard struct {
	SPI  *HostSPI
	CS   *FakePin
	Gate *FakePin
	Out  *FakePWM
}

func NewHostBoard(cfg BoardConfig) *HostBoard {
	return &HostBoard{
		SPI:  NewHostSPI(64),
		CS:   NewFakePin(cfg.CSPin, cfg.CSIdleHigh),
		Gate: NewFakePin(cfg.GatePin, cfg.GateActiveLow),
		Out:  &FakePWM{},
	}
}

func (b *HostBoard) Transport() spibus.Transport { return b.SPI }
func (b *HostBoard) ChipSelectPin() spibus.Pin   { return b.CS }
func (b *HostBoard) GateDriverPin() dout.Pin     { return b.Gate }
func (b *HostBoard) PWM() pwmout.PWM             { return b.Out }
func (b *HostBoard) Close() error                { return b.SPI.Close() }
