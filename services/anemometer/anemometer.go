// Package anemometer provides the wind-speed input of the control loop.
package anemometer

import (
	"bufio"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"windbuck-go/errcode"
)

// Fixed reports a constant wind speed in m/s.
type Fixed float64

func (f Fixed) WindSpeed() (float64, error) { return float64(f), nil }

// ParseLine accepts "12.5", "ws=12.5" and "12.5 m/s" (and combinations).
func ParseLine(line string) (float64, error) {
	const op = "anemometer.parse"
	s := strings.TrimSpace(line)
	if i := strings.IndexAny(s, "=:"); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "m/s"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errcode.Wrap(errcode.Range, op, err)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errcode.New(errcode.Range, op, "wind speed out of range: "+s)
	}
	return v, nil
}

type SerialConfig struct {
	Port   string
	Baud   int
	MaxAge time.Duration // 0 disables the staleness check
}

// Serial keeps the latest reading of a line-oriented serial anemometer.
type Serial struct {
	rc     io.ReadCloser
	maxAge time.Duration
	now    func() time.Time
	log    *logrus.Entry

	mu     sync.Mutex
	latest float64
	at     time.Time
	have   bool
	bad    uint64

	done chan struct{}
}

// OpenSerial opens cfg.Port and starts reading.
func OpenSerial(cfg SerialConfig, log *logrus.Entry) (*Serial, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, errcode.Wrap(errcode.Configuration, "anemometer.open", err)
	}
	return NewSerial(port, cfg.MaxAge, log, time.Now), nil
}

// NewSerial reads lines from rc until it is closed or fails.
func NewSerial(rc io.ReadCloser, maxAge time.Duration, log *logrus.Entry, now func() time.Time) *Serial {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if now == nil {
		now = time.Now
	}
	s := &Serial{rc: rc, maxAge: maxAge, now: now, log: log, done: make(chan struct{})}
	go s.read()
	return s
}

func (s *Serial) read() {
	defer close(s.done)
	sc := bufio.NewScanner(s.rc)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		v, err := ParseLine(line)
		s.mu.Lock()
		if err != nil {
			s.bad++
			s.mu.Unlock()
			s.log.WithError(err).WithField("line", line).Debug("unparsable anemometer line")
			continue
		}
		s.latest, s.at, s.have = v, s.now(), true
		s.mu.Unlock()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.log.WithError(err).Warn("anemometer reader stopped")
	}
}

// WindSpeed returns the latest reading. It fails with Range when nothing
// has arrived yet or the reading is older than the configured max age.
func (s *Serial) WindSpeed() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.have {
		return 0, errcode.New(errcode.Range, "anemometer.read", "no wind reading yet")
	}
	if s.maxAge > 0 && s.now().Sub(s.at) > s.maxAge {
		return 0, errcode.New(errcode.Range, "anemometer.read", "wind reading is stale")
	}
	return s.latest, nil
}

// Rejected returns how many lines failed to parse.
func (s *Serial) Rejected() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

// Close stops the reader and waits for it to exit.
func (s *Serial) Close() error {
	err := s.rc.Close()
	<-s.done
	return err
}

// Port is one serial device found on the host.
type Port struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// ListPorts enumerates the host's serial ports.
func ListPorts() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errcode.Wrap(errcode.Unsupported, "anemometer.ports", err)
	}
	out := make([]Port, 0, len(details))
	for _, d := range details {
		out = append(out, Port{
			Name: d.Name, USB: d.IsUSB, VID: d.VID, PID: d.PID,
			Serial: d.SerialNumber, Product: d.Product,
		})
	}
	return out, nil
}
