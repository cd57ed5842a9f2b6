package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"windbuck-go/bus"
	"windbuck-go/types"
)

// Topics match the control loop's.
var (
	topicSample = bus.T("buck", "sample")
	topicState  = bus.T("buck", "state")
)

type Options struct {
	Every        int           // forward every Nth sample to the sink (>= 1)
	WriteTimeout time.Duration // per sink write
}

// Service turns bus traffic into metrics and sink writes. It never blocks
// the publisher: the bus drops the oldest queued sample instead.
type Service struct {
	conn    *bus.Connection
	metrics *Metrics
	sink    Sink
	opts    Options
	log     *logrus.Entry

	samples *bus.Subscription
	states  *bus.Subscription
	seen    uint64
}

// NewService subscribes immediately so nothing published after it returns
// is missed. sink may be nil.
func NewService(conn *bus.Connection, m *Metrics, sink Sink, opts Options, log *logrus.Entry) *Service {
	if opts.Every < 1 {
		opts.Every = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 500 * time.Millisecond
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		conn: conn, metrics: m, sink: sink, opts: opts, log: log,
		samples: conn.Subscribe(topicSample),
		states:  conn.Subscribe(topicState),
	}
}

// Run consumes until ctx is done, then closes the sink.
func (s *Service) Run(ctx context.Context) error {
	samples, states := s.samples, s.states
	defer samples.Unsubscribe()
	defer states.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			s.drain(samples)
			if s.sink != nil {
				if err := s.sink.Close(); err != nil {
					s.log.WithError(err).Warn("closing sample sink")
				}
			}
			return nil
		case m, ok := <-samples.Channel():
			if !ok {
				return nil
			}
			s.handleSample(ctx, m)
			s.metrics.Dropped.Set(float64(samples.Dropped()))
		case m, ok := <-states.Channel():
			if !ok {
				return nil
			}
			s.handleState(m)
		}
	}
}

// drain applies whatever is still queued, without sink writes.
func (s *Service) drain(sub *bus.Subscription) {
	for {
		select {
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			if smp, ok := m.Payload.(types.Sample); ok {
				s.metrics.ObserveSample(smp)
			}
		default:
			return
		}
	}
}

func (s *Service) handleState(m *bus.Message) {
	st, ok := m.Payload.(types.SessionState)
	if !ok {
		return
	}
	s.metrics.ObserveState(st)
	s.log.WithFields(logrus.Fields{"session": st.Session, "level": st.Level}).Debug("session state")
}

func (s *Service) handleSample(ctx context.Context, m *bus.Message) {
	smp, ok := m.Payload.(types.Sample)
	if !ok {
		return
	}
	s.metrics.ObserveSample(smp)

	s.seen++
	if s.sink == nil || s.seen%uint64(s.opts.Every) != 0 {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	if err := s.sink.Write(wctx, smp); err != nil {
		s.metrics.SinkError.Inc()
		s.log.WithError(err).WithField("step", smp.Step).Warn("sample sink write failed")
		return
	}
	s.metrics.SinkSent.Inc()
}
