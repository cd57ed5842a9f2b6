// Package heartbeat logs a periodic status line for the running session.
package heartbeat

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"windbuck-go/bus"
	"windbuck-go/services/config"
	"windbuck-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicSample          = bus.T("buck", "sample")
)

const defaultInterval = 5 * time.Second

type Service struct {
	log *logrus.Entry

	last    types.Sample
	have    bool
	since   uint64 // samples since the previous beat
	overrun uint64
}

func New(log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{log: log}
}

// Run loops until ctx is cancelled, responding to ticks, samples and
// interval changes. Subscriptions are taken before Run returns control to
// the scheduler, so the retained config arrives first.
func (s *Service) Run(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)
	samples := conn.Subscribe(topicSample)
	defer conn.Unsubscribe(samples)

	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("heartbeat stopping")
			return
		case <-tick.C:
			s.beat()
		case msg, ok := <-samples.Channel():
			if !ok {
				return
			}
			if smp, ok := msg.Payload.(types.Sample); ok {
				s.observe(smp)
			}
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			if hb, ok := msg.Payload.(config.Heartbeat); ok && hb.Interval > 0 {
				tick.Reset(hb.Interval)
				s.log.WithField("interval", hb.Interval).Debug("heartbeat interval set")
			}
		}
	}
}

func (s *Service) observe(smp types.Sample) {
	s.last, s.have = smp, true
	s.since++
	if smp.Overrun {
		s.overrun++
	}
}

// beat logs the latest sample and resets the per-beat counters.
func (s *Service) beat() {
	if !s.have {
		s.log.Info("heartbeat: no samples yet")
		return
	}
	s.log.WithFields(logrus.Fields{
		"step":     s.last.Step,
		"vout":     s.last.Vout,
		"target":   s.last.Target,
		"duty":     s.last.Duty,
		"wind":     s.last.Wind,
		"iin":      s.last.Iin,
		"iout":     s.last.Iout,
		"samples":  s.since,
		"overruns": s.overrun,
	}).Info("heartbeat")
	s.since, s.overrun = 0, 0
}
