// Package telemetry exports the control session: Prometheus metrics for
// every sample and SPI transaction, and an optional decimated sample stream
// to Redis.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"windbuck-go/drivers/spibus"
	"windbuck-go/errcode"
	"windbuck-go/types"
)

const namespace = "windbuck"

// Metrics holds the collectors. Each instance registers on its own
// registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Vout      prometheus.Gauge
	Target    prometheus.Gauge
	Duty      prometheus.Gauge
	Integral  prometheus.Gauge
	Iin       prometheus.Gauge
	Iout      prometheus.Gauge
	Wind      prometheus.Gauge
	Running   prometheus.Gauge
	Steps     prometheus.Counter
	Overruns  prometheus.Counter
	StepTime  prometheus.Histogram
	Dropped   prometheus.Gauge
	SinkSent  prometheus.Counter
	SinkError prometheus.Counter

	Transfers     *prometheus.CounterVec
	TransferBytes *prometheus.CounterVec
	TransferTime  *prometheus.HistogramVec
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		Vout:      gauge("output_voltage_volts", "Measured output voltage."),
		Target:    gauge("target_voltage_volts", "Wind-dependent target voltage."),
		Duty:      gauge("duty_ratio", "Commanded PWM duty cycle (0-1)."),
		Integral:  gauge("pi_integral", "PI integral term (V*s)."),
		Iin:       gauge("input_current_amps", "Input current."),
		Iout:      gauge("output_current_amps", "Output current."),
		Wind:      gauge("wind_speed_mps", "Wind speed used for the target."),
		Running:   gauge("session_running", "1 while the control session runs."),
		Steps:     counter("control_steps_total", "Completed control iterations."),
		Overruns:  counter("control_overruns_total", "Iterations that missed their deadline."),
		Dropped:   gauge("telemetry_dropped_samples", "Samples dropped by the telemetry subscription."),
		SinkSent:  counter("sink_samples_total", "Samples written to the sample sink."),
		SinkError: counter("sink_errors_total", "Failed sample sink writes."),
		StepTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "control_step_duration_seconds",
			Help:      "Time spent inside one control iteration.",
			Buckets:   prometheus.ExponentialBuckets(25e-6, 2, 10),
		}),

		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "spi_transfers_total", Help: "SPI transactions by channel and result.",
		}, []string{"channel", "result"}),
		TransferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "spi_transfer_bytes_total", Help: "Bytes clocked per SPI channel.",
		}, []string{"channel"}),
		TransferTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spi_transfer_duration_seconds",
			Help:      "SPI transaction time including CS setup and hold.",
			Buckets:   prometheus.ExponentialBuckets(2e-6, 2, 10),
		}, []string{"channel"}),
	}
	m.Registry.MustRegister(
		m.Vout, m.Target, m.Duty, m.Integral, m.Iin, m.Iout, m.Wind, m.Running,
		m.Steps, m.Overruns, m.StepTime, m.Dropped, m.SinkSent, m.SinkError,
		m.Transfers, m.TransferBytes, m.TransferTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSample updates the loop gauges from one iteration.
func (m *Metrics) ObserveSample(s types.Sample) {
	m.Vout.Set(s.Vout)
	m.Target.Set(s.Target)
	m.Duty.Set(s.Duty)
	m.Integral.Set(s.Integral)
	m.Iin.Set(s.Iin)
	m.Iout.Set(s.Iout)
	m.Wind.Set(s.Wind)
	m.Steps.Inc()
	if s.Overrun {
		m.Overruns.Inc()
	}
	m.StepTime.Observe(time.Duration(s.StepNs).Seconds())
}

// ObserveState tracks the session lifecycle.
func (m *Metrics) ObserveState(st types.SessionState) {
	if st.Level == types.SessionRunning {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// ObserveTransfer has the spibus.Observer signature.
func (m *Metrics) ObserveTransfer(sel spibus.Selector, n int, d time.Duration, err error) {
	ch := sel.String()
	m.Transfers.WithLabelValues(ch, string(errcode.Of(err))).Inc()
	m.TransferBytes.WithLabelValues(ch).Add(float64(n))
	m.TransferTime.WithLabelValues(ch).Observe(d.Seconds())
}
