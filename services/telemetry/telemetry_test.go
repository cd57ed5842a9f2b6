package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"windbuck-go/bus"
	"windbuck-go/drivers/spibus"
	"windbuck-go/errcode"
	"windbuck-go/types"
)

func TestObserveSample(t *testing.T) {
	m := NewMetrics()
	m.ObserveSample(types.Sample{Vout: 54.2, Target: 55, Duty: 0.4, Wind: 10, StepNs: 40000})
	m.ObserveSample(types.Sample{Vout: 54.9, Target: 55, Duty: 0.5, Overrun: true})

	if got := testutil.ToFloat64(m.Vout); got != 54.9 {
		t.Fatalf("vout = %v", got)
	}
	if got := testutil.ToFloat64(m.Duty); got != 0.5 {
		t.Fatalf("duty = %v", got)
	}
	if got := testutil.ToFloat64(m.Steps); got != 2 {
		t.Fatalf("steps = %v", got)
	}
	if got := testutil.ToFloat64(m.Overruns); got != 1 {
		t.Fatalf("overruns = %v", got)
	}
	if n := testutil.CollectAndCount(m.StepTime); n != 1 {
		t.Fatalf("step histogram series = %d", n)
	}
}

func TestObserveState(t *testing.T) {
	m := NewMetrics()
	m.ObserveState(types.SessionState{Level: types.SessionRunning})
	if testutil.ToFloat64(m.Running) != 1 {
		t.Fatal("running gauge not set")
	}
	m.ObserveState(types.SessionState{Level: types.SessionFaulted})
	if testutil.ToFloat64(m.Running) != 0 {
		t.Fatal("running gauge not cleared")
	}
}

func TestObserveTransferLabels(t *testing.T) {
	m := NewMetrics()
	m.ObserveTransfer(spibus.ManualCS, 4, 10*time.Microsecond, nil)
	m.ObserveTransfer(spibus.ManualCS, 4, 10*time.Microsecond, nil)
	m.ObserveTransfer(spibus.HardwareCS0, 3, 5*time.Microsecond,
		errcode.Wrap(errcode.Transfer, "spibus.tx", errors.New("eio")))

	if got := testutil.ToFloat64(m.Transfers.WithLabelValues("manual", "ok")); got != 2 {
		t.Fatalf("manual ok = %v", got)
	}
	if got := testutil.ToFloat64(m.Transfers.WithLabelValues("cs0", "transfer")); got != 1 {
		t.Fatalf("cs0 transfer = %v", got)
	}
	if got := testutil.ToFloat64(m.TransferBytes.WithLabelValues("manual")); got != 8 {
		t.Fatalf("manual bytes = %v", got)
	}
}

func TestArbiterObserverWiring(t *testing.T) {
	m := NewMetrics()
	arb := spibus.New(spibus.WithObserver(m.ObserveTransfer))
	if err := arb.Open(nopTransport{}); err != nil {
		t.Fatal(err)
	}
	if _, err := arb.Transfer(spibus.HardwareCS1, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.Transfers.WithLabelValues("cs1", "ok")); got != 1 {
		t.Fatalf("cs1 ok = %v", got)
	}
}

type nopTransport struct{}

func (nopTransport) Tx(spibus.Selector, []byte, []byte) error { return nil }
func (nopTransport) Close() error                             { return nil }

type fakeSink struct {
	mu     sync.Mutex
	steps  []uint64
	fail   bool
	closed bool
}

func (f *fakeSink) Write(_ context.Context, s types.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("down")
	}
	f.steps = append(f.steps, s.Step)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

func runService(t *testing.T, sink Sink, every int) (*Metrics, *bus.Connection, func()) {
	t.Helper()
	b := bus.NewBus(64)
	m := NewMetrics()
	svc := NewService(b.NewConnection("telemetry"), m, sink, Options{Every: every}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	stop := func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("Run = %v", err)
		}
	}
	return m, b.NewConnection("loop"), stop
}

func TestServiceDecimatesToSink(t *testing.T) {
	sink := &fakeSink{}
	m, pub, stop := runService(t, sink, 3)

	pub.Publish(&bus.Message{Topic: bus.T("buck", "state"), Payload: types.SessionState{Level: types.SessionRunning}, Retained: true})
	for i := 1; i <= 7; i++ {
		pub.Publish(&bus.Message{Topic: bus.T("buck", "sample"), Payload: types.Sample{Step: uint64(i)}})
	}
	waitFor(t, func() bool { return testutil.ToFloat64(m.Steps) == 7 })
	waitFor(t, func() bool { return testutil.ToFloat64(m.Running) == 1 })
	stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.steps) != 2 || sink.steps[0] != 3 || sink.steps[1] != 6 {
		t.Fatalf("sink steps = %v, want [3 6]", sink.steps)
	}
	if !sink.closed {
		t.Fatal("sink not closed")
	}
	if got := testutil.ToFloat64(m.SinkSent); got != 2 {
		t.Fatalf("sink sent = %v", got)
	}
}

func TestServiceCountsSinkErrors(t *testing.T) {
	sink := &fakeSink{fail: true}
	m, pub, stop := runService(t, sink, 1)
	pub.Publish(&bus.Message{Topic: bus.T("buck", "sample"), Payload: types.Sample{Step: 1}})
	waitFor(t, func() bool { return testutil.ToFloat64(m.SinkError) == 1 })
	stop()
}

func TestEncodeSampleAndListKey(t *testing.T) {
	b, err := encodeSample(types.Sample{Session: "abc", Step: 9, Vout: 51.5, Duty: 0.25})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["session"] != "abc" || got["step"] != float64(9) || got["duty"] != 0.25 {
		t.Fatalf("json = %s", b)
	}
	if _, ok := got["overrun"]; ok {
		t.Fatalf("overrun should be omitted: %s", b)
	}
	if k := ListKey("abc"); k != "buck:abc:samples" {
		t.Fatalf("ListKey = %q", k)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.Duty.Set(0.75)
	srv := httptest.NewServer(Handler(m))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("/health = %d %q", res.StatusCode, body)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), "windbuck_duty_ratio 0.75") {
		t.Fatalf("/metrics missing duty gauge:\n%s", body)
	}
}
