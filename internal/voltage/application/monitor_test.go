package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	voltage "linemonitor/internal/voltage/domain"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

type scriptedSampler struct {
	steps []sampleStep
	calls int
}

type sampleStep struct {
	readings map[voltage.LineID]float64
	err      error
}

func (s *scriptedSampler) Read(_ context.Context) (map[voltage.LineID]float64, error) {
	if s.calls >= len(s.steps) {
		return map[voltage.LineID]float64{"120V": 120, "240V": 240}, nil
	}
	step := s.steps[s.calls]
	s.calls++
	return step.readings, step.err
}

type memoryRecorder struct {
	samples []voltage.Sample
}

func (r *memoryRecorder) Record(sample voltage.Sample) error {
	r.samples = append(r.samples, sample)
	return nil
}

func newTestMonitor(t *testing.T, sampler voltage.Sampler, clock Clock, opts ...MonitorOption) (*Monitor, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	c120, err := NewClassifier("120V", scenarioThresholds, pub)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	c240, err := NewClassifier("240V", voltage.Thresholds{Low: 216, High: 264, OutageAfter: 2 * time.Second, ClearAfter: 3 * time.Second}, pub)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	opts = append([]MonitorOption{WithClock(clock)}, opts...)
	monitor, err := NewMonitor(sampler, []*Classifier{c240, c120}, opts...)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return monitor, pub
}

func TestMonitorPollClassifiesEveryLine(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sampler := &scriptedSampler{steps: []sampleStep{
		{readings: map[voltage.LineID]float64{"120V": 0, "240V": 240}},
	}}
	recorder := &memoryRecorder{}
	monitor, _ := newTestMonitor(t, sampler, clock, WithRecorder(recorder))

	events := monitor.Poll(context.Background())

	if len(events) != 1 || events[0].Kind != voltage.KindFlicker || events[0].Line != "120V" {
		t.Fatalf("expected a 120V flicker, got %+v", events)
	}
	if len(recorder.samples) != 2 {
		t.Fatalf("expected two recorded samples, got %d", len(recorder.samples))
	}
	if recorder.samples[0].Line != "120V" || !recorder.samples[0].TakenAt.Equal(clock.now) {
		t.Fatalf("unexpected first sample %+v", recorder.samples[0])
	}
}

func TestMonitorSkipsFailedReads(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	sampler := &scriptedSampler{steps: []sampleStep{
		{readings: map[voltage.LineID]float64{"120V": 0, "240V": 240}},
		{err: fmt.Errorf("lvmb: %w", voltage.ErrReadFailed)},
		{err: fmt.Errorf("lvmb: %w", voltage.ErrMalformedReading)},
		{readings: map[voltage.LineID]float64{"120V": math.NaN(), "240V": 240}},
		{readings: map[voltage.LineID]float64{"240V": 240}},
	}}
	recorder := &memoryRecorder{}
	monitor, pub := newTestMonitor(t, sampler, clock, WithRecorder(recorder))

	for i := 0; i < 5; i++ {
		monitor.Poll(context.Background())
		clock.Advance(time.Second)
	}

	if sampler.calls != 5 {
		t.Fatalf("expected 5 reads, got %d", sampler.calls)
	}
	if got := pub.transitions(); len(got) != 1 || got[0].Kind != voltage.KindFlicker {
		t.Fatalf("expected only the first flicker, got %+v", got)
	}
	if len(recorder.samples) != 2 {
		t.Fatalf("expected failed polls to record nothing, got %d samples", len(recorder.samples))
	}
	c, ok := monitor.Classifier("120V")
	if !ok || c.State() != StateFlickering {
		t.Fatalf("expected 120V to stay flickering")
	}
}

func TestMonitorRestore(t *testing.T) {
	markers := newMemoryMarkers()
	markers.marks["240V"] = time.Unix(1700000000, 0)
	pub := &recordingPublisher{}
	c120, _ := NewClassifier("120V", scenarioThresholds, pub, WithOutageMarkers(markers))
	c240, _ := NewClassifier("240V", voltage.Thresholds{Low: 216, High: 264, OutageAfter: time.Second}, pub, WithOutageMarkers(markers))
	monitor, err := NewMonitor(&scriptedSampler{}, []*Classifier{c120, c240})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	restored := monitor.Restore()

	if len(restored) != 1 || restored[0] != "240V" {
		t.Fatalf("expected 240V restored, got %v", restored)
	}
}

func TestNewMonitorRejectsDuplicateLines(t *testing.T) {
	pub := &recordingPublisher{}
	a, _ := NewClassifier("120V", scenarioThresholds, pub)
	b, _ := NewClassifier("120V", scenarioThresholds, pub)
	if _, err := NewMonitor(&scriptedSampler{}, []*Classifier{a, b}); err == nil {
		t.Fatalf("expected duplicate line error")
	}
	if _, err := NewMonitor(nil, []*Classifier{a}); err == nil {
		t.Fatalf("expected nil sampler error")
	}
}

func TestMonitorServeStopsOnCancel(t *testing.T) {
	monitor, _ := newTestMonitor(t, &scriptedSampler{}, &fakeClock{now: time.Unix(1700000000, 0)}, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve did not stop")
	}
}
