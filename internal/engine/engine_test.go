// v1
// internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/led"
	"github.com/mais4719/air-quality-monitoring/internal/level"
	"github.com/mais4719/air-quality-monitoring/internal/sensor"
	"github.com/mais4719/air-quality-monitoring/internal/store"
)

// noon falls inside the default 6-22 test window.
var noon = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher serves canned readings or errors per sensor id.
type fakeFetcher struct {
	mu       sync.Mutex
	readings map[string]sensor.Reading
	errs     map[string]error
	calls    atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, sensorID string) (sensor.Reading, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[sensorID]; ok {
		return sensor.Reading{}, err
	}
	return f.readings[sensorID], nil
}

// fakeSink records every frame pushed to it.
type fakeSink struct {
	mu     sync.Mutex
	colors []level.Color
	offs   int
}

func (s *fakeSink) Set(_ context.Context, c level.Color, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colors = append(s.colors, c)
	return nil
}

func (s *fakeSink) Off(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offs++
	return nil
}

func (s *fakeSink) Close() {}

func (s *fakeSink) lastColor(t *testing.T) level.Color {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.colors) == 0 {
		t.Fatal("sink never received a color")
	}
	return s.colors[len(s.colors)-1]
}

var _ led.Sink = (*fakeSink)(nil)

func reading(id string, aqi float64, observed time.Time) sensor.Reading {
	return sensor.Reading{SensorID: id, AQI: aqi, ObservedAt: observed}
}

func newTestEngine(t *testing.T, f sensor.Fetcher, sensors ...SensorRef) (*Engine, *store.Store, *fakeSink) {
	t.Helper()
	tbl, err := level.NewTable(level.DefaultBands(), level.DefaultUnknown())
	if err != nil {
		t.Fatalf("table init failed: %v", err)
	}
	st := store.New(10 * time.Minute)
	sink := &fakeSink{}
	e := New(Config{
		Sensors:         sensors,
		TickInterval:    time.Minute,
		ActiveStartHour: 6,
		ActiveEndHour:   22,
		Intensity:       0.3,
	}, testLogger(), f, st, tbl, sink, nil, nil)
	e.now = func() time.Time { return noon }
	return e, st, sink
}

func TestTickComputesConsensusAndLevel(t *testing.T) {
	f := &fakeFetcher{readings: map[string]sensor.Reading{
		"a": reading("a", 40, noon),
		"b": reading("b", 60, noon),
	}}
	e, _, sink := newTestEngine(t, f, SensorRef{ID: "a"}, SensorRef{ID: "b"})

	e.runTick(context.Background())

	st := e.Status()
	if st.ConsensusAQI == nil || *st.ConsensusAQI != 50 {
		t.Fatalf("expected consensus 50, got %+v", st.ConsensusAQI)
	}
	// Mean of 50 sits on Good's upper edge: lower bounds are inclusive,
	// so 50 still belongs to Good, not Moderate.
	if st.LevelName != "Good" {
		t.Fatalf("expected level Good for consensus 50, got %q", st.LevelName)
	}
	want := level.Color{R: 0, G: 228, B: 0}
	if got := sink.lastColor(t); got != want {
		t.Fatalf("sink got %+v, want %+v", got, want)
	}
	if st.SensorsReporting != 2 || st.SensorsConfigured != 2 {
		t.Fatalf("unexpected sensor counts: %+v", st)
	}
	if st.LastError != nil {
		t.Fatalf("unexpected last error: %v", *st.LastError)
	}
}

func TestTickPermanentFailureUsesOnlyValidReading(t *testing.T) {
	f := &fakeFetcher{
		readings: map[string]sensor.Reading{"good": reading("good", 120, noon)},
		errs: map[string]error{
			"dead": &sensor.FetchError{Kind: sensor.KindPermanent, SensorID: "dead", Err: errors.New("unknown sensor")},
		},
	}
	e, st, _ := newTestEngine(t, f, SensorRef{ID: "good"}, SensorRef{ID: "dead"})
	// A leftover reading for the dead sensor must be evicted, not reused.
	st.Update(reading("dead", 500, noon.Add(-time.Minute)))

	e.runTick(context.Background())

	status := e.Status()
	if status.ConsensusAQI == nil || *status.ConsensusAQI != 120 {
		t.Fatalf("expected consensus 120 from the valid sensor, got %+v", status.ConsensusAQI)
	}
	if status.LevelName != "Unhealthy for Sensitive Groups" {
		t.Fatalf("expected USG level, got %q", status.LevelName)
	}
	if status.SensorsReporting != 1 {
		t.Fatalf("expected 1 reporting sensor, got %d", status.SensorsReporting)
	}
	if status.LastError == nil {
		t.Fatal("expected a recorded fetch failure")
	}
}

func TestTickTransientFailureKeepsLastKnownReading(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"flaky": &sensor.FetchError{Kind: sensor.KindTransient, SensorID: "flaky", Err: errors.New("timeout")},
	}}
	e, st, _ := newTestEngine(t, f, SensorRef{ID: "flaky"})
	st.Update(reading("flaky", 80, noon.Add(-time.Minute)))

	e.runTick(context.Background())

	status := e.Status()
	if status.ConsensusAQI == nil || *status.ConsensusAQI != 80 {
		t.Fatalf("transient failure must fall back to last-known reading, got %+v", status.ConsensusAQI)
	}
}

func TestTickNoDataSetsUnknownVisual(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"a": &sensor.FetchError{Kind: sensor.KindTransient, SensorID: "a", Err: errors.New("down")},
	}}
	e, _, sink := newTestEngine(t, f, SensorRef{ID: "a"})

	e.runTick(context.Background())

	st := e.Status()
	if st.ConsensusAQI != nil {
		t.Fatalf("no-data tick must leave consensus nil, got %v", *st.ConsensusAQI)
	}
	if st.LevelName != "unknown" {
		t.Fatalf("expected unknown level, got %q", st.LevelName)
	}
	if st.LastError == nil {
		t.Fatal("no-data condition must be recorded as last error")
	}
	if got := sink.lastColor(t); got != level.DefaultUnknown() {
		t.Fatalf("sink got %+v, want unknown color", got)
	}
}

func TestTickNoDataNeverDefaultsToZero(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"a": &sensor.FetchError{Kind: sensor.KindTransient, SensorID: "a", Err: errors.New("down")},
	}}
	e, _, _ := newTestEngine(t, f, SensorRef{ID: "a"})

	e.runTick(context.Background())

	// A zero consensus would map to "Good"; the no-data state must not.
	if st := e.Status(); st.LevelName == "Good" {
		t.Fatal("no-data tick silently defaulted consensus to 0")
	}
}

func TestUnhealthyAfterRepeatedNoDataTicks(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{
		"a": &sensor.FetchError{Kind: sensor.KindTransient, SensorID: "a", Err: errors.New("down")},
	}}
	e, _, _ := newTestEngine(t, f, SensorRef{ID: "a"})

	for i := 1; i < unhealthyStrikes; i++ {
		e.runTick(context.Background())
		if st := e.Status(); !st.Healthy {
			t.Fatalf("unhealthy after only %d strikes", i)
		}
	}
	e.runTick(context.Background())
	if st := e.Status(); st.Healthy {
		t.Fatal("expected unhealthy after repeated no-data ticks")
	}

	// One good tick recovers.
	f.mu.Lock()
	f.errs = nil
	f.readings = map[string]sensor.Reading{"a": reading("a", 10, noon)}
	f.mu.Unlock()
	e.runTick(context.Background())
	if st := e.Status(); !st.Healthy {
		t.Fatal("expected healthy after successful tick")
	}
}

func TestGatedTickSkipsFetchesAndTurnsOff(t *testing.T) {
	f := &fakeFetcher{readings: map[string]sensor.Reading{"a": reading("a", 40, noon)}}
	e, _, sink := newTestEngine(t, f, SensorRef{ID: "a"})
	night := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return night }

	e.runTick(context.Background())

	if got := f.calls.Load(); got != 0 {
		t.Fatalf("gated tick must issue zero fetches, saw %d", got)
	}
	sink.mu.Lock()
	offs, colors := sink.offs, len(sink.colors)
	sink.mu.Unlock()
	if offs != 1 || colors != 0 {
		t.Fatalf("gated tick must only blank the sink, offs=%d colors=%d", offs, colors)
	}
	if st := e.Status(); !st.Gated {
		t.Fatal("status must flag the gated condition")
	}
}

func TestActiveWindowWrapsPastMidnight(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeFetcher{}, SensorRef{ID: "a"})
	e.cfg.ActiveStartHour, e.cfg.ActiveEndHour = 22, 6

	cases := map[int]bool{21: false, 22: true, 23: true, 0: true, 6: true, 7: false, 12: false}
	for hour, want := range cases {
		at := time.Date(2026, 3, 1, hour, 30, 0, 0, time.UTC)
		if got := e.activeAt(at); got != want {
			t.Errorf("activeAt(hour %d) = %v, want %v", hour, got, want)
		}
	}
}

func TestActiveWindowInclusiveEdges(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeFetcher{}, SensorRef{ID: "a"})

	cases := map[int]bool{5: false, 6: true, 12: true, 22: true, 23: false}
	for hour, want := range cases {
		at := time.Date(2026, 3, 1, hour, 0, 0, 0, time.UTC)
		if got := e.activeAt(at); got != want {
			t.Errorf("activeAt(hour %d) = %v, want %v", hour, got, want)
		}
	}
}

func TestRunStopsOnCancelAndBlanksSink(t *testing.T) {
	f := &fakeFetcher{readings: map[string]sensor.Reading{"a": reading("a", 40, time.Now())}}
	e, _, sink := newTestEngine(t, f, SensorRef{ID: "a"})
	e.now = time.Now
	e.cfg.TickInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	sink.mu.Lock()
	offs := sink.offs
	sink.mu.Unlock()
	if offs == 0 {
		t.Fatal("engine must blank the sink on shutdown")
	}
}

func TestStatusReturnsDefensiveCopy(t *testing.T) {
	f := &fakeFetcher{readings: map[string]sensor.Reading{"a": reading("a", 40, noon)}}
	e, _, _ := newTestEngine(t, f, SensorRef{ID: "a"})
	e.runTick(context.Background())

	st := e.Status()
	*st.ConsensusAQI = 999
	if got := e.Status(); *got.ConsensusAQI == 999 {
		t.Fatal("status must not share pointers with internal state")
	}
}
