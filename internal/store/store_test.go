// v0
// internal/store/store_test.go
package store

import (
	"testing"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/sensor"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func reading(id string, aqi float64, observed time.Time) sensor.Reading {
	return sensor.Reading{SensorID: id, AQI: aqi, ObservedAt: observed}
}

func TestUpdateReplacesNewer(t *testing.T) {
	s := New(10 * time.Minute)
	if !s.Update(reading("a", 40, base)) {
		t.Fatal("first update must apply")
	}
	if !s.Update(reading("a", 55, base.Add(time.Minute))) {
		t.Fatal("newer update must apply")
	}
	valid := s.CurrentValid(base.Add(time.Minute))
	if len(valid) != 1 || valid[0].AQI != 55 {
		t.Fatalf("expected single reading with AQI 55, got %+v", valid)
	}
}

func TestUpdateOlderTimestampIsNoOp(t *testing.T) {
	s := New(10 * time.Minute)
	s.Update(reading("a", 40, base))
	if s.Update(reading("a", 99, base.Add(-time.Minute))) {
		t.Fatal("out-of-order update must not apply")
	}
	if s.Update(reading("a", 99, base)) {
		t.Fatal("equal-timestamp update must not apply")
	}
	valid := s.CurrentValid(base)
	if len(valid) != 1 || valid[0].AQI != 40 {
		t.Fatalf("store regressed: %+v", valid)
	}
}

func TestTTLBoundaryInclusive(t *testing.T) {
	ttl := 10 * time.Minute
	s := New(ttl)
	s.Update(reading("edge", 10, base.Add(-ttl)))
	s.Update(reading("past", 20, base.Add(-ttl-time.Second)))

	valid := s.CurrentValid(base)
	if len(valid) != 1 {
		t.Fatalf("expected exactly the boundary reading, got %+v", valid)
	}
	if valid[0].SensorID != "edge" {
		t.Fatalf("age == ttl must remain valid, got %q", valid[0].SensorID)
	}
}

func TestEmptyOrAllStale(t *testing.T) {
	s := New(time.Minute)
	if !s.EmptyOrAllStale(base) {
		t.Fatal("empty store must report no data")
	}
	s.Update(reading("a", 40, base.Add(-2*time.Minute)))
	if !s.EmptyOrAllStale(base) {
		t.Fatal("all-stale store must report no data")
	}
	s.Update(reading("b", 40, base))
	if s.EmptyOrAllStale(base) {
		t.Fatal("store with a fresh reading must not report no data")
	}
}

func TestEvictRemovesSensor(t *testing.T) {
	s := New(time.Minute)
	s.Update(reading("a", 40, base))
	s.Evict("a")
	if got := s.CurrentValid(base); len(got) != 0 {
		t.Fatalf("expected empty store after evict, got %+v", got)
	}
	// Evicting an absent sensor is harmless.
	s.Evict("missing")
}

func TestSnapshotFlagsStaleEntries(t *testing.T) {
	s := New(time.Minute)
	s.Update(reading("fresh", 40, base.Add(-30*time.Second)))
	s.Update(reading("old", 60, base.Add(-5*time.Minute)))

	snap := s.Snapshot(base)
	if len(snap) != 2 {
		t.Fatalf("expected both entries in snapshot, got %d", len(snap))
	}
	for _, st := range snap {
		switch st.Reading.SensorID {
		case "fresh":
			if st.Stale {
				t.Error("fresh reading flagged stale")
			}
		case "old":
			if !st.Stale {
				t.Error("old reading not flagged stale")
			}
		}
	}
}
