// v1
// internal/store/store.go
package store

import (
	"sync"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/sensor"
)

// Store keeps the most recent reading per configured sensor and applies
// the freshness TTL on every read. Expiry is lazy: a stale entry stays
// in the map but is excluded from every read path. Sensor counts are
// tiny, so the unreclaimed memory is a handful of structs at most.
//
// The scheduler is the sole writer; the HTTP API reads concurrently.
// Replacement is atomic per sensor id, so readers never observe a torn
// reading, though a read taken mid-tick may mix sensors from two ticks.
type Store struct {
	mu       sync.RWMutex
	ttl      time.Duration
	readings map[string]sensor.Reading
}

// SensorStatus is the per-sensor view served by the read API.
type SensorStatus struct {
	Reading sensor.Reading
	Stale   bool
	Age     time.Duration
}

func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, readings: make(map[string]sensor.Reading)}
}

// Update stores the reading unless an entry with an equal or newer
// observation timestamp already exists. Out-of-order updates never
// regress the store. It reports whether the reading was applied.
func (s *Store) Update(r sensor.Reading) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.readings[r.SensorID]; ok && !r.ObservedAt.After(cur.ObservedAt) {
		return false
	}
	s.readings[r.SensorID] = r
	return true
}

// Evict drops a sensor's entry. The scheduler calls this when a fetch
// fails permanently: the sensor is unavailable rather than merely late.
func (s *Store) Evict(sensorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readings, sensorID)
}

// CurrentValid returns every stored reading whose age at now is within
// the TTL. The boundary is inclusive: age exactly equal to the TTL is
// still valid. Order is unspecified.
func (s *Store) CurrentValid(now time.Time) []sensor.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sensor.Reading, 0, len(s.readings))
	for _, r := range s.readings {
		if now.Sub(r.ObservedAt) <= s.ttl {
			out = append(out, r)
		}
	}
	return out
}

// EmptyOrAllStale reports the total-data-loss condition the consensus
// engine must surface as a distinct no-data state.
func (s *Store) EmptyOrAllStale(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.readings {
		if now.Sub(r.ObservedAt) <= s.ttl {
			return false
		}
	}
	return true
}

// Snapshot returns every stored reading with its staleness resolved at
// now, including stale entries so the API can show what went quiet.
func (s *Store) Snapshot(now time.Time) []SensorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SensorStatus, 0, len(s.readings))
	for _, r := range s.readings {
		age := now.Sub(r.ObservedAt)
		out = append(out, SensorStatus{Reading: r, Stale: age > s.ttl, Age: age})
	}
	return out
}

// TTL returns the configured freshness window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}
