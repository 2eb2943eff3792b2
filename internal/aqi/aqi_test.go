// v0
// internal/aqi/aqi_test.go
package aqi

import (
	"errors"
	"math"
	"testing"
)

func TestConsensusIsArithmeticMean(t *testing.T) {
	got, err := Consensus([]float64{40, 60})
	if err != nil {
		t.Fatalf("consensus failed: %v", err)
	}
	if got != 50 {
		t.Fatalf("expected mean 50, got %v", got)
	}
}

func TestConsensusOrderIndependent(t *testing.T) {
	a, err := Consensus([]float64{12.5, 88, 41.2})
	if err != nil {
		t.Fatalf("consensus failed: %v", err)
	}
	b, err := Consensus([]float64{88, 41.2, 12.5})
	if err != nil {
		t.Fatalf("consensus failed: %v", err)
	}
	if math.Abs(a-b) > 1e-12 {
		t.Fatalf("consensus depends on input order: %v vs %v", a, b)
	}
}

func TestConsensusSingleValue(t *testing.T) {
	got, err := Consensus([]float64{120})
	if err != nil {
		t.Fatalf("consensus failed: %v", err)
	}
	if got != 120 {
		t.Fatalf("expected 120, got %v", got)
	}
}

func TestConsensusEmptyIsError(t *testing.T) {
	_, err := Consensus(nil)
	if !errors.Is(err, ErrNoReadings) {
		t.Fatalf("expected ErrNoReadings, got %v", err)
	}
}

func TestFromPM25Breakpoints(t *testing.T) {
	cases := []struct {
		pm   float64
		want float64
	}{
		{0, 0},
		{12, 50},
		{35.5, 100},
		{55.5, 150},
		{150.5, 200},
		{250.5, 300},
		{350.5, 400},
		{600, 500},
	}
	for _, tc := range cases {
		got := FromPM25(tc.pm)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("FromPM25(%v) = %v, want %v", tc.pm, got, tc.want)
		}
	}
}

func TestFromPM25Interpolates(t *testing.T) {
	// Midpoint of the 12..35.5 segment maps to the midpoint of 50..100.
	got := FromPM25((12 + 35.5) / 2)
	if math.Abs(got-75) > 1e-9 {
		t.Fatalf("expected 75, got %v", got)
	}
}

func TestFromPM25NegativePassesThrough(t *testing.T) {
	if got := FromPM25(-3); got != -3 {
		t.Fatalf("expected -3 passthrough, got %v", got)
	}
}
