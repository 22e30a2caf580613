package geo

import (
	"math"
	"testing"
)

// TestValidateRanges covers the accepted envelope and both rejection edges.
// Zero/zero is deliberately valid: a drone parked on the null island still
// has a renderable position.
func TestValidateRanges(t *testing.T) {
	tests := []struct {
		lat, lon float64
		ok       bool
	}{
		{34.0522, -118.2437, true},
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{-91, 0, false},
		{0, 180.5, false},
		{0, -181, false},
		{math.NaN(), 0, false},
		{0, math.Inf(1), false},
	}
	for _, tc := range tests {
		err := Validate(tc.lat, tc.lon)
		if (err == nil) != tc.ok {
			t.Errorf("Validate(%v,%v) err=%v, want ok=%v", tc.lat, tc.lon, err, tc.ok)
		}
	}
}

func TestComputeBoundsEmpty(t *testing.T) {
	if _, ok := ComputeBounds(nil); ok {
		t.Fatal("ComputeBounds(nil) = ok, want empty result")
	}
}

func TestComputeBoundsContainsAllPoints(t *testing.T) {
	points := []Point{
		{34.0522, -118.2437},
		{34.0601, -118.25},
		{34.0489, -118.2399},
		{34.055, -118.2611},
	}
	b, ok := ComputeBounds(points)
	if !ok {
		t.Fatal("ComputeBounds returned no bounds for non-empty input")
	}
	for _, p := range points {
		if !b.Contains(p) {
			t.Errorf("bounds %+v does not contain %+v", b, p)
		}
	}
}

// A single point yields a degenerate zero-area rectangle at that point.
func TestComputeBoundsSinglePoint(t *testing.T) {
	b, ok := ComputeBounds([]Point{{34.0522, -118.2437}})
	if !ok {
		t.Fatal("ComputeBounds returned no bounds")
	}
	if b.MinLat != b.MaxLat || b.MinLon != b.MaxLon {
		t.Errorf("single-point bounds not degenerate: %+v", b)
	}
	if b.MinLat != 34.0522 || b.MinLon != -118.2437 {
		t.Errorf("degenerate bounds at wrong location: %+v", b)
	}
}

func TestBufferedZeroIsIdentity(t *testing.T) {
	b := Bounds{MinLat: 10, MinLon: 20, MaxLat: 11, MaxLon: 21}
	if got := Buffered(b, 0); got != b {
		t.Errorf("Buffered(b, 0) = %+v, want %+v", got, b)
	}
	if got := Buffered(b, -5); got != b {
		t.Errorf("Buffered(b, -5) = %+v, want %+v", got, b)
	}
}

func TestBufferedStrictlyContains(t *testing.T) {
	b := Bounds{MinLat: 34.05, MinLon: -118.26, MaxLat: 34.06, MaxLon: -118.24}
	got := Buffered(b, DefaultBufferFeet)
	if !(got.MinLat < b.MinLat && got.MaxLat > b.MaxLat &&
		got.MinLon < b.MinLon && got.MaxLon > b.MaxLon) {
		t.Errorf("Buffered(%+v) = %+v, want strict expansion on all sides", b, got)
	}
}

// The buffer arithmetic is a fixed pipeline: feet to meters, meters to
// degrees, longitude scaled by cos(center latitude). Pin one case so the
// constants cannot drift silently.
func TestBufferedExactDeltas(t *testing.T) {
	b := Bounds{MinLat: 34.05, MinLon: -118.26, MaxLat: 34.07, MaxLon: -118.24}
	meters := 2000 * 0.3048
	wantLat := meters / 111320.0
	latFactor := math.Max(math.Cos(34.06*(math.Pi/180)), 0.01)
	wantLon := meters / (111320.0 * latFactor)

	got := Buffered(b, 2000)
	if diff := (b.MinLat - got.MinLat) - wantLat; math.Abs(diff) > 1e-12 {
		t.Errorf("south delta off by %v", diff)
	}
	if diff := (got.MaxLon - b.MaxLon) - wantLon; math.Abs(diff) > 1e-12 {
		t.Errorf("east delta off by %v", diff)
	}
}

// Near the poles the cosine floor takes over; the buffer must stay finite.
func TestBufferedNearPole(t *testing.T) {
	b := Bounds{MinLat: 89.9, MinLon: 10, MaxLat: 89.99, MaxLon: 11}
	got := Buffered(b, 2000)
	if math.IsInf(got.MinLon, 0) || math.IsNaN(got.MinLon) {
		t.Fatalf("polar buffer produced non-finite longitude: %+v", got)
	}
	maxLonDelta := 2000 * 0.3048 / (111320.0 * 0.01)
	if got.MinLon < b.MinLon-maxLonDelta-1e-9 {
		t.Errorf("longitude delta exceeded cosine-floor cap: %+v", got)
	}
}
