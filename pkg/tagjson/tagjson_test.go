package tagjson

import (
	"context"
	"testing"
	"time"
)

func TestExtractFullTagSet(t *testing.T) {
	payload := `{
		"latitude": 34.0522,
		"longitude": -118.2437,
		"GPSAltitude": 120.5,
		"DateTimeOriginal": "2026:05:01 10:15:30",
		"Make": "DJI",
		"Model": "Mavic 3 Enterprise",
		"RtkFlag": 50,
		"RtkStdLat": 0.014
	}`
	meta, err := Extractor{}.Extract(context.Background(), []byte(payload))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if meta.Latitude == nil || *meta.Latitude != 34.0522 {
		t.Errorf("latitude = %v, want 34.0522", meta.Latitude)
	}
	if meta.Altitude == nil || *meta.Altitude != 120.5 {
		t.Errorf("altitude = %v, want 120.5", meta.Altitude)
	}
	if meta.Make == nil || *meta.Make != "DJI" {
		t.Errorf("make = %v, want DJI", meta.Make)
	}
	want := time.Date(2026, 5, 1, 10, 15, 30, 0, time.UTC)
	if meta.Timestamp == nil || !meta.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", meta.Timestamp, want)
	}
	if got := meta.Raw.Int("RtkFlag"); got == nil || *got != 50 {
		t.Errorf("raw RtkFlag = %v, want 50", got)
	}
}

func TestExtractMissingTagsStayNil(t *testing.T) {
	meta, err := Extractor{}.Extract(context.Background(), []byte(`{"Model":"Phantom 4"}`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if meta.Latitude != nil || meta.Longitude != nil || meta.Timestamp != nil {
		t.Errorf("missing tags produced values: %+v", meta)
	}
}

func TestExtractMalformedPayload(t *testing.T) {
	for _, payload := range []string{`{"latitude": `, `null`, `[1,2]`} {
		if _, err := (Extractor{}).Extract(context.Background(), []byte(payload)); err == nil {
			t.Errorf("Extract(%q) succeeded, want read failure", payload)
		}
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		want time.Time
	}{
		{"2026:05:01 10:15:30", true, time.Date(2026, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2026-05-01T10:15:30Z", true, time.Date(2026, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"2026-05-01 10:15:30", true, time.Date(2026, 5, 1, 10, 15, 30, 0, time.UTC)},
		{"yesterday", false, time.Time{}},
		{"", false, time.Time{}},
	}
	for _, tc := range tests {
		got := ParseTimestamp(tc.raw)
		if (got != nil) != tc.ok {
			t.Errorf("ParseTimestamp(%q) = %v, want ok=%v", tc.raw, got, tc.ok)
			continue
		}
		if got != nil && !got.Equal(tc.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
