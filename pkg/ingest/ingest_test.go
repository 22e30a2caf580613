package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/rtk"
)

// stubExtractor maps file content (used as a key) to canned metadata,
// standing in for the real decoder collaborator.
type stubExtractor struct {
	byKey map[string]Metadata
	fail  map[string]string
}

func (s *stubExtractor) Extract(_ context.Context, data []byte) (Metadata, error) {
	key := string(data)
	if msg, ok := s.fail[key]; ok {
		return Metadata{}, errors.New(msg)
	}
	meta, ok := s.byKey[key]
	if !ok {
		return Metadata{}, fmt.Errorf("no stub metadata for %q", key)
	}
	return meta, nil
}

func floatp(v float64) *float64 { return &v }

func timep(s string) *time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &ts
}

func gps(lat, lon float64) Metadata {
	return Metadata{Latitude: floatp(lat), Longitude: floatp(lon)}
}

func TestAccepted(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"DJI_0001.JPG", true},
		{"img.jpeg", true},
		{"IMG.JPeG", true},
		{"notes.txt", false},
		{"raw.dng", false},
		{"jpg", false},
	}
	for _, tc := range tests {
		if got := Accepted(tc.name); got != tc.want {
			t.Errorf("Accepted(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIngestNothingToProcess(t *testing.T) {
	p := &Pipeline{Extract: &stubExtractor{}}
	_, err := p.Ingest(context.Background(), []File{{Name: "readme.txt"}}, false)
	if !errors.Is(err, ErrNothingToProcess) {
		t.Fatalf("Ingest over unsupported files: err = %v, want ErrNothingToProcess", err)
	}
}

// The end-to-end failure-isolation scenario: one good file, one out-of-range
// pair, one file without GPS tags. The batch survives, errors are attributed
// per file, and the dataset carries exactly the good record.
func TestIngestFailureIsolation(t *testing.T) {
	ext := &stubExtractor{byKey: map[string]Metadata{
		"a": gps(34.0522, -118.2437),
		"b": gps(91.0, 0.0),
		"c": {},
	}}
	p := &Pipeline{Extract: ext}

	res, err := p.Ingest(context.Background(), []File{
		{Name: "a.jpg", Data: []byte("a")},
		{Name: "b.jpg", Data: []byte("b")},
		{Name: "c.jpg", Data: []byte("c")},
	}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(res.Records) != 1 || res.Records[0].Filename != "a.jpg" {
		t.Fatalf("records = %+v, want only a.jpg", res.Records)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %+v, want 2", res.Errors)
	}
	if res.Errors[0].Filename != "b.jpg" || res.Errors[0].Reason != ReasonInvalidCoordinates {
		t.Errorf("error[0] = %+v, want b.jpg invalid coordinates", res.Errors[0])
	}
	if res.Errors[1].Filename != "c.jpg" || res.Errors[1].Reason != ReasonNoGpsData {
		t.Errorf("error[1] = %+v, want c.jpg no gps data", res.Errors[1])
	}
}

func TestIngestReadFailure(t *testing.T) {
	ext := &stubExtractor{
		byKey: map[string]Metadata{"ok": gps(1, 2)},
		fail:  map[string]string{"bad": "truncated JPEG segment"},
	}
	p := &Pipeline{Extract: ext}

	res, err := p.Ingest(context.Background(), []File{
		{Name: "bad.jpg", Data: []byte("bad")},
		{Name: "ok.jpg", Data: []byte("ok")},
	}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 1 || len(res.Errors) != 1 {
		t.Fatalf("got %d records / %d errors, want 1/1", len(res.Records), len(res.Errors))
	}
	if res.Errors[0].Reason != ReasonReadFailure || res.Errors[0].Details != "truncated JPEG segment" {
		t.Errorf("error = %+v, want read failure with diagnostic", res.Errors[0])
	}
}

func TestIngestCountInvariant(t *testing.T) {
	ext := &stubExtractor{
		byKey: map[string]Metadata{},
		fail:  map[string]string{},
	}
	var files []File
	// 7 good, 2 invalid coordinates, 3 read failures.
	for i := 0; i < 7; i++ {
		key := fmt.Sprintf("g%d", i)
		ext.byKey[key] = gps(10+float64(i)*0.001, 20)
		files = append(files, File{Name: key + ".jpg", Data: []byte(key)})
	}
	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("v%d", i)
		ext.byKey[key] = gps(-95, 0)
		files = append(files, File{Name: key + ".jpg", Data: []byte(key)})
	}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("r%d", i)
		ext.fail[key] = "io error"
		files = append(files, File{Name: key + ".jpg", Data: []byte(key)})
	}

	p := &Pipeline{Extract: ext}
	res, err := p.Ingest(context.Background(), files, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(res.Records) != 7 {
		t.Errorf("records = %d, want 7", len(res.Records))
	}
	if len(res.Errors) != 5 {
		t.Errorf("errors = %d, want 5", len(res.Errors))
	}
}

func TestIngestProgressReporting(t *testing.T) {
	ext := &stubExtractor{byKey: map[string]Metadata{"a": gps(1, 1), "b": gps(2, 2)}}
	var calls [][2]int
	p := &Pipeline{
		Extract:  ext,
		Progress: func(done, total int) { calls = append(calls, [2]int{done, total}) },
	}
	_, err := p.Ingest(context.Background(), []File{
		{Name: "a.jpg", Data: []byte("a")},
		{Name: "skipped.txt"},
		{Name: "b.jpg", Data: []byte("b")},
	}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	want := [][2]int{{1, 2}, {2, 2}}
	if len(calls) != len(want) {
		t.Fatalf("progress calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestIngestSortByTimestamp(t *testing.T) {
	ext := &stubExtractor{byKey: map[string]Metadata{
		"late":  {Latitude: floatp(1), Longitude: floatp(1), Timestamp: timep("2026-05-01T12:00:00Z")},
		"early": {Latitude: floatp(2), Longitude: floatp(2), Timestamp: timep("2026-05-01T09:30:00Z")},
		"mid":   {Latitude: floatp(3), Longitude: floatp(3), Timestamp: timep("2026-05-01T10:00:00Z")},
	}}
	p := &Pipeline{Extract: ext}
	res, err := p.Ingest(context.Background(), []File{
		{Name: "late.jpg", Data: []byte("late")},
		{Name: "early.jpg", Data: []byte("early")},
		{Name: "mid.jpg", Data: []byte("mid")},
	}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	var got []string
	for _, r := range res.Records {
		got = append(got, r.Filename)
	}
	want := []string{"early.jpg", "mid.jpg", "late.jpg"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", got, want)
		}
	}
}

// Identical timestamps keep ingestion order, and records without a
// timestamp keep their order relative to each other.
func TestIngestSortStability(t *testing.T) {
	ts := timep("2026-05-01T10:00:00Z")
	ext := &stubExtractor{byKey: map[string]Metadata{
		"a":  {Latitude: floatp(1), Longitude: floatp(1), Timestamp: ts},
		"b":  {Latitude: floatp(2), Longitude: floatp(2), Timestamp: ts},
		"n1": gps(3, 3),
		"n2": gps(4, 4),
	}}
	p := &Pipeline{Extract: ext}
	res, err := p.Ingest(context.Background(), []File{
		{Name: "a.jpg", Data: []byte("a")},
		{Name: "n1.jpg", Data: []byte("n1")},
		{Name: "b.jpg", Data: []byte("b")},
		{Name: "n2.jpg", Data: []byte("n2")},
	}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	posOf := func(name string) int {
		for i, r := range res.Records {
			if r.Filename == name {
				return i
			}
		}
		t.Fatalf("record %s missing from %+v", name, res.Records)
		return -1
	}
	if posOf("a.jpg") > posOf("b.jpg") {
		t.Error("equal timestamps lost their ingestion order")
	}
	if posOf("n1.jpg") > posOf("n2.jpg") {
		t.Error("null-timestamp records reordered relative to each other")
	}
}

func TestIngestRTKAttachment(t *testing.T) {
	ext := &stubExtractor{byKey: map[string]Metadata{
		"r": {
			Latitude:  floatp(34.05),
			Longitude: floatp(-118.24),
			Raw:       rtk.RawTags{"RtkFlag": float64(50)},
		},
	}}
	p := &Pipeline{Extract: ext}
	files := []File{{Name: "r.jpg", Data: []byte("r")}}

	res, err := p.Ingest(context.Background(), files, true)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Records[0].RTK == nil || res.Records[0].RTK.Status == nil || *res.Records[0].RTK.Status != 50 {
		t.Fatalf("RTK = %+v, want status 50 attached", res.Records[0].RTK)
	}

	res, err = p.Ingest(context.Background(), files, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Records[0].RTK != nil {
		t.Fatal("RTK attached although analysis was disabled")
	}
}
