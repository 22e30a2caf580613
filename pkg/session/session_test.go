package session

import (
	"testing"
	"time"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/geo"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/ingest"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/rtk"
)

func rec(name string, lat, lon float64) ingest.ImageRecord {
	return ingest.ImageRecord{Filename: name, Latitude: lat, Longitude: lon}
}

func recAt(name string, lat, lon float64, ts time.Time) ingest.ImageRecord {
	r := rec(name, lat, lon)
	r.Timestamp = &ts
	return r
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	m.Start("North Field", false)

	snap := m.Append(ingest.Result{
		Records: []ingest.ImageRecord{rec("a.jpg", 34.05, -118.24)},
		Errors:  []ingest.ErrorRecord{{Filename: "b.jpg", Reason: ingest.ReasonNoGpsData}},
	})
	if snap.Name != "North Field" || len(snap.Records) != 1 || len(snap.Errors) != 1 {
		t.Fatalf("after append: %+v", snap)
	}

	m.Clear()
	snap = m.Snapshot()
	if snap.Name != "" || len(snap.Records) != 0 || len(snap.Errors) != 0 {
		t.Fatalf("after clear: %+v", snap)
	}
}

// Appending a second batch re-sorts the combined dataset by timestamp.
func TestManagerAppendResorts(t *testing.T) {
	m := NewManager()
	m.Start("s", false)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	m.Append(ingest.Result{Records: []ingest.ImageRecord{
		recAt("late.jpg", 1, 1, base.Add(time.Hour)),
	}})
	snap := m.Append(ingest.Result{Records: []ingest.ImageRecord{
		recAt("early.jpg", 2, 2, base),
	}})
	if snap.Records[0].Filename != "early.jpg" {
		t.Fatalf("combined order = %v, want early.jpg first", snap.Records)
	}
}

// Replace swaps the dataset wholesale: prior records and errors are gone.
func TestManagerReplace(t *testing.T) {
	m := NewManager()
	m.Start("old", false)
	m.Append(ingest.Result{
		Records: []ingest.ImageRecord{rec("a.jpg", 1, 1)},
		Errors:  []ingest.ErrorRecord{{Filename: "x.jpg"}},
	})

	snap := m.Replace("Loaded Session", []ingest.ImageRecord{rec("k.jpg", 5, 6)})
	if snap.Name != "Loaded Session" {
		t.Errorf("name = %q, want Loaded Session", snap.Name)
	}
	if len(snap.Records) != 1 || snap.Records[0].Filename != "k.jpg" {
		t.Errorf("records = %+v, want only k.jpg", snap.Records)
	}
	if len(snap.Errors) != 0 {
		t.Errorf("errors survived a replace: %+v", snap.Errors)
	}
}

func TestBatchGuard(t *testing.T) {
	m := NewManager()
	if err := m.BeginBatch(); err != nil {
		t.Fatalf("first BeginBatch: %v", err)
	}
	if err := m.BeginBatch(); err != ErrBatchInFlight {
		t.Fatalf("re-entrant BeginBatch: err = %v, want ErrBatchInFlight", err)
	}
	m.EndBatch()
	if err := m.BeginBatch(); err != nil {
		t.Fatalf("BeginBatch after release: %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewManager()
	m.Start("s", false)
	m.Append(ingest.Result{Records: []ingest.ImageRecord{rec("a.jpg", 1, 1)}})

	snap := m.Snapshot()
	snap.Records[0].Filename = "mutated.jpg"
	if got := m.Snapshot().Records[0].Filename; got != "a.jpg" {
		t.Fatalf("snapshot mutation leaked into manager state: %q", got)
	}
}

func TestRenderModel(t *testing.T) {
	snap := Snapshot{
		Name: "s",
		Records: []ingest.ImageRecord{
			rec("a.jpg", 34.05, -118.26),
			rec("b.jpg", 34.06, -118.24),
		},
		Errors: []ingest.ErrorRecord{{Filename: "bad.jpg"}},
	}
	model := snap.Render(geo.DefaultBufferFeet)

	if model.Stats != (Stats{Total: 3, Valid: 2, Errors: 1}) {
		t.Errorf("stats = %+v", model.Stats)
	}
	if len(model.Markers) != 2 || model.Markers[0].Color != rtk.ColorNeutral {
		t.Errorf("markers = %+v, want 2 neutral markers", model.Markers)
	}
	if len(model.Path) != 2 {
		t.Errorf("path = %+v, want both points connected", model.Path)
	}
	if model.Bounds == nil || model.BufferedBounds == nil {
		t.Fatal("bounds missing from render model")
	}
	if !(model.BufferedBounds.MinLat < model.Bounds.MinLat) {
		t.Errorf("buffered bounds %+v does not expand %+v", model.BufferedBounds, model.Bounds)
	}
}

func TestRenderSinglePointHasNoPath(t *testing.T) {
	snap := Snapshot{Records: []ingest.ImageRecord{rec("a.jpg", 1, 2)}}
	model := snap.Render(0)
	if model.Path != nil {
		t.Errorf("path = %+v, want nil for a single point", model.Path)
	}
	if model.Bounds == nil || *model.Bounds != (geo.Bounds{MinLat: 1, MinLon: 2, MaxLat: 1, MaxLon: 2}) {
		t.Errorf("bounds = %+v, want degenerate rectangle", model.Bounds)
	}
}

func TestRenderRTKColors(t *testing.T) {
	fixed := 50
	single := 16
	snap := Snapshot{
		RTKEnabled: true,
		Records: []ingest.ImageRecord{
			{Filename: "f.jpg", Latitude: 1, Longitude: 1, RTK: &rtk.Data{Status: &fixed}},
			{Filename: "s.jpg", Latitude: 2, Longitude: 2, RTK: &rtk.Data{Status: &single}},
			{Filename: "n.jpg", Latitude: 3, Longitude: 3, RTK: &rtk.Data{}},
		},
	}
	model := snap.Render(0)
	want := []string{rtk.ColorGood, rtk.ColorBad, rtk.ColorBad}
	for i, m := range model.Markers {
		if m.Color != want[i] {
			t.Errorf("marker %s color = %q, want %q", m.Filename, m.Color, want[i])
		}
	}
}

func TestRenderEmptyDataset(t *testing.T) {
	model := (Snapshot{}).Render(geo.DefaultBufferFeet)
	if model.Markers != nil || model.Bounds != nil || model.Path != nil {
		t.Errorf("empty render = %+v, want bare stats", model)
	}
}
