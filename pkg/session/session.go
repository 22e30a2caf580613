// Package session owns the active dataset. All mutation goes through a
// dedicated goroutine fed by a command channel, so the dataset has exactly
// one writer and handlers never share memory directly.
package session

import (
	"errors"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/geo"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/ingest"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/rtk"
)

// ErrBatchInFlight reports that an ingestion batch is already running.
// There is no mid-batch abort; callers retry after the batch finishes.
var ErrBatchInFlight = errors.New("an ingestion batch is already running")

// ErrEmptyDataset is the caller-checked precondition for document builds.
var ErrEmptyDataset = errors.New("dataset contains no image records")

// Snapshot is an immutable copy of the session state. Handlers render and
// export from snapshots so a concurrent append never shears a read.
type Snapshot struct {
	Name       string
	RTKEnabled bool
	Records    []ingest.ImageRecord
	Errors     []ingest.ErrorRecord
}

// Stats are the counters the original UI showed under the drop zone.
type Stats struct {
	Total  int `json:"total"`
	Valid  int `json:"valid"`
	Errors int `json:"errors"`
}

// Marker is one renderable point. Color encodes RTK quality per pkg/rtk.
type Marker struct {
	Filename string  `json:"filename"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Color    string  `json:"color"`
}

// RenderModel is the output contract consumed by the map-rendering
// collaborator: markers, an optional flight path, and the data bounds.
// PanConstraint is filled in by the basemap selector, not here.
type RenderModel struct {
	Markers        []Marker    `json:"markers"`
	Path           []geo.Point `json:"path,omitempty"`
	Bounds         *geo.Bounds `json:"bounds,omitempty"`
	BufferedBounds *geo.Bounds `json:"bufferedBounds,omitempty"`
	Stats          Stats       `json:"stats"`
}

type opKind int

const (
	opStart opKind = iota
	opAppend
	opReplace
	opClear
	opSnapshot
)

type op struct {
	kind    opKind
	name    string
	rtk     bool
	records []ingest.ImageRecord
	errs    []ingest.ErrorRecord
	reply   chan Snapshot
}

// Manager serializes access to the single active session.
type Manager struct {
	ops  chan op
	gate chan struct{}
}

// NewManager starts the owner goroutine. The gate channel doubles as the
// in-flight-batch guard: one token, taken for the duration of a batch.
func NewManager() *Manager {
	m := &Manager{
		ops:  make(chan op),
		gate: make(chan struct{}, 1),
	}
	m.gate <- struct{}{}
	go m.run()
	return m
}

func (m *Manager) run() {
	var cur Snapshot
	for o := range m.ops {
		switch o.kind {
		case opStart:
			cur = Snapshot{Name: o.name, RTKEnabled: o.rtk}
		case opAppend:
			cur.Records = append(cur.Records, o.records...)
			cur.Errors = append(cur.Errors, o.errs...)
			ingest.SortByTimestamp(cur.Records)
		case opReplace:
			// A reloaded exchange document replaces the dataset
			// wholesale; nothing from the previous batch survives.
			cur = Snapshot{Name: o.name, RTKEnabled: cur.RTKEnabled, Records: o.records}
		case opClear:
			cur = Snapshot{}
		case opSnapshot:
		}
		if o.reply != nil {
			o.reply <- cloneSnapshot(cur)
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Name: s.Name, RTKEnabled: s.RTKEnabled}
	out.Records = append(out.Records, s.Records...)
	out.Errors = append(out.Errors, s.Errors...)
	return out
}

func (m *Manager) do(o op) Snapshot {
	o.reply = make(chan Snapshot, 1)
	m.ops <- o
	return <-o.reply
}

// Start begins a fresh session with the given name, discarding any
// previous dataset.
func (m *Manager) Start(name string, rtkEnabled bool) {
	m.do(op{kind: opStart, name: name, rtk: rtkEnabled})
}

// Append merges one batch result into the dataset and re-sorts the records.
func (m *Manager) Append(res ingest.Result) Snapshot {
	return m.do(op{kind: opAppend, records: res.Records, errs: res.Errors})
}

// Replace swaps the dataset for records loaded from an exchange document.
func (m *Manager) Replace(name string, records []ingest.ImageRecord) Snapshot {
	return m.do(op{kind: opReplace, name: name, records: records})
}

// Clear resets the session to its startup state.
func (m *Manager) Clear() {
	m.do(op{kind: opClear})
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	return m.do(op{kind: opSnapshot})
}

// BeginBatch claims the single ingestion slot. It fails immediately instead
// of queueing, matching the UI rule that re-entrant triggering is disabled
// while a batch runs.
func (m *Manager) BeginBatch() error {
	select {
	case <-m.gate:
		return nil
	default:
		return ErrBatchInFlight
	}
}

// EndBatch releases the ingestion slot.
func (m *Manager) EndBatch() {
	select {
	case m.gate <- struct{}{}:
	default:
	}
}

// Points lists the record coordinates in dataset order.
func (s Snapshot) Points() []geo.Point {
	pts := make([]geo.Point, 0, len(s.Records))
	for _, r := range s.Records {
		pts = append(pts, r.Point())
	}
	return pts
}

// RTKRecords extracts the classified RTK data of records that carry it.
func (s Snapshot) RTKRecords() []rtk.Data {
	var out []rtk.Data
	for _, r := range s.Records {
		if r.RTK != nil {
			out = append(out, *r.RTK)
		}
	}
	return out
}

// Render builds the model handed to the rendering collaborator. The flight
// path only appears once there are at least two points to connect.
func (s Snapshot) Render(bufferFeet float64) RenderModel {
	model := RenderModel{
		Stats: Stats{
			Total:  len(s.Records) + len(s.Errors),
			Valid:  len(s.Records),
			Errors: len(s.Errors),
		},
	}
	if len(s.Records) == 0 {
		return model
	}

	pts := s.Points()
	for i, r := range s.Records {
		var color string
		if s.RTKEnabled {
			color = rtk.MarkerColor(r.RTK)
		} else {
			color = rtk.ColorNeutral
		}
		model.Markers = append(model.Markers, Marker{
			Filename: r.Filename,
			Lat:      pts[i].Lat,
			Lon:      pts[i].Lon,
			Color:    color,
		})
	}
	if len(pts) > 1 {
		model.Path = pts
	}
	if b, ok := geo.ComputeBounds(pts); ok {
		buffered := geo.Buffered(b, bufferFeet)
		model.Bounds = &b
		model.BufferedBounds = &buffered
	}
	return model
}
