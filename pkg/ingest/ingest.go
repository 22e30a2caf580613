// Package ingest turns raw per-file metadata into a validated dataset.
//
// The pipeline walks the batch strictly in input order, one file at a time;
// a file that fails extraction or validation becomes an ErrorRecord and the
// batch keeps going. That failure isolation is the central invariant here:
// one corrupt image never costs the user the rest of the flight.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/geo"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/rtk"
)

// Reason classifies why a file was rejected.
type Reason int

const (
	ReasonNoGpsData Reason = iota
	ReasonInvalidCoordinates
	ReasonReadFailure
)

func (r Reason) String() string {
	switch r {
	case ReasonNoGpsData:
		return "No GPS data found"
	case ReasonInvalidCoordinates:
		return "Invalid GPS coordinates"
	case ReasonReadFailure:
		return "Failed to read metadata"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// MarshalJSON emits the human-readable reason so API consumers and reports
// see the same wording.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ErrorRecord is one ingestion failure.
type ErrorRecord struct {
	Filename string `json:"filename"`
	Reason   Reason `json:"reason"`
	Details  string `json:"details"`
}

// ImageRecord is one successfully ingested image. Latitude and longitude are
// always present and in range; a record failing that check never becomes an
// ImageRecord in the first place.
type ImageRecord struct {
	Filename  string     `json:"filename"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Altitude  *float64   `json:"altitude,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Make      *string    `json:"make,omitempty"`
	Model     *string    `json:"model,omitempty"`
	RTK       *rtk.Data  `json:"rtk,omitempty"`
}

// Point returns the record's position for bounds math.
func (r ImageRecord) Point() geo.Point { return geo.Point{Lat: r.Latitude, Lon: r.Longitude} }

// Metadata is what the extraction collaborator reports for one file. Missing
// tags stay nil; the pipeline decides what is fatal.
type Metadata struct {
	Latitude  *float64
	Longitude *float64
	Altitude  *float64
	Timestamp *time.Time
	Make      *string
	Model     *string
	Raw       rtk.RawTags
}

// Extractor is the metadata-extraction collaborator. Implementations decode
// raw image bytes (or a pre-extracted tag payload) into a flat tag set; the
// pipeline never touches image internals itself.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Metadata, error)
}

// File is one member of an ingestion batch.
type File struct {
	Name string
	Data []byte
}

// Result is the outcome of one batch.
type Result struct {
	Records []ImageRecord
	Errors  []ErrorRecord
}

// ErrNothingToProcess reports that the suffix filter left an empty batch.
// This is distinct from a batch where every file failed: there were no
// candidate images at all.
var ErrNothingToProcess = errors.New("no supported image files in batch")

// acceptedSuffixes is the fixed allow-list, matched case-insensitively.
var acceptedSuffixes = []string{".jpg", ".jpeg"}

// Accepted reports whether a filename passes the suffix allow-list.
func Accepted(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range acceptedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// Pipeline orchestrates extraction, validation, and classification for one
// batch at a time.
type Pipeline struct {
	Extract Extractor

	// Progress, when set, is called after each file with the number
	// processed so far and the batch total.
	Progress func(done, total int)

	// Logf, when set, receives per-file detail lines.
	Logf func(format string, args ...any)
}

// Ingest processes files strictly in input order. Unsupported filenames are
// silently dropped before the batch begins; if nothing survives the filter,
// ErrNothingToProcess is returned. RTK classification is attached only when
// rtkEnabled is set.
func (p *Pipeline) Ingest(ctx context.Context, files []File, rtkEnabled bool) (Result, error) {
	var batch []File
	for _, f := range files {
		if Accepted(f.Name) {
			batch = append(batch, f)
		}
	}
	if len(batch) == 0 {
		return Result{}, ErrNothingToProcess
	}

	var res Result
	for i, f := range batch {
		p.ingestOne(ctx, f, rtkEnabled, &res)
		if p.Progress != nil {
			p.Progress(i+1, len(batch))
		}
	}

	SortByTimestamp(res.Records)
	return res, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, f File, rtkEnabled bool, res *Result) {
	meta, err := p.Extract.Extract(ctx, f.Data)
	if err != nil {
		p.logf("✗ %s: read failure: %v", f.Name, err)
		res.Errors = append(res.Errors, ErrorRecord{
			Filename: f.Name,
			Reason:   ReasonReadFailure,
			Details:  err.Error(),
		})
		return
	}

	if meta.Latitude == nil || meta.Longitude == nil {
		p.logf("✗ %s: no GPS tags", f.Name)
		res.Errors = append(res.Errors, ErrorRecord{
			Filename: f.Name,
			Reason:   ReasonNoGpsData,
			Details:  "Image does not contain GPS metadata",
		})
		return
	}

	lat, lon := *meta.Latitude, *meta.Longitude
	if err := geo.Validate(lat, lon); err != nil {
		p.logf("✗ %s: %v", f.Name, err)
		res.Errors = append(res.Errors, ErrorRecord{
			Filename: f.Name,
			Reason:   ReasonInvalidCoordinates,
			Details:  fmt.Sprintf("Lat: %v, Lon: %v", lat, lon),
		})
		return
	}

	rec := ImageRecord{
		Filename:  f.Name,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  meta.Altitude,
		Timestamp: meta.Timestamp,
		Make:      meta.Make,
		Model:     meta.Model,
	}
	if rtkEnabled {
		data := rtk.Classify(meta.Raw)
		rec.RTK = &data
	}
	p.logf("✔ %s: %.6f,%.6f", f.Name, lat, lon)
	res.Records = append(res.Records, rec)
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
	}
}

// SortByTimestamp orders records ascending by capture time. Records without
// a timestamp compare equal to everything, so the stable sort leaves them in
// their relative position instead of hoisting them to either end. The
// session re-sorts the full dataset after each appended batch.
func SortByTimestamp(records []ImageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Timestamp, records[j].Timestamp
		if a == nil || b == nil {
			return false
		}
		return a.Before(*b)
	})
}
