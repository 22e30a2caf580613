// Package tagjson implements the metadata-extraction collaborator for tag
// sets that were already decoded on the client, the same flat shape the
// exifr-style readers emit. The server deliberately never parses JPEG
// internals; it receives one JSON object per file and normalizes it.
package tagjson

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/ingest"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/rtk"
)

// Extractor decodes a per-file JSON tag object into ingest.Metadata.
// The zero value is ready to use.
type Extractor struct{}

// timestampLayouts covers the formats drones actually write: EXIF colon
// dates, RFC3339 from post-processing tools, and the space-separated ISO
// variant some firmwares emit.
var timestampLayouts = []string{
	"2006:01:02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Extract implements ingest.Extractor. A payload that is not a JSON object
// is a read failure; inside a valid object every tag is optional.
func (Extractor) Extract(_ context.Context, data []byte) (ingest.Metadata, error) {
	var tags rtk.RawTags
	if err := json.Unmarshal(data, &tags); err != nil {
		return ingest.Metadata{}, fmt.Errorf("decode tag payload: %w", err)
	}
	if tags == nil {
		return ingest.Metadata{}, fmt.Errorf("decode tag payload: null object")
	}

	meta := ingest.Metadata{
		Latitude:  tags.Float("latitude", "GPSLatitude"),
		Longitude: tags.Float("longitude", "GPSLongitude"),
		Altitude:  tags.Float("GPSAltitude", "altitude"),
		Make:      tags.String("Make", "make"),
		Model:     tags.String("Model", "model"),
		Raw:       tags,
	}
	if raw := tags.String("DateTimeOriginal", "CreateDate", "timestamp"); raw != nil {
		meta.Timestamp = ParseTimestamp(*raw)
	}
	return meta, nil
}

// ParseTimestamp tries the known capture-time layouts and returns nil when
// none match; an unreadable date costs the record its sort position, not
// its place in the dataset.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}
