// Package rtk normalizes the RTK positioning metadata that drone vendors
// embed under wildly inconsistent XMP tag names. Classification is pure:
// absent or unreadable tags become nil fields, never errors, because tag
// availability varies by device and firmware revision.
package rtk

import (
	"fmt"
	"strconv"
	"strings"
)

// RawTags is the flat tag set handed over by the metadata-extraction
// collaborator. Values arrive as whatever the decoder produced (float64,
// int, string), so the accessors below coerce instead of type-asserting.
type RawTags map[string]any

// Float resolves the first present key to a float64. The candidate order is
// fixed: canonical name first, legacy aliases after, first non-missing wins.
func (t RawTags) Float(keys ...string) *float64 {
	for _, k := range keys {
		v, ok := t[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return &n
		case float32:
			f := float64(n)
			return &f
		case int:
			f := float64(n)
			return &f
		case int64:
			f := float64(n)
			return &f
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// Int resolves the first present key to an int, truncating float payloads
// the way the vendors' own tooling does.
func (t RawTags) Int(keys ...string) *int {
	if f := t.Float(keys...); f != nil {
		i := int(*f)
		return &i
	}
	return nil
}

// String resolves the first present key to a non-empty string.
func (t RawTags) String(keys ...string) *string {
	for _, k := range keys {
		v, ok := t[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return &s
			}
		}
	}
	return nil
}

// Data is the normalized per-image RTK record. Every field is independently
// nullable; no cross-field invariant is enforced.
type Data struct {
	Status             *int     `json:"status,omitempty"`
	ProcessingMethod   *string  `json:"processingMethod,omitempty"`
	HorizontalAccuracy *float64 `json:"horizontalAccuracy,omitempty"`
	VerticalAccuracy   *float64 `json:"verticalAccuracy,omitempty"`
	DOP                *float64 `json:"dop,omitempty"`
	Differential       *int     `json:"differential,omitempty"`
	CorrectionAge      *float64 `json:"correctionAge,omitempty"` // milliseconds
	StdLon             *float64 `json:"rtkStdLon,omitempty"`
	StdLat             *float64 `json:"rtkStdLat,omitempty"`
	StdHgt             *float64 `json:"rtkStdHgt,omitempty"`
	AntennaOffsetNorth *float64 `json:"gpsAntennaOffsetNorth,omitempty"`
	AntennaOffsetEast  *float64 `json:"gpsAntennaOffsetEast,omitempty"`
	AntennaOffsetUp    *float64 `json:"gpsAntennaOffsetUp,omitempty"`
	StdPosNorth        *float64 `json:"gpsStdPosNorth,omitempty"`
	StdPosEast         *float64 `json:"gpsStdPosEast,omitempty"`
	StdPosUp           *float64 `json:"gpsStdPosUp,omitempty"`
}

// Raw positioning-fix codes seen in vendor XMP blocks.
const (
	StatusFixed  = 50
	StatusFloat  = 34
	StatusSingle = 16
	StatusNoFix  = 0
)

// Classify maps raw tags onto a Data record. Each logical field tries its
// canonical tag name first and then the legacy aliases, in a fixed order.
func Classify(tags RawTags) Data {
	return Data{
		Status:             tags.Int("RtkFlag", "RTKFlag", "RtkStatus"),
		ProcessingMethod:   tags.String("GPSProcessingMethod", "ProcessingMethod"),
		HorizontalAccuracy: tags.Float("GPSHPositioningError", "HorizontalAccuracy", "GpsAccuracyHorizontal"),
		VerticalAccuracy:   tags.Float("GPSVPositioningError", "VerticalAccuracy", "GpsAccuracyVertical"),
		DOP:                tags.Float("GPSDOP", "DOP", "PDOP"),
		Differential:       tags.Int("GPSDifferential", "Differential"),
		CorrectionAge:      tags.Float("CorrectionAge", "RtkCorrectionAge", "AgeOfCorrections"),
		StdLon:             tags.Float("RtkStdLon", "GpsStdLon"),
		StdLat:             tags.Float("RtkStdLat", "GpsStdLat"),
		StdHgt:             tags.Float("RtkStdHgt", "GpsStdHgt"),
		AntennaOffsetNorth: tags.Float("GpsAntennaOffsetNorth", "AntennaOffsetNorth"),
		AntennaOffsetEast:  tags.Float("GpsAntennaOffsetEast", "AntennaOffsetEast"),
		AntennaOffsetUp:    tags.Float("GpsAntennaOffsetUp", "AntennaOffsetUp"),
		StdPosNorth:        tags.Float("GpsStdPosNorth", "StdPosNorth"),
		StdPosEast:         tags.Float("GpsStdPosEast", "StdPosEast"),
		StdPosUp:           tags.Float("GpsStdPosUp", "StdPosUp"),
	}
}

// Tier is the derived quality class of a record.
type Tier int

const (
	TierNone Tier = iota
	TierFixed
	TierFloat
	TierSingle
	TierStdDevInferred       // no usable status, but std-dev tags present
	TierDifferentialInferred // no usable status, but differential flag set
)

// DeriveTier classifies a record. The checks run in a fixed priority order
// and the first match wins; an explicit status code always beats inference.
// The second return is false when nothing usable was found.
func DeriveTier(d Data) (Tier, bool) {
	if d.Status != nil {
		switch *d.Status {
		case StatusFixed:
			return TierFixed, true
		case StatusFloat:
			return TierFloat, true
		case StatusSingle:
			return TierSingle, true
		}
		// Unrecognized codes fall through to inference; the raw value
		// still shows up in per-record status text.
	}
	if d.StdLon != nil || d.StdLat != nil || d.StdHgt != nil {
		return TierStdDevInferred, true
	}
	if d.Differential != nil && *d.Differential != 0 {
		return TierDifferentialInferred, true
	}
	return TierNone, false
}

// Marker colors consumed by the rendering collaborator.
const (
	ColorGood    = "#2ecc40" // fixed/float or inferred-good solutions
	ColorBad     = "#ff4136" // single solution, or RTK requested but absent
	ColorNeutral = "#00ff00" // RTK analysis disabled
)

// MarkerColor picks the display color for a record's RTK data. Pass nil
// when RTK analysis is disabled to get the neutral default.
func MarkerColor(d *Data) string {
	if d == nil {
		return ColorNeutral
	}
	switch tier, ok := DeriveTier(*d); {
	case !ok:
		return ColorBad
	case tier == TierSingle:
		return ColorBad
	default:
		return ColorGood
	}
}

// StatusText renders the raw fix code for reports. A nil status returns
// false so callers can omit the field entirely.
func StatusText(status *int) (string, bool) {
	if status == nil {
		return "", false
	}
	switch *status {
	case StatusFixed:
		return "RTK Fixed", true
	case StatusFloat:
		return "RTK Float", true
	case StatusSingle:
		return "RTK Single", true
	case StatusNoFix:
		return "No Positioning", true
	default:
		return fmt.Sprintf("Unknown (%d)", *status), true
	}
}

// Stats aggregates tier counts over a dataset. Records whose tier cannot be
// derived land in NoRtk even when they carry an unrecognized status code;
// that asymmetry matches how the per-record display keeps the raw text.
type Stats struct {
	Fixed  int `json:"fixed"`
	Float  int `json:"float"`
	Single int `json:"single"`
	NoRtk  int `json:"noRtk"`

	// AvgCorrectionAgeMs is the mean over records reporting an age;
	// nil when none do.
	AvgCorrectionAgeMs *float64 `json:"avgCorrectionAgeMs,omitempty"`
}

// Aggregate buckets every record through the DeriveTier priority order.
// Inferred-good tiers count as Fixed: a std-dev or differential solution is
// treated as good quality for summary purposes.
func Aggregate(records []Data) Stats {
	var s Stats
	var ageSum float64
	var ageN int
	for _, d := range records {
		tier, ok := DeriveTier(d)
		switch {
		case !ok:
			s.NoRtk++
		case tier == TierFixed, tier == TierStdDevInferred, tier == TierDifferentialInferred:
			s.Fixed++
		case tier == TierFloat:
			s.Float++
		case tier == TierSingle:
			s.Single++
		}
		if d.CorrectionAge != nil {
			ageSum += *d.CorrectionAge
			ageN++
		}
	}
	if ageN > 0 {
		avg := ageSum / float64(ageN)
		s.AvgCorrectionAgeMs = &avg
	}
	return s
}
