// Package kmldoc renders the validated dataset into exportable documents:
// a KML exchange document for external mapping tools plus HTML error and
// RTK reports. Builders are deterministic; given the same dataset they
// produce byte-identical output, so downloads are reproducible and
// archives never churn without a data change.
//
// Builders assume non-empty input. Empty-dataset checks belong to the
// caller, which surfaces them as user-facing messages instead of errors.
package kmldoc

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/ingest"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/rtk"
)

// textEscaper covers the five reserved markup characters. Newlines inside
// descriptions stay literal; external viewers render them as line breaks.
var textEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeText(s string) string { return textEscaper.Replace(s) }

// WriteDocument streams the exchange document for a dataset. The layout is
// fixed: one placemark per record with the filename as the placemark name,
// a multi-line description block, the point coordinates as lon,lat,alt,
// and a TimeStamp element when the capture time is known.
func WriteDocument(w io.Writer, sessionName string, records []ingest.ImageRecord, rtkEnabled bool) error {
	if sessionName == "" {
		sessionName = "Session"
	}
	if _, err := fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "<kml xmlns=\"http://www.opengis.net/kml/2.2\">\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  <Document>\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "    <name>%s</name>\n", escapeText(sessionName)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "    <Style id=\"imagePoint\">\n      <IconStyle>\n        <color>ff00ff00</color>\n        <scale>0.8</scale>\n        <Icon>\n          <href>http://maps.google.com/mapfiles/kml/shapes/camera.png</href>\n        </Icon>\n      </IconStyle>\n    </Style>\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "    <Style id=\"flightPath\">\n      <LineStyle>\n        <color>ff0088ff</color>\n        <width>2</width>\n      </LineStyle>\n    </Style>\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "    <Folder>\n      <name>Image Locations</name>\n"); err != nil {
		return err
	}

	for _, rec := range records {
		if err := writePlacemark(w, rec, rtkEnabled); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "    </Folder>\n  </Document>\n</kml>\n"); err != nil {
		return err
	}
	return nil
}

func writePlacemark(w io.Writer, rec ingest.ImageRecord, rtkEnabled bool) error {
	if _, err := fmt.Fprintf(w, "      <Placemark>\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "        <name>%s</name>\n", escapeText(rec.Filename)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "        <description>%s</description>\n", escapeText(description(rec, rtkEnabled))); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "        <styleUrl>#imagePoint</styleUrl>\n"); err != nil {
		return err
	}
	alt := 0.0
	if rec.Altitude != nil {
		alt = *rec.Altitude
	}
	if _, err := fmt.Fprintf(w, "        <Point>\n          <coordinates>%.6f,%.6f,%g</coordinates>\n        </Point>\n", rec.Longitude, rec.Latitude, alt); err != nil {
		return err
	}
	if rec.Timestamp != nil {
		if _, err := fmt.Fprintf(w, "        <TimeStamp><when>%s</when></TimeStamp>\n", rec.Timestamp.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "      </Placemark>\n"); err != nil {
		return err
	}
	return nil
}

// description assembles the multi-line text block shown in placemark
// balloons: file, position at 6 decimals, altitude at 1 decimal, capture
// time, and the RTK sub-block when analysis was enabled.
func description(rec ingest.ImageRecord, rtkEnabled bool) string {
	lines := []string{
		"File: " + rec.Filename,
		fmt.Sprintf("Lat: %.6f", rec.Latitude),
		fmt.Sprintf("Lon: %.6f", rec.Longitude),
	}
	if rec.Altitude != nil {
		lines = append(lines, fmt.Sprintf("Alt: %.1fm", *rec.Altitude))
	}
	if rec.Timestamp != nil {
		lines = append(lines, "Time: "+rec.Timestamp.UTC().Format(time.RFC3339))
	}
	if rtkEnabled && rec.RTK != nil {
		lines = append(lines, rtkLines(*rec.RTK)...)
	}
	return strings.Join(lines, "\n")
}

func rtkLines(d rtk.Data) []string {
	lines := []string{"RTK:"}
	if text, ok := rtk.StatusText(d.Status); ok {
		lines = append(lines, "  Status: "+text)
	}
	if d.ProcessingMethod != nil {
		lines = append(lines, "  Processing Method: "+*d.ProcessingMethod)
	}
	if d.HorizontalAccuracy != nil {
		lines = append(lines, fmt.Sprintf("  Horizontal Accuracy: %.3fm", *d.HorizontalAccuracy))
	}
	if d.VerticalAccuracy != nil {
		lines = append(lines, fmt.Sprintf("  Vertical Accuracy: %.3fm", *d.VerticalAccuracy))
	}
	if d.DOP != nil {
		lines = append(lines, fmt.Sprintf("  DOP: %.2f", *d.DOP))
	}
	if d.Differential != nil {
		lines = append(lines, fmt.Sprintf("  Differential: %d", *d.Differential))
	}
	if d.CorrectionAge != nil {
		lines = append(lines, fmt.Sprintf("  Correction Age: %.0fms", *d.CorrectionAge))
	}
	return lines
}

// BuildDocument is the string form of WriteDocument for callers that hand
// the whole document to a download response.
func BuildDocument(sessionName string, records []ingest.ImageRecord, rtkEnabled bool) string {
	var b strings.Builder
	_ = WriteDocument(&b, sessionName, records, rtkEnabled)
	return b.String()
}

// BuildErrorReport renders the ingestion failures as a standalone HTML
// table. No clock is consulted: identical errors give identical reports.
func BuildErrorReport(sessionName string, errs []ingest.ErrorRecord) string {
	if sessionName == "" {
		sessionName = "Session"
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&b, "    <title>Error Report - %s</title>\n", escapeText(sessionName))
	b.WriteString(reportStyle)
	b.WriteString("</head>\n<body>\n    <h1>GPS Metadata Error Report</h1>\n")
	b.WriteString("    <div class=\"summary\">\n")
	fmt.Fprintf(&b, "        <p><strong>Location:</strong> %s</p>\n", escapeText(sessionName))
	fmt.Fprintf(&b, "        <p><strong>Total Errors:</strong> %d</p>\n", len(errs))
	b.WriteString("    </div>\n")
	b.WriteString("    <table>\n        <thead>\n            <tr>\n                <th>Filename</th>\n                <th>Error Type</th>\n                <th>Details</th>\n            </tr>\n        </thead>\n        <tbody>\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "            <tr>\n                <td>%s</td>\n                <td>%s</td>\n                <td>%s</td>\n            </tr>\n",
			escapeText(e.Filename), escapeText(e.Reason.String()), escapeText(e.Details))
	}
	b.WriteString("        </tbody>\n    </table>\n</body>\n</html>\n")
	return b.String()
}

// BuildRTKReport renders the positioning-quality report: the aggregate
// summary first, then one detail row per image.
func BuildRTKReport(sessionName string, records []ingest.ImageRecord) string {
	if sessionName == "" {
		sessionName = "Session"
	}
	// Every record contributes to exactly one bucket; a record without
	// RTK data counts as NoRtk rather than disappearing from the summary.
	datas := make([]rtk.Data, len(records))
	for i, r := range records {
		if r.RTK != nil {
			datas[i] = *r.RTK
		}
	}
	stats := rtk.Aggregate(datas)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&b, "    <title>RTK Report - %s</title>\n", escapeText(sessionName))
	b.WriteString(reportStyle)
	b.WriteString("</head>\n<body>\n    <h1>RTK Positioning Report</h1>\n")
	b.WriteString("    <div class=\"summary\">\n")
	fmt.Fprintf(&b, "        <p><strong>Location:</strong> %s</p>\n", escapeText(sessionName))
	fmt.Fprintf(&b, "        <p><strong>RTK Fixed:</strong> %d</p>\n", stats.Fixed)
	fmt.Fprintf(&b, "        <p><strong>RTK Float:</strong> %d</p>\n", stats.Float)
	fmt.Fprintf(&b, "        <p><strong>RTK Single:</strong> %d</p>\n", stats.Single)
	fmt.Fprintf(&b, "        <p><strong>No RTK Data:</strong> %d</p>\n", stats.NoRtk)
	if stats.AvgCorrectionAgeMs != nil {
		fmt.Fprintf(&b, "        <p><strong>Avg Correction Age:</strong> %.0fms</p>\n", *stats.AvgCorrectionAgeMs)
	} else {
		b.WriteString("        <p><strong>Avg Correction Age:</strong> not available</p>\n")
	}
	b.WriteString("    </div>\n")
	b.WriteString("    <table>\n        <thead>\n            <tr>\n                <th>Filename</th>\n                <th>Status</th>\n                <th>Method</th>\n                <th>H Acc (m)</th>\n                <th>V Acc (m)</th>\n                <th>DOP</th>\n                <th>Differential</th>\n                <th>Corr Age (ms)</th>\n            </tr>\n        </thead>\n        <tbody>\n")
	for _, r := range records {
		writeRTKRow(&b, r)
	}
	b.WriteString("        </tbody>\n    </table>\n</body>\n</html>\n")
	return b.String()
}

func writeRTKRow(b *strings.Builder, r ingest.ImageRecord) {
	cells := []string{escapeText(r.Filename)}
	d := r.RTK
	if d == nil {
		d = &rtk.Data{}
	}
	if text, ok := rtk.StatusText(d.Status); ok {
		cells = append(cells, escapeText(text))
	} else {
		cells = append(cells, "&mdash;")
	}
	cells = append(cells,
		optString(d.ProcessingMethod),
		optFloat(d.HorizontalAccuracy, "%.3f"),
		optFloat(d.VerticalAccuracy, "%.3f"),
		optFloat(d.DOP, "%.2f"),
		optInt(d.Differential),
		optFloat(d.CorrectionAge, "%.0f"),
	)
	b.WriteString("            <tr>\n")
	for _, c := range cells {
		fmt.Fprintf(b, "                <td>%s</td>\n", c)
	}
	b.WriteString("            </tr>\n")
}

func optString(s *string) string {
	if s == nil {
		return "&mdash;"
	}
	return escapeText(*s)
}

func optFloat(f *float64, format string) string {
	if f == nil {
		return "&mdash;"
	}
	return fmt.Sprintf(format, *f)
}

func optInt(i *int) string {
	if i == nil {
		return "&mdash;"
	}
	return fmt.Sprintf("%d", *i)
}

const reportStyle = `    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        h1 { color: #d32f2f; }
        table { width: 100%; border-collapse: collapse; margin-top: 20px; }
        th, td { padding: 10px; text-align: left; border: 1px solid #ddd; }
        th { background-color: #f2f2f2; }
        .summary { background: #fff3e0; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
    </style>
`

// SafeFilename reduces a session name to a download-safe file stem.
func SafeFilename(name string) string {
	if name == "" {
		name = "session"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
