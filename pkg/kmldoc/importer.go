package kmldoc

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/geo"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/ingest"
)

var (
	// ErrNoArchiveMember means a compressed archive contained no document
	// to import.
	ErrNoArchiveMember = errors.New("kmldoc: archive contains no kml document")

	// ErrMalformedDocument means the document itself could not be parsed.
	// Individual broken placemarks inside an otherwise well-formed
	// document are skipped, not errored.
	ErrMalformedDocument = errors.New("kmldoc: malformed document")
)

type kmlFolder struct {
	Placemarks []kmlPlacemark `xml:"Placemark"`
	Folders    []kmlFolder    `xml:"Folder"`
}

type kmlPlacemark struct {
	Name        string `xml:"name"`
	When        string `xml:"TimeStamp>when"`
	Coordinates string `xml:"Point>coordinates"`
}

type kmlRoot struct {
	XMLName  xml.Name `xml:"kml"`
	Document struct {
		Name       string         `xml:"name"`
		Placemarks []kmlPlacemark `xml:"Placemark"`
		Folders    []kmlFolder    `xml:"Folder"`
	} `xml:"Document"`
}

// Parse reads a KML document and returns the embedded session name plus
// the point records it carries. Placemarks without a usable coordinate
// block are dropped silently; the import succeeds with whatever remains.
func Parse(data []byte) (string, []ingest.ImageRecord, error) {
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return "", nil, ErrMalformedDocument
	}

	placemarks := root.Document.Placemarks
	placemarks = append(placemarks, collectFolders(root.Document.Folders)...)

	var records []ingest.ImageRecord
	for _, pm := range placemarks {
		rec, ok := parsePlacemark(pm)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return strings.TrimSpace(root.Document.Name), records, nil
}

func collectFolders(folders []kmlFolder) []kmlPlacemark {
	var out []kmlPlacemark
	for _, f := range folders {
		out = append(out, f.Placemarks...)
		out = append(out, collectFolders(f.Folders)...)
	}
	return out
}

func parsePlacemark(pm kmlPlacemark) (ingest.ImageRecord, bool) {
	parts := strings.Split(strings.TrimSpace(pm.Coordinates), ",")
	if len(parts) < 2 {
		return ingest.ImageRecord{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return ingest.ImageRecord{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return ingest.ImageRecord{}, false
	}
	if geo.Validate(lat, lon) != nil {
		return ingest.ImageRecord{}, false
	}

	rec := ingest.ImageRecord{Latitude: lat, Longitude: lon}
	if len(parts) >= 3 {
		if alt, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64); err == nil {
			rec.Altitude = &alt
		}
	}

	rec.Filename = strings.TrimSpace(pm.Name)
	if rec.Filename == "" {
		rec.Filename = "Image"
	}

	if when := strings.TrimSpace(pm.When); when != "" {
		if ts, err := time.Parse(time.RFC3339, when); err == nil {
			utc := ts.UTC()
			rec.Timestamp = &utc
		}
	}
	return rec, true
}

// ExtractArchiveMember pulls the first .kml member out of a KMZ archive.
func ExtractArchiveMember(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ErrMalformedDocument
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".kml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, ErrNoArchiveMember
}

// ParseAny dispatches on the uploaded filename: .kmz archives are
// unpacked first, everything else is treated as bare KML.
func ParseAny(filename string, data []byte) (string, []ingest.ImageRecord, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".kmz") {
		inner, err := ExtractArchiveMember(data)
		if err != nil {
			return "", nil, err
		}
		data = inner
	}
	return Parse(data)
}
