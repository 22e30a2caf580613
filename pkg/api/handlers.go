// Package api exposes the mapper over HTTP. Routes stay small and focused
// on translating requests into calls on the session manager, the basemap
// selector, and the document builders; all dataset state lives behind
// those collaborators.
package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/basemap"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/geo"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/ingest"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/kmldoc"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/logger"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/mapconfig"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/session"
	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/store"
)

// maxUploadBytes caps a whole ingest upload. Tag payloads are small JSON
// documents, so this is generous.
const maxUploadBytes = 64 << 20

// Handler wires the collaborators together so routes can stay declarative.
type Handler struct {
	Session    *session.Manager
	Basemap    *basemap.Selector
	Store      *store.Store
	MapConfig  mapconfig.Config
	Extract    ingest.Extractor
	BufferFeet float64
	Logf       func(string, ...any)
}

// Register attaches all routes to the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/session/start", h.handleSessionStart)
	mux.HandleFunc("/api/session/clear", h.handleSessionClear)
	mux.HandleFunc("/api/session", h.handleSessionInfo)
	mux.HandleFunc("/api/ingest", h.handleIngest)
	mux.HandleFunc("/api/render", h.handleRender)
	mux.HandleFunc("/api/import", h.handleImport)
	mux.HandleFunc("/api/export/kml", h.handleExportKML)
	mux.HandleFunc("/api/report/errors", h.handleErrorReport)
	mux.HandleFunc("/api/report/rtk", h.handleRTKReport)
	mux.HandleFunc("/api/token", h.handleToken)
	mux.HandleFunc("/api/tile-failure", h.handleTileFailure)
	mux.HandleFunc("/api/prefs", h.handlePrefs)
	mux.HandleFunc("/api/share/qr", h.handleShareQR)
	mux.HandleFunc("/map-config", h.handleMapConfig)
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}

// handleSessionStart resets the dataset and names the new session.
func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name       string `json:"name"`
		RTKEnabled bool   `json:"rtkEnabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "session name required", http.StatusBadRequest)
		return
	}

	h.Session.Start(strings.TrimSpace(req.Name), req.RTKEnabled)
	h.respondJSON(w, h.sessionInfo())
}

// handleSessionInfo reports the current dataset without rendering it.
func (h *Handler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.respondJSON(w, h.sessionInfo())
}

func (h *Handler) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.Session.Clear()
	// A cleared session also drops any hybrid provider and pan
	// constraint back to the startup state.
	h.Basemap.Reset()
	h.respondJSON(w, h.sessionInfo())
}

type sessionInfoResponse struct {
	Name       string               `json:"name"`
	RTKEnabled bool                 `json:"rtkEnabled"`
	Stats      session.Stats        `json:"stats"`
	Errors     []ingest.ErrorRecord `json:"errors"`
}

func (h *Handler) sessionInfo() sessionInfoResponse {
	snap := h.Session.Snapshot()
	return sessionInfoResponse{
		Name:       snap.Name,
		RTKEnabled: snap.RTKEnabled,
		Stats: session.Stats{
			Total:  len(snap.Records) + len(snap.Errors),
			Valid:  len(snap.Records),
			Errors: len(snap.Errors),
		},
		Errors: snap.Errors,
	}
}

// handleIngest accepts a multipart batch of per-image tag payloads, runs
// the pipeline, and appends the results to the session. Concurrent batches
// are rejected rather than queued.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.Session.BeginBatch(); err != nil {
		if errors.Is(err, session.ErrBatchInFlight) {
			http.Error(w, "a batch is already being processed", http.StatusConflict)
			return
		}
		http.Error(w, "batch start failed", http.StatusInternalServerError)
		return
	}
	defer h.Session.EndBatch()

	files, err := readUploadedFiles(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	batchID := newBatchID()
	logger.Begin(batchID)

	snap := h.Session.Snapshot()
	pipe := ingest.Pipeline{
		Extract: h.Extract,
		Logf:    func(format string, args ...any) { logger.Append(batchID, fmt.Sprintf(format, args...)) },
	}

	res, err := pipe.Ingest(r.Context(), files, snap.RTKEnabled)
	if err != nil {
		if errors.Is(err, ingest.ErrNothingToProcess) {
			logger.FlushError(batchID, err)
			http.Error(w, "no image files in upload", http.StatusBadRequest)
			return
		}
		logger.FlushError(batchID, err)
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	after := h.Session.Append(res)
	logger.Success(batchID, fmt.Sprintf("%d files, %d mapped, %d errors",
		len(res.Records)+len(res.Errors), len(res.Records), len(res.Errors)))

	h.respondJSON(w, struct {
		Batch struct {
			Records int                  `json:"records"`
			Errors  []ingest.ErrorRecord `json:"errors"`
		} `json:"batch"`
		Session sessionInfoResponse `json:"session"`
	}{
		Batch: struct {
			Records int                  `json:"records"`
			Errors  []ingest.ErrorRecord `json:"errors"`
		}{Records: len(res.Records), Errors: res.Errors},
		Session: sessionInfoResponse{
			Name:       after.Name,
			RTKEnabled: after.RTKEnabled,
			Stats: session.Stats{
				Total:  len(after.Records) + len(after.Errors),
				Valid:  len(after.Records),
				Errors: len(after.Errors),
			},
			Errors: after.Errors,
		},
	})
}

// readUploadedFiles drains a multipart form into ingest inputs, keeping
// the client's part order.
func readUploadedFiles(r *http.Request) ([]ingest.File, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errors.New("invalid multipart upload")
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		return nil, errors.New("no files in upload")
	}

	var files []ingest.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

// handleRender returns the full render model plus the basemap view for
// the dataset's buffered bounds.
func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bufferFeet := h.BufferFeet
	if raw := r.URL.Query().Get("buffer_feet"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 {
			bufferFeet = v
		}
	}

	snap := h.Session.Snapshot()
	model := snap.Render(bufferFeet)

	state := h.Basemap.State()
	var view basemap.View
	if len(snap.Records) > 0 && model.BufferedBounds != nil {
		state, view = h.Basemap.OnDatasetBounds(*model.BufferedBounds)
	}

	h.respondJSON(w, struct {
		session.RenderModel
		Basemap basemapResponse `json:"basemap"`
	}{
		RenderModel: model,
		Basemap:     basemapState(state, &view),
	})
}

type basemapResponse struct {
	Provider      string      `json:"provider"`
	Fit           *geo.Bounds `json:"fit,omitempty"`
	PanConstraint *geo.Bounds `json:"panConstraint,omitempty"`
}

func basemapState(state basemap.State, view *basemap.View) basemapResponse {
	resp := basemapResponse{Provider: state.Provider.String()}
	if view != nil {
		if view.Fit != (geo.Bounds{}) {
			fit := view.Fit
			resp.Fit = &fit
		}
		resp.PanConstraint = view.PanConstraint
	}
	return resp
}

// handleImport replaces the dataset with the contents of an uploaded KML
// or KMZ document.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	files, err := readUploadedFiles(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	upload := files[0]

	name, records, err := kmldoc.ParseAny(upload.Name, upload.Data)
	if err != nil {
		switch {
		case errors.Is(err, kmldoc.ErrNoArchiveMember):
			http.Error(w, "archive contains no kml document", http.StatusBadRequest)
		case errors.Is(err, kmldoc.ErrMalformedDocument):
			http.Error(w, "document could not be parsed", http.StatusBadRequest)
		default:
			http.Error(w, "import failed", http.StatusInternalServerError)
		}
		return
	}
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSuffix(upload.Name, ".kmz"), ".kml")
	}

	snap := h.Session.Replace(name, records)
	h.logf("imported %d placemarks from %q", len(records), upload.Name)
	h.respondJSON(w, sessionInfoResponse{
		Name:       snap.Name,
		RTKEnabled: snap.RTKEnabled,
		Stats: session.Stats{
			Total: len(snap.Records),
			Valid: len(snap.Records),
		},
		Errors: snap.Errors,
	})
}

// handleExportKML streams the exchange document as a download.
func (h *Handler) handleExportKML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.Session.Snapshot()
	if len(snap.Records) == 0 {
		http.Error(w, session.ErrEmptyDataset.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.kml", kmldoc.SafeFilename(snap.Name)))
	if err := kmldoc.WriteDocument(w, snap.Name, snap.Records, snap.RTKEnabled); err != nil {
		h.logf("kml export: %v", err)
	}
}

func (h *Handler) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.Session.Snapshot()
	if len(snap.Errors) == 0 {
		http.Error(w, "no errors recorded", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_errors.html", kmldoc.SafeFilename(snap.Name)))
	io.WriteString(w, kmldoc.BuildErrorReport(snap.Name, snap.Errors))
}

func (h *Handler) handleRTKReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.Session.Snapshot()
	if !snap.RTKEnabled {
		http.Error(w, "rtk analysis not enabled for this session", http.StatusConflict)
		return
	}
	if len(snap.Records) == 0 {
		http.Error(w, session.ErrEmptyDataset.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_rtk.html", kmldoc.SafeFilename(snap.Name)))
	io.WriteString(w, kmldoc.BuildRTKReport(snap.Name, snap.Records))
}

// handleToken sets or clears the user's hosted-layer token. The value is
// persisted so it survives restarts; persistence failures are logged but
// never block the provider switch.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token := strings.TrimSpace(req.Token)
	state := h.Basemap.SetToken(token)

	if h.Store != nil {
		var err error
		if token == "" {
			err = h.Store.Delete(r.Context(), store.KeyMapboxToken)
		} else {
			err = h.Store.Set(r.Context(), store.KeyMapboxToken, token)
		}
		if err != nil {
			h.logf("persist token: %v", err)
		}
	}

	h.respondJSON(w, basemapState(state, nil))
}

// handleTileFailure downgrades the basemap after the client reports a
// failed tile load.
func (h *Handler) handleTileFailure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state := h.Basemap.OnTileLoadFailure()
	h.respondJSON(w, basemapState(state, nil))
}

// handlePrefs stores small UI preferences. Reads return what is known,
// writes apply whichever fields are present.
func (h *Handler) handlePrefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp := struct {
			Theme      string `json:"theme,omitempty"`
			PrivacyAck string `json:"privacyAck,omitempty"`
		}{}
		if h.Store != nil {
			if v, ok, err := h.Store.Get(r.Context(), store.KeyTheme); err == nil && ok {
				resp.Theme = v
			}
			if v, ok, err := h.Store.Get(r.Context(), store.KeyPrivacyAck); err == nil && ok {
				resp.PrivacyAck = v
			}
		}
		h.respondJSON(w, resp)

	case http.MethodPost:
		var req struct {
			Theme      *string `json:"theme"`
			PrivacyAck *string `json:"privacyAck"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if h.Store != nil {
			if req.Theme != nil {
				if err := h.Store.Set(r.Context(), store.KeyTheme, *req.Theme); err != nil {
					h.logf("persist theme: %v", err)
				}
			}
			if req.PrivacyAck != nil {
				if err := h.Store.Set(r.Context(), store.KeyPrivacyAck, *req.PrivacyAck); err != nil {
					h.logf("persist privacy ack: %v", err)
				}
			}
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleShareQR renders a QR code PNG for the given share URL so field
// crews can open the session on a phone.
func (h *Handler) handleShareQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		target = scheme + "://" + r.Host + "/"
	}
	if len(target) > 2048 {
		http.Error(w, "url too long", http.StatusBadRequest)
		return
	}

	png, err := qrcode.Encode(target, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handleMapConfig publishes the provider configuration the front end needs
// to build its tile layers. The active token reflects the selector state,
// never the raw config, so a downgraded provider hides the token too.
func (h *Handler) handleMapConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.Basemap.State()
	resp := struct {
		Provider string                  `json:"provider"`
		Token    string                  `json:"token,omitempty"`
		Mapbox   mapconfig.MapboxConfig  `json:"mapbox"`
		MBTiles  mapconfig.MBTilesConfig `json:"mbtiles"`
	}{
		Provider: state.Provider.String(),
		Mapbox:   h.MapConfig.Mapbox,
		MBTiles:  h.MapConfig.MBTiles,
	}
	if state.Provider == basemap.ProviderHybrid {
		resp.Token = state.ActiveToken
	}
	h.respondJSON(w, resp)
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// newBatchID returns a short hex tag for correlating log lines of one
// upload batch.
func newBatchID() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "batch"
	}
	return fmt.Sprintf("%x", b)
}
