package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dexsync/dexsync/internal/capture"
	"github.com/dexsync/dexsync/internal/httperr"
	"github.com/dexsync/dexsync/internal/pokeapi"
	dexsync "github.com/dexsync/dexsync/internal/sync"
)

// maxImportBytes caps the accepted collection import payload.
const maxImportBytes = 4 << 20

// DiagFunc returns a named diagnostic section for GET /api/client/diag.
// Sections that cannot be computed return an error and are reported as such
// instead of failing the whole response.
type DiagFunc func() (any, error)

// PokemonProvider serves one Pokémon entity, normally through the cache.
type PokemonProvider func(ctx context.Context, id int) (*pokeapi.Pokemon, error)

// FlavorProvider serves de-duplicated flavor text for one species.
type FlavorProvider func(ctx context.Context, id int, lang string) ([]string, error)

// Handler serves the client pull surface and the local collection endpoints.
type Handler struct {
	log        *capture.EventLog
	collection *capture.Collection
	clientID   string
	clientURL  string
	version    string

	diag    map[string]DiagFunc
	pokemon PokemonProvider
	flavor  FlavorProvider
}

// NewHandler creates the API handler. diag sections are optional.
func NewHandler(log *capture.EventLog, collection *capture.Collection, clientID, clientURL, version string) *Handler {
	return &Handler{
		log:        log,
		collection: collection,
		clientID:   clientID,
		clientURL:  clientURL,
		version:    version,
		diag:       make(map[string]DiagFunc),
	}
}

// RegisterDiag adds a named section to the diag aggregate.
func (h *Handler) RegisterDiag(name string, fn DiagFunc) {
	h.diag[name] = fn
}

// SetPokemonProvider enables the cached entity lookup endpoint.
func (h *Handler) SetPokemonProvider(fn PokemonProvider) { h.pokemon = fn }

// SetFlavorProvider enables the cached flavor text endpoint.
func (h *Handler) SetFlavorProvider(fn FlavorProvider) { h.flavor = fn }

// Health handles GET /api/client/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dexsync.HealthResponse{
		Status:    "healthy",
		ClientID:  h.clientID,
		ClientURL: h.clientURL,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// SyncData handles GET /api/client/sync-data. The optional since parameter
// is RFC 3339; an unparseable value is a client error, not an empty filter.
func (h *Handler) SyncData(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	pending, err := h.log.Pending(r.Context(), since)
	if err != nil {
		slog.Error("pending read failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read pending captures")
		return
	}

	lastSync, err := h.log.LastSync(r.Context())
	if err != nil {
		slog.Error("last sync read failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read sync state")
		return
	}

	if pending == nil {
		pending = []dexsync.CaptureEvent{}
	}
	writeJSON(w, http.StatusOK, dexsync.ExposurePayload{
		UserID:       h.clientID,
		ClientURL:    h.clientURL,
		Captures:     pending,
		LastSync:     lastSync,
		TotalPending: len(pending),
	})
}

// Acknowledge handles POST /api/client/acknowledge. Unknown ids are ignored
// and repeats are safe; the reported count is the submitted count.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req dexsync.AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.CaptureIDs == nil {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "capture_ids is required")
		return
	}

	if _, err := h.log.Acknowledge(r.Context(), req.CaptureIDs); err != nil {
		slog.Error("acknowledge failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to acknowledge captures")
		return
	}

	writeJSON(w, http.StatusOK, dexsync.AcknowledgeResponse{
		Message: "Captures marked as synced",
		Count:   len(req.CaptureIDs),
	})
}

// Stats handles GET /api/client/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.log.Stats(r.Context())
	if err != nil {
		slog.Error("stats read failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read capture stats")
		return
	}

	lastSync, err := h.log.LastSync(r.Context())
	if err != nil {
		slog.Error("last sync read failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to read sync state")
		return
	}

	writeJSON(w, http.StatusOK, dexsync.StatsResponse{
		TotalCaptures:  stats.Total,
		PendingSync:    stats.Pending,
		SyncedCaptures: stats.Synced,
		LastSync:       lastSync,
		ClientID:       h.clientID,
	})
}

// Diag handles GET /api/client/diag, aggregating the registered sections.
func (h *Handler) Diag(w http.ResponseWriter, r *http.Request) {
	sections := make(map[string]any, len(h.diag)+1)
	sections["timestamp"] = time.Now().UTC()
	for name, fn := range h.diag {
		v, err := fn()
		if err != nil {
			sections[name] = map[string]string{"error": err.Error()}
			continue
		}
		sections[name] = v
	}
	writeJSON(w, http.StatusOK, sections)
}

type toggleRequest struct {
	PokemonID   int    `json:"pokemon_id"`
	PokemonName string `json:"pokemon_name"`
	Removed     bool   `json:"removed"`
}

func decodeToggle(w http.ResponseWriter, r *http.Request) (*toggleRequest, bool) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	if req.PokemonID <= 0 {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "pokemon_id must be a positive integer")
		return nil, false
	}
	if req.PokemonName == "" {
		WriteProblem(w, r, http.StatusUnprocessableEntity, "pokemon_name is required")
		return nil, false
	}
	return &req, true
}

// ToggleCapture handles POST /api/client/captures/toggle
func (h *Handler) ToggleCapture(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeToggle(w, r)
	if !ok {
		return
	}

	captured := h.collection.Toggle(r.Context(), req.PokemonID, req.PokemonName)
	writeJSON(w, http.StatusOK, map[string]any{
		"pokemon_id": req.PokemonID,
		"captured":   captured,
		"count":      h.collection.Count(),
	})
}

// Favorite handles POST /api/client/favorites
func (h *Handler) Favorite(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeToggle(w, r)
	if !ok {
		return
	}

	if err := h.collection.Favorite(r.Context(), req.PokemonID, req.PokemonName, req.Removed); err != nil {
		slog.Error("favorite failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to record favorite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCaptures handles GET /api/client/captures
func (h *Handler) ListCaptures(w http.ResponseWriter, r *http.Request) {
	items := h.collection.Items()
	writeJSON(w, http.StatusOK, map[string]any{
		"captures": items,
		"count":    len(items),
	})
}

// IsCaptured handles GET /api/client/captures/{pokemonID}
func (h *Handler) IsCaptured(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "pokemonID"))
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "pokemonID must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pokemon_id": id,
		"captured":   h.collection.IsCaptured(id),
	})
}

// ExportCaptures handles GET /api/client/captures/export
func (h *Handler) ExportCaptures(w http.ResponseWriter, r *http.Request) {
	data, err := h.collection.Export()
	if err != nil {
		slog.Error("export failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to export captures")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="captures.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportCaptures handles POST /api/client/captures/import. The payload is
// validated in full before anything is committed.
func (h *Handler) ImportCaptures(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(data) > maxImportBytes {
		WriteProblem(w, r, http.StatusBadRequest, "Import payload too large")
		return
	}

	if err := h.collection.Import(r.Context(), data); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Collection imported",
		"count":   h.collection.Count(),
	})
}

// GetPokemon handles GET /api/client/pokemon/{pokemonID}
func (h *Handler) GetPokemon(w http.ResponseWriter, r *http.Request) {
	if h.pokemon == nil {
		WriteProblem(w, r, http.StatusNotFound, "Entity lookups are not enabled")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "pokemonID"))
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "pokemonID must be a positive integer")
		return
	}

	p, err := h.pokemon(r.Context(), id)
	if err != nil {
		writeUpstreamProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetFlavor handles GET /api/client/pokemon/{pokemonID}/flavor?lang=
func (h *Handler) GetFlavor(w http.ResponseWriter, r *http.Request) {
	if h.flavor == nil {
		WriteProblem(w, r, http.StatusNotFound, "Flavor lookups are not enabled")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(r, "pokemonID"))
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "pokemonID must be a positive integer")
		return
	}
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = "en"
	}

	texts, err := h.flavor(r.Context(), id, lang)
	if err != nil {
		writeUpstreamProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pokemon_id": id,
		"language":   lang,
		"flavor":     texts,
	})
}

// writeUpstreamProblem maps classified upstream failures onto the served
// surface: unreachable or slow upstreams are a 503 here, bad upstream data
// a 502.
func writeUpstreamProblem(w http.ResponseWriter, r *http.Request, err error) {
	slog.Warn("upstream lookup failed", "component", "api", "error", err)
	switch httperr.KindOf(err) {
	case httperr.KindTimeout, httperr.KindNetworkUnreachable, httperr.KindServerError:
		WriteProblem(w, r, http.StatusServiceUnavailable, "Upstream data source unavailable")
	default:
		WriteProblem(w, r, http.StatusBadGateway, "Upstream data source returned an unusable response")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
