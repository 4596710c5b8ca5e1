// Package handlers implements the HTTP API surface over the engine:
// publish, agent registration, ad-hoc queries, event reads, snapshots,
// and operational introspection.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/internal/engine"
	"github.com/contex-io/contex/internal/retention"
	"github.com/contex-io/contex/internal/snapshot"
	"github.com/contex-io/contex/pkg/contracts"
	"github.com/contex-io/contex/pkg/models"
)

// defaultEventPage bounds GET /events reads when count is unset.
const defaultEventPage = 100

// Handlers carries the dependencies of every endpoint.
type Handlers struct {
	engine    *engine.Engine
	janitor   *retention.Janitor
	snapshots contracts.SnapshotStore
	version   string
}

// New creates the handler set. janitor and snapshots may be nil; their
// endpoints then report the feature as unavailable.
func New(e *engine.Engine, j *retention.Janitor, snaps contracts.SnapshotStore, version string) *Handlers {
	return &Handlers{engine: e, janitor: j, snapshots: snaps, version: version}
}

// ── Publish ─────────────────────────────────────────────────

// PublishData handles POST /api/v1/data/publish.
func (h *Handlers) PublishData(w http.ResponseWriter, r *http.Request) {
	var req models.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := h.engine.PublishData(r.Context(), &req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Agents ──────────────────────────────────────────────────

// RegisterAgent handles POST /api/v1/agents/register.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var reg models.AgentRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := h.engine.RegisterAgent(r.Context(), &reg)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	reg := h.engine.Registry()
	ids := reg.List()
	agents := make([]*models.Subscription, 0, len(ids))
	for _, id := range ids {
		if sub := reg.Get(id); sub != nil {
			agents = append(agents, sub)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(agents),
		"agents": agents,
	})
}

// GetAgent handles GET /api/v1/agents/{agentID}.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	sub := h.engine.Registry().Get(agentID)
	if sub == nil {
		respondError(w, http.StatusNotFound, "agent not found: "+agentID)
		return
	}

	matched := make([]string, 0, len(sub.MatchedDataKeys))
	for key := range sub.MatchedDataKeys {
		matched = append(matched, key)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"agent":             sub,
		"matched_data_keys": matched,
	})
}

// UnregisterAgent handles DELETE /api/v1/agents/{agentID}.
func (h *Handlers) UnregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := h.engine.UnregisterAgent(agentID); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "unregistered",
		"agent_id": agentID,
	})
}

// ── Projects ────────────────────────────────────────────────

// Query handles POST /api/v1/projects/{projectID}/query.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := h.engine.Query(r.Context(), projectID, &req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Events handles GET /api/v1/projects/{projectID}/events?since=&count=.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	since := queryInt64(r, "since", 0)
	count := int(queryInt64(r, "count", defaultEventPage))

	events, err := h.engine.EventLog().Range(r.Context(), projectID, since, count)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	latest, err := h.engine.EventLog().Latest(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project_id":      projectID,
		"events":          events,
		"count":           len(events),
		"latest_sequence": latest,
	})
}

// DataKeys handles GET /api/v1/projects/{projectID}/data.
func (h *Handlers) DataKeys(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	keys, err := h.engine.VectorIndex().ListDataKeys(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"data_keys":  keys,
		"count":      len(keys),
	})
}

// ── Snapshots ───────────────────────────────────────────────

// CreateSnapshot handles POST /api/v1/projects/{projectID}/snapshots.
func (h *Handlers) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		respondError(w, http.StatusNotImplemented, "snapshot store not configured")
		return
	}
	projectID := chi.URLParam(r, "projectID")

	snap, err := snapshot.Build(r.Context(), h.engine.EventLog(), projectID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if err := h.snapshots.Save(r.Context(), snap); err != nil {
		respondEngineError(w, err)
		return
	}
	log.Info().Str("project", projectID).Int64("sequence", snap.Sequence).Msg("Snapshot created")
	respondJSON(w, http.StatusCreated, snap)
}

// ListSnapshots handles GET /api/v1/projects/{projectID}/snapshots.
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		respondError(w, http.StatusNotImplemented, "snapshot store not configured")
		return
	}
	projectID := chi.URLParam(r, "projectID")
	seqs, err := h.snapshots.List(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"sequences":  seqs,
	})
}

// LatestSnapshot handles GET /api/v1/projects/{projectID}/snapshots/latest.
func (h *Handlers) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		respondError(w, http.StatusNotImplemented, "snapshot store not configured")
		return
	}
	projectID := chi.URLParam(r, "projectID")
	snap, err := h.snapshots.Latest(r.Context(), projectID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ── Operations ──────────────────────────────────────────────

// RetentionStats handles GET /api/v1/retention/stats.
func (h *Handlers) RetentionStats(w http.ResponseWriter, r *http.Request) {
	if h.janitor == nil {
		respondError(w, http.StatusNotImplemented, "retention janitor not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"policy":     h.janitor.Policy(),
		"last_cycle": h.janitor.LastStats(),
	})
}

// BreakerStates handles GET /api/v1/webhooks/breakers.
func (h *Handlers) BreakerStates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"breakers": h.engine.BreakerStates(),
	})
}

// ── Responses ───────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Response encoding failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondEngineError maps sentinel error kinds to HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrBackpressure):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, models.ErrParse):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
