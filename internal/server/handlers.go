package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/echoatlas/atlasmem/internal/engine"
	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/pkg/types"
)

type storeRequest struct {
	Region   string `json:"region"`
	Location string `json:"location"`
	Mode     string `json:"mode"`
	Context  string `json:"context"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Tone     string `json:"tone"`
	Gesture  string `json:"gesture"`
	Custom   string `json:"custom"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	it, err := s.engine.Store(r.Context(), engine.StoreRequest{
		Scope: types.Scope{
			Region:   req.Region,
			Location: req.Location,
			Mode:     req.Mode,
			Context:  req.Context,
		},
		Question: req.Question,
		Answer:   req.Answer,
		Tone:     req.Tone,
		Gesture:  req.Gesture,
		Custom:   req.Custom,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := scopeFromQuery(q.Get("region"), q.Get("location"), q.Get("mode"), q.Get("context"))

	topK := 0
	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}

	results, err := s.engine.Recall(r.Context(), scope, q.Get("q"), topK)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleDeleteScope(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := scopeFromQuery(q.Get("region"), q.Get("location"), q.Get("mode"), q.Get("context"))

	n, err := s.engine.DeleteScope(r.Context(), scope)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ClearAll(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleScheduleReset writes the deferred-reset marker. Records are wiped at
// the next process start, not now.
func (s *Server) handleScheduleReset(w http.ResponseWriter, r *http.Request) {
	if s.resets == nil {
		writeError(w, http.StatusNotImplemented, "factory reset not configured for this backend")
		return
	}
	if err := s.resets.Schedule(); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"scheduled": true,
		"applies":   "next process start",
	})
}

func (s *Server) handleResetStatus(w http.ResponseWriter, r *http.Request) {
	if s.resets == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"pending": false})
		return
	}
	pending, err := s.resets.Pending()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pending": pending})
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.engine.Regions(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if regions == nil {
		regions = []storage.RegionSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"regions": regions})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := s.engine.Profile(r.Context(), q.Get("region"), q.Get("location"), q.Get("context"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := struct {
		engine.Stats
		ResetPending bool `json:"reset_pending"`
	}{Stats: st}

	if s.resets != nil {
		if pending, err := s.resets.Pending(); err == nil {
			resp.ResetPending = pending
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func scopeFromQuery(region, location, mode, context string) types.Scope {
	return types.Scope{
		Region:   region,
		Location: location,
		Mode:     mode,
		Context:  context,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine/storage sentinel errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, storage.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
