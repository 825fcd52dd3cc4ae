package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bosonci/internal/descriptor"
	"bosonci/internal/logger"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Warn("cannot encode response", "error", err)
		}
	}
}

func (s *Server) httpError(w http.ResponseWriter, message string, code int) {
	s.respondJSON(w, code, ErrorResponse{Error: message, Code: strconv.Itoa(code)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requestFormat picks the descriptor syntax from ?format=, then the
// Content-Type header, defaulting to YAML.
func requestFormat(r *http.Request) (descriptor.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return descriptor.ParseFormat(f)
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return descriptor.YAML, nil
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", err
	}
	switch mt {
	case "text/plain", "application/octet-stream":
		return descriptor.YAML, nil
	}
	return descriptor.ParseFormat(mt)
}

// handleSubmitRun handles POST /runs. The descriptor is parsed before the
// run is accepted, so malformed input is rejected with 400 and never
// reaches a container.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		s.httpError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDescriptorBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.httpError(w, "descriptor too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.httpError(w, "cannot read body", http.StatusBadRequest)
		return
	}

	jobs, err := descriptor.Parse(data, format, "request")
	if err != nil {
		s.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(jobs) > 1 {
		logger.FromContext(r.Context()).Warn("descriptor declares several jobs, running the first", "jobs", len(jobs))
	}

	view := s.start(jobs[0])
	w.Header().Set("Location", "/runs/"+view.ID)
	s.respondJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	views := make([]RunView, 0, len(s.order))
	for _, id := range s.order {
		views = append(views, s.runs[id].view())
	}
	s.mu.Unlock()
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		s.httpError(w, "run not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	view := run.view()
	s.mu.Unlock()
	s.respondJSON(w, http.StatusOK, view)
}

// handleRunLog handles GET /runs/{id}/log with the combined output of
// every session the run has opened so far.
func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		s.httpError(w, "run not found", http.StatusNotFound)
		return
	}
	s.mu.Lock()
	out := run.log()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out)
}

// handleCancelRun handles DELETE /runs/{id}. The run finishes as Aborted
// once its session is released.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		s.httpError(w, "run not found", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	finished := run.status == statusFinished
	view := run.view()
	s.mu.Unlock()
	if finished {
		s.httpError(w, "run already finished", http.StatusConflict)
		return
	}

	run.cancel()
	logger.FromContext(r.Context()).Info("run cancelled", "run_id", run.id)
	s.respondJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		s.httpError(w, "ledger disabled", http.StatusNotFound)
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		s.respondJSON(w, http.StatusConflict, map[string]any{
			"status": "corrupt",
			"error":  err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"blocks": s.ledger.Len(),
	})
}
