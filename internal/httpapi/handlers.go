package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/subcog/subcog/internal/capture"
	"github.com/subcog/subcog/internal/errs"
	"github.com/subcog/subcog/internal/models"
)

// captureRequest is the wire shape for POST /api/v1/capture.
type captureRequest struct {
	Content           string   `json:"content"`
	Namespace         string   `json:"namespace"`
	Domain            string   `json:"domain"`
	Tags              []string `json:"tags"`
	Source            string   `json:"source"`
	SkipSecurityCheck bool     `json:"skip_security_check"`
	TTLSeconds        int      `json:"ttl_seconds"`
	UserID            string   `json:"user_id"`
	AgentID           string   `json:"agent_id"`
	GroupID           string   `json:"group_id"`
	Project           string   `json:"project"`
	Branch            string   `json:"branch"`
	File              string   `json:"file"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scoped, err := s.resolve(r.Context(), r)
	if err != nil {
		s.respondErrorForErr(w, err)
		return
	}

	auth := authFromRequest(r)
	result, err := scoped.capture.Capture(r.Context(), auth, capture.Request{
		Content:           req.Content,
		Namespace:         models.Namespace(req.Namespace),
		Domain:            models.Domain(req.Domain),
		Tags:              req.Tags,
		Source:            req.Source,
		SkipSecurityCheck: req.SkipSecurityCheck,
		TTLSeconds:        req.TTLSeconds,
		UserID:            req.UserID,
		AgentID:           req.AgentID,
		GroupID:           req.GroupID,
		Project:           req.Project,
		Branch:            req.Branch,
		File:              req.File,
	})
	if err != nil {
		s.logger.Error("capture failed", zap.Error(err))
		s.respondErrorForErr(w, err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	s.respondJSON(w, status, result)
}

// recallRequest is the wire shape for POST /api/v1/recall.
type recallRequest struct {
	Query  string        `json:"query"`
	Mode   string        `json:"mode"`
	Filter models.Filter `json:"filter"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	Detail string        `json:"detail"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scoped, err := s.resolve(r.Context(), r)
	if err != nil {
		s.respondErrorForErr(w, err)
		return
	}

	auth := authFromRequest(r)
	result, err := scoped.recall.Search(r.Context(), auth, models.SearchQuery{
		Query:  req.Query,
		Mode:   models.SearchMode(req.Mode),
		Filter: req.Filter,
		Limit:  req.Limit,
		Offset: req.Offset,
		Detail: models.DetailLevel(req.Detail),
	})
	if err != nil {
		s.logger.Error("recall failed", zap.Error(err))
		s.respondErrorForErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErrorForErr maps a typed errs.Error's Kind to an HTTP status;
// anything else (a bug, not a modeled failure) is a 500.
func (s *Server) respondErrorForErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.Is(err, errs.InvalidInput):
		status = http.StatusBadRequest
	case errs.Is(err, errs.Unauthorized):
		status = http.StatusForbidden
	case errs.Is(err, errs.NotFound):
		status = http.StatusNotFound
	case errs.Is(err, errs.Conflict):
		status = http.StatusConflict
	case errs.Is(err, errs.SecretsDetected):
		status = http.StatusUnprocessableEntity
	case errs.Is(err, errs.Timeout):
		status = http.StatusGatewayTimeout
	case errs.Is(err, errs.Configuration):
		status = http.StatusServiceUnavailable
	case errs.Is(err, errs.FeatureNotEnabled):
		status = http.StatusNotImplemented
	}
	s.respondError(w, status, err.Error())
}
