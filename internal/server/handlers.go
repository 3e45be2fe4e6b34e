package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/dora"
	"deploymetrics/internal/ingest"
	"deploymetrics/internal/security"
)

const MaxPayloadBytes = 1_000_000 // 1 MB

// HandleStoreDeployment validates and stores a submitted deployment
func (s *Server) HandleStoreDeployment(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read payload"})
		return
	}

	if s.Options.IngestSecret != "" && !VerifySignature(body, r.Header.Get(SignatureHeader), s.Options.IngestSecret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	var req deployment.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid JSON payload: %v", err)})
		return
	}

	if req.DeploymentID != "" {
		if err := security.ValidateDeploymentID(req.DeploymentID); err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid deployment id: %v", err)})
			return
		}
	}
	if req.ApplicationID != "" {
		if err := security.ValidateApplicationID(req.ApplicationID); err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid application id: %v", err)})
			return
		}
	}

	s.store(w, r, req)
}

// HandleGitHubWebhook stores a GitHub push as a deployment of the
// application named in the path
func (s *Server) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := s.applicationID(w, r)
	if !ok {
		return
	}

	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	event, err := ingest.ParsePush(r, []byte(s.Options.WebhookSecret))
	if err != nil {
		s.respondIngestError(w, err, applicationID)
		return
	}

	req, err := ingest.PushRequest(event, applicationID, s.now())
	if err != nil {
		s.respondIngestError(w, err, applicationID)
		return
	}

	s.store(w, r, *req)
}

func (s *Server) respondIngestError(w http.ResponseWriter, err error, applicationID string) {
	switch {
	case errors.Is(err, ingest.ErrIgnoredEvent):
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring event"})
	case errors.Is(err, ingest.ErrInvalidSignature):
		s.Logger.Warn("Rejected webhook signature", "application_id", applicationID, "error", err)
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
	default:
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

func (s *Server) store(w http.ResponseWriter, r *http.Request, req deployment.Request) {
	saved, err := s.Service.Store(r.Context(), req)
	if err != nil {
		s.respondError(w, err, "deployment_id", req.DeploymentID)
		return
	}
	s.respondJSON(w, http.StatusCreated, saved)
}

// HandleListDeployments lists every stored deployment
func (s *Server) HandleListDeployments(w http.ResponseWriter, r *http.Request) {
	deploys, err := s.Service.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(deploys))
}

// HandleGetDeployment fetches a deployment by storage id
func (s *Server) HandleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.storageID(w, r)
	if !ok {
		return
	}

	d, err := s.Service.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err, "id", id)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// HandleDeleteDeployment removes a deployment by storage id
func (s *Server) HandleDeleteDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.storageID(w, r)
	if !ok {
		return
	}

	if err := s.Service.Delete(r.Context(), id); err != nil {
		s.respondError(w, err, "id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListForApplication lists the deployments of one application
func (s *Server) HandleListForApplication(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := s.applicationID(w, r)
	if !ok {
		return
	}

	deploys, err := s.Service.ListForApplication(r.Context(), applicationID)
	if err != nil {
		s.respondError(w, err, "application_id", applicationID)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(deploys))
}

// HandleListForApplicationOnDate lists one application's deployments created
// on a calendar day
func (s *Server) HandleListForApplicationOnDate(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := s.applicationID(w, r)
	if !ok {
		return
	}
	date, ok := s.reportingDate(w, r)
	if !ok {
		return
	}

	deploys, err := s.Service.ListForApplicationOnDate(r.Context(), applicationID, date)
	if err != nil {
		s.respondError(w, err, "application_id", applicationID)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(deploys))
}

// HandleListForHierarchy lists the deployments of an application and its
// descendants, newest first
func (s *Server) HandleListForHierarchy(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := s.applicationID(w, r)
	if !ok {
		return
	}

	deploys, err := s.Service.ListForHierarchy(r.Context(), applicationID)
	if err != nil {
		s.respondError(w, err, "application_id", applicationID)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(deploys))
}

// HandleDeployFreq computes deployment frequency. Without a date in the path
// the reporting date is yesterday (UTC).
func (s *Server) HandleDeployFreq(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := s.applicationID(w, r)
	if !ok {
		return
	}
	date, ok := s.reportingDate(w, r)
	if !ok {
		return
	}

	freq, err := s.Service.CalculateDeployFreq(r.Context(), applicationID, date)
	if err != nil {
		s.respondError(w, err, "application_id", applicationID)
		return
	}
	s.respondJSON(w, http.StatusOK, freq)
}

// HandleLeadTime computes lead time for changes. Without a date in the path
// the reporting date is yesterday (UTC).
func (s *Server) HandleLeadTime(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := s.applicationID(w, r)
	if !ok {
		return
	}
	date, ok := s.reportingDate(w, r)
	if !ok {
		return
	}

	lt, err := s.Service.CalculateLeadTime(r.Context(), applicationID, date)
	if err != nil {
		s.respondError(w, err, "application_id", applicationID)
		return
	}
	s.respondJSON(w, http.StatusOK, lt)
}

// HandleHealth reports liveness and storage reachability
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.Ping(r.Context()); err != nil {
		s.Logger.Error("Health check failed", "error", err)
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "storage unreachable",
		})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applicationID reads and validates the applicationId path parameter
func (s *Server) applicationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	applicationID := chi.URLParam(r, "applicationId")
	if err := security.ValidateApplicationID(applicationID); err != nil {
		s.Logger.Warn("Invalid application id in request", "application_id", applicationID, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid application id: %v", err)})
		return "", false
	}
	return applicationID, true
}

// storageID reads the id path parameter, which must be a UUID
func (s *Server) storageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid deployment id"})
		return "", false
	}
	return id, true
}

// reportingDate reads the optional date path parameter. A missing date
// yields the zero time, which the service treats as yesterday.
func (s *Server) reportingDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := chi.URLParam(r, "date")
	if raw == "" {
		return time.Time{}, true
	}

	date, err := dora.ParseReportingDate(raw)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid date '%s': expected YYYY-MM-DD", raw)})
		return time.Time{}, false
	}
	return date, true
}

// respondError maps service errors onto HTTP statuses
func (s *Server) respondError(w http.ResponseWriter, err error, logArgs ...any) {
	switch {
	case errors.Is(err, deployment.ErrInvalidDeployment):
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, deployment.ErrNotFound):
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Deployment not found"})
	case errors.Is(err, deployment.ErrDuplicateDeployment):
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Deployment already stored"})
	case errors.Is(err, deployment.ErrStoreInProgress):
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Deployment store already in progress"})
	case errors.Is(err, deployment.ErrHierarchy):
		s.Logger.Error("Hierarchy lookup failed", append(logArgs, "error", err)...)
		s.respondJSON(w, http.StatusBadGateway, map[string]string{"error": "Hierarchy lookup failed"})
	default:
		s.Logger.Error("Request failed", append(logArgs, "error", err)...)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

// nonNil keeps empty listings encoding as [] rather than null
func nonNil(deploys []deployment.Deployment) []deployment.Deployment {
	if deploys == nil {
		return []deployment.Deployment{}
	}
	return deploys
}
