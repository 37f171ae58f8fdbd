package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/openterra/efflux/internal/application"
	"github.com/openterra/efflux/internal/domain"
)

// ConvertBody is the request body of POST /api/v1/convert.
type ConvertBody struct {
	ResourceID  string   `json:"resource_id"`
	SourceEPSG  int      `json:"source_epsg,omitempty"`
	TargetEPSGs []int    `json:"target_epsgs,omitempty"`
	Formats     []string `json:"target_formats"`
}

// PruneBody is the request body of POST /api/v1/prune.
type PruneBody struct {
	Path string `json:"path"`
}

// handleConvert runs one conversion request to completion and returns the
// report. Partial failures come back inside the report, not as an HTTP
// error.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var body ConvertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := domain.ConvertRequest{
		ResourceID:  body.ResourceID,
		SourceEPSG:  body.SourceEPSG,
		TargetEPSGs: body.TargetEPSGs,
	}
	for _, f := range body.Formats {
		format, err := domain.ParseFormat(f)
		if err != nil {
			s.handleConvertError(w, err)
			return
		}
		req.Formats = append(req.Formats, format)
	}

	report, err := s.converter.ToFile(r.Context(), req)
	if err != nil {
		s.handleConvertError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.formatReport(report))
}

// handlePrune deletes a path beneath the scratch root.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	var body PruneBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	if err := s.converter.Prune(r.Context(), body.Path); err != nil {
		if errors.Is(err, domain.ErrOutsideScratchRoot) {
			s.writeError(w, http.StatusBadRequest, "path is outside the scratch root")
			return
		}
		s.logger.Error("prune failed", "path", body.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Prune failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"pruned": body.Path})
}

// handleListConversions returns recent conversion reports.
func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	reports, err := s.registry.ListConversions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list conversions")
		return
	}

	response := make([]map[string]interface{}, len(reports))
	for i := range reports {
		response[i] = s.formatReport(&reports[i])
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversions": response,
		"count":       len(reports),
	})
}

// handleGetConversion returns one conversion report.
func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	conversionID := vars["conversionId"]

	report, err := s.registry.GetConversion(r.Context(), conversionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversion not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get conversion")
		return
	}

	s.writeJSON(w, http.StatusOK, s.formatReport(report))
}

// handleSweep triggers a retention sweep.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.retention.TriggerSweep(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sweep failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sweep failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":        boolToStatus(details.Healthy),
		"ready":         details.Ready,
		"scratch_files": details.ScratchFiles,
		"scratch_bytes": details.ScratchBytes,
		"conversions":   details.Conversions,
		"components":    details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// formatReport formats a conversion report for JSON output.
func (s *Server) formatReport(report *domain.Report) map[string]interface{} {
	artifacts := make([]map[string]interface{}, len(report.Artifacts))
	for i, a := range report.Artifacts {
		artifacts[i] = map[string]interface{}{
			"output": a.Spec.Key(),
			"format": a.Spec.Format,
			"path":   a.Path,
			"digest": a.Digest,
			"rows":   a.Rows,
		}
		if a.Spec.TargetEPSG != 0 {
			artifacts[i]["source_epsg"] = a.Spec.SourceEPSG
			artifacts[i]["target_epsg"] = a.Spec.TargetEPSG
		}
	}

	out := map[string]interface{}{
		"resource_id": report.ResourceID,
		"state":       report.State,
		"dir":         report.Dir,
		"staged_path": report.StagedPath,
		"row_count":   report.RowCount,
		"artifacts":   artifacts,
		"paths":       report.Paths(),
		"started_at":  report.StartedAt,
		"finished_at": report.FinishedAt,
	}
	if report.StagedDigest != "" {
		out["staged_digest"] = report.StagedDigest
	}
	if len(report.Failures) > 0 {
		failures := make([]map[string]interface{}, len(report.Failures))
		for i, f := range report.Failures {
			failures[i] = map[string]interface{}{
				"output": f.Spec.Key(),
				"error":  f.Error,
			}
		}
		out["failures"] = failures
	}
	return out
}

// handleConvertError maps conversion errors to HTTP statuses.
func (s *Server) handleConvertError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	var geomErr *domain.UnsupportedGeometryError
	if errors.As(err, &geomErr) {
		s.writeError(w, http.StatusBadRequest, geomErr.Error())
		return
	}

	if errors.Is(err, domain.ErrEmptyResource) {
		s.writeError(w, http.StatusBadRequest, "Resource has no rows")
		return
	}

	if errors.Is(err, domain.ErrInvalidInput) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if errors.Is(err, domain.ErrResourceNotFound) {
		s.writeError(w, http.StatusNotFound, "Resource not found")
		return
	}

	var remoteErr *domain.RemoteQueryError
	if errors.As(err, &remoteErr) {
		s.logger.Error("datastore error", "error", err)
		s.writeError(w, http.StatusBadGateway, "Datastore query failed")
		return
	}

	s.logger.Error("conversion error", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Conversion failed")
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
