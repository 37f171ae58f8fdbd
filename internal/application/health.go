package application

import (
	"context"

	"github.com/openterra/efflux/internal/ports/input"
	"github.com/openterra/efflux/internal/ports/output"
)

// HealthService provides health check functionality.
type HealthService struct {
	workspace output.Workspace
	registry  *ReportRegistry
}

// NewHealthService creates a new health service.
func NewHealthService(workspace output.Workspace, registry *ReportRegistry) *HealthService {
	return &HealthService{
		workspace: workspace,
		registry:  registry,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true if the service is ready to accept requests. The
// scratch root must be reachable; without it no conversion can stage.
func (s *HealthService) IsReady(_ context.Context) bool {
	_, _, err := s.workspace.Usage()
	return err == nil
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"scratch": "ok",
	}

	files, bytes, err := s.workspace.Usage()
	if err != nil {
		components["scratch"] = err.Error()
	}

	return input.HealthDetails{
		Healthy:      s.IsHealthy(ctx),
		Ready:        err == nil,
		ScratchFiles: files,
		ScratchBytes: bytes,
		Conversions:  s.registry.Count(),
		Components:   components,
	}
}
