// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/openterra/efflux/internal/domain"
)

// Converter defines the primary port for resource-to-file conversion.
type Converter interface {
	// ToFile converts a datastore resource into the requested
	// (format, EPSG) combinations and returns the per-output report.
	// The caller is assumed to be authorized by the host.
	ToFile(ctx context.Context, req domain.ConvertRequest) (*domain.Report, error)

	// Prune deletes a path under the scratch root. Paths outside the
	// root are refused; absent paths are not an error.
	Prune(ctx context.Context, path string) error
}

// ConversionRegistry defines the primary port for inspecting recent
// conversions.
type ConversionRegistry interface {
	// ListConversions returns recent conversion reports, newest first.
	ListConversions(ctx context.Context) ([]domain.Report, error)

	// GetConversion returns one report by its scratch directory name.
	GetConversion(ctx context.Context, id string) (*domain.Report, error)
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy      bool              // Overall health status
	Ready        bool              // Ready to accept requests
	ScratchFiles int               // Files currently on the scratch root
	ScratchBytes int64             // Bytes currently on the scratch root
	Conversions  int               // Reports tracked in memory
	Components   map[string]string // Component statuses
}
