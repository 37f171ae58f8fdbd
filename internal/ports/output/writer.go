package output

import (
	"context"

	"github.com/openterra/efflux/internal/domain"
)

// WriteRequest carries everything one format writer needs to produce one
// artifact from the staged dataset.
type WriteRequest struct {
	Spec       domain.OutputSpec // Requested (format, EPSG) combination
	Name       string            // Resource display name, used in artifact names
	Schema     domain.Schema     // Ordered field list of the staged dataset
	Columns    *domain.ColumnMap // Column name map for this format
	StagedPath string            // Path of the staged dataset
	Dir        string            // Request scratch directory for the artifact
	ChunkSize  int               // Rows per chunk; never more in memory
	Transform  Transform         // Reprojection, nil for tabular formats
}

// FormatWriter defines the secondary port for one output encoding. Writers
// consume the staged dataset in chunks and never hold more than one chunk's
// rows in memory. A failure aborts only this writer's artifact.
type FormatWriter interface {
	// Format returns the encoding this writer produces.
	Format() domain.Format

	// Write streams the staged dataset into one artifact and returns it.
	Write(ctx context.Context, req WriteRequest) (domain.Artifact, error)
}
