// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"

	"github.com/openterra/efflux/internal/domain"
)

// RowSource defines the secondary port for paginated row retrieval from the
// remote datastore. A page returning fewer rows than limit terminates the
// sequence. Remote errors are surfaced unchanged; no retries happen here.
type RowSource interface {
	// Describe returns the resource's ordered field list.
	Describe(ctx context.Context, resourceID string) (domain.Schema, error)

	// Fetch returns one page of rows starting at offset, in source order,
	// with values aligned to the schema returned by Describe.
	Fetch(ctx context.Context, resourceID string, offset, limit int) ([]domain.Row, error)
}
