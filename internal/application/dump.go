package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
	"github.com/openterra/efflux/internal/stagefile"
)

// DumpStage pulls every page of a resource from the row source and writes
// the staged dataset. It is the only point of contact with the remote
// store per conversion; everything downstream reads the staged file. At
// most one page of rows is held in memory.
type DumpStage struct {
	source   output.RowSource
	metrics  output.MetricsCollector
	logger   *slog.Logger
	pageSize int
}

// NewDumpStage creates a dump stage reading pageSize rows per fetch.
func NewDumpStage(source output.RowSource, metrics output.MetricsCollector, logger *slog.Logger, pageSize int) *DumpStage {
	if pageSize <= 0 {
		pageSize = 20000
	}
	return &DumpStage{
		source:   source,
		metrics:  metrics,
		logger:   logger,
		pageSize: pageSize,
	}
}

// DumpResult describes one completed staged dataset.
type DumpResult struct {
	Rows   int64
	Digest string
}

// Describe returns the resource's ordered field list from the row source.
func (d *DumpStage) Describe(ctx context.Context, resourceID string) (domain.Schema, error) {
	return d.source.Describe(ctx, resourceID)
}

// Run stages a resource at path. Rows keep source query order; geometry
// values are normalized to their multi-part form before being written.
// Partial output on failure is left for the caller to prune.
func (d *DumpStage) Run(ctx context.Context, resourceID string, schema domain.Schema, path string) (*DumpResult, error) {
	w, err := stagefile.NewWriter(path, schema)
	if err != nil {
		return nil, err
	}
	geomIdx := schema.GeometryIndex()

	offset := 0
	for {
		rows, err := d.source.Fetch(ctx, resourceID, offset, d.pageSize)
		d.metrics.IncPageFetches(err == nil)
		if err != nil {
			_ = w.Close()
			return nil, err
		}

		if geomIdx >= 0 {
			for _, row := range rows {
				g, err := normalizeCell(row[geomIdx])
				if err != nil {
					_ = w.Close()
					return nil, err
				}
				row[geomIdx] = g
			}
		}

		if err := w.WriteRows(rows); err != nil {
			_ = w.Close()
			return nil, err
		}
		d.metrics.AddRowsDumped(len(rows))

		offset += len(rows)
		if len(rows) < d.pageSize {
			break
		}
	}

	result := &DumpResult{Rows: w.Rows(), Digest: w.Digest()}
	if err := w.Close(); err != nil {
		return nil, err
	}

	d.logger.Debug("resource staged",
		"resource", resourceID,
		"rows", result.Rows,
		"digest", result.Digest,
	)
	return result, nil
}

// normalizeCell parses whatever shape the source delivered the geometry in
// (GeoJSON text or an already-decoded object) and promotes it to its
// multi-part form.
func normalizeCell(v any) (domain.Geometry, error) {
	var g domain.Geometry
	switch t := v.(type) {
	case domain.Geometry:
		g = t
	case string:
		parsed, err := domain.ParseGeometry(t)
		if err != nil {
			return domain.Geometry{}, err
		}
		g = parsed
	case nil:
		return domain.Geometry{}, &domain.ValidationError{
			Field:      domain.GeometryFieldName,
			Value:      nil,
			Constraint: "non-null geometry",
			Message:    "row carries a null geometry value",
		}
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return domain.Geometry{}, fmt.Errorf("re-encoding geometry value: %w", err)
		}
		if err := json.Unmarshal(data, &g); err != nil {
			return domain.Geometry{}, err
		}
	}
	return domain.Normalize(g)
}
