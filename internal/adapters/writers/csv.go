package writers

import (
	"context"
	"encoding/csv"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// CSVWriter streams the staged dataset into an RFC 4180 file. Geometry
// values are written as GeoJSON text in their own column, reprojected when
// the request asks for it.
type CSVWriter struct{}

// NewCSVWriter creates the CSV format writer.
func NewCSVWriter() *CSVWriter {
	return &CSVWriter{}
}

// Format implements output.FormatWriter.
func (w *CSVWriter) Format() domain.Format {
	return domain.FormatCSV
}

// Write implements output.FormatWriter.
func (w *CSVWriter) Write(ctx context.Context, req output.WriteRequest) (domain.Artifact, error) {
	path := artifactPath(req)

	out, err := createArtifact(path)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	enc := csv.NewWriter(out)
	geomIdx := req.Schema.GeometryIndex()

	if err := enc.Write(req.Columns.OutputNames()); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	var rows int64
	record := make([]string, len(req.Schema))
	err = forEachChunk(ctx, req.StagedPath, req.ChunkSize, func(chunk []domain.Row) error {
		for _, row := range chunk {
			for i, v := range row {
				if i == geomIdx {
					g, err := reproject(ctx, req.Transform, row, geomIdx)
					if err != nil {
						return err
					}
					record[i] = formatValue(g)
					continue
				}
				record[i] = formatValue(v)
			}
			if err := enc.Write(record); err != nil {
				return err
			}
			rows++
		}
		enc.Flush()
		return enc.Error()
	})
	if err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	enc.Flush()
	if err := enc.Error(); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	digest := out.Digest()
	if err := out.Close(); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	return domain.Artifact{Spec: req.Spec, Path: path, Digest: digest, Rows: rows}, nil
}
