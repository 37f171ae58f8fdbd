package writers

import (
	"context"
	"encoding/json"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// JSONWriter streams the staged dataset into a JSON array of objects, one
// object per row with fields in declaration order. Only non-spatial
// resources are written as plain JSON; spatial data goes through the
// GeoJSON writer.
type JSONWriter struct{}

// NewJSONWriter creates the JSON format writer.
func NewJSONWriter() *JSONWriter {
	return &JSONWriter{}
}

// Format implements output.FormatWriter.
func (w *JSONWriter) Format() domain.Format {
	return domain.FormatJSON
}

// Write implements output.FormatWriter.
func (w *JSONWriter) Write(ctx context.Context, req output.WriteRequest) (domain.Artifact, error) {
	path := artifactPath(req)

	out, err := createArtifact(path)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	if _, err := out.WriteString("["); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	names := req.Columns.OutputNames()
	var rows int64
	err = forEachChunk(ctx, req.StagedPath, req.ChunkSize, func(chunk []domain.Row) error {
		for _, row := range chunk {
			if rows > 0 {
				if _, err := out.WriteString(",\n"); err != nil {
					return err
				}
			}
			if err := writeObject(out, names, row); err != nil {
				return err
			}
			rows++
		}
		return nil
	})
	if err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	if _, err := out.WriteString("]\n"); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	digest := out.Digest()
	if err := out.Close(); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	return domain.Artifact{Spec: req.Spec, Path: path, Digest: digest, Rows: rows}, nil
}

// writeObject encodes one row as a JSON object, preserving field order.
// encoding/json alone would not: Go maps iterate in random order.
func writeObject(out *artifactFile, names []string, row domain.Row) error {
	if _, err := out.WriteString("{"); err != nil {
		return err
	}
	for i, name := range names {
		if i > 0 {
			if _, err := out.WriteString(","); err != nil {
				return err
			}
		}
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		val, err := json.Marshal(row[i])
		if err != nil {
			return err
		}
		if _, err := out.Write(key); err != nil {
			return err
		}
		if _, err := out.WriteString(":"); err != nil {
			return err
		}
		if _, err := out.Write(val); err != nil {
			return err
		}
	}
	_, err := out.WriteString("}")
	return err
}
