package writers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// GeoJSONWriter streams the staged dataset into a FeatureCollection with a
// named CRS member carrying the target EPSG code. Features are emitted one
// by one; the collection is never assembled in memory.
type GeoJSONWriter struct{}

// NewGeoJSONWriter creates the GeoJSON format writer.
func NewGeoJSONWriter() *GeoJSONWriter {
	return &GeoJSONWriter{}
}

// Format implements output.FormatWriter.
func (w *GeoJSONWriter) Format() domain.Format {
	return domain.FormatGeoJSON
}

// Write implements output.FormatWriter.
func (w *GeoJSONWriter) Write(ctx context.Context, req output.WriteRequest) (domain.Artifact, error) {
	geomIdx := req.Schema.GeometryIndex()
	if geomIdx < 0 {
		return domain.Artifact{}, encodeErr(req.Spec, fmt.Errorf("resource has no geometry field"))
	}

	path := artifactPath(req)
	out, err := createArtifact(path)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	preamble := fmt.Sprintf(
		`{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::%d"}},"features":[`,
		req.Spec.TargetEPSG,
	)
	if _, err := out.WriteString(preamble + "\n"); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	names := req.Columns.OutputNames()
	var rows int64
	err = forEachChunk(ctx, req.StagedPath, req.ChunkSize, func(chunk []domain.Row) error {
		for _, row := range chunk {
			g, err := reproject(ctx, req.Transform, row, geomIdx)
			if err != nil {
				return err
			}
			if rows > 0 {
				if _, err := out.WriteString(",\n"); err != nil {
					return err
				}
			}
			if err := writeFeature(out, names, row, geomIdx, g); err != nil {
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

	if _, err := out.WriteString("\n]}\n"); err != nil {
		_ = out.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	digest := out.Digest()
	if err := out.Close(); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	return domain.Artifact{Spec: req.Spec, Path: path, Digest: digest, Rows: rows}, nil
}

func writeFeature(out *artifactFile, names []string, row domain.Row, geomIdx int, g domain.Geometry) error {
	geom, err := g.MarshalJSON()
	if err != nil {
		return err
	}

	if _, err := out.WriteString(`{"type":"Feature","geometry":`); err != nil {
		return err
	}
	if _, err := out.Write(geom); err != nil {
		return err
	}
	if _, err := out.WriteString(`,"properties":{`); err != nil {
		return err
	}

	first := true
	for i, name := range names {
		if i == geomIdx {
			continue
		}
		if !first {
			if _, err := out.WriteString(","); err != nil {
				return err
			}
		}
		first = false

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

	_, err = out.WriteString("}}")
	return err
}
