package writers

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	shp "github.com/jonas-p/go-shp"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
	"github.com/openterra/efflux/internal/stagefile"
)

// dbfTextWidth is the attribute width used for text columns. The DBF
// format caps character fields at 254 bytes.
const dbfTextWidth = 254

// ShapefileWriter streams the staged dataset into an ESRI shapefile. The
// .shp/.shx/.dbf components are packaged into a single zip archive together
// with a lookup document mapping truncated column names back to the
// originals.
type ShapefileWriter struct{}

// NewShapefileWriter creates the shapefile format writer.
func NewShapefileWriter() *ShapefileWriter {
	return &ShapefileWriter{}
}

// Format implements output.FormatWriter.
func (w *ShapefileWriter) Format() domain.Format {
	return domain.FormatSHP
}

// Write implements output.FormatWriter.
func (w *ShapefileWriter) Write(ctx context.Context, req output.WriteRequest) (domain.Artifact, error) {
	geomIdx := req.Schema.GeometryIndex()
	if geomIdx < 0 {
		return domain.Artifact{}, encodeErr(req.Spec, fmt.Errorf("resource has no geometry field"))
	}

	reader, err := stagefile.Open(req.StagedPath)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}
	defer reader.Close()

	first, err := reader.Next(req.ChunkSize)
	if err != nil && err != io.EOF {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}
	geomType := domain.GeomMultiPoint
	if len(first) > 0 {
		if g, ok := first[0][geomIdx].(domain.Geometry); ok {
			geomType = g.Type
		}
	}
	shapeType, err := shapeTypeFor(geomType)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	base := sanitizeName(req.Name)
	if req.Spec.TargetEPSG != 0 {
		base = fmt.Sprintf("%s - %d", base, req.Spec.TargetEPSG)
	}
	shpPath := filepath.Join(req.Dir, base+".shp")

	sw, err := shp.Create(shpPath, shapeType)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	// Attribute columns follow schema order, geometry excluded. attrs[i]
	// is the schema index backing DBF column i.
	fields := make([]shp.Field, 0, len(req.Schema)-1)
	attrs := make([]int, 0, len(req.Schema)-1)
	for i, f := range req.Schema {
		if f.IsGeometry() {
			continue
		}
		fields = append(fields, dbfField(req.Columns.Get(f.Name), f.Type))
		attrs = append(attrs, i)
	}
	if err := sw.SetFields(fields); err != nil {
		sw.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	var rows int64
	chunk := first
	for {
		for _, row := range chunk {
			g, err := reproject(ctx, req.Transform, row, geomIdx)
			if err != nil {
				sw.Close()
				return domain.Artifact{}, encodeErr(req.Spec, err)
			}
			shape, err := buildShape(g)
			if err != nil {
				sw.Close()
				return domain.Artifact{}, encodeErr(req.Spec, err)
			}
			idx := sw.Write(shape)
			for col, schemaIdx := range attrs {
				if err := sw.WriteAttribute(int(idx), col, dbfValue(req.Schema[schemaIdx].Type, row[schemaIdx])); err != nil {
					sw.Close()
					return domain.Artifact{}, encodeErr(req.Spec, err)
				}
			}
			rows++
		}

		chunk, err = reader.Next(req.ChunkSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			sw.Close()
			return domain.Artifact{}, encodeErr(req.Spec, err)
		}
	}
	sw.Close()

	// go-shp writes the DBF at the dot-less base name; move it next to
	// the other components before packaging.
	dbfPath := filepath.Join(req.Dir, base+".dbf")
	if err := os.Rename(filepath.Join(req.Dir, base+"dbf"), dbfPath); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	lookupPath := filepath.Join(req.Dir, base+" fields.csv")
	if err := writeColumnLookup(lookupPath, req.Columns); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	components := []string{
		shpPath,
		filepath.Join(req.Dir, base+".shx"),
		dbfPath,
		lookupPath,
	}
	path := artifactPath(req)
	digest, err := zipComponents(path, components)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}
	for _, c := range components {
		_ = os.Remove(c)
	}

	return domain.Artifact{Spec: req.Spec, Path: path, Digest: digest, Rows: rows}, nil
}

func shapeTypeFor(t domain.GeometryType) (shp.ShapeType, error) {
	switch t {
	case domain.GeomMultiPoint:
		return shp.MULTIPOINT, nil
	case domain.GeomMultiLineString:
		return shp.POLYLINE, nil
	case domain.GeomMultiPolygon:
		return shp.POLYGON, nil
	default:
		return shp.NULL, &domain.UnsupportedGeometryError{Type: string(t)}
	}
}

// buildShape converts a normalized multi-part geometry into its shapefile
// representation. Line parts and polygon rings both map onto shapefile
// parts.
func buildShape(g domain.Geometry) (shp.Shape, error) {
	switch g.Type {
	case domain.GeomMultiPoint:
		coords, ok := g.Coordinates.([]domain.Position)
		if !ok {
			return nil, malformedWKB(g.Type)
		}
		points := toPoints(coords)
		return &shp.MultiPoint{
			Box:       shp.BBoxFromPoints(points),
			NumPoints: int32(len(points)), //#nosec G115 -- bounded by chunk row size
			Points:    points,
		}, nil

	case domain.GeomMultiLineString:
		coords, ok := g.Coordinates.([][]domain.Position)
		if !ok {
			return nil, malformedWKB(g.Type)
		}
		parts := make([][]shp.Point, len(coords))
		for i, line := range coords {
			parts[i] = toPoints(line)
		}
		return shp.NewPolyLine(parts), nil

	case domain.GeomMultiPolygon:
		coords, ok := g.Coordinates.([][][]domain.Position)
		if !ok {
			return nil, malformedWKB(g.Type)
		}
		var parts [][]shp.Point
		for _, poly := range coords {
			for _, ring := range poly {
				parts = append(parts, toPoints(ring))
			}
		}
		polygon := shp.Polygon(*shp.NewPolyLine(parts))
		return &polygon, nil

	default:
		return nil, &domain.UnsupportedGeometryError{Type: string(g.Type)}
	}
}

func toPoints(coords []domain.Position) []shp.Point {
	points := make([]shp.Point, len(coords))
	for i, c := range coords {
		points[i] = shp.Point{X: c[0], Y: c[1]}
	}
	return points
}

func dbfField(name string, t domain.FieldType) shp.Field {
	switch t {
	case domain.FieldInt:
		return shp.NumberField(name, 18)
	case domain.FieldFloat:
		return shp.FloatField(name, 24, 8)
	default:
		return shp.StringField(name, dbfTextWidth)
	}
}

func dbfValue(t domain.FieldType, v any) any {
	if v == nil {
		return ""
	}
	if n, ok := v.(json.Number); ok {
		switch t {
		case domain.FieldInt:
			// go-shp only formats int attributes, not int64.
			if i, err := n.Int64(); err == nil && int64(int(i)) == i {
				return int(i)
			}
		case domain.FieldFloat:
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
		return n.String()
	}
	return formatValue(v)
}

// writeColumnLookup records the truncated-to-original column name mapping
// beside the shapefile so consumers can reverse the truncation.
func writeColumnLookup(path string, columns *domain.ColumnMap) error {
	f, err := os.Create(path) //#nosec G304 -- path is under the request scratch directory
	if err != nil {
		return err
	}

	enc := csv.NewWriter(f)
	if err := enc.Write([]string{"field", "name"}); err != nil {
		_ = f.Close()
		return err
	}
	for _, name := range columns.Names() {
		if err := enc.Write([]string{columns.Get(name), name}); err != nil {
			_ = f.Close()
			return err
		}
	}
	enc.Flush()
	if err := enc.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// zipComponents packages the shapefile components into one archive and
// returns the archive digest.
func zipComponents(path string, components []string) (string, error) {
	out, err := createArtifact(path)
	if err != nil {
		return "", err
	}

	zw := zip.NewWriter(out)
	for _, c := range components {
		f, err := os.Open(c) //#nosec G304 -- component paths are writer-generated
		if err != nil {
			_ = zw.Close()
			_ = out.Close()
			return "", err
		}
		entry, err := zw.Create(filepath.Base(c))
		if err != nil {
			_ = f.Close()
			_ = zw.Close()
			_ = out.Close()
			return "", err
		}
		if _, err := io.Copy(entry, f); err != nil {
			_ = f.Close()
			_ = zw.Close()
			_ = out.Close()
			return "", err
		}
		_ = f.Close()
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return "", err
	}

	digest := out.Digest()
	return digest, out.Close()
}
