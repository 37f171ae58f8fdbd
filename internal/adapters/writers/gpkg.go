package writers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
	"github.com/openterra/efflux/internal/stagefile"
)

// GPKGWriter streams the staged dataset into a GeoPackage file: one
// feature table plus the metadata tables the GeoPackage standard requires.
// Geometry blobs are encoded directly; inserts run in one transaction per
// chunk.
type GPKGWriter struct{}

// NewGPKGWriter creates the GeoPackage format writer.
func NewGPKGWriter() *GPKGWriter {
	return &GPKGWriter{}
}

// Format implements output.FormatWriter.
func (w *GPKGWriter) Format() domain.Format {
	return domain.FormatGPKG
}

// Write implements output.FormatWriter.
func (w *GPKGWriter) Write(ctx context.Context, req output.WriteRequest) (domain.Artifact, error) {
	geomIdx := req.Schema.GeometryIndex()
	if geomIdx < 0 {
		return domain.Artifact{}, encodeErr(req.Spec, fmt.Errorf("resource has no geometry field"))
	}

	reader, err := stagefile.Open(req.StagedPath)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}
	defer reader.Close()

	// The declared geometry type of the layer comes from the first row;
	// normalization guarantees every later row shares it.
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

	path := artifactPath(req)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	srsID := int32(req.Spec.TargetEPSG) //#nosec G115 -- EPSG codes fit in int32
	if err := w.createPackage(ctx, db, req, geomType, srsID); err != nil {
		_ = db.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	stmt, err := db.PrepareContext(ctx, insertSQL(req))
	if err != nil {
		_ = db.Close()
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	var rows int64
	chunk := first
	for {
		if len(chunk) > 0 {
			n, err := w.insertChunk(ctx, db, stmt, req, chunk, geomIdx, srsID)
			if err != nil {
				_ = stmt.Close()
				_ = db.Close()
				return domain.Artifact{}, encodeErr(req.Spec, err)
			}
			rows += n
		}

		chunk, err = reader.Next(req.ChunkSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = stmt.Close()
			_ = db.Close()
			return domain.Artifact{}, encodeErr(req.Spec, err)
		}
	}

	_ = stmt.Close()
	if err := db.Close(); err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}

	digest, err := hashFile(path)
	if err != nil {
		return domain.Artifact{}, encodeErr(req.Spec, err)
	}
	return domain.Artifact{Spec: req.Spec, Path: path, Digest: digest, Rows: rows}, nil
}

// createPackage writes the GeoPackage metadata tables and the feature
// table itself.
func (w *GPKGWriter) createPackage(ctx context.Context, db *sql.DB, req output.WriteRequest, geomType domain.GeometryType, srsID int32) error {
	stmts := []string{
		"PRAGMA application_id = 0x47504B47",
		"PRAGMA user_version = 10300",
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}

	// The two undefined SRS entries are mandatory; the target SRS carries
	// its EPSG code so readers can resolve the definition themselves.
	srsInserts := [][]any{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
	}
	if srsID != 0 && srsID != -1 {
		srsInserts = append(srsInserts, []any{
			fmt.Sprintf("EPSG:%d", srsID), srsID, "EPSG", srsID, "undefined", nil,
		})
	}
	for _, args := range srsInserts {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys
			 (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			 VALUES (?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return err
		}
	}

	table := tableName(req.Name)
	cols := []string{quoteIdent(featureKeyName(req)) + " INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, f := range req.Schema {
		if f.IsGeometry() {
			cols = append(cols, quoteIdent(req.Columns.Get(f.Name))+" BLOB")
			continue
		}
		cols = append(cols, quoteIdent(req.Columns.Get(f.Name))+" "+sqliteType(f.Type))
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return err
	}

	geomCol := req.Columns.Get(req.Schema[req.Schema.GeometryIndex()].Name)
	if _, err := db.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
		table, table, srsID); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES (?, ?, ?, ?, 0, 0)`,
		table, geomCol, strings.ToUpper(string(geomType)), srsID)
	return err
}

func (w *GPKGWriter) insertChunk(ctx context.Context, db *sql.DB, stmt *sql.Stmt, req output.WriteRequest, chunk []domain.Row, geomIdx int, srsID int32) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	txStmt := tx.Stmt(stmt)

	var n int64
	args := make([]any, len(req.Schema))
	for _, row := range chunk {
		for i, v := range row {
			if i == geomIdx {
				g, err := reproject(ctx, req.Transform, row, geomIdx)
				if err != nil {
					_ = tx.Rollback()
					return 0, err
				}
				blob, err := gpkgGeometryBlob(g, srsID)
				if err != nil {
					_ = tx.Rollback()
					return 0, err
				}
				args[i] = blob
				continue
			}
			arg, err := sqliteValue(req.Schema[i].Type, v)
			if err != nil {
				_ = tx.Rollback()
				return 0, err
			}
			args[i] = arg
		}
		if _, err := txStmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		n++
	}
	return n, tx.Commit()
}

func insertSQL(req output.WriteRequest) string {
	cols := make([]string, len(req.Schema))
	marks := make([]string, len(req.Schema))
	for i, f := range req.Schema {
		cols[i] = quoteIdent(req.Columns.Get(f.Name))
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName(req.Name)), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// sqliteType maps a field type onto a SQLite column type.
func sqliteType(t domain.FieldType) string {
	switch t {
	case domain.FieldInt, domain.FieldBool:
		return "INTEGER"
	case domain.FieldFloat:
		return "REAL"
	case domain.FieldTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// sqliteValue converts a staged value into a driver-friendly one. Numbers
// arrive as json.Number and are narrowed by the declared field type.
func sqliteValue(t domain.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	switch t {
	case domain.FieldInt:
		return n.Int64()
	case domain.FieldFloat:
		return n.Float64()
	default:
		return n.String(), nil
	}
}

// featureKeyName picks the primary key column name, avoiding the dataset's
// own columns. "fid" follows the common GeoPackage convention.
func featureKeyName(req output.WriteRequest) string {
	name := "fid"
	for _, out := range req.Columns.OutputNames() {
		if out == name {
			return "fid_"
		}
	}
	return name
}

// tableName derives a layer name from the resource display name.
func tableName(name string) string {
	table := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	if table == "" {
		return "features"
	}
	return table
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
