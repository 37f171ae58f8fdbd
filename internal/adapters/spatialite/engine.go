// Package spatialite implements the reprojection engine on top of an
// in-memory SpatiaLite database.
package spatialite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/openterra/efflux/internal/domain"
	"github.com/openterra/efflux/internal/ports/output"
)

// Ensure sqlite3 driver is registered with extension support.
func init() {
	sql.Register("sqlite3_with_spatialite", &sqlite3.SQLiteDriver{
		Extensions: spatialiteLibraryPaths(),
	})
}

// spatialiteLibraryPaths returns a list of paths to try for loading
// SpatiaLite. The order is important: environment variable first, then
// platform-specific paths.
func spatialiteLibraryPaths() []string {
	if envPath := os.Getenv("SPATIALITE_LIBRARY_PATH"); envPath != "" {
		return []string{envPath}
	}

	return []string{
		// Alpine Linux (Docker containers)
		"/usr/lib/mod_spatialite.so",
		"/usr/lib/mod_spatialite.so.8",

		// Debian/Ubuntu amd64
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so",
		"/usr/lib/x86_64-linux-gnu/mod_spatialite.so.8",

		// Debian/Ubuntu arm64
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so",
		"/usr/lib/aarch64-linux-gnu/mod_spatialite.so.8",

		// macOS Homebrew (Intel and Apple Silicon)
		"/usr/local/lib/mod_spatialite.dylib",
		"/opt/homebrew/lib/mod_spatialite.dylib",

		// Generic names (let the system find them via LD_LIBRARY_PATH)
		"mod_spatialite.so",
		"mod_spatialite",
		"mod_spatialite.dylib",
	}
}

// Engine implements output.GeometryTransformer using an in-memory
// SpatiaLite database. InitSpatialMetaDataFull populates spatial_ref_sys
// with the standard EPSG definitions required by Transform.
type Engine struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[pair]*transform
}

type pair struct {
	source int
	target int
}

// NewEngine opens the in-memory transform database.
func NewEngine(ctx context.Context) (*Engine, error) {
	db, err := sql.Open("sqlite3_with_spatialite", ":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT spatialite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SpatiaLite extension not available: %w", err)
	}

	if _, err := db.ExecContext(ctx, "SELECT InitSpatialMetaDataFull(1)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing spatial metadata: %w", err)
	}

	return &Engine{
		db:    db,
		cache: make(map[pair]*transform),
	}, nil
}

// BuildTransform prepares (or reuses) a transform between two EPSG codes.
func (e *Engine) BuildTransform(sourceEPSG, targetEPSG int) (output.Transform, error) {
	if sourceEPSG == targetEPSG {
		return identity{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := pair{source: sourceEPSG, target: targetEPSG}
	if t, ok := e.cache[key]; ok {
		return t, nil
	}

	if supported, err := e.supported(sourceEPSG, targetEPSG); err != nil {
		return nil, err
	} else if !supported {
		return nil, &domain.ValidationError{
			Field:      "target_epsgs",
			Value:      targetEPSG,
			Constraint: "EPSG code present in spatial_ref_sys",
			Message:    fmt.Sprintf("no transform from EPSG:%d to EPSG:%d", sourceEPSG, targetEPSG),
		}
	}

	stmt, err := e.db.Prepare(
		"SELECT AsGeoJSON(Transform(SetSRID(GeomFromGeoJSON(?), ?), ?))",
	)
	if err != nil {
		return nil, fmt.Errorf("preparing transform: %w", err)
	}

	t := &transform{source: sourceEPSG, target: targetEPSG, stmt: stmt}
	e.cache[key] = t
	return t, nil
}

// supported checks that both SRIDs exist in spatial_ref_sys.
func (e *Engine) supported(sourceEPSG, targetEPSG int) (bool, error) {
	const query = `SELECT COUNT(DISTINCT srid) FROM spatial_ref_sys WHERE srid IN (?, ?)`
	var count int
	if err := e.db.QueryRow(query, sourceEPSG, targetEPSG).Scan(&count); err != nil {
		return false, err
	}
	if sourceEPSG == targetEPSG {
		return count == 1, nil
	}
	return count == 2, nil
}

// Close releases prepared transforms and the database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, t := range e.cache {
		_ = t.stmt.Close()
	}
	e.cache = map[pair]*transform{}
	return e.db.Close()
}

// transform reprojects geometries through the prepared SpatiaLite statement.
type transform struct {
	source int
	target int
	stmt   *sql.Stmt
}

// Apply reprojects one geometry, preserving its type and nesting.
func (t *transform) Apply(ctx context.Context, g domain.Geometry) (domain.Geometry, error) {
	in, err := g.MarshalJSON()
	if err != nil {
		return domain.Geometry{}, err
	}

	var out sql.NullString
	err = t.stmt.QueryRowContext(ctx, string(in), t.source, t.target).Scan(&out)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("transforming geometry: %w", err)
	}
	if !out.Valid {
		return domain.Geometry{}, fmt.Errorf("transform EPSG:%d->EPSG:%d returned no geometry", t.source, t.target)
	}

	return domain.ParseGeometry(out.String)
}

// Identity implements output.Transform.
func (t *transform) Identity() bool { return false }

// identity passes geometries through untouched when source and target
// EPSG codes match.
type identity struct{}

// Apply implements output.Transform.
func (identity) Apply(_ context.Context, g domain.Geometry) (domain.Geometry, error) {
	return g, nil
}

// Identity implements output.Transform.
func (identity) Identity() bool { return true }
