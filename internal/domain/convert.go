package domain

import (
	"fmt"
	"time"
)

// ConvertState tracks a conversion request through its lifecycle.
type ConvertState string

// Conversion states.
const (
	StateIdle    ConvertState = "idle"
	StateDumping ConvertState = "dumping"
	StateWriting ConvertState = "writing"
	StateDone    ConvertState = "done"
	StateFailed  ConvertState = "failed"
)

// ConvertRequest describes one conversion of a datastore resource into a
// set of output files.
type ConvertRequest struct {
	ResourceID  string   `json:"resource_id"`
	SourceEPSG  int      `json:"source_epsg,omitempty"`
	TargetEPSGs []int    `json:"target_epsgs,omitempty"`
	Formats     []Format `json:"target_formats"`
}

// Validate checks the request against the resource's schema. Spatial
// parameters supplied for a non-spatial resource are a caller error, not a
// silent no-op.
func (r ConvertRequest) Validate(schema Schema) error {
	if r.ResourceID == "" {
		return &ValidationError{
			Field:      "resource_id",
			Value:      "",
			Constraint: "non-empty",
			Message:    "resource_id is required",
		}
	}
	if len(r.Formats) == 0 {
		return &ValidationError{
			Field:      "target_formats",
			Value:      r.Formats,
			Constraint: "at least one format",
			Message:    "target_formats is required",
		}
	}

	if schema.IsSpatial() {
		if r.SourceEPSG == 0 {
			return &ValidationError{
				Field:      "source_epsg",
				Value:      r.SourceEPSG,
				Constraint: "positive EPSG code",
				Message:    "source_epsg is required for spatial resources",
			}
		}
		if len(r.TargetEPSGs) == 0 {
			return &ValidationError{
				Field:      "target_epsgs",
				Value:      r.TargetEPSGs,
				Constraint: "at least one EPSG code",
				Message:    "target_epsgs is required for spatial resources",
			}
		}
		for _, f := range r.Formats {
			if f == FormatJSON || f == FormatXML {
				return &ValidationError{
					Field:      "target_formats",
					Value:      f,
					Constraint: "csv, geojson, gpkg or shp",
					Message:    "format not supported for spatial resources",
				}
			}
		}
		return nil
	}

	if r.SourceEPSG != 0 || len(r.TargetEPSGs) != 0 {
		return &ValidationError{
			Field:      "source_epsg",
			Value:      r.SourceEPSG,
			Constraint: "omitted for non-spatial resources",
			Message:    "EPSG parameters supplied but resource has no geometry field",
		}
	}
	for _, f := range r.Formats {
		if f.Spatial() {
			return &ValidationError{
				Field:      "target_formats",
				Value:      f,
				Constraint: "csv, json or xml",
				Message:    "spatial format requested but resource has no geometry field",
			}
		}
	}
	return nil
}

// Outputs expands the request into the set of (format, EPSG) combinations.
// Non-spatial requests expand over formats alone.
func (r ConvertRequest) Outputs(spatial bool) []OutputSpec {
	if !spatial {
		specs := make([]OutputSpec, 0, len(r.Formats))
		for _, f := range r.Formats {
			specs = append(specs, OutputSpec{Format: f})
		}
		return specs
	}

	specs := make([]OutputSpec, 0, len(r.Formats)*len(r.TargetEPSGs))
	for _, epsg := range r.TargetEPSGs {
		for _, f := range r.Formats {
			specs = append(specs, OutputSpec{
				Format:     f,
				SourceEPSG: r.SourceEPSG,
				TargetEPSG: epsg,
			})
		}
	}
	return specs
}

// OutputSpec identifies one requested output combination.
type OutputSpec struct {
	Format     Format `json:"format"`
	SourceEPSG int    `json:"source_epsg,omitempty"`
	TargetEPSG int    `json:"target_epsg,omitempty"`
}

// Key returns a stable identifier like "geojson-2952" or "csv".
func (s OutputSpec) Key() string {
	if s.TargetEPSG != 0 {
		return fmt.Sprintf("%s-%d", s.Format, s.TargetEPSG)
	}
	return string(s.Format)
}

// Artifact is one produced output file, owned by the scratch root until
// pruned.
type Artifact struct {
	Spec   OutputSpec `json:"spec"`
	Path   string     `json:"path"`
	Digest string     `json:"digest,omitempty"` // xxh3 of the file contents
	Rows   int64      `json:"rows"`
}

// OutputFailure records one writer's failure without aborting siblings.
type OutputFailure struct {
	Spec  OutputSpec `json:"spec"`
	Error string     `json:"error"`
}

// Report is the outcome of one conversion request: produced artifacts plus
// any per-combination failures.
type Report struct {
	ResourceID   string          `json:"resource_id"`
	Dir          string          `json:"dir"`
	StagedPath   string          `json:"staged_path"`
	StagedDigest string          `json:"staged_digest,omitempty"`
	RowCount     int64           `json:"row_count"`
	State        ConvertState    `json:"state"`
	Artifacts    []Artifact      `json:"artifacts"`
	Failures     []OutputFailure `json:"failures,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Paths returns the artifact paths in production order.
func (r *Report) Paths() []string {
	paths := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		paths[i] = a.Path
	}
	return paths
}
