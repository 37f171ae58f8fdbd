package output

import (
	"context"
	"errors"

	"github.com/openterra/efflux/internal/domain"
)

// GeometryTransformer defines the secondary port for coordinate
// reprojection. A Transform is constructed once per (source, target) pair
// and reused across every row of an output stream.
type GeometryTransformer interface {
	// BuildTransform prepares a reusable transform between two EPSG codes.
	// Equal codes yield an identity transform that never touches the
	// underlying engine.
	BuildTransform(sourceEPSG, targetEPSG int) (Transform, error)

	// Close releases the underlying engine.
	Close() error
}

// Transform reprojects geometries between the pair of coordinate reference
// systems it was built for.
type Transform interface {
	// Apply returns a geometry of identical type and nesting with
	// transformed coordinates.
	Apply(ctx context.Context, g domain.Geometry) (domain.Geometry, error)

	// Identity reports whether the transform is a no-op.
	Identity() bool
}

// ErrReprojectionUnavailable is returned when the spatial engine was
// disabled at startup but a reprojection was requested.
var ErrReprojectionUnavailable = errors.New("reprojection unavailable: spatial engine disabled")

// UnavailableTransformer refuses every reprojection request. It stands in
// for the spatial engine when the engine is disabled by configuration.
type UnavailableTransformer struct{}

// BuildTransform implements GeometryTransformer.
func (u *UnavailableTransformer) BuildTransform(_, _ int) (Transform, error) {
	return nil, ErrReprojectionUnavailable
}

// Close implements GeometryTransformer.
func (u *UnavailableTransformer) Close() error { return nil }
