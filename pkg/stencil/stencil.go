// Package stencil defines the 13-direction finite-difference stencil used by the
// missing-data Laplacian and the spacing-dependent factors that make it correct on
// anisotropic voxel grids.
package stencil

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"laplacesmooth/internal/models"
)

// NumDirections is the number of unique directions of 26-neighbour 3D connectivity:
// 6 face, 12 edge and 8 corner neighbours, halved by the ± symmetry.
const NumDirections = 13

// ErrDegenerateSpacing is returned when a voxel spacing component is zero, negative or not finite
var ErrDegenerateSpacing = errors.New("degenerate voxel spacing")

// Direction is one half of a ± pair of stencil neighbours
type Direction struct {
	// Offset is the voxel displacement (dx, dy, dz)
	Offset [3]int

	// Unit is the physical direction of the offset, normalized
	Unit r3.Vec

	// Length is the offset length in voxel-index units (1, √2 or √3)
	Length float64

	// Distance is the physical length of the offset in mm
	Distance float64

	// Factor is 1/Distance², the weight of this direction in the Laplacian
	Factor float64
}

// Set is the immutable table of stencil directions for one voxel spacing
type Set struct {
	directions [NumDirections]Direction
	spacing    models.Spacing
}

// offsets lists the lexicographically positive half of the 26-neighbourhood,
// ordered face, edge, corner. Positive means the first non-zero component in
// (dz, dy, dx) order is +1, so every offset points "forward" in raster order.
var offsets = [NumDirections][3]int{
	{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
	{1, 1, 0}, {-1, 1, 0}, {1, 0, 1}, {-1, 0, 1}, {0, 1, 1}, {0, -1, 1},
	{1, 1, 1}, {-1, 1, 1}, {1, -1, 1}, {-1, -1, 1},
}

// InitializeFactors builds the direction table for the given voxel spacing
func InitializeFactors(spacing models.Spacing) (Set, error) {
	for _, s := range []float64{spacing.X, spacing.Y, spacing.Z} {
		if !(s > 0) || math.IsInf(s, 0) {
			return Set{}, fmt.Errorf("%w: %gx%gx%g", ErrDegenerateSpacing, spacing.X, spacing.Y, spacing.Z)
		}
	}

	set := Set{spacing: spacing}
	for k, o := range offsets {
		index := r3.Vec{X: float64(o[0]), Y: float64(o[1]), Z: float64(o[2])}
		physical := r3.Vec{X: index.X * spacing.X, Y: index.Y * spacing.Y, Z: index.Z * spacing.Z}
		dist := r3.Norm(physical)
		set.directions[k] = Direction{
			Offset:   o,
			Unit:     r3.Unit(physical),
			Length:   r3.Norm(index),
			Distance: dist,
			Factor:   1 / (dist * dist),
		}
	}
	return set, nil
}

// Directions returns a copy of the direction table
func (s Set) Directions() [NumDirections]Direction {
	return s.directions
}

// Direction returns direction k
func (s Set) Direction(k int) Direction {
	return s.directions[k]
}

// Spacing returns the voxel spacing the factors were computed for
func (s Set) Spacing() models.Spacing {
	return s.spacing
}

// Factors returns the 13 direction factors
func (s Set) Factors() []float64 {
	f := make([]float64, NumDirections)
	for k, d := range s.directions {
		f[k] = d.Factor
	}
	return f
}

// SumFactors returns the sum of the 13 direction factors
func (s Set) SumFactors() float64 {
	return floats.Sum(s.Factors())
}

// MaxStableAlpha is the largest explicit step size for which the relaxation
// update cannot diverge: 1 / (2 × sum of factors). At this value a fully
// released voxel is replaced by the factor-weighted mean of its 26 neighbours.
func (s Set) MaxStableAlpha() float64 {
	return 1 / (2 * s.SumFactors())
}

// IndexOffsets returns the flat-index delta of each direction on a grid with the
// given width and height (index z*width*height + y*width + x)
func (s Set) IndexOffsets(width, height int) [NumDirections]int {
	var out [NumDirections]int
	for k, d := range s.directions {
		out[k] = d.Offset[2]*width*height + d.Offset[1]*width + d.Offset[0]
	}
	return out
}
