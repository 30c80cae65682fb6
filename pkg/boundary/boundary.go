// Package boundary classifies voxels of a padded volume into observed, missing and
// interface voxels, and derives the graded blend weights used by the relaxation.
//
// All functions work on padded grids (see package padding). The domain slice marks
// the voxels that take part in the solve; it must never include halo voxels, which
// is what guarantees every neighbour index of a domain voxel is addressable.
package boundary

import (
	"math"

	"laplacesmooth/internal/models"
	"laplacesmooth/pkg/stencil"
)

// DefaultBandWidth is the half-width, in voxels, of the band over which weights
// fall from 1 to 0 across the valid/missing interface
const DefaultBandWidth = 2.0

// ValidThreshold separates observed from missing mask values
const ValidThreshold = 0.5

// IsValid reports whether a mask value marks an observed voxel
func IsValid(m float64) bool {
	return m >= ValidThreshold
}

// CalculateBoundary marks each domain voxel that disagrees on validity with at
// least one of its 26 in-domain neighbours
func CalculateBoundary(mask *models.Volume, domain []bool, set stencil.Set) *models.Volume {
	out := models.NewLike(mask)
	offsets := set.IndexOffsets(mask.Width, mask.Height)
	n := len(mask.Data)

	for i := 0; i < n; i++ {
		if !domain[i] {
			continue
		}
		valid := IsValid(mask.Data[i])
		for _, off := range offsets {
			if j := i + off; j < n && domain[j] && IsValid(mask.Data[j]) != valid {
				out.Data[i] = 1
				break
			}
			if j := i - off; j >= 0 && domain[j] && IsValid(mask.Data[j]) != valid {
				out.Data[i] = 1
				break
			}
		}
	}
	return out
}

// Distances computes, for every domain voxel, the chamfer distance (in voxel-index
// units) to the nearest missing voxel and to the nearest valid voxel. Distances are
// geodesic within the domain; unreachable voxels get +Inf.
func Distances(mask *models.Volume, domain []bool, set stencil.Set) (toMissing, toValid []float64) {
	n := len(mask.Data)
	toMissing = make([]float64, n)
	toValid = make([]float64, n)
	for i := 0; i < n; i++ {
		toMissing[i] = math.Inf(1)
		toValid[i] = math.Inf(1)
		if !domain[i] {
			continue
		}
		if IsValid(mask.Data[i]) {
			toValid[i] = 0
		} else {
			toMissing[i] = 0
		}
	}

	chamfer(toMissing, domain, set, mask.Width, mask.Height)
	chamfer(toValid, domain, set, mask.Width, mask.Height)
	return toMissing, toValid
}

// chamfer runs the two-pass raster distance transform. Every stencil offset
// points forward in raster order, so the forward pass relaxes against idx-off
// and the backward pass against idx+off.
func chamfer(dist []float64, domain []bool, set stencil.Set, width, height int) {
	offsets := set.IndexOffsets(width, height)
	dirs := set.Directions()
	n := len(dist)

	for i := 0; i < n; i++ {
		if !domain[i] {
			continue
		}
		for k, off := range offsets {
			if j := i - off; j >= 0 && domain[j] {
				if d := dist[j] + dirs[k].Length; d < dist[i] {
					dist[i] = d
				}
			}
		}
	}

	for i := n - 1; i >= 0; i-- {
		if !domain[i] {
			continue
		}
		for k, off := range offsets {
			if j := i + off; j < n && domain[j] {
				if d := dist[j] + dirs[k].Length; d < dist[i] {
					dist[i] = d
				}
			}
		}
	}
}

// CalculateBoundaryWeights derives the blend weight field:
//
//	w = clamp(0.5 + (dMissing - dValid) / (2·bandWidth), 0, 1)
//
// so observed voxels at least bandWidth away from missing data get 1, missing
// voxels at least bandWidth away from observed data get 0, and the value falls
// monotonically across the interface. Voxels outside the domain get 1.
func CalculateBoundaryWeights(mask *models.Volume, domain []bool, set stencil.Set, bandWidth float64) *models.Volume {
	if bandWidth <= 0 {
		bandWidth = DefaultBandWidth
	}
	toMissing, toValid := Distances(mask, domain, set)

	out := models.NewLike(mask)
	for i := range out.Data {
		if !domain[i] {
			out.Data[i] = 1
			continue
		}
		out.Data[i] = blend(toMissing[i], toValid[i], bandWidth)
	}
	return out
}

func blend(toMissing, toValid, bandWidth float64) float64 {
	switch {
	case math.IsInf(toMissing, 1):
		return 1
	case math.IsInf(toValid, 1):
		return 0
	}
	w := 0.5 + (toMissing-toValid)/(2*bandWidth)
	return math.Max(0, math.Min(1, w))
}
