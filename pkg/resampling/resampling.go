// Package resampling provides the blurring and grid changes used by the
// coarse-to-fine solver: masked Gaussian smoothing, voxel-centre aligned
// down- and upsampling, and trilinear resampling onto another grid.
package resampling

import (
	"math"

	"laplacesmooth/internal/models"
)

// GaussianKernel returns a normalized 1D Gaussian kernel truncated at 3σ.
// A non-positive sigma yields the identity kernel.
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// BlurWithPadding smooths v using only voxels marked valid in mask
// (normalized convolution). It returns the blurred field and the local fraction
// of valid voxels under the kernel. Where no valid voxel is in reach the field is 0.
// A nil mask treats every voxel as valid.
func BlurWithPadding(v, mask *models.Volume, sigma float64) (field, weight *models.Volume) {
	kernel := GaussianKernel(sigma)

	valid := make([]float64, len(v.Data))
	masked := make([]float64, len(v.Data))
	ones := make([]float64, len(v.Data))
	for i, x := range v.Data {
		ones[i] = 1
		if mask == nil || mask.Data[i] >= 0.5 {
			valid[i] = 1
			masked[i] = x
		}
	}

	num := convolve3D(masked, v.Width, v.Height, v.Depth, kernel)
	den := convolve3D(valid, v.Width, v.Height, v.Depth, kernel)
	norm := convolve3D(ones, v.Width, v.Height, v.Depth, kernel)

	field = models.NewLike(v)
	weight = models.NewLike(v)
	for i := range field.Data {
		if den[i] > 1e-12 {
			field.Data[i] = num[i] / den[i]
		}
		weight.Data[i] = math.Min(1, den[i]/norm[i])
	}
	return field, weight
}

// Blur smooths v with a Gaussian of the given sigma in voxels, renormalizing the
// kernel where it is truncated by the volume edge
func Blur(v *models.Volume, sigma float64) *models.Volume {
	field, _ := BlurWithPadding(v, nil, sigma)
	return field
}

// convolve3D applies a separable kernel along x, y and z, truncating at the edges
func convolve3D(data []float64, width, height, depth int, kernel []float64) []float64 {
	if len(kernel) == 1 {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}
	strides := [3]int{1, width, width * height}
	extents := [3]int{width, height, depth}
	cur := data
	for axis := 0; axis < 3; axis++ {
		cur = convolveAxis(cur, width, height, depth, kernel, strides[axis], extents[axis], axis)
	}
	return cur
}

func convolveAxis(data []float64, width, height, depth int, kernel []float64, stride, extent, axis int) []float64 {
	out := make([]float64, len(data))
	radius := len(kernel) / 2
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := z*width*height + y*width + x
				pos := [3]int{x, y, z}[axis]
				sum := 0.0
				for k := -radius; k <= radius; k++ {
					p := pos + k
					if p < 0 || p >= extent {
						continue
					}
					sum += kernel[k+radius] * data[i+k*stride]
				}
				out[i] = sum
			}
		}
	}
	return out
}

// SampleTrilinear interpolates v at a continuous voxel coordinate, clamping to the volume
func SampleTrilinear(v *models.Volume, x, y, z float64) float64 {
	x = clamp(x, 0, float64(v.Width-1))
	y = clamp(y, 0, float64(v.Height-1))
	z = clamp(z, 0, float64(v.Depth-1))

	x0, y0, z0 := int(x), int(y), int(z)
	x1, y1, z1 := min(x0+1, v.Width-1), min(y0+1, v.Height-1), min(z0+1, v.Depth-1)
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	c00 := v.At(x0, y0, z0)*(1-fx) + v.At(x1, y0, z0)*fx
	c10 := v.At(x0, y1, z0)*(1-fx) + v.At(x1, y1, z0)*fx
	c01 := v.At(x0, y0, z1)*(1-fx) + v.At(x1, y0, z1)*fx
	c11 := v.At(x0, y1, z1)*(1-fx) + v.At(x1, y1, z1)*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// CoarseExtent is the number of coarse voxels covering n fine voxels at the given factor
func CoarseExtent(n, factor int) int {
	return (n + factor - 1) / factor
}

// Downsample samples v on a grid coarser by factor along every axis. Coarse voxel
// c covers fine voxels [c·f, c·f+f) and is sampled at their centre, c·f + (f−1)/2.
func Downsample(v *models.Volume, factor int) *models.Volume {
	if factor <= 1 {
		return v.Clone()
	}
	f := float64(factor)
	shift := (f - 1) / 2
	out := &models.Volume{
		Width:       CoarseExtent(v.Width, factor),
		Height:      CoarseExtent(v.Height, factor),
		Depth:       CoarseExtent(v.Depth, factor),
		VoxelSize:   models.Spacing{X: v.VoxelSize.X * f, Y: v.VoxelSize.Y * f, Z: v.VoxelSize.Z * f},
		Origin:      v.VoxelToWorld(shift, shift, shift),
		Orientation: v.Orientation,
	}
	out.Data = make([]float64, out.Len())

	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Set(x, y, z, SampleTrilinear(v,
					float64(x)*f+shift, float64(y)*f+shift, float64(z)*f+shift))
			}
		}
	}
	return out
}

// Upsample interpolates a coarse volume produced at the given factor back onto
// the grid of fine. It is the inverse mapping of Downsample.
func Upsample(coarse *models.Volume, factor int, fine *models.Volume) *models.Volume {
	out := models.NewLike(fine)
	f := float64(factor)
	shift := (f - 1) / 2
	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Set(x, y, z, SampleTrilinear(coarse,
					(float64(x)-shift)/f, (float64(y)-shift)/f, (float64(z)-shift)/f))
			}
		}
	}
	return out
}

// ResampleToGrid interpolates v at the world position of every voxel of target.
// Positions outside v are clamped to its nearest edge.
func ResampleToGrid(v, target *models.Volume) *models.Volume {
	out := models.NewLike(target)
	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				w := target.VoxelToWorld(float64(x), float64(y), float64(z))
				vx, vy, vz := v.WorldToVoxel(w)
				out.Set(x, y, z, SampleTrilinear(v, vx, vy, vz))
			}
		}
	}
	return out
}
