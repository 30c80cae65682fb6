package smoothing

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"laplacesmooth/internal/models"
)

// Metrics compares a smoothed field against a reference field
type Metrics struct {
	// Voxels is the number of voxels compared
	Voxels int

	// RMSE is the root mean square difference
	RMSE float64

	// MaxAbsError is the largest absolute difference
	MaxAbsError float64

	// Correlation is the Pearson correlation; NaN for fewer than two voxels
	// or a constant input
	Correlation float64

	// SSIM is the global structural similarity index, using the reference
	// value range as dynamic range
	SSIM float64
}

// Compare computes metrics over the voxels where region ≥ 0.5, or over the
// whole volume when region is nil
func Compare(reference, result, region *models.Volume) (Metrics, error) {
	if err := models.CheckSameGrid("result", reference, result); err != nil {
		return Metrics{}, err
	}
	if region != nil {
		if err := models.CheckSameGrid("region", reference, region); err != nil {
			return Metrics{}, err
		}
	}

	var ref, got []float64
	for i := range reference.Data {
		if region == nil || region.Data[i] >= 0.5 {
			ref = append(ref, reference.Data[i])
			got = append(got, result.Data[i])
		}
	}

	m := Metrics{Voxels: len(ref), Correlation: math.NaN()}
	if len(ref) == 0 {
		return m, nil
	}

	sum := 0.0
	for i := range ref {
		d := math.Abs(ref[i] - got[i])
		sum += d * d
		m.MaxAbsError = math.Max(m.MaxAbsError, d)
	}
	m.RMSE = math.Sqrt(sum / float64(len(ref)))

	if len(ref) > 1 {
		m.Correlation = stat.Correlation(ref, got, nil)
		m.SSIM = calculateSSIM(ref, got)
	} else if m.MaxAbsError == 0 {
		m.SSIM = 1
	}
	return m, nil
}

// calculateSSIM computes the Structural Similarity Index
func calculateSSIM(original, reconstructed []float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	lo, hi := original[0], original[0]
	for _, v := range original {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	L := hi - lo
	if L == 0 {
		L = 1
	}
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)
	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
