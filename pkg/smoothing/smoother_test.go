package smoothing

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"laplacesmooth/internal/models"
)

// createTestVolume fills a size³ volume from value(x, y, z)
func createTestVolume(size int, value func(x, y, z int) float64) *models.Volume {
	v := models.NewVolume(size, size, size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				v.Set(x, y, z, value(x, y, z))
			}
		}
	}
	return v
}

// inCube reports whether (x, y, z) lies in the cube [lo, hi]³
func inCube(x, y, z, lo, hi int) bool {
	return x >= lo && x <= hi && y >= lo && y <= hi && z >= lo && z <= hi
}

// createHoleMask marks the cube [lo, hi]³ missing
func createHoleMask(size, lo, hi int) *models.Volume {
	return createTestVolume(size, func(x, y, z int) float64 {
		if inCube(x, y, z, lo, hi) {
			return 0
		}
		return 1
	})
}

// corrupt overwrites missing voxels with garbage, as real missing data would hold
func corrupt(field, mask *models.Volume, value float64) {
	for i, m := range mask.Data {
		if m < 0.5 {
			field.Data[i] = value
		}
	}
}

func scenarioParams() Params {
	p := DefaultParams()
	p.Epsilon = 1e-3
	p.MaxIterations = 50
	return p
}

// TestAllValidUnchanged verifies that a fully observed field is returned unchanged
func TestAllValidUnchanged(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	field := createTestVolume(8, func(x, y, z int) float64 { return rng.NormFloat64() * 50 })
	mask := createHoleMask(8, 10, 9) // empty hole

	for _, m := range []*models.Volume{mask, nil} {
		res, err := RunSingleLevel(field, m, nil, scenarioParams())
		if err != nil {
			t.Fatalf("RunSingleLevel failed: %v", err)
		}
		for i := range field.Data {
			if math.Abs(res.Field.Data[i]-field.Data[i]) > 1e-12 {
				t.Fatalf("Voxel %d changed from %f to %f", i, field.Data[i], res.Field.Data[i])
			}
		}
		if !res.Converged || res.Iterations != 0 {
			t.Errorf("Expected immediate convergence, got %d iterations", res.Iterations)
		}
	}
}

// TestFlatFieldScenario fills the centre of a uniform 10³ volume
func TestFlatFieldScenario(t *testing.T) {
	field := createTestVolume(10, func(x, y, z int) float64 { return 100 })
	mask := createHoleMask(10, 3, 5)
	corrupt(field, mask, -5000)

	for name, run := range map[string]func(*models.Volume, *models.Volume, *models.Volume, Params) (*Result, error){
		"single":  RunSingleLevel,
		"pyramid": RunPyramid,
	} {
		res, err := run(field, mask, nil, scenarioParams())
		if err != nil {
			t.Fatalf("%s: run failed: %v", name, err)
		}
		if !res.Converged {
			t.Errorf("%s: expected convergence, residual %g", name, res.Residual)
		}
		for i, v := range res.Field.Data {
			if math.Abs(v-100) > 0.1 {
				t.Errorf("%s: voxel %d is %f, expected 100", name, i, v)
			}
		}
	}
}

// TestLinearFieldScenario recovers f = x inside the missing cube
func TestLinearFieldScenario(t *testing.T) {
	field := createTestVolume(10, func(x, y, z int) float64 { return float64(x) })
	mask := createHoleMask(10, 3, 5)
	corrupt(field, mask, 0)

	for name, run := range map[string]func(*models.Volume, *models.Volume, *models.Volume, Params) (*Result, error){
		"single":  RunSingleLevel,
		"pyramid": RunPyramid,
	} {
		res, err := run(field, mask, nil, scenarioParams())
		if err != nil {
			t.Fatalf("%s: run failed: %v", name, err)
		}
		if !res.Converged {
			t.Errorf("%s: expected convergence, residual %g after %d sweeps", name, res.Residual, res.Iterations)
		}
		for z := 3; z <= 5; z++ {
			for y := 3; y <= 5; y++ {
				for x := 3; x <= 5; x++ {
					if got := res.Field.At(x, y, z); math.Abs(got-float64(x)) > 0.1 {
						t.Errorf("%s: (%d,%d,%d) = %f, expected %d", name, x, y, z, got, x)
					}
				}
			}
		}
	}
}

// TestAnisotropicLinearField checks that linear data is preserved on non-cubic voxels
func TestAnisotropicLinearField(t *testing.T) {
	field := createTestVolume(12, func(x, y, z int) float64 { return 2*float64(x) - float64(z) + 0.5*float64(y) })
	field.VoxelSize = models.Spacing{X: 0.8, Y: 1.2, Z: 2.5}
	mask := createHoleMask(12, 4, 7)
	corrupt(field, mask, 999)

	p := DefaultParams()
	p.Epsilon = 1e-6
	p.MaxIterations = 500
	res, err := RunPyramid(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if !res.Converged {
		t.Fatalf("Expected convergence, residual %g", res.Residual)
	}
	for z := 4; z <= 7; z++ {
		for y := 4; y <= 7; y++ {
			for x := 4; x <= 7; x++ {
				expected := 2*float64(x) - float64(z) + 0.5*float64(y)
				if got := res.Field.At(x, y, z); math.Abs(got-expected) > 1e-3 {
					t.Errorf("(%d,%d,%d) = %f, expected %f", x, y, z, got, expected)
				}
			}
		}
	}
}

// TestResidualHistoryNonIncreasing checks monotone convergence at a fixed level in both modes
func TestResidualHistoryNonIncreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	field := createTestVolume(12, func(x, y, z int) float64 { return rng.Float64() * 10 })
	mask := createHoleMask(12, 3, 8)

	for _, freeze := range []bool{true, false} {
		p := DefaultParams()
		p.Epsilon = 1e-8
		p.MaxIterations = 200
		p.FreezeObserved = freeze

		res, err := RunSingleLevel(field, mask, nil, p)
		if err != nil {
			t.Fatalf("RunSingleLevel failed: %v", err)
		}
		history := res.Levels[0].History
		for i := 1; i < len(history); i++ {
			if history[i] > history[i-1]*(1+1e-12) {
				t.Errorf("freeze=%v: residual increased at sweep %d: %g -> %g", freeze, i, history[i-1], history[i])
			}
		}
	}
}

// TestPyramidNotWorseOnAllValid compares pyramid and single-level residuals on trivial input
func TestPyramidNotWorseOnAllValid(t *testing.T) {
	field := createTestVolume(16, func(x, y, z int) float64 { return math.Sin(float64(x)) * float64(y+z) })

	single, err := RunSingleLevel(field, nil, nil, scenarioParams())
	if err != nil {
		t.Fatalf("RunSingleLevel failed: %v", err)
	}
	pyramid, err := RunPyramid(field, nil, nil, scenarioParams())
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if pyramid.Residual > single.Residual {
		t.Errorf("Pyramid residual %g exceeds single-level residual %g", pyramid.Residual, single.Residual)
	}
	for i := range field.Data {
		if pyramid.Field.Data[i] != field.Data[i] {
			t.Fatalf("Pyramid changed observed voxel %d", i)
		}
	}
}

// TestPyramidLevels verifies level bookkeeping and that coarse grids are skipped when too small
func TestPyramidLevels(t *testing.T) {
	field := createTestVolume(16, func(x, y, z int) float64 { return float64(x + y) })
	mask := createHoleMask(16, 4, 11)

	p := scenarioParams()
	p.Levels = 3
	res, err := RunPyramid(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if len(res.Levels) != 3 {
		t.Fatalf("Expected 3 levels, got %d", len(res.Levels))
	}
	expected := []struct{ level, factor, width int }{{2, 4, 4}, {1, 2, 8}, {0, 1, 16}}
	for i, e := range expected {
		l := res.Levels[i]
		if l.Level != e.level || l.Factor != e.factor || l.Width != e.width {
			t.Errorf("Level %d: got level %d factor %d width %d", i, l.Level, l.Factor, l.Width)
		}
	}

	p.Levels = 6 // factors 32 and 16 do not fit a 16³ grid
	res, err = RunPyramid(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if len(res.Levels) != 4 {
		t.Errorf("Expected 4 solved levels, got %d", len(res.Levels))
	}
}

// TestPyramidWarmStartHelps checks that warm-starting reduces native-level work on a large hole
func TestPyramidWarmStartHelps(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping pyramid comparison in short mode")
	}
	field := createTestVolume(24, func(x, y, z int) float64 { return float64(x) + float64(y)*0.5 })
	mask := createHoleMask(24, 4, 19)
	corrupt(field, mask, 0)

	p := DefaultParams()
	p.Epsilon = 1e-3
	p.MaxIterations = 2000

	single, err := RunSingleLevel(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunSingleLevel failed: %v", err)
	}
	pyramid, err := RunPyramid(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if !single.Converged || !pyramid.Converged {
		t.Fatalf("Expected both runs to converge (single %v, pyramid %v)", single.Converged, pyramid.Converged)
	}
	if pyramid.Iterations > single.Iterations {
		t.Errorf("Warm start used %d native sweeps, cold start %d", pyramid.Iterations, single.Iterations)
	}
}

// TestBoundaryAdjacentSlab fills a missing slab touching the volume face
func TestBoundaryAdjacentSlab(t *testing.T) {
	field := createTestVolume(8, func(x, y, z int) float64 { return 7 })
	mask := createTestVolume(8, func(x, y, z int) float64 {
		if x < 3 {
			return 0
		}
		return 1
	})
	corrupt(field, mask, 0)

	p := DefaultParams()
	p.Epsilon = 1e-6
	p.MaxIterations = 1000
	res, err := RunPyramid(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	for i, v := range res.Field.Data {
		if math.Abs(v-7) > 1e-3 {
			t.Fatalf("Voxel %d is %f, expected 7", i, v)
		}
	}
}

// TestInputMaskRestrictsWrites verifies voxels outside the input mask keep their values
func TestInputMaskRestrictsWrites(t *testing.T) {
	field := createTestVolume(10, func(x, y, z int) float64 { return 50 })
	mask := createHoleMask(10, 2, 7)
	corrupt(field, mask, -1)
	inputMask := createTestVolume(10, func(x, y, z int) float64 {
		if z < 5 {
			return 1
		}
		return 0
	})

	p := scenarioParams()
	p.MaxIterations = 500
	res, err := RunSingleLevel(field, mask, inputMask, p)
	if err != nil {
		t.Fatalf("RunSingleLevel failed: %v", err)
	}
	for z := 0; z < 10; z++ {
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				got := res.Field.At(x, y, z)
				switch {
				case z >= 5:
					if got != field.At(x, y, z) {
						t.Fatalf("(%d,%d,%d) outside the input mask changed to %f", x, y, z, got)
					}
				case inCube(x, y, z, 2, 7):
					if math.Abs(got-50) > 0.1 {
						t.Errorf("(%d,%d,%d) = %f, expected 50", x, y, z, got)
					}
				}
			}
		}
	}
}

// TestSoftSmoothingRelaxesObserved checks the FreezeObserved switch
func TestSoftSmoothingRelaxesObserved(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	field := createTestVolume(10, func(x, y, z int) float64 { return rng.Float64() * 100 })
	mask := createHoleMask(10, 4, 5)

	p := scenarioParams()
	hard, err := RunSingleLevel(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunSingleLevel failed: %v", err)
	}
	p.FreezeObserved = false
	soft, err := RunSingleLevel(field, mask, nil, p)
	if err != nil {
		t.Fatalf("RunSingleLevel failed: %v", err)
	}

	// (3,4,4) is observed and next to the hole
	if hard.Field.At(3, 4, 4) != field.At(3, 4, 4) {
		t.Error("Hard inpainting changed an observed voxel")
	}
	if soft.Field.At(3, 4, 4) == field.At(3, 4, 4) {
		t.Error("Soft smoothing left an observed band voxel untouched")
	}
	// (0,0,0) is far from the hole in both modes
	if soft.Field.At(0, 0, 0) != field.At(0, 0, 0) {
		t.Error("Soft smoothing changed a voxel far from the hole")
	}
}

// TestErrors covers the error contract
func TestErrors(t *testing.T) {
	field := createTestVolume(6, func(x, y, z int) float64 { return float64(x) })

	_, err := RunSingleLevel(field, models.NewVolume(6, 6, 5), nil, scenarioParams())
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
	var dimErr *models.DimensionMismatchError
	if !errors.As(err, &dimErr) || dimErr.Name != "mask" {
		t.Errorf("Expected a mask DimensionMismatchError, got %v", err)
	}
	if _, err := RunPyramid(field, nil, models.NewVolume(5, 6, 6), scenarioParams()); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch for the input mask, got %v", err)
	}

	flat := field.Clone()
	flat.VoxelSize.Z = 0
	if _, err := RunSingleLevel(flat, nil, nil, scenarioParams()); !errors.Is(err, ErrDegenerateSpacing) {
		t.Errorf("Expected ErrDegenerateSpacing, got %v", err)
	}

	p := scenarioParams()
	p.Alpha = 1
	if _, err := RunSingleLevel(field, nil, nil, p); !errors.Is(err, ErrUnstableStep) {
		t.Errorf("Expected ErrUnstableStep, got %v", err)
	}

	p = scenarioParams()
	p.Levels = 0
	if _, err := RunPyramid(field, nil, nil, p); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

// TestNoValidData verifies the unmodified input is returned with ErrNoValidData
func TestNoValidData(t *testing.T) {
	field := createTestVolume(5, func(x, y, z int) float64 { return float64(x * y * z) })
	empty := models.NewLike(field)

	for name, run := range map[string]func(*models.Volume, *models.Volume, *models.Volume, Params) (*Result, error){
		"single":  RunSingleLevel,
		"pyramid": RunPyramid,
	} {
		res, err := run(field, empty, nil, scenarioParams())
		if !errors.Is(err, ErrNoValidData) {
			t.Fatalf("%s: expected ErrNoValidData, got %v", name, err)
		}
		if res == nil || res.Field == nil {
			t.Fatalf("%s: expected the input to be returned", name)
		}
		if res.Field == field {
			t.Errorf("%s: expected a copy, got the input itself", name)
		}
		for i := range field.Data {
			if res.Field.Data[i] != field.Data[i] {
				t.Fatalf("%s: voxel %d modified", name, i)
			}
		}
	}
}

// TestSmootherLifecycle exercises the configure-then-run API
func TestSmootherLifecycle(t *testing.T) {
	s := New(scenarioParams())
	if _, err := s.Run(); !errors.Is(err, ErrNoInput) {
		t.Errorf("Expected ErrNoInput, got %v", err)
	}

	field := createTestVolume(10, func(x, y, z int) float64 { return float64(x) })
	mask := createHoleMask(10, 3, 5)
	corrupt(field, mask, 0)
	original := field.Clone()

	// SetInput alone means every voxel is observed
	s.SetInput(field)
	res, err := s.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Field.At(4, 4, 4) != 0 {
		t.Error("Expected no change without a mask")
	}

	s.SetMask(mask)
	var calls int
	s.params.Progress = func(level, iteration int, residual float64) { calls++ }
	res, err = s.RunPyramid()
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if math.Abs(res.Field.At(4, 4, 4)-4) > 0.1 {
		t.Errorf("Expected 4 at the hole centre, got %f", res.Field.At(4, 4, 4))
	}
	total := 0
	for _, l := range res.Levels {
		total += l.Iterations
	}
	if calls != total {
		t.Errorf("Expected %d progress calls, got %d", total, calls)
	}

	for i := range field.Data {
		if field.Data[i] != original.Data[i] {
			t.Fatal("Run modified the input volume")
		}
	}

	// Target grid: half resolution over the same extent
	target := models.NewVolume(5, 5, 5)
	target.VoxelSize = models.Spacing{X: 2, Y: 2, Z: 2}
	s.SetTarget(target)
	res, err = s.RunPyramid()
	if err != nil {
		t.Fatalf("RunPyramid failed: %v", err)
	}
	if !res.Field.SameExtents(target) {
		t.Fatalf("Expected target extents, got %dx%dx%d", res.Field.Width, res.Field.Height, res.Field.Depth)
	}
	for x := 0; x < 5; x++ {
		if got := res.Field.At(x, 2, 2); math.Abs(got-float64(2*x)) > 0.1 {
			t.Errorf("Target voxel x=%d: expected %d, got %f", x, 2*x, got)
		}
	}
}

// TestCompare verifies metric computation on known data
func TestCompare(t *testing.T) {
	ref := createTestVolume(4, func(x, y, z int) float64 { return float64(x + y + z) })
	same, err := Compare(ref, ref.Clone(), nil)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if same.RMSE != 0 || same.MaxAbsError != 0 || math.Abs(same.Correlation-1) > 1e-12 || math.Abs(same.SSIM-1) > 1e-12 {
		t.Errorf("Unexpected metrics for identical volumes: %+v", same)
	}

	shifted := ref.Clone()
	for i := range shifted.Data {
		shifted.Data[i] += 2
	}
	region := createHoleMask(4, 1, 2)
	m, err := Compare(ref, shifted, region)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if m.Voxels != 64-8 {
		t.Errorf("Expected 56 voxels, got %d", m.Voxels)
	}
	if math.Abs(m.RMSE-2) > 1e-12 || math.Abs(m.MaxAbsError-2) > 1e-12 {
		t.Errorf("Expected RMSE and max error 2, got %+v", m)
	}

	if _, err := Compare(ref, models.NewVolume(3, 4, 4), nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
}

// TestMissingRegion verifies the inverse of the validity mask is reported
func TestMissingRegion(t *testing.T) {
	s := New(DefaultParams())
	if s.MissingRegion() != nil {
		t.Error("Expected nil before SetInput")
	}

	field := createTestVolume(6, func(x, y, z int) float64 { return 1 })
	s.SetInput(field)
	s.SetMask(createHoleMask(6, 2, 3))

	region := s.MissingRegion()
	count := 0
	for _, v := range region.Data {
		count += int(v)
	}
	if count != 8 || region.At(2, 2, 2) != 1 || region.At(0, 0, 0) != 0 {
		t.Errorf("Unexpected missing region: %d voxels marked", count)
	}
}

// TestEpsilonIndependentOfSpacing solves the same linear field on unit and
// 3 mm voxels and expects the same field-space accuracy from the same epsilon
func TestEpsilonIndependentOfSpacing(t *testing.T) {
	p := DefaultParams()
	p.Epsilon = 1e-4
	p.MaxIterations = 2000

	results := make(map[float64]*Result)
	for _, spacing := range []float64{1, 3} {
		field := createTestVolume(16, func(x, y, z int) float64 { return float64(x) })
		field.VoxelSize = models.Spacing{X: spacing, Y: spacing, Z: spacing}
		mask := createHoleMask(16, 4, 11)
		corrupt(field, mask, 0)

		res, err := RunSingleLevel(field, mask, nil, p)
		if err != nil {
			t.Fatalf("spacing %g: RunSingleLevel failed: %v", spacing, err)
		}
		if !res.Converged {
			t.Fatalf("spacing %g: expected convergence, residual %g", spacing, res.Residual)
		}

		maxErr := 0.0
		for z := 4; z <= 11; z++ {
			for y := 4; y <= 11; y++ {
				for x := 4; x <= 11; x++ {
					maxErr = math.Max(maxErr, math.Abs(res.Field.At(x, y, z)-float64(x)))
				}
			}
		}
		if maxErr > 0.05 {
			t.Errorf("spacing %g: converged with max error %g", spacing, maxErr)
		}
		results[spacing] = res
	}

	fine, coarse := results[1], results[3]
	if d := fine.Iterations - coarse.Iterations; d < -1 || d > 1 {
		t.Errorf("Expected matching sweep counts, got %d and %d", fine.Iterations, coarse.Iterations)
	}
	for i := range fine.Field.Data {
		if math.Abs(fine.Field.Data[i]-coarse.Field.Data[i]) > 1e-3 {
			t.Fatalf("Voxel %d differs between spacings: %f vs %f", i, fine.Field.Data[i], coarse.Field.Data[i])
		}
	}
}

// TestSetInputNil verifies clearing the input does not panic and Run reports it
func TestSetInputNil(t *testing.T) {
	s := New(DefaultParams())
	s.SetInput(createTestVolume(4, func(x, y, z int) float64 { return 1 }))
	s.SetInput(nil)

	if s.MissingRegion() != nil {
		t.Error("Expected no mask after clearing the input")
	}
	if _, err := s.Run(); !errors.Is(err, ErrNoInput) {
		t.Errorf("Expected ErrNoInput, got %v", err)
	}
}
