// Package relaxation implements the discrete missing-data Laplacian and the
// explicit Jacobi relaxation that drives it to zero.
package relaxation

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
)

// ErrUnstableStep is returned when the step size exceeds the stability bound
var ErrUnstableStep = errors.New("relaxation step size exceeds stability bound")

// ProgressCallback is called after every completed sweep
type ProgressCallback func(iteration int, residual float64)

// Solver holds the iteration policy
type Solver struct {
	// Epsilon is the residual threshold below which the solve has converged,
	// in the units of the field
	Epsilon float64

	// MaxIterations caps the number of sweeps
	MaxIterations int

	// Alpha is the step size; 0 selects the lattice stability bound
	Alpha float64

	// Workers is the number of goroutines per sweep; 0 uses runtime.NumCPU()
	Workers int

	// Progress is optional
	Progress ProgressCallback
}

// Result is the outcome of a solve. Non-convergence is reported here, not as an error.
type Result struct {
	Field      []float64
	Residual   float64
	Iterations int
	Converged  bool

	// History holds the residual before the first sweep and after every sweep
	History []float64
}

// LaplacianImage computes the weighted sum of (neighbour − centre) over the
// 26-neighbourhood at every domain voxel. Neighbours outside the domain
// contribute nothing. The returned residual is
//
//	sqrt( Σ_active (1−w)·(lap/(2·ΣF))² / #active )
//
// the RMS of the Jacobi correction in field units, so the same threshold means
// the same accuracy at any voxel spacing. The scale is a lattice constant,
// which keeps the residual non-increasing under UpdateStep for any alpha
// within the stability bound.
func LaplacianImage(l Lattice, field []float64, r Region) ([]float64, float64, error) {
	if err := l.check(field, r); err != nil {
		return nil, 0, err
	}
	lap := make([]float64, len(field))
	return lap, laplacian(l, field, r, lap, 1), nil
}

// UpdateStep performs one explicit relaxation sweep and returns the new field:
// new = old + alpha·lap·(1−w) on active voxels, old elsewhere.
func UpdateStep(l Lattice, field, lap []float64, r Region, alpha float64) ([]float64, error) {
	if err := l.check(field, r); err != nil {
		return nil, err
	}
	if len(lap) != len(field) {
		return nil, fmt.Errorf("laplacian has %d values, field has %d", len(lap), len(field))
	}
	if err := checkAlpha(l, alpha); err != nil {
		return nil, err
	}
	next := make([]float64, len(field))
	update(l, next, field, lap, r, alpha, 1)
	return next, nil
}

// Solve iterates UpdateStep with a double buffer until the residual drops below
// Epsilon or MaxIterations sweeps have run. The input field is not modified.
func (s Solver) Solve(l Lattice, field []float64, r Region) (Result, error) {
	if err := l.check(field, r); err != nil {
		return Result{}, err
	}
	alpha := s.Alpha
	if alpha == 0 {
		alpha = l.MaxAlpha
	}
	if err := checkAlpha(l, alpha); err != nil {
		return Result{}, err
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	cur := make([]float64, len(field))
	copy(cur, field)
	next := make([]float64, len(field))
	lap := make([]float64, len(field))

	residual := laplacian(l, cur, r, lap, workers)
	history := []float64{residual}
	iterations := 0

	for !s.converged(residual) && iterations < s.MaxIterations {
		update(l, next, cur, lap, r, alpha, workers)
		cur, next = next, cur
		iterations++

		residual = laplacian(l, cur, r, lap, workers)
		history = append(history, residual)
		if s.Progress != nil {
			s.Progress(iterations, residual)
		}
	}

	return Result{
		Field:      cur,
		Residual:   residual,
		Iterations: iterations,
		Converged:  s.converged(residual),
		History:    history,
	}, nil
}

func (s Solver) converged(residual float64) bool {
	return residual == 0 || residual < s.Epsilon
}

func checkAlpha(l Lattice, alpha float64) error {
	// allow for rounding in callers that pass the bound back in
	if !(alpha > 0) || alpha > l.MaxAlpha*(1+1e-12) {
		return fmt.Errorf("%w: alpha %g, bound %g", ErrUnstableStep, alpha, l.MaxAlpha)
	}
	return nil
}

// laplacian fills lap for every domain voxel and returns the residual norm.
// Work is split into z-slabs; partial sums are reduced in slab order so the
// result only depends on the worker count.
func laplacian(l Lattice, field []float64, r Region, lap []float64, workers int) float64 {
	type partial struct {
		sum   float64
		count int
	}
	parts := make([]partial, workers)

	forEachSlab(l, workers, func(w, zStart, zEnd int) {
		var p partial
		plane := l.Width * l.Height
		for i := zStart * plane; i < zEnd*plane; i++ {
			if !r.Domain[i] {
				lap[i] = 0
				continue
			}
			c := field[i]
			sum := 0.0
			for k, off := range l.Offsets {
				f := l.Factors[k]
				if j := i + off; r.Domain[j] {
					sum += f * (field[j] - c)
				}
				if j := i - off; r.Domain[j] {
					sum += f * (field[j] - c)
				}
			}
			lap[i] = sum
			if r.Active[i] {
				p.sum += (1 - r.Weights[i]) * sum * sum
				p.count++
			}
		}
		parts[w] = p
	})

	total, count := 0.0, 0
	for _, p := range parts {
		total += p.sum
		count += p.count
	}
	if count == 0 {
		return 0
	}
	// MaxAlpha is 1/(2·ΣF), the inverse of the stencil diagonal
	return l.MaxAlpha * math.Sqrt(total/float64(count))
}

// update writes the next field from the previous one. It only reads cur and
// lap, which were fully computed before this call, so voxels never see a
// partially updated neighbour.
func update(l Lattice, next, cur, lap []float64, r Region, alpha float64, workers int) {
	forEachSlab(l, workers, func(_, zStart, zEnd int) {
		plane := l.Width * l.Height
		for i := zStart * plane; i < zEnd*plane; i++ {
			if r.Active[i] {
				next[i] = cur[i] + alpha*lap[i]*(1-r.Weights[i])
			} else {
				next[i] = cur[i]
			}
		}
	})
}

// forEachSlab partitions the z range into contiguous slabs, runs fn on each in
// its own goroutine and waits for all of them
func forEachSlab(l Lattice, workers int, fn func(worker, zStart, zEnd int)) {
	if workers <= 1 || l.Depth < 2 {
		fn(0, 0, l.Depth)
		return
	}

	slabsPerWorker := (l.Depth + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		zStart := w * slabsPerWorker
		zEnd := min(zStart+slabsPerWorker, l.Depth)
		if zStart >= zEnd {
			break
		}

		wg.Add(1)
		go func(w, zStart, zEnd int) {
			defer wg.Done()
			fn(w, zStart, zEnd)
		}(w, zStart, zEnd)
	}
	wg.Wait()
}
