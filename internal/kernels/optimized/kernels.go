// Package optimized implements the fork-join parallel counterparts of the
// reference kernels (spec.md §4.5, §4.8): SPMV/WAXPBY/DOT parallelized
// over row/index chunks using the teacher's work-sharing pattern, and a
// color-scheduled SYMGS that parallelizes within each independent color
// class produced by optimize.BuildColoring. The Validator checks SPMV
// against package reference for numerical equivalence and SYMGS for
// smoother validity.
package optimized

import (
	"fmt"
	"runtime"

	"gonum.org/v1/gonum/mat"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/common"
	"github.com/hpcg-go/hpcg-go/internal/halo"
	"github.com/hpcg-go/hpcg-go/internal/optimize"
	"github.com/hpcg-go/hpcg-go/internal/sparsematrix"
)

// numWorkers mirrors the teacher's NewMGBenchmark/NewCGBenchmark pattern:
// default to NumCPU, overridable so small problems and tests can force a
// deterministic worker count.
var numWorkers = runtime.NumCPU()

// SetWorkers overrides the fork-join worker count; numWorkers<1 resets to
// runtime.NumCPU().
func SetWorkers(n int) {
	if n < 1 {
		n = runtime.NumCPU()
	}
	numWorkers = n
}

// SPMV computes y <- A*x in parallel over owned rows, after refreshing
// x's halo slots (spec.md §4.5). Numerically identical to the reference
// kernel; only the row range is chunked across goroutines.
func SPMV(w *comm.World, plan *halo.Plan, A *sparsematrix.Matrix, x, y []float64) error {
	if err := plan.Exchange(w, x); err != nil {
		return fmt.Errorf("optimized.SPMV: halo exchange: %w", err)
	}
	common.ParallelFor(0, A.LocalNumRows, numWorkers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			var sum float64
			cols := A.MtxIndL[i]
			vals := A.MatrixValues[i]
			for j := range cols {
				sum += vals[j] * x[cols[j]]
			}
			y[i] = sum
		}
	})
	return nil
}

// SPMVSparse is the cross-checked alternate SPMV path: it multiplies
// prob.CSR (built once by optimize.Optimize) against x via gonum's MulVec,
// exercising the james-bowman/sparse + gonum.org/v1/gonum dependency pair
// the pack's gocfd/DGKernel repos also carry. x must already have its halo
// slots populated (callers typically call SPMV first and keep x around,
// or call plan.Exchange directly).
func SPMVSparse(prob *optimize.Problem, x []float64, y []float64) {
	xv := mat.NewVecDense(len(x), x)
	var yv mat.VecDense
	yv.MulVec(prob.CSR, xv)
	for i := 0; i < len(y); i++ {
		y[i] = yv.AtVec(i)
	}
}

// WAXPBY computes out <- alpha*x + beta*y over n entries in parallel
// chunks (spec.md §4.5).
func WAXPBY(alpha float64, x []float64, beta float64, y []float64, n int, out []float64) {
	common.ParallelFor(0, n, numWorkers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = alpha*x[i] + beta*y[i]
		}
	})
}

// DOT computes the local partial sum of x[i]*y[i] over n owned rows in
// parallel chunks, combines the per-chunk partials, then reduces across
// participants (spec.md §4.5). Chunk summation order is
// implementation-defined, matching spec.md §9's documented non-determinism.
func DOT(w *comm.World, x, y []float64, n int) (float64, error) {
	workers := numWorkers
	if workers < 1 {
		workers = 1
	}
	partials := make([]float64, workers)
	chunk := (n + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}
	common.ParallelFor(0, n, workers, func(lo, hi int) {
		wid := lo / chunk
		if wid >= workers {
			wid = workers - 1
		}
		var sum float64
		for i := lo; i < hi; i++ {
			sum += x[i] * y[i]
		}
		partials[wid] += sum
	})
	var local float64
	for _, p := range partials {
		local += p
	}
	return w.Allreduce(local)
}

// SYMGS performs one forward and one backward Gauss-Seidel sweep, but
// parallelizes within each independent color class of prob.Coloring
// instead of walking rows 0..n-1 strictly serially (spec.md §4.5, §4.8,
// §9). Halo values are exchanged once before the forward sweep and never
// refreshed mid-sweep or between sweeps, same as the reference kernel.
func SYMGS(w *comm.World, plan *halo.Plan, prob *optimize.Problem, A *sparsematrix.Matrix, b, x []float64) error {
	if err := plan.Exchange(w, x); err != nil {
		return fmt.Errorf("optimized.SYMGS: halo exchange: %w", err)
	}

	colors := prob.Coloring.Colors
	for c := 0; c < len(colors); c++ {
		relaxColor(A, b, x, colors[c])
	}
	for c := len(colors) - 1; c >= 0; c-- {
		relaxColor(A, b, x, colors[c])
	}
	return nil
}

// relaxColor applies the Gauss-Seidel update to every row in one color
// class in parallel: rows within a class share no stencil edge, so no
// race exists between concurrent updates.
func relaxColor(A *sparsematrix.Matrix, b, x []float64, rows []int) {
	common.ParallelFor(0, len(rows), numWorkers, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			i := rows[k]
			cols := A.MtxIndL[i]
			vals := A.MatrixValues[i]
			diagPos := A.MatrixDiagonal[i]

			sum := b[i]
			for j := range cols {
				if j == diagPos {
					continue
				}
				sum -= vals[j] * x[cols[j]]
			}
			x[i] = sum / vals[diagPos]
		}
	})
}
