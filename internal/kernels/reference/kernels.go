// Package reference implements the golden, straight-serial-loop kernels
// spec.md §4.5 names: SPMV, SYMGS, WAXPBY, DOT, Restriction, Prolongation.
// The Validator checks optimized kernels against these.
package reference

import (
	"fmt"
	"math"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/halo"
	"github.com/hpcg-go/hpcg-go/internal/sparsematrix"
)

// SPMV computes y <- A*x. x's halo slots are refreshed first (spec.md
// §4.5: "requires a prior halo exchange into x's halo slots"); y need
// only be sized to A.LocalNumRows.
func SPMV(w *comm.World, plan *halo.Plan, A *sparsematrix.Matrix, x, y []float64) error {
	if err := plan.Exchange(w, x); err != nil {
		return fmt.Errorf("reference.SPMV: halo exchange: %w", err)
	}
	for i := 0; i < A.LocalNumRows; i++ {
		var sum float64
		cols := A.MtxIndL[i]
		vals := A.MatrixValues[i]
		for j := range cols {
			sum += vals[j] * x[cols[j]]
		}
		y[i] = sum
	}
	return nil
}

// WAXPBY computes w <- alpha*x + beta*y over n entries (spec.md §4.5:
// "embarrassingly parallel over indices"). n is normally A.LocalNumRows;
// callers pass the owned-row count, not LocalNumCols.
func WAXPBY(alpha float64, x []float64, beta float64, y []float64, n int, out []float64) {
	for i := 0; i < n; i++ {
		out[i] = alpha*x[i] + beta*y[i]
	}
}

// DOT computes the local partial sum of x[i]*y[i] over n owned rows, then
// reduces it across all participants (spec.md §4.5). Participants not
// owning any rows (n==0) contribute zero.
func DOT(w *comm.World, x, y []float64, n int) (float64, error) {
	var local float64
	for i := 0; i < n; i++ {
		local += x[i] * y[i]
	}
	return w.Allreduce(local)
}

// Norm2 returns sqrt(DOT(x,x)).
func Norm2(w *comm.World, x []float64, n int) (float64, error) {
	d, err := DOT(w, x, x, n)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(d), nil
}

// SYMGS performs one forward sweep (rows 0..n-1) followed by one backward
// sweep (rows n-1..0) solving A x = b, updating x in place with
// Gauss-Seidel relaxation using the CURRENT x for already-touched rows
// within a sweep. Halo values of x are exchanged once before the forward
// sweep and are NOT refreshed between the forward and backward sweeps or
// mid-sweep: this staleness is the canonical benchmark definition
// (spec.md §4.5, §9) and must not be "fixed".
func SYMGS(w *comm.World, plan *halo.Plan, A *sparsematrix.Matrix, b, x []float64) error {
	if err := plan.Exchange(w, x); err != nil {
		return fmt.Errorf("reference.SYMGS: halo exchange: %w", err)
	}

	n := A.LocalNumRows
	for i := 0; i < n; i++ {
		x[i] = symgsUpdate(A, b, x, i)
	}
	for i := n - 1; i >= 0; i-- {
		x[i] = symgsUpdate(A, b, x, i)
	}
	return nil
}

// symgsUpdate computes the single-row Gauss-Seidel relaxation
// x[i] <- (b[i] - sum_{j!=diag} A_ij x[j]) / A_ii.
func symgsUpdate(A *sparsematrix.Matrix, b, x []float64, i int) float64 {
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
	return sum / vals[diagPos]
}

// Restrict computes r_c[k] <- (b_f - Ax_f)[f2c[k]] for every coarse row
// k, injecting the fine-grid residual down to the coarse grid (spec.md
// §4.4, §4.5).
func Restrict(bf, axf []float64, f2c []int, rc []float64) {
	for k, fineIdx := range f2c {
		rc[k] = bf[fineIdx] - axf[fineIdx]
	}
}

// Prolong adds the coarse correction x_c back onto the fine solution:
// x_f[f2c[k]] += x_c[k] (spec.md §4.4, §4.5).
func Prolong(f2c []int, xc []float64, xf []float64) {
	for k, fineIdx := range f2c {
		xf[fineIdx] += xc[k]
	}
}
