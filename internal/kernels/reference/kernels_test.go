package reference

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/halo"
	"github.com/hpcg-go/hpcg-go/internal/sparsematrix"
)

func buildSingleParticipant(t *testing.T) (*comm.World, *geometry.Geometry, *sparsematrix.Matrix, *halo.Plan) {
	t.Helper()
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	m := sparsematrix.Generate(geo)
	w := comm.NewSingle()
	plan, err := halo.Build(w, geo, m)
	require.NoError(t, err)
	m.DiscardGlobalColumns()
	return w, geo, m, plan
}

func TestSPMVOfOnesVectorEqualsRowSum(t *testing.T) {
	w, _, m, plan := buildSingleParticipant(t)
	x := make([]float64, m.LocalNumCols)
	for i := 0; i < m.LocalNumRows; i++ {
		x[i] = 1.0
	}
	y := make([]float64, m.LocalNumRows)
	require.NoError(t, SPMV(w, plan, m, x, y))
	for i := range y {
		assert.Equalf(t, m.B[i], y[i], "row %d: A*1 should equal b_i (row-sum rule)", i)
	}
}

func TestSPMVSymmetryProbe(t *testing.T) {
	w, _, m, plan := buildSingleParticipant(t)
	rng := rand.New(rand.NewSource(1))

	x := make([]float64, m.LocalNumCols)
	y := make([]float64, m.LocalNumCols)
	for i := 0; i < m.LocalNumRows; i++ {
		x[i] = rng.Float64()
		y[i] = rng.Float64()
	}
	ax := make([]float64, m.LocalNumRows)
	ay := make([]float64, m.LocalNumRows)
	require.NoError(t, SPMV(w, plan, m, x, ax))
	require.NoError(t, SPMV(w, plan, m, y, ay))

	xTAy, err := DOT(w, x, ay, m.LocalNumRows)
	require.NoError(t, err)
	yTAx, err := DOT(w, y, ax, m.LocalNumRows)
	require.NoError(t, err)
	assert.InDelta(t, yTAx, xTAy, 1e-9, "A must be symmetric: x^T(Ay) == y^T(Ax)")
}

func TestWAXPBY(t *testing.T) {
	x := []float64{1, 2, 3}
	y := []float64{4, 5, 6}
	out := make([]float64, 3)
	WAXPBY(2, x, 3, y, 3, out)
	assert.Equal(t, []float64{14, 19, 24}, out)
}

func TestDOTSumsOwnedRowsOnly(t *testing.T) {
	w := comm.NewSingle()
	x := []float64{1, 2, 3, 100}
	y := []float64{4, 5, 6, 100}
	got, err := DOT(w, x, y, 3)
	require.NoError(t, err)
	assert.Equal(t, 1*4+2*5+3*6, int(got))
}

func TestNorm2(t *testing.T) {
	w := comm.NewSingle()
	x := []float64{3, 4}
	n, err := Norm2(w, x, 2)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, n, 1e-12)
}

func TestSYMGSReducesResidualNorm(t *testing.T) {
	w, _, m, plan := buildSingleParticipant(t)
	x := make([]float64, m.LocalNumCols)

	ax := make([]float64, m.LocalNumRows)
	require.NoError(t, SPMV(w, plan, m, x, ax))
	r := make([]float64, m.LocalNumRows)
	WAXPBY(1, m.B, -1, ax, m.LocalNumRows, r)
	before, err := Norm2(w, r, m.LocalNumRows)
	require.NoError(t, err)

	require.NoError(t, SYMGS(w, plan, m, m.B, x))

	require.NoError(t, SPMV(w, plan, m, x, ax))
	WAXPBY(1, m.B, -1, ax, m.LocalNumRows, r)
	after, err := Norm2(w, r, m.LocalNumRows)
	require.NoError(t, err)

	assert.Lessf(t, after, before, "one SYMGS sweep must reduce the residual norm (before=%g after=%g)", before, after)
}

func TestSYMGSConvergesOnIteratedSweeps(t *testing.T) {
	w, _, m, plan := buildSingleParticipant(t)
	x := make([]float64, m.LocalNumCols)

	ax := make([]float64, m.LocalNumRows)
	r := make([]float64, m.LocalNumRows)
	require.NoError(t, SPMV(w, plan, m, x, ax))
	WAXPBY(1, m.B, -1, ax, m.LocalNumRows, r)
	first, err := Norm2(w, r, m.LocalNumRows)
	require.NoError(t, err)

	last := first
	for iter := 0; iter < 20; iter++ {
		require.NoError(t, SYMGS(w, plan, m, m.B, x))
		require.NoError(t, SPMV(w, plan, m, x, ax))
		WAXPBY(1, m.B, -1, ax, m.LocalNumRows, r)
		normr, err := Norm2(w, r, m.LocalNumRows)
		require.NoError(t, err)
		assert.LessOrEqualf(t, normr, last+1e-9, "iteration %d: residual must not grow", iter)
		last = normr
	}
	// The interior diagonal (26.0) exactly balances the 26 off-diagonal
	// -1 entries, so this is only weakly diagonally dominant, unlike a
	// strictly dominant system: check the sweep makes real (not just
	// monotonic-noop) progress rather than asserting a tight absolute
	// residual bound.
	assert.Lessf(t, last, first*0.5, "20 SYMGS sweeps should substantially reduce the residual (first=%g last=%g)", first, last)
}

func TestRestrictProlongRoundTrip(t *testing.T) {
	f2c := []int{0, 2, 5, 7}
	bf := []float64{10, 20, 30, 40, 50, 60, 70, 80}
	axf := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	rc := make([]float64, len(f2c))
	Restrict(bf, axf, f2c, rc)
	for k, fi := range f2c {
		assert.Equal(t, bf[fi]-axf[fi], rc[k])
	}

	xf := make([]float64, 8)
	xc := []float64{1, 1, 1, 1}
	Prolong(f2c, xc, xf)
	for k, fi := range f2c {
		assert.Equal(t, xc[k], xf[fi])
	}
}
