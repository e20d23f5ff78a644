package optimize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/sparsematrix"
)

func TestOptimizeCSRMatchesRowMajorSPMV(t *testing.T) {
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	m := sparsematrix.Generate(geo)
	prob := Optimize(geo, m)

	rng := rand.New(rand.NewSource(9))
	x := make([]float64, m.LocalNumCols)
	for i := 0; i < m.LocalNumRows; i++ {
		x[i] = rng.Float64()
	}

	xv := mat.NewVecDense(len(x), x)
	var yv mat.VecDense
	yv.MulVec(prob.CSR, xv)

	for i := 0; i < m.LocalNumRows; i++ {
		var want float64
		for j, col := range m.MtxIndL[i] {
			want += m.MatrixValues[i][j] * x[col]
		}
		assert.InDeltaf(t, want, yv.AtVec(i), 1e-9, "row %d", i)
	}
}

func TestBuildColoringHasEightClasses(t *testing.T) {
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	cs := BuildColoring(geo)
	assert.Len(t, cs.Colors, numColors)
}
