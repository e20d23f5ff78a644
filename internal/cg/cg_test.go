package cg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/multigrid"
)

func TestRunConvergesOnSingleParticipantProblem(t *testing.T) {
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	w := comm.NewSingle()
	levels, err := multigrid.Build(w, geo)
	require.NoError(t, err)

	finest := levels[0]
	n := finest.A.LocalNumCols
	x := make([]float64, n)
	st := NewState(n)

	res, err := Run(w, levels, st, finest.A.B, x, 50, 0, true, false)
	require.NoError(t, err)

	assert.Equal(t, 50, res.Niters)
	assert.Lessf(t, res.Normr/res.Normr0, 1e-3, "preconditioned CG should converge well below 1e-3 relative residual in 50 iterations, got normr=%g normr0=%g", res.Normr, res.Normr0)
	assert.Len(t, res.Trace, 51, "trace should have normr0 plus one entry per iteration")
}

func TestRunStopsEarlyOnceToleranceMet(t *testing.T) {
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	w := comm.NewSingle()
	levels, err := multigrid.Build(w, geo)
	require.NoError(t, err)

	finest := levels[0]
	n := finest.A.LocalNumCols
	x := make([]float64, n)
	st := NewState(n)

	res, err := Run(w, levels, st, finest.A.B, x, 50, 1e-2, true, false)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Niters, 50)
	assert.LessOrEqual(t, res.Normr/res.Normr0, 1e-2)
}

func TestRunWithoutPreconditioningStillConverges(t *testing.T) {
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	w := comm.NewSingle()
	levels, err := multigrid.Build(w, geo)
	require.NoError(t, err)

	finest := levels[0]
	n := finest.A.LocalNumCols
	x := make([]float64, n)
	st := NewState(n)

	res, err := Run(w, levels, st, finest.A.B, x, 50, 0, false, false)
	require.NoError(t, err)
	assert.Less(t, res.Normr, res.Normr0, "unpreconditioned CG must still reduce the residual over 50 iterations")
}
