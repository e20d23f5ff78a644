package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/multigrid"
)

func buildLevels(t *testing.T) (*comm.World, []*multigrid.Level) {
	t.Helper()
	geo, err := geometry.New(0, 1, 16, 16, 16)
	require.NoError(t, err)
	w := comm.NewSingle()
	levels, err := multigrid.Build(w, geo)
	require.NoError(t, err)
	return w, levels
}

func TestCheckProblemPassesOnWellFormedMatrix(t *testing.T) {
	_, levels := buildLevels(t)
	findings := CheckProblem(levels[0].A)
	for _, f := range findings {
		assert.NotEqualf(t, SeverityFailure, f.Severity, "%s: %s", f.Check, f.Message)
	}
}

func TestSymmetryProbePasses(t *testing.T) {
	w, levels := buildLevels(t)
	f, err := TestSymmetry(w, levels, 42, 10.0)
	require.NoError(t, err)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}

func TestSparseSPMVCrossCheckPasses(t *testing.T) {
	w, levels := buildLevels(t)
	f, err := TestSparseSPMVCrossCheck(w, levels[0], 11)
	require.NoError(t, err)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}

func TestOptimizedKernelsAgreeWithReference(t *testing.T) {
	w, levels := buildLevels(t)
	f, err := TestOptimizedKernels(w, levels[0], 7)
	require.NoError(t, err)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}

func TestHaloIdempotenceSingleParticipant(t *testing.T) {
	w, levels := buildLevels(t)
	f, err := TestHaloIdempotence(w, levels[0].Halo, levels[0].A.LocalNumRows, levels[0].A.LocalNumCols)
	require.NoError(t, err)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}

func TestRestrictProlongRoundTripPasses(t *testing.T) {
	_, levels := buildLevels(t)
	f := TestRestrictProlongRoundTrip(levels[0].MG, levels[0].A.LocalNumRows, 1)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}

func TestCGConvergesOnShiftedDiagonal(t *testing.T) {
	w, levels := buildLevels(t)
	f, err := TestCG(w, levels, 1e6)
	require.NoError(t, err)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}

func TestNormsRepeatableOnSingleParticipant(t *testing.T) {
	w, levels := buildLevels(t)
	f, err := TestNorms(w, levels, 5, 50, 1e-6)
	require.NoError(t, err)
	assert.NotEqual(t, SeverityFailure, f.Severity, f.Message)
}
