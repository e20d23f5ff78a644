package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcg-go/hpcg-go/internal/validate"
)

func TestFromFindingsConformantWhenNoFailures(t *testing.T) {
	findings := []validate.Finding{
		{Check: "a", Severity: validate.SeverityInfo, Message: "ok"},
		{Check: "b", Severity: validate.SeverityWarning, Message: "mind this"},
	}
	outcomes, conformant := FromFindings(findings)
	assert.True(t, conformant)
	assert.Len(t, outcomes, 2)
	assert.Equal(t, "warning", outcomes[1].Severity)
}

func TestFromFindingsNonConformantOnFailure(t *testing.T) {
	findings := []validate.Finding{
		{Check: "a", Severity: validate.SeverityInfo, Message: "ok"},
		{Check: "b", Severity: validate.SeverityFailure, Message: "broke"},
	}
	_, conformant := FromFindings(findings)
	assert.False(t, conformant)
}

func TestMarshalProducesYAML(t *testing.T) {
	doc := &Document{
		Geometry:      GeometrySummary{Nx: 16, Ny: 16, Nz: 16, Npx: 1, Npy: 1, Npz: 1, Gnx: 16, Gny: 16, Gnz: 16, Participants: 1},
		Iterations:    50,
		ResidualTrace: []float64{1.0, 0.5, 0.1},
		Normr:         0.1,
		Normr0:        1.0,
		Conformant:    true,
		GFLOPS:        1.23,
	}
	b, err := Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Iterations: 50")
	assert.Contains(t, string(b), "Conformant: true")
}

func TestGFLOPS(t *testing.T) {
	assert.InDelta(t, 2.0, GFLOPS(2e9, 1.0), 1e-9)
	assert.Equal(t, 0.0, GFLOPS(2e9, 0))
	assert.Equal(t, 0.0, GFLOPS(2e9, -1))
}
