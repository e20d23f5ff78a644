// Package report writes the benchmark's YAML summary document (spec.md
// §6): geometry, iteration count, per-phase timings, residual trace,
// validation outcomes, and the GFLOP/s figure-of-merit. Marshaled with
// ghodss/yaml, following the struct-tag style of the pack's
// InputParameters2D/3D YAML types.
package report

import (
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/hpcg-go/hpcg-go/internal/validate"
)

// GeometrySummary mirrors the fields of the run's finest-level Geometry
// that are worth reporting (spec.md §6).
type GeometrySummary struct {
	Nx, Ny, Nz    int `yaml:"Nx"`
	Npx, Npy, Npz int `yaml:"Npx"`
	Gnx, Gny, Gnz int `yaml:"Gnx"`
	Participants  int `yaml:"Participants"`
}

// PhaseTimings holds the durations, in seconds, of each named phase
// (spec.md §3's "PhaseTimings", §6's "time per phase").
type PhaseTimings struct {
	SetupSeconds  float64 `yaml:"SetupSeconds"`
	SPMVSeconds   float64 `yaml:"SPMVSeconds"`
	MGSeconds     float64 `yaml:"MGSeconds"`
	DotSeconds    float64 `yaml:"DotSeconds"`
	WAXPBYSeconds float64 `yaml:"WAXPBYSeconds"`
	TotalSeconds  float64 `yaml:"TotalCGSeconds"`
}

// ValidationOutcome is the YAML-friendly projection of one validate.Finding.
type ValidationOutcome struct {
	Check    string `yaml:"Check"`
	Severity string `yaml:"Severity"`
	Message  string `yaml:"Message"`
}

// Document is the complete YAML report rank 0 writes at the end of a run.
type Document struct {
	Geometry        GeometrySummary     `yaml:"Geometry"`
	Iterations      int                 `yaml:"Iterations"`
	Timings         PhaseTimings        `yaml:"Timings"`
	ResidualTrace   []float64           `yaml:"ResidualTrace"`
	Normr           float64             `yaml:"FinalResidualNorm"`
	Normr0          float64             `yaml:"InitialResidualNorm"`
	Validations     []ValidationOutcome `yaml:"Validations"`
	Conformant      bool                `yaml:"Conformant"`
	GFLOPS          float64             `yaml:"GFLOPS"`
}

// FromFindings projects validate.Finding values into the report's
// YAML-friendly shape and determines overall conformance: any
// SeverityFailure makes the run non-conformant (spec.md §4.9, §7).
func FromFindings(findings []validate.Finding) ([]ValidationOutcome, bool) {
	outcomes := make([]ValidationOutcome, 0, len(findings))
	conformant := true
	for _, f := range findings {
		outcomes = append(outcomes, ValidationOutcome{
			Check:    f.Check,
			Severity: f.Severity.String(),
			Message:  f.Message,
		})
		if f.Severity == validate.SeverityFailure {
			conformant = false
		}
	}
	return outcomes, conformant
}

// Marshal renders doc as a YAML document.
func Marshal(doc *Document) ([]byte, error) {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("report: marshaling YAML: %w", err)
	}
	return b, nil
}

// GFLOPS computes the figure-of-merit: total floating-point operations
// counted over the CG run, divided by measured wall-clock time (spec.md
// §6). flops should already include the per-iteration SPMV/SYMGS/WAXPBY/
// DOT operation counts summed across every phase of every iteration.
func GFLOPS(flops float64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return flops / seconds / 1e9
}
