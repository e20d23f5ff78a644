// Command hpcg-go runs the distributed-memory CG/multigrid benchmark
// described in the project's specification: it resolves run parameters
// from flags, positional legacy args, or the hpcg.dat option file
// (spec.md §6), builds the problem and multigrid hierarchy, runs the
// validator suite, executes the timed CG run, and writes a YAML report.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hpcg-go/hpcg-go/internal/cg"
	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/common"
	"github.com/hpcg-go/hpcg-go/internal/config"
	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/multigrid"
	"github.com/hpcg-go/hpcg-go/internal/report"
	"github.com/hpcg-go/hpcg-go/internal/validate"
)

var flagNx, flagNy, flagNz int
var flagRt int
var flagPz, flagZl, flagZu int
var flagNpx, flagNpy, flagNpz int
var flagOptionsFile string

var rootCmd = &cobra.Command{
	Use:   "hpcg-go",
	Short: "Distributed CG/multigrid floating-point and memory-bandwidth benchmark",
	Long: `hpcg-go runs a preconditioned Conjugate Gradient iteration over a
synthetic 27-point-stencil sparse system, preconditioned by a 4-level
geometric multigrid V-cycle with a symmetric Gauss-Seidel smoother.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, args)
	},
}

func init() {
	rootCmd.Flags().IntVar(&flagNx, "nx", 0, "local grid points in x")
	rootCmd.Flags().IntVar(&flagNy, "ny", 0, "local grid points in y")
	rootCmd.Flags().IntVar(&flagNz, "nz", 0, "local grid points in z")
	rootCmd.Flags().IntVar(&flagRt, "rt", 0, "target runtime in seconds")
	rootCmd.Flags().IntVar(&flagPz, "pz", 0, "pencil-mode z-slab thickness")
	rootCmd.Flags().IntVar(&flagZl, "zl", 0, "pencil-mode deflated local nz")
	rootCmd.Flags().IntVar(&flagZu, "zu", 0, "pencil-mode inflated local nz")
	rootCmd.Flags().IntVar(&flagNpx, "npx", 0, "process-grid x extent (0 = auto)")
	rootCmd.Flags().IntVar(&flagNpy, "npy", 0, "process-grid y extent (0 = auto)")
	rootCmd.Flags().IntVar(&flagNpz, "npz", 0, "process-grid z extent (0 = auto)")
	rootCmd.Flags().StringVar(&flagOptionsFile, "options-file", "hpcg.dat", "option file read when no dims are given on the command line")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig implements spec.md §6's precedence: explicit --nx/--ny/--nz
// flags, then legacy positional "nx ny nz [rt]" shorthand, then the
// hpcg.dat options file, followed by the dimension-snapping rule.
func resolveConfig(args []string) (config.RunConfig, error) {
	nx, ny, nz, rt := flagNx, flagNy, flagNz, flagRt
	haveGeometry := nx != 0 || ny != 0 || nz != 0
	haveRunTime := rt != 0

	if !haveGeometry && len(args) >= 3 {
		var err error
		if nx, err = strconv.Atoi(args[0]); err != nil {
			return config.RunConfig{}, fmt.Errorf("parsing positional nx %q: %w", args[0], err)
		}
		if ny, err = strconv.Atoi(args[1]); err != nil {
			return config.RunConfig{}, fmt.Errorf("parsing positional ny %q: %w", args[1], err)
		}
		if nz, err = strconv.Atoi(args[2]); err != nil {
			return config.RunConfig{}, fmt.Errorf("parsing positional nz %q: %w", args[2], err)
		}
		haveGeometry = true
		if len(args) >= 4 {
			if rt, err = strconv.Atoi(args[3]); err != nil {
				return config.RunConfig{}, fmt.Errorf("parsing positional rt %q: %w", args[3], err)
			}
			haveRunTime = true
		}
	}

	if !haveGeometry {
		fileNx, fileNy, fileNz, fileRt, err := config.ReadOptionsFile(flagOptionsFile, haveRunTime)
		if err != nil {
			return config.RunConfig{}, fmt.Errorf("resolving run configuration: %w", err)
		}
		nx, ny, nz = fileNx, fileNy, fileNz
		if !haveRunTime {
			rt = fileRt
		}
	}

	nx, ny, nz = config.SnapDims(nx, ny, nz)

	return config.RunConfig{
		Nx: nx, Ny: ny, Nz: nz,
		Npx: flagNpx, Npy: flagNpy, Npz: flagNpz,
		Pz: flagPz, Zl: flagZl, Zu: flagZu,
		RunTimeSec: rt,
	}, nil
}

const (
	maxCGIterations  = 50
	testNormsRuns    = 10
	symmetryTau      = 10.0
	normsVarThresh   = 1e-6
	diagonalTestBump = 1.0e6
)

func run(cmd *cobra.Command, args []string) error {
	var w *comm.World
	var err error
	if os.Getenv("HPCG_GO_DISTRIBUTED") == "1" {
		w, err = comm.Init()
		if err != nil {
			return fmt.Errorf("initializing message-passing substrate: %w", err)
		}
		defer comm.Finalize()
	} else {
		w = comm.NewSingle()
	}

	// Rank 0 resolves flags/positional args/hpcg.dat, then broadcasts the
	// ten-integer parameter vector (spec.md §6): only rank 0 can be
	// trusted to see the same command line and options file.
	var cfg config.RunConfig
	if w.Rank() == 0 {
		cfg, err = resolveConfig(args)
		if err != nil {
			return err
		}
	}
	vec := cfg.ToVector()
	if err := w.Broadcast(&vec); err != nil {
		return fmt.Errorf("broadcasting run configuration: %w", err)
	}
	cfg = config.FromVector(vec)

	common.TimerStart(common.TimerSetup)
	geo, err := geometry.NewWithProcessGrid(w.Rank(), w.Size(), cfg.Nx, cfg.Ny, cfg.Nz, cfg.Npx, cfg.Npy, cfg.Npz)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	geo.Pz, geo.Zl, geo.Zu = cfg.Pz, cfg.Zl, cfg.Zu
	if err := geo.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	levels, err := multigrid.Build(w, geo)
	if err != nil {
		return fmt.Errorf("building multigrid hierarchy: %w", err)
	}
	common.TimerStop(common.TimerSetup)

	var findings []validate.Finding
	findings = append(findings, validate.CheckProblem(levels[0].A)...)

	symFinding, err := validate.TestSymmetry(w, levels, 42, symmetryTau)
	if err != nil {
		return fmt.Errorf("running TestSymmetry: %w", err)
	}
	findings = append(findings, symFinding)

	optFinding, err := validate.TestOptimizedKernels(w, levels[0], 7)
	if err != nil {
		return fmt.Errorf("running TestOptimizedKernels: %w", err)
	}
	findings = append(findings, optFinding)

	sparseFinding, err := validate.TestSparseSPMVCrossCheck(w, levels[0], 13)
	if err != nil {
		return fmt.Errorf("running TestSparseSPMVCrossCheck: %w", err)
	}
	findings = append(findings, sparseFinding)

	haloFinding, err := validate.TestHaloIdempotence(w, levels[0].Halo, levels[0].A.LocalNumRows, levels[0].A.LocalNumCols)
	if err != nil {
		return fmt.Errorf("running TestHaloIdempotence: %w", err)
	}
	findings = append(findings, haloFinding)

	for l := 0; l < multigrid.NumLevels-1; l++ {
		rtFinding := validate.TestRestrictProlongRoundTrip(levels[l].MG, levels[l].A.LocalNumRows, int64(l+1))
		findings = append(findings, rtFinding)
	}

	cgFinding, err := validate.TestCG(w, levels, diagonalTestBump)
	if err != nil {
		return fmt.Errorf("running TestCG: %w", err)
	}
	findings = append(findings, cgFinding)

	finest := levels[0]
	n := finest.A.LocalNumCols
	x := make([]float64, n)
	st := cg.NewState(n)

	common.TimerStart(common.TimerTotal)
	result, err := cg.Run(w, levels, st, finest.A.B, x, maxCGIterations, 0, true, true)
	common.TimerStop(common.TimerTotal)
	if err != nil {
		return fmt.Errorf("CG run: %w", err)
	}

	normsFinding, err := validate.TestNorms(w, levels, testNormsRuns, maxCGIterations, normsVarThresh)
	if err != nil {
		return fmt.Errorf("running TestNorms: %w", err)
	}
	findings = append(findings, normsFinding)

	if w.Rank() == 0 {
		outcomes, conformant := report.FromFindings(findings)
		doc := &report.Document{
			Geometry: report.GeometrySummary{
				Nx: geo.Nx, Ny: geo.Ny, Nz: geo.Nz,
				Npx: geo.Npx, Npy: geo.Npy, Npz: geo.Npz,
				Gnx: geo.Gnx, Gny: geo.Gny, Gnz: geo.Gnz,
				Participants: w.Size(),
			},
			Iterations:    result.Niters,
			ResidualTrace: result.Trace,
			Normr:         result.Normr,
			Normr0:        result.Normr0,
			Validations:   outcomes,
			Conformant:    conformant,
			Timings: report.PhaseTimings{
				SetupSeconds:  common.TimerRead(common.TimerSetup),
				SPMVSeconds:   common.TimerRead(common.TimerSPMV),
				MGSeconds:     common.TimerRead(common.TimerMG),
				DotSeconds:    common.TimerRead(common.TimerDot),
				WAXPBYSeconds: common.TimerRead(common.TimerWAXPBY),
				TotalSeconds:  common.TimerRead(common.TimerTotal),
			},
			GFLOPS: report.GFLOPS(estimateFlops(finest.A.TotalNumNonzeros, result.Niters), common.TimerRead(common.TimerTotal)),
		}
		out, err := report.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling report: %w", err)
		}
		fmt.Println(string(out))
	}

	return nil
}

// estimateFlops counts 2 flops per nonzero (multiply-add) for each of the
// SPMV calls CG performs per iteration, a coarse approximation of the
// benchmark's figure-of-merit numerator (spec.md §6).
func estimateFlops(totalNonzeros int64, iterations int) float64 {
	const spmvCallsPerIteration = 1
	return 2.0 * float64(totalNonzeros) * float64(iterations) * spmvCallsPerIteration
}
