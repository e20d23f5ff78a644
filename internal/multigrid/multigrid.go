// Package multigrid recursively coarsens a Geometry by a factor of 2 in
// each dimension (four levels total) and builds, for each level, a
// ProblemGenerator-produced matrix, its halo plan, and the f2c injection
// map linking it to the next-finer level (spec.md §2.4, §4.4).
package multigrid

import (
	"fmt"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/halo"
	"github.com/hpcg-go/hpcg-go/internal/optimize"
	"github.com/hpcg-go/hpcg-go/internal/sparsematrix"
)

// NumLevels is the fixed number of levels in the hierarchy: the finest
// grid plus three coarsenings (spec.md §2.4: "4 levels total").
const NumLevels = 4

// MGData is the multigrid link carried by every level except the
// coarsest (spec.md §3): the f2c injection array, the coarse-sized
// scratch vectors used during restriction/prolongation, and the
// pre/post-smoother sweep counts (both fixed at 1 by spec.md §4.6).
type MGData struct {
	// F2C has one entry per COARSE local row, giving the fine-grid local
	// row index of that coarse point (spec.md §3: "f2c[k] identifies the
	// fine row at (2ix,2iy,2iz) for coarse row k at (ix,iy,iz)").
	F2C []int

	Rc []float64 // coarse residual scratch, sized to the coarse level's LocalNumCols
	Xc []float64 // coarse solution scratch, sized to the coarse level's LocalNumCols

	PreSmootherSteps  int
	PostSmootherSteps int
}

// Level is one level of the multigrid hierarchy: its geometry, its
// locally-generated matrix and halo plan, and (for every level but the
// coarsest) the link down to the next-coarser level.
type Level struct {
	Geo  *geometry.Geometry
	A    *sparsematrix.Matrix
	Halo *halo.Plan
	MG   *MGData // nil at the coarsest level

	// Problem is this level's row coloring and CSR view, the output of
	// OptimizeProblem (spec.md §4.8), consumed by the optimized kernels.
	Problem *optimize.Problem

	// Ax is reusable scratch for A*x during the V-cycle's residual
	// computation (spec.md §4.6). Sized to LocalNumRows; nil at the
	// coarsest level, which never computes a residual.
	Ax []float64
}

// Build constructs the NumLevels-level hierarchy starting from finestGeo,
// level 0 being the finest. Every level's matrix is generated, its halo
// plan built, and MtxIndG discarded once the plan no longer needs it.
func Build(w *comm.World, finestGeo *geometry.Geometry) ([]*Level, error) {
	levels := make([]*Level, NumLevels)

	geo := finestGeo
	for l := 0; l < NumLevels; l++ {
		m := sparsematrix.Generate(geo)
		plan, err := halo.Build(w, geo, m)
		if err != nil {
			return nil, fmt.Errorf("multigrid: level %d halo setup: %w", l, err)
		}
		m.DiscardGlobalColumns()
		levels[l] = &Level{Geo: geo, A: m, Halo: plan, Problem: optimize.Optimize(geo, m)}

		if l == NumLevels-1 {
			break
		}
		levels[l].Ax = make([]float64, m.LocalNumRows)
		coarseGeo, err := geo.Coarsen()
		if err != nil {
			return nil, fmt.Errorf("multigrid: coarsening level %d: %w", l, err)
		}
		geo = coarseGeo
	}

	// Second pass: now that every level's matrix exists, fill in the f2c
	// map and coarse-sized scratch vectors linking level l to l+1.
	for l := 0; l < NumLevels-1; l++ {
		fine, coarse := levels[l], levels[l+1]
		levels[l].MG = &MGData{
			F2C:               buildF2C(fine.Geo, coarse.Geo),
			Rc:                make([]float64, coarse.A.LocalNumCols),
			Xc:                make([]float64, coarse.A.LocalNumCols),
			PreSmootherSteps:  1,
			PostSmootherSteps: 1,
		}
	}

	return levels, nil
}

// buildF2C computes the fine-to-coarse injection map: for coarse local
// row k at coarse-local coordinate (cx,cy,cz), F2C[k] is the fine local
// row index at (2cx,2cy,2cz) (spec.md §4.4).
func buildF2C(fineGeo, coarseGeo *geometry.Geometry) []int {
	cnx, cny, cnz := coarseGeo.Nx, coarseGeo.Ny, coarseGeo.Nz
	fnx, fny := fineGeo.Nx, fineGeo.Ny

	f2c := make([]int, cnx*cny*cnz)
	k := 0
	for cz := 0; cz < cnz; cz++ {
		for cy := 0; cy < cny; cy++ {
			for cx := 0; cx < cnx; cx++ {
				fx, fy, fz := 2*cx, 2*cy, 2*cz
				f2c[k] = fz*fny*fnx + fy*fnx + fx
				k++
			}
		}
	}
	return f2c
}
