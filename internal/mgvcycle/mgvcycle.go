// Package mgvcycle implements one V-cycle of the multigrid preconditioner
// M^-1 r (spec.md §4.6): descend through levels applying a pre-smooth,
// restricting the residual to the coarse grid; at the coarsest level apply
// one SYMGS sweep; ascend prolongating the coarse correction and applying
// a post-smooth.
package mgvcycle

import (
	"fmt"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/kernels/optimized"
	"github.com/hpcg-go/hpcg-go/internal/kernels/reference"
	"github.com/hpcg-go/hpcg-go/internal/multigrid"
)

// Apply computes x <- M^-1 r using the level hierarchy starting at
// levels[0] (the finest), writing the result into x. r is read-only at
// the entry level; x is assumed zeroed by the caller at the top level
// (CGDriver always applies the preconditioner to a fresh residual).
// useOptimized selects the color-scheduled, fork-join SYMGS/SPMV kernels
// over the strictly serial reference kernels (spec.md §4.8). The two
// SYMGS kernels relax rows in different orders, so the two paths give
// different iterates; validate.TestOptimizedKernels checks each SYMGS
// for smoother validity rather than comparing them pointwise.
func Apply(w *comm.World, levels []*multigrid.Level, r, x []float64, useOptimized bool) error {
	return vcycle(w, levels, 0, r, x, useOptimized)
}

func symgs(w *comm.World, lvl *multigrid.Level, useOptimized bool, b, x []float64) error {
	if useOptimized {
		return optimized.SYMGS(w, lvl.Halo, lvl.Problem, lvl.A, b, x)
	}
	return reference.SYMGS(w, lvl.Halo, lvl.A, b, x)
}

func spmv(w *comm.World, lvl *multigrid.Level, useOptimized bool, x, y []float64) error {
	if useOptimized {
		return optimized.SPMV(w, lvl.Halo, lvl.A, x, y)
	}
	return reference.SPMV(w, lvl.Halo, lvl.A, x, y)
}

func vcycle(w *comm.World, levels []*multigrid.Level, l int, r, x []float64, useOptimized bool) error {
	lvl := levels[l]

	if lvl.MG == nil {
		// Coarsest level: one SYMGS sweep and return (spec.md §4.6).
		if err := symgs(w, lvl, useOptimized, r, x); err != nil {
			return fmt.Errorf("mgvcycle: level %d coarsest smooth: %w", l, err)
		}
		return nil
	}

	// Pre-smooth: one SYMGS sweep solving A_l x = r.
	for s := 0; s < lvl.MG.PreSmootherSteps; s++ {
		if err := symgs(w, lvl, useOptimized, r, x); err != nil {
			return fmt.Errorf("mgvcycle: level %d pre-smooth: %w", l, err)
		}
	}

	// Residual s = r - A_l x, restricted to the coarse grid via f2c
	// injection.
	if err := spmv(w, lvl, useOptimized, x, lvl.Ax); err != nil {
		return fmt.Errorf("mgvcycle: level %d residual SPMV: %w", l, err)
	}
	mg := lvl.MG
	reference.Restrict(r, lvl.Ax, mg.F2C, mg.Rc)
	for i := range mg.Xc {
		mg.Xc[i] = 0
	}

	if err := vcycle(w, levels, l+1, mg.Rc, mg.Xc, useOptimized); err != nil {
		return err
	}

	reference.Prolong(mg.F2C, mg.Xc, x)

	// Post-smooth: one SYMGS sweep further refining A_l x = r.
	for s := 0; s < lvl.MG.PostSmootherSteps; s++ {
		if err := symgs(w, lvl, useOptimized, r, x); err != nil {
			return fmt.Errorf("mgvcycle: level %d post-smooth: %w", l, err)
		}
	}
	return nil
}
