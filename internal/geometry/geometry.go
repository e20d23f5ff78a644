// Package geometry partitions a global logical 3D grid among participants
// and maps each participant to its coordinate in the process grid.
package geometry

import "fmt"

// Geometry describes one participant's view of the global 3D grid: the
// process-grid shape, this participant's coordinate in it, and the local
// box dimensions it owns.
type Geometry struct {
	Rank int
	Size int

	// Local box dimensions.
	Nx, Ny, Nz int

	// Process grid shape; Npx*Npy*Npz == Size.
	Npx, Npy, Npz int

	// This participant's coordinate in the process grid.
	Ipx, Ipy, Ipz int

	// Global grid dimensions.
	Gnx, Gny, Gnz int

	// Pencil mode (nz inflated to Zu on a z-slab of thickness Pz,
	// deflated to Zl elsewhere). Zero value means uniform nz. Carried
	// per spec, but intentionally never exercised by kernels — see
	// Validate.
	Pz, Zl, Zu int
}

// MaxAspectRatio bounds npx:npy:npz divisor triples accepted by New: a
// triple is rejected if the ratio of its largest to its smallest
// process-grid extent exceeds this bound, matching spec.md's "reject any
// P that yields aspect ratios outside a configured bound."
const MaxAspectRatio = 16.0

// New builds the Geometry for participant `rank` out of `size` participants,
// given the requested local box (nx,ny,nz). It chooses (npx,npy,npz) with
// npx*npy*npz == size minimizing the surface-to-volume ratio of the local
// box: nx*ny*npz + nx*nz*npy + ny*nz*npx, over all divisor triples of size.
func New(rank, size, nx, ny, nz int) (*Geometry, error) {
	return NewWithProcessGrid(rank, size, nx, ny, nz, 0, 0, 0)
}

// NewWithProcessGrid is New, but accepts an explicit process-grid shape
// (spec.md §6's --npx/--npy/--npz flags). Passing npx=npy=npz=0 falls
// back to the auto-chosen surface-minimizing triple; otherwise the given
// triple is used as-is: it must multiply to size and still passes through
// Validate, but it is not checked against MaxAspectRatio.
func NewWithProcessGrid(rank, size, nx, ny, nz, npx, npy, npz int) (*Geometry, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("geometry: rank %d out of range for size %d", rank, size)
	}
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("geometry: local dims must be positive, got (%d,%d,%d)", nx, ny, nz)
	}

	if npx == 0 && npy == 0 && npz == 0 {
		var err error
		npx, npy, npz, err = bestProcessGrid(size, nx, ny, nz)
		if err != nil {
			return nil, err
		}
	} else if npx*npy*npz != size {
		return nil, fmt.Errorf("geometry: explicit process grid %dx%dx%d does not multiply to participant count %d", npx, npy, npz, size)
	}

	g := &Geometry{
		Rank: rank,
		Size: size,
		Nx:   nx, Ny: ny, Nz: nz,
		Npx: npx, Npy: npy, Npz: npz,
		Gnx: nx * npx, Gny: ny * npy, Gnz: nz * npz,
	}
	g.Ipx = rank % npx
	g.Ipy = (rank / npx) % npy
	g.Ipz = rank / (npx * npy)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// bestProcessGrid enumerates all divisor triples (npx,npy,npz) of size and
// returns the one minimizing surface area nx*ny*npz + nx*nz*npy + ny*nz*npx,
// rejecting triples whose implied aspect ratio exceeds MaxAspectRatio.
func bestProcessGrid(size, nx, ny, nz int) (int, int, int, error) {
	type triple struct{ px, py, pz int }
	var best triple
	bestArea := -1.0
	found := false

	for px := 1; px <= size; px++ {
		if size%px != 0 {
			continue
		}
		rem := size / px
		for py := 1; py <= rem; py++ {
			if rem%py != 0 {
				continue
			}
			pz := rem / py

			if aspectRatio(px, py, pz) > MaxAspectRatio {
				continue
			}

			area := float64(nx*ny*pz) + float64(nx*nz*py) + float64(ny*nz*px)
			if !found || area < bestArea {
				found = true
				bestArea = area
				best = triple{px, py, pz}
			}
		}
	}

	if !found {
		return 0, 0, 0, fmt.Errorf("geometry: no process-grid factorization of %d participants satisfies the aspect-ratio bound", size)
	}
	return best.px, best.py, best.pz, nil
}

func aspectRatio(px, py, pz int) float64 {
	mx, mn := float64(px), float64(px)
	for _, v := range []int{py, pz} {
		f := float64(v)
		if f > mx {
			mx = f
		}
		if f < mn {
			mn = f
		}
	}
	if mn == 0 {
		return mx
	}
	return mx / mn
}

// Validate checks the invariants spec.md §3 requires of a Geometry: even
// local dims (four-level coarsening needs nx,ny,nz divisible by 8), a
// consistent process-grid participant count, and (per spec.md §9) that
// pencil mode is not engaged, since only the uniform-nz path is a
// conformant run.
func (g *Geometry) Validate() error {
	if g.Npx*g.Npy*g.Npz != g.Size {
		return fmt.Errorf("geometry: process grid %dx%dx%d does not multiply to participant count %d", g.Npx, g.Npy, g.Npz, g.Size)
	}
	for name, d := range map[string]int{"nx": g.Nx, "ny": g.Ny, "nz": g.Nz} {
		if d%8 != 0 {
			return fmt.Errorf("geometry: local dim %s=%d is not a multiple of 8 (required for 4-level coarsening)", name, d)
		}
	}
	if g.Pz != 0 || g.Zl != 0 || g.Zu != 0 {
		return fmt.Errorf("geometry: pencil mode (pz=%d,zl=%d,zu=%d) is not a conformant run; only uniform nz is supported", g.Pz, g.Zl, g.Zu)
	}
	return nil
}

// Coarsen returns the Geometry for the next-coarser multigrid level,
// halving each local and global dimension. The process grid and this
// participant's coordinate in it are unchanged across levels.
func (g *Geometry) Coarsen() (*Geometry, error) {
	if g.Nx%2 != 0 || g.Ny%2 != 0 || g.Nz%2 != 0 {
		return nil, fmt.Errorf("geometry: cannot coarsen odd local dims (%d,%d,%d)", g.Nx, g.Ny, g.Nz)
	}
	c := &Geometry{
		Rank: g.Rank, Size: g.Size,
		Nx: g.Nx / 2, Ny: g.Ny / 2, Nz: g.Nz / 2,
		Npx: g.Npx, Npy: g.Npy, Npz: g.Npz,
		Ipx: g.Ipx, Ipy: g.Ipy, Ipz: g.Ipz,
		Gnx: g.Gnx / 2, Gny: g.Gny / 2, Gnz: g.Gnz / 2,
	}
	return c, nil
}

// LocalNumRows is the number of grid points owned by this participant.
func (g *Geometry) LocalNumRows() int { return g.Nx * g.Ny * g.Nz }

// GlobalOrigin returns the global grid coordinate of this participant's
// local (0,0,0) point.
func (g *Geometry) GlobalOrigin() (ox, oy, oz int) {
	return g.Ipx * g.Nx, g.Ipy * g.Ny, g.Ipz * g.Nz
}

// OwnerOfGlobal returns the rank owning global grid coordinate (gx,gy,gz).
func (g *Geometry) OwnerOfGlobal(gx, gy, gz int) int {
	px := gx / g.Nx
	py := gy / g.Ny
	pz := gz / g.Nz
	return pz*g.Npx*g.Npy + py*g.Npx + px
}

// GlobalIndex linearizes a global grid coordinate into a row id, matching
// spec.md §4.2: gix + giy*gnx + giz*gnx*gny.
func (g *Geometry) GlobalIndex(gx, gy, gz int) int64 {
	return int64(gx) + int64(gy)*int64(g.Gnx) + int64(gz)*int64(g.Gnx)*int64(g.Gny)
}

// InvertGlobalIndex recovers the global grid coordinate from a linearized
// row id produced by GlobalIndex.
func (g *Geometry) InvertGlobalIndex(gid int64) (gx, gy, gz int) {
	gx = int(gid % int64(g.Gnx))
	gy = int((gid / int64(g.Gnx)) % int64(g.Gny))
	gz = int(gid / (int64(g.Gnx) * int64(g.Gny)))
	return
}

// LocalIndexOfOwned returns the local row index of global coordinate
// (gx,gy,gz), which must be owned by this participant (i.e.
// OwnerOfGlobal(gx,gy,gz) == g.Rank). The local linearization matches the
// nested iz,iy,ix enumeration ProblemGenerator uses to assign row numbers:
// a participant's owned box is contiguous in LOCAL index space even though
// it is generally NOT contiguous in the global linearization once more
// than one of npx,npy,npz exceeds 1.
func (g *Geometry) LocalIndexOfOwned(gx, gy, gz int) int {
	ox, oy, oz := g.GlobalOrigin()
	lx, ly, lz := gx-ox, gy-oy, gz-oz
	return lz*g.Nx*g.Ny + ly*g.Nx + lx
}
