// Package sparsematrix materializes the local rows of the 27-point-stencil
// sparse operator for a Geometry, together with the right-hand side,
// exact solution, initial guess, and matrix diagonal (spec.md §3, §4.2).
package sparsematrix

import (
	"sort"

	"github.com/hpcg-go/hpcg-go/internal/geometry"
)

// externalMapEntry is one row of the sorted (global id -> local id) table
// used to intern off-process column references, per spec.md §9: "a flat
// sorted array of (global_id, local_id) suffices; insertion rare, lookup
// dense during matrix assembly."
type externalMapEntry struct {
	GlobalID int64
	LocalID  int
}

// Matrix is the local rows of A, plus the problem's right-hand side,
// exact solution, initial guess, and diagonal, for one Geometry level.
type Matrix struct {
	Geo *geometry.Geometry

	LocalNumRows int
	LocalNumCols int // LocalNumRows + len(external map), set by Generate

	TotalNumRows     int64
	TotalNumNonzeros int64

	NonzerosInRow  []int8
	MtxIndL        [][]int   // local column indices, one slice per row
	MtxIndG        [][]int64 // global column indices; retained until halo setup
	MatrixValues   [][]float64
	MatrixDiagonal []int // index into MtxIndL[i]/MatrixValues[i] of the diagonal entry

	B       []float64 // right-hand side
	Xexact  []float64 // exact solution, all ones
	X0      []float64 // initial guess, all zero
	Diag    []float64 // matrixDiagonal[i] values, one per owned row

	// externalMap interns foreign global column ids to local indices
	// starting at LocalNumRows, ordered by (owning rank, global id) so a
	// neighbor's halo slots form a contiguous range. externalLookup holds
	// the same entries sorted by GlobalID for lookupExternal's binary
	// search.
	externalMap    []externalMapEntry
	externalLookup []externalMapEntry
}

// stencilOffsets enumerates the 27 neighbor offsets of the 3D 27-point
// stencil, self offset (0,0,0) first so index 0 is always the diagonal.
var stencilOffsets = func() [27][3]int {
	var offs [27][3]int
	idx := 0
	// self first
	offs[idx] = [3]int{0, 0, 0}
	idx++
	for sz := -1; sz <= 1; sz++ {
		for sy := -1; sy <= 1; sy++ {
			for sx := -1; sx <= 1; sx++ {
				if sx == 0 && sy == 0 && sz == 0 {
					continue
				}
				offs[idx] = [3]int{sx, sy, sz}
				idx++
			}
		}
	}
	return offs
}()

// Generate builds the local rows of A for geo, following spec.md §4.2:
// enumerate owned points, enumerate the 27 stencil offsets, skip offsets
// that fall outside the global grid, emit a constant 26.0 on the diagonal
// and -1 off-diagonal, derive b_i by the row-sum rule against an implicit
// all-ones exact solution (interior rows thus get b_i = 0, boundary rows
// get b_i = the count of off-grid neighbors they omitted).
func Generate(geo *geometry.Geometry) *Matrix {
	nrows := geo.LocalNumRows()
	m := &Matrix{
		Geo:            geo,
		LocalNumRows:   nrows,
		NonzerosInRow:  make([]int8, nrows),
		MtxIndL:        make([][]int, nrows),
		MtxIndG:        make([][]int64, nrows),
		MatrixValues:   make([][]float64, nrows),
		MatrixDiagonal: make([]int, nrows),
		B:              make([]float64, nrows),
		Xexact:         make([]float64, nrows),
		X0:             make([]float64, nrows),
		Diag:           make([]float64, nrows),
	}

	ox, oy, oz := geo.GlobalOrigin()

	row := 0
	for iz := 0; iz < geo.Nz; iz++ {
		for iy := 0; iy < geo.Ny; iy++ {
			for ix := 0; ix < geo.Nx; ix++ {
				gx, gy, gz := ox+ix, oy+iy, oz+iz

				var cols []int64
				var vals []float64

				for _, off := range stencilOffsets {
					nx, ny, nz := gx+off[0], gy+off[1], gz+off[2]
					if nx < 0 || nx >= geo.Gnx || ny < 0 || ny >= geo.Gny || nz < 0 || nz >= geo.Gnz {
						continue
					}
					gcol := geo.GlobalIndex(nx, ny, nz)
					var v float64
					if off == [3]int{0, 0, 0} {
						// The diagonal is a constant 26.0 everywhere, interior
						// or boundary (spec.md §3): boundary rows simply omit
						// the off-diagonal entries that would have stepped
						// outside the global grid, rather than inflating the
						// diagonal to compensate.
						v = 26.0
					} else {
						v = -1.0
					}
					cols = append(cols, gcol)
					vals = append(vals, v)
				}

				m.MtxIndG[row] = cols
				m.MatrixValues[row] = vals
				m.NonzerosInRow[row] = int8(len(cols))
				m.MatrixDiagonal[row] = 0 // self is always index 0
				m.Diag[row] = vals[0]

				// b_i = sum_j A_ij * 1 (row-sum rule, spec.md §4.2/§9).
				var rowSum float64
				for _, v := range vals {
					rowSum += v
				}
				m.B[row] = rowSum
				m.Xexact[row] = 1.0
				m.X0[row] = 0.0

				row++
			}
		}
	}

	m.TotalNumRows = int64(nrows) * int64(geo.Size)
	var localNz int64
	for _, n := range m.NonzerosInRow {
		localNz += int64(n)
	}
	m.TotalNumNonzeros = localNz * int64(geo.Size)

	m.internLocalColumns()
	return m
}

// internLocalColumns converts MtxIndG entries into local column indices:
// owned columns map directly to their local row id; foreign columns are
// collected once each and interned into externalMap with consecutive local
// ids starting at LocalNumRows, ordered by owning rank and then by global
// id (spec.md §4.2, §9).
func (m *Matrix) internLocalColumns() {
	geo := m.Geo

	// A participant's owned box is contiguous in LOCAL index space but
	// generally NOT in the global linearization once more than one of
	// npx,npy,npz exceeds 1 (spec.md §4.2's "owned columns ... become
	// local indices directly" holds per-coordinate, not via a contiguous
	// global-id range). So ownership and local row id are both derived
	// from the global grid coordinate, never from a global-id interval.
	isOwned := func(g int64) (int, bool) {
		gx, gy, gz := geo.InvertGlobalIndex(g)
		if geo.OwnerOfGlobal(gx, gy, gz) != geo.Rank {
			return 0, false
		}
		return geo.LocalIndexOfOwned(gx, gy, gz), true
	}

	// First pass: collect distinct foreign globals in the order first seen.
	seen := make(map[int64]bool)
	var foreign []int64
	for _, cols := range m.MtxIndG {
		for _, g := range cols {
			if _, owned := isOwned(g); owned {
				continue
			}
			if !seen[g] {
				seen[g] = true
				foreign = append(foreign, g)
			}
		}
	}

	// Assign LocalIDs grouped by owning rank (then by global id within a
	// rank) rather than by raw global-id order: this is what keeps one
	// neighbor's halo slots contiguous in local index space, which is the
	// wire contract halo.Plan's per-neighbor offsets rely on (spec.md §3).
	ownerOf := func(g int64) int {
		gx, gy, gz := geo.InvertGlobalIndex(g)
		return geo.OwnerOfGlobal(gx, gy, gz)
	}
	sort.Slice(foreign, func(i, j int) bool {
		oi, oj := ownerOf(foreign[i]), ownerOf(foreign[j])
		if oi != oj {
			return oi < oj
		}
		return foreign[i] < foreign[j]
	})

	m.externalMap = make([]externalMapEntry, 0, len(foreign))
	for i, g := range foreign {
		m.externalMap = append(m.externalMap, externalMapEntry{GlobalID: g, LocalID: m.LocalNumRows + i})
	}
	// A second copy, sorted by GlobalID, backs the binary-search lookup
	// used while assembling MtxIndL below; LocalID values are unchanged.
	m.externalLookup = append([]externalMapEntry(nil), m.externalMap...)
	sort.Slice(m.externalLookup, func(i, j int) bool { return m.externalLookup[i].GlobalID < m.externalLookup[j].GlobalID })

	m.LocalNumCols = m.LocalNumRows + len(foreign)

	for row, cols := range m.MtxIndG {
		local := make([]int, len(cols))
		for j, g := range cols {
			if li, owned := isOwned(g); owned {
				local[j] = li
			} else {
				local[j] = m.lookupExternal(g)
			}
		}
		m.MtxIndL[row] = local
	}
}

// lookupExternal binary-searches the global-id-sorted lookup table for g,
// returning its local id. Panics if g was not interned, which would
// indicate an internal invariant violation (every foreign global seen
// during generation is interned).
func (m *Matrix) lookupExternal(g int64) int {
	lo, hi := 0, len(m.externalLookup)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.externalLookup[mid].GlobalID < g {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(m.externalLookup) && m.externalLookup[lo].GlobalID == g {
		return m.externalLookup[lo].LocalID
	}
	panic("sparsematrix: external global column not interned")
}

// ExternalGlobalIDs returns the foreign global column ids in local-index
// order (i.e. ExternalGlobalIDs()[k] is the global id of local index
// LocalNumRows+k, grouped contiguously by owning rank). Used by the halo
// package to build the receive schedule.
func (m *Matrix) ExternalGlobalIDs() []int64 {
	ids := make([]int64, len(m.externalMap))
	for k, e := range m.externalMap {
		ids[k] = e.GlobalID
	}
	return ids
}

// DiscardGlobalColumns drops MtxIndG once halo setup is complete, per
// spec.md §3 ("may be discarded after halo setup").
func (m *Matrix) DiscardGlobalColumns() {
	m.MtxIndG = nil
}
