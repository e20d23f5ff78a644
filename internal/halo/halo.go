// Package halo builds the send/receive neighbor lists and index schedules
// that support boundary exchange of a distributed vector (spec.md §3, §4.3:
// HaloPlanner). Once built, halo exchange is purely index-driven: Build
// runs only during problem setup, and Plan.Exchange then performs the
// exchange that every SPMV/SYMGS call starts with.
package halo

import (
	"sort"
	"sync"

	"github.com/hpcg-go/hpcg-go/internal/comm"
	"github.com/hpcg-go/hpcg-go/internal/geometry"
	"github.com/hpcg-go/hpcg-go/internal/sparsematrix"
)

// Plan is the per-level halo exchange schedule: the neighbors to talk to,
// how many elements flow each way, and the packed index lists that make
// ExchangeHalo purely index-driven once setup is complete.
type Plan struct {
	Neighbors []comm.NeighborExchange // sorted by Rank (spec.md §5)

	// ElementsToSend holds, per neighbor and contiguous by neighbor
	// (spec.md §3), the LOCAL row indices this participant must pack and
	// send to that neighbor. SendOffsets[i] is where neighbor i's slice
	// begins in ElementsToSend.
	ElementsToSend []int
	SendOffsets    []int

	// RecvOffsets[i] is where neighbor i's received values land in the
	// halo portion of a Vector (i.e. >= localNumRows).
	RecvOffsets []int
}

// request is the wire message one participant sends to a prospective
// neighbor during setup: "these are the global column ids I want from
// you." An empty WantedGlobalIDs means "I have nothing to ask you, but I
// may still owe you a reply below" (spec.md §4.3's geometric-neighborhood
// handshake).
type request struct {
	WantedGlobalIDs []int64
}

// reply carries the requester's wanted ids back translated to nothing --
// the owner does the translation locally, so the reply is simply an
// acknowledgement the requester's ids were understood. Declared for
// symmetry with request and to keep the wire protocol self-describing.
type reply struct {
	OK bool
}

// Build inspects m's off-process column references and exchanges, with
// every participant geometrically adjacent in the 27-neighborhood of the
// process grid, the global ids each side wants. It returns the completed
// Plan and leaves m.MtxIndG intact; callers should call
// m.DiscardGlobalColumns() once every level's plan has been built.
func Build(w *comm.World, geo *geometry.Geometry, m *sparsematrix.Matrix) (*Plan, error) {
	if w.Size() <= 1 {
		return &Plan{}, nil
	}

	extIDs := m.ExternalGlobalIDs()

	// Bucket my wanted globals by owning rank (these become my recv
	// neighbors) and record, per neighbor, the contiguous halo-slot range
	// assigned to it (externalToLocalMap is already laid out in owner
	// order since sparsematrix assigns local ids sorted by owning rank,
	// then global id; we only need the rank grouping here).
	wantByRank := make(map[int][]int64)
	for _, gid := range extIDs {
		gx, gy, gz := geo.InvertGlobalIndex(gid)
		owner := geo.OwnerOfGlobal(gx, gy, gz)
		wantByRank[owner] = append(wantByRank[owner], gid)
	}

	candidates := geometricNeighborRanks(geo)

	type exchangeResult struct {
		rank      int
		recvCount int
		sendLocal []int // local row indices this participant must send to rank
	}
	results := make([]exchangeResult, len(candidates))

	// Both rounds below post every receive as a goroutine before any
	// SendMessage is issued. SendMessage is Send followed by Wait, and
	// Wait blocks until the peer calls Receive (btracey/mpi's delivery
	// confirmation contract) — since geometric adjacency is mutual, a
	// rank that finishes posting all its sends before starting any
	// receive would deadlock against a neighbor doing the same. Running
	// receives and sends concurrently, the way comm.ExchangeHalo and the
	// corpus's own mpi helloworld example do, avoids that: every rank's
	// receive side is already live by the time anyone's Wait blocks.
	const reqTag = 10
	const ackTag = 11

	requests := make([]request, len(candidates))
	if err := concurrentExchange(w, reqTag, candidates,
		func(i int) interface{} { return request{WantedGlobalIDs: wantByRank[candidates[i]]} },
		func(i int) interface{} { return &requests[i] },
	); err != nil {
		return nil, err
	}

	for i, nbRank := range candidates {
		theirs := requests[i]
		sendLocal := make([]int, len(theirs.WantedGlobalIDs))
		for j, gid := range theirs.WantedGlobalIDs {
			sendLocal[j] = localOwnedIndex(geo, gid)
		}
		results[i] = exchangeResult{rank: nbRank, recvCount: len(wantByRank[nbRank]), sendLocal: sendLocal}
	}

	acks := make([]reply, len(candidates))
	if err := concurrentExchange(w, ackTag, candidates,
		func(i int) interface{} { return reply{OK: true} },
		func(i int) interface{} { return &acks[i] },
	); err != nil {
		return nil, err
	}

	plan := &Plan{}
	recvOffset := m.LocalNumRows
	sendOffset := 0
	// Keep recv offsets consistent with the order externalMap assigned
	// local ids (owner rank ascending, since OwnerOfGlobal groups are
	// visited in candidate order below only after sorting).
	sort.Slice(results, func(i, j int) bool { return results[i].rank < results[j].rank })

	for _, r := range results {
		if r.recvCount == 0 && len(r.sendLocal) == 0 {
			continue
		}
		plan.Neighbors = append(plan.Neighbors, comm.NeighborExchange{
			Rank:      r.rank,
			SendCount: len(r.sendLocal),
			RecvCount: r.recvCount,
		})
		plan.RecvOffsets = append(plan.RecvOffsets, recvOffset)
		plan.SendOffsets = append(plan.SendOffsets, sendOffset)
		plan.ElementsToSend = append(plan.ElementsToSend, r.sendLocal...)
		recvOffset += r.recvCount
		sendOffset += len(r.sendLocal)
	}

	return plan, nil
}

// Exchange performs one round of the halo exchange described in spec.md
// §4.3 for vector x: gather the send buffer from p.ElementsToSend, ship it
// to every neighbor, and scatter what comes back into x's halo slots
// (x[i] for i >= localNumRows). A nil or neighborless Plan is a no-op,
// matching the single-participant case.
func (p *Plan) Exchange(w *comm.World, x []float64) error {
	if p == nil || len(p.Neighbors) == 0 {
		return nil
	}
	sendBuf := make([]float64, len(p.ElementsToSend))
	for i, localIdx := range p.ElementsToSend {
		sendBuf[i] = x[localIdx]
	}
	return w.ExchangeHalo(p.Neighbors, sendBuf, p.SendOffsets, x, p.RecvOffsets)
}

// concurrentExchange runs one tagged request/response-shaped round with
// every rank in candidates, posting each rank's Send and Receive as
// separate goroutines so neither side's mpi.Wait can block waiting on a
// peer that hasn't posted its own Receive yet (see the comment in Build).
// send(i) builds the outgoing payload for candidates[i]; recv(i) returns
// the destination pointer its incoming payload should be decoded into.
func concurrentExchange(w *comm.World, tag int, candidates []int, send func(i int) interface{}, recv func(i int) interface{}) error {
	n := len(candidates)
	errs := make([]error, 2*n)
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i, nbRank := range candidates {
		i, nbRank := i, nbRank
		go func() {
			defer wg.Done()
			errs[i] = w.SendMessage(tag, nbRank, send(i))
		}()
		go func() {
			defer wg.Done()
			errs[n+i] = w.ReceiveMessage(tag, nbRank, recv(i))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// localOwnedIndex converts a global id owned by this participant into its
// local row index.
func localOwnedIndex(geo *geometry.Geometry, gid int64) int {
	gx, gy, gz := geo.InvertGlobalIndex(gid)
	return geo.LocalIndexOfOwned(gx, gy, gz)
}

// geometricNeighborRanks enumerates the distinct ranks in the 26-neighbor
// halo stencil of geo's process-grid coordinate (spec.md §4.3: "an
// all-to-all ... but only with geometric neighbors in the 27-neighborhood").
func geometricNeighborRanks(geo *geometry.Geometry) []int {
	seen := make(map[int]bool)
	var ranks []int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				px, py, pz := geo.Ipx+dx, geo.Ipy+dy, geo.Ipz+dz
				if px < 0 || px >= geo.Npx || py < 0 || py >= geo.Npy || pz < 0 || pz >= geo.Npz {
					continue
				}
				rank := pz*geo.Npx*geo.Npy + py*geo.Npx + px
				if !seen[rank] {
					seen[rank] = true
					ranks = append(ranks, rank)
				}
			}
		}
	}
	sort.Ints(ranks)
	return ranks
}
