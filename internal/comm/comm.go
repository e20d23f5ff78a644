// Package comm is the participant bootstrap and message-passing layer: it
// wraps github.com/btracey/mpi's Init/Rank/Size/Send/Receive/Wait primitives
// with the halo-exchange and global-reduction operations the benchmark
// needs, and falls back to an in-process no-op transport when running with
// a single participant (spec.md §4.3: "a no-op in single-participant
// configurations").
package comm

import (
	"sort"
	"sync"

	"github.com/btracey/mpi"
)

// transport is the point-to-point primitive comm.World drives: Send
// posts a payload (returning once the library has queued it, not once
// it's been received), Wait blocks until the destination has called
// Receive for that (dst,tag) pair, and Receive blocks until a payload
// tagged tag has arrived from src. mpiTransport wraps btracey/mpi's
// package-level functions; loopbackTransport (loopback.go) simulates the
// same contract in-process so tests can drive >1 participant without a
// real mpi launcher.
type transport interface {
	Send(payload interface{}, dst, tag int) error
	Receive(out interface{}, src, tag int) error
	Wait(dst, tag int) error
}

type mpiTransport struct{}

func (mpiTransport) Send(payload interface{}, dst, tag int) error { return mpi.Send(payload, dst, tag) }
func (mpiTransport) Receive(out interface{}, src, tag int) error  { return mpi.Receive(out, src, tag) }
func (mpiTransport) Wait(dst, tag int) error                      { return mpi.Wait(dst, tag) }

// World is the bootstrap handle for this run: rank and participant count,
// established once at process start and never mutated afterward.
type World struct {
	rank int
	size int
	tr   transport
}

// Init brings up the message-passing substrate and returns this
// participant's World. It must be called exactly once, before any other
// comm operation, matching the teacher corpus's mpi.Init()/mpi.Finalize()
// bracketing convention.
func Init() (*World, error) {
	if err := mpi.Init(); err != nil {
		return nil, err
	}
	return &World{rank: mpi.Rank(), size: mpi.Size(), tr: mpiTransport{}}, nil
}

// NewSingle returns a World for a single-participant run without bringing
// up the mpi transport, matching spec.md §4.3's "a no-op in
// single-participant configurations" for every comm operation. Used by
// tests and by cmd/hpcg-go when run without a launcher.
func NewSingle() *World { return &World{rank: 0, size: 1} }

// Finalize tears down the message-passing substrate.
func Finalize() { mpi.Finalize() }

// Rank returns this participant's rank, 0 <= Rank() < Size().
func (w *World) Rank() int { return w.rank }

// Size returns the total participant count.
func (w *World) Size() int { return w.size }

// Broadcast sends the ten-integer parameter vector (spec.md §6: "rank 0
// reads the options file and broadcasts the ten-integer parameter vector")
// from rank 0 to every other participant, and is a no-op when Size()==1.
func (w *World) Broadcast(params *[10]int64) error {
	if w.size <= 1 {
		return nil
	}
	const tag = 0
	if w.rank == 0 {
		var wg sync.WaitGroup
		errs := make([]error, w.size)
		for dst := 1; dst < w.size; dst++ {
			wg.Add(1)
			go func(dst int) {
				defer wg.Done()
				errs[dst] = w.tr.Send(*params, dst, tag)
			}(dst)
		}
		wg.Wait()
		for dst := 1; dst < w.size; dst++ {
			if errs[dst] != nil {
				return errs[dst]
			}
			if err := w.tr.Wait(dst, tag); err != nil {
				return err
			}
		}
		return nil
	}
	return w.tr.Receive(params, 0, tag)
}

// Allreduce sums local across all participants and returns the total,
// synchronizing all participants before returning (spec.md §5: "DOT's
// global reduction synchronizes all participants before alpha or beta is
// computed"). Participants are summed in rank order for determinism
// (spec.md §9); with a single participant it returns local unchanged.
func (w *World) Allreduce(local float64) (float64, error) {
	if w.size <= 1 {
		return local, nil
	}

	const tag = 1
	if w.rank == 0 {
		total := local
		partials := make([]float64, w.size)
		var wg sync.WaitGroup
		errs := make([]error, w.size)
		for src := 1; src < w.size; src++ {
			wg.Add(1)
			go func(src int) {
				defer wg.Done()
				errs[src] = w.tr.Receive(&partials[src], src, tag)
			}(src)
		}
		wg.Wait()
		for src := 1; src < w.size; src++ {
			if errs[src] != nil {
				return 0, errs[src]
			}
			total += partials[src]
		}
		// Broadcast the total back out.
		errs = make([]error, w.size)
		var wg2 sync.WaitGroup
		for dst := 1; dst < w.size; dst++ {
			wg2.Add(1)
			go func(dst int) {
				defer wg2.Done()
				errs[dst] = w.tr.Send(total, dst, tag+1)
			}(dst)
		}
		wg2.Wait()
		for dst := 1; dst < w.size; dst++ {
			if errs[dst] != nil {
				return 0, errs[dst]
			}
			if err := w.tr.Wait(dst, tag+1); err != nil {
				return 0, err
			}
		}
		return total, nil
	}

	if err := w.tr.Send(local, 0, tag); err != nil {
		return 0, err
	}
	if err := w.tr.Wait(0, tag); err != nil {
		return 0, err
	}
	var total float64
	if err := w.tr.Receive(&total, 0, tag+1); err != nil {
		return 0, err
	}
	return total, nil
}

// SendMessage sends an arbitrary setup-time payload to dst tagged with tag,
// waiting for delivery confirmation before returning. Used by the halo
// planner's pairwise handshake, where payloads are small structs rather
// than the flat float64 buffers the steady-state exchange methods move.
func (w *World) SendMessage(tag, dst int, payload interface{}) error {
	if err := w.tr.Send(payload, dst, tag); err != nil {
		return err
	}
	return w.tr.Wait(dst, tag)
}

// ReceiveMessage blocks until the payload tagged tag arrives from src and
// deserializes it into out (a pointer), mirroring SendMessage.
func (w *World) ReceiveMessage(tag, src int, out interface{}) error {
	return w.tr.Receive(out, src, tag)
}

// NeighborExchange describes, for one neighbor rank, the slice of the send
// buffer to transmit and the count of values expected back.
type NeighborExchange struct {
	Rank      int
	SendCount int
	RecvCount int
}

// ExchangeHalo implements the two-sided asynchronous halo exchange of
// spec.md §4.3: post asynchronous receives into x's halo slots, gather
// send buffers from elementsToSend, post asynchronous sends, wait on all
// receives before returning (sends are confirmed in a subsequent Wait).
// recvOffsets[i] gives the offset into x (>= localNumRows) where neighbor
// i's received values land; sendBuf is a packed, per-neighbor-contiguous
// buffer already gathered by the caller via elementsToSend.
func (w *World) ExchangeHalo(neighbors []NeighborExchange, sendBuf []float64, sendOffsets []int, x []float64, recvOffsets []int) error {
	if w.size <= 1 || len(neighbors) == 0 {
		return nil
	}

	const tag = 2
	var wg sync.WaitGroup
	recvErrs := make([]error, len(neighbors))
	for i, n := range neighbors {
		wg.Add(1)
		go func(i int, n NeighborExchange) {
			defer wg.Done()
			buf := make([]float64, n.RecvCount)
			if err := w.tr.Receive(&buf, n.Rank, tag); err != nil {
				recvErrs[i] = err
				return
			}
			copy(x[recvOffsets[i]:recvOffsets[i]+n.RecvCount], buf)
		}(i, n)
	}

	sendErrs := make([]error, len(neighbors))
	for i, n := range neighbors {
		chunk := sendBuf[sendOffsets[i] : sendOffsets[i]+n.SendCount]
		sendErrs[i] = w.tr.Send(chunk, n.Rank, tag)
	}

	wg.Wait()
	for _, err := range recvErrs {
		if err != nil {
			return err
		}
	}
	for i, n := range neighbors {
		if sendErrs[i] != nil {
			return sendErrs[i]
		}
		if err := w.tr.Wait(n.Rank, tag); err != nil {
			return err
		}
	}
	return nil
}

// SortNeighbors orders neighbor exchange descriptors by rank, matching the
// deterministic, rank-ordered enumeration spec.md §5 requires of
// reductions and assumed by the wire contract of elementsToSend (spec.md
// §3).
func SortNeighbors(n []NeighborExchange) {
	sort.Slice(n, func(i, j int) bool { return n[i].Rank < n[j].Rank })
}
