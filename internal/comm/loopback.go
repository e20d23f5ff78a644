package comm

import (
	"fmt"
	"reflect"
	"sync"
)

// loopbackBus is the in-process stand-in for the MPI runtime: a set of
// participants exchanging payloads over per-(src,dst,tag) mailboxes. It
// lets tests drive >1 participant's comm.World in a single Go process
// without a real mpi launcher, matching btracey/mpi's Send/Receive/Wait
// contract closely enough that code written against *comm.World (halo.Build,
// ExchangeHalo, Broadcast, Allreduce) is oblivious to which transport is
// underneath.
type loopbackBus struct {
	mu    sync.Mutex
	boxes map[msgKey]chan *msgBox
}

type msgKey struct {
	src, dst, tag int
}

// msgBox carries one in-flight payload plus a channel the receiver closes
// once it has copied the payload out, letting the sender's Wait block on
// exactly that delivery rather than on the mailbox as a whole.
type msgBox struct {
	payload   interface{}
	delivered chan struct{}
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{boxes: make(map[msgKey]chan *msgBox)}
}

func (b *loopbackBus) channel(key msgKey) chan *msgBox {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.boxes[key]
	if !ok {
		ch = make(chan *msgBox, 64)
		b.boxes[key] = ch
	}
	return ch
}

// pendingKey identifies, from one sender's point of view, the most recent
// outstanding send to a given (dst,tag) pair -- enough for Wait to find the
// box it should block on, since btracey/mpi's Wait takes no src and assumes
// at most one outstanding send per (dst,tag) at a time.
type pendingKey struct {
	dst, tag int
}

// loopbackTransport implements transport against a shared loopbackBus,
// simulating the real mpi package's documented contract: Send queues the
// payload and returns immediately; Wait blocks until the peer's Receive has
// copied it out; Receive blocks until a matching payload has arrived.
type loopbackTransport struct {
	rank int
	bus  *loopbackBus

	mu      sync.Mutex
	pending map[pendingKey]*msgBox
}

func (t *loopbackTransport) Send(payload interface{}, dst, tag int) error {
	box := &msgBox{payload: payload, delivered: make(chan struct{})}
	t.bus.channel(msgKey{src: t.rank, dst: dst, tag: tag}) <- box

	t.mu.Lock()
	t.pending[pendingKey{dst: dst, tag: tag}] = box
	t.mu.Unlock()
	return nil
}

func (t *loopbackTransport) Wait(dst, tag int) error {
	t.mu.Lock()
	box, ok := t.pending[pendingKey{dst: dst, tag: tag}]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("comm: loopback Wait(dst=%d,tag=%d) with no outstanding send", dst, tag)
	}
	<-box.delivered

	t.mu.Lock()
	delete(t.pending, pendingKey{dst: dst, tag: tag})
	t.mu.Unlock()
	return nil
}

func (t *loopbackTransport) Receive(out interface{}, src, tag int) error {
	box := <-t.bus.channel(msgKey{src: src, dst: t.rank, tag: tag})
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Ptr {
		return fmt.Errorf("comm: loopback Receive requires a pointer, got %T", out)
	}
	dst.Elem().Set(reflect.ValueOf(box.payload))
	close(box.delivered)
	return nil
}

// NewLoopbackCluster builds size Worlds sharing one in-process loopback
// bus, for tests that need to drive a multi-participant comm.World (halo
// setup handshakes, Broadcast, Allreduce, ExchangeHalo) without a real mpi
// launcher. Each returned World must be driven from its own goroutine,
// exactly as each real mpi rank runs in its own process.
func NewLoopbackCluster(size int) []*World {
	bus := newLoopbackBus()
	worlds := make([]*World, size)
	for r := 0; r < size; r++ {
		worlds[r] = &World{
			rank: r,
			size: size,
			tr: &loopbackTransport{
				rank:    r,
				bus:     bus,
				pending: make(map[pendingKey]*msgBox),
			},
		}
	}
	return worlds
}
