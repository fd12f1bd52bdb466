package simkernel

import (
	"container/heap"
	"math/rand"
)

// Callback is a unit of work fired at a virtual timestamp. A callback may
// schedule further callbacks; it runs to completion before the next one
// fires.
type Callback func()

// Handle identifies a scheduled callback for cancellation.
type Handle struct {
	item *event
}

type event struct {
	time      float64
	seq       uint64
	cb        Callback
	cancelled bool
	index     int
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	// seq keeps equal-time events in insertion order so runs are
	// byte-reproducible.
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// Kernel is a single-threaded virtual-clock event loop. All simulation
// state is mutated only from inside callbacks, so no locking is needed
// anywhere above it.
type Kernel struct {
	now    float64
	seq    uint64
	queue  eventHeap
	rng    *rand.Rand
	fired  uint64
	paused bool
}

// New creates a kernel starting at virtual time zero with the given seed.
// The returned kernel owns the only random source of the simulation.
func New(seed int64) *Kernel {
	return &Kernel{rng: rand.New(rand.NewSource(seed))}
}

// Now returns the current virtual time in seconds.
func (k *Kernel) Now() float64 { return k.now }

// Rand returns the shared deterministic random source. Every stochastic
// draw in the simulation must go through it.
func (k *Kernel) Rand() *rand.Rand { return k.rng }

// Fired returns the number of callbacks fired so far.
func (k *Kernel) Fired() uint64 { return k.fired }

// Schedule enqueues cb to fire delay seconds from now. Negative delays are
// clamped to zero.
func (k *Kernel) Schedule(delay float64, cb Callback) Handle {
	if delay < 0 {
		delay = 0
	}
	return k.ScheduleAt(k.now+delay, cb)
}

// ScheduleAt enqueues cb at absolute virtual time t. Times in the past are
// clamped to now.
func (k *Kernel) ScheduleAt(t float64, cb Callback) Handle {
	if t < k.now {
		t = k.now
	}
	ev := &event{time: t, seq: k.seq, cb: cb}
	k.seq++
	heap.Push(&k.queue, ev)
	return Handle{item: ev}
}

// Cancel marks a scheduled callback as cancelled. Idempotent; cancelled
// events are skipped when dequeued.
func (k *Kernel) Cancel(h Handle) {
	if h.item != nil {
		h.item.cancelled = true
	}
}

// Pending reports how many non-cancelled events remain queued.
func (k *Kernel) Pending() int {
	n := 0
	for _, ev := range k.queue {
		if !ev.cancelled {
			n++
		}
	}
	return n
}

// RunUntil fires callbacks in timestamp order until the queue is empty or
// the next event is past tEnd, then advances the clock to tEnd.
func (k *Kernel) RunUntil(tEnd float64) {
	for len(k.queue) > 0 {
		next := k.queue[0]
		if next.time > tEnd {
			break
		}
		heap.Pop(&k.queue)
		if next.cancelled {
			continue
		}
		k.now = next.time
		k.fired++
		next.cb()
	}
	if k.now < tEnd {
		k.now = tEnd
	}
}
