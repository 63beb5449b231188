package mediaworker

import (
	"context"
	"sync"
	"time"
)

// queueItem representa un job esperando un slot del pool.
type queueItem struct {
	priority   int
	fileSize   int64
	enqueuedAt time.Time
	seq        uint64
	ready      chan struct{}
}

// slotQueue administra la admisión de jobs: hasta `max` corriendo a la vez,
// el exceso se encola y se despacha según el comparador del pool.
type slotQueue struct {
	mu     sync.Mutex
	active int
	max    int
	items  []*queueItem
	seq    uint64
	// better decide si a debe despacharse antes que b
	better func(a, b *queueItem) bool
}

func newSlotQueue(max int, better func(a, b *queueItem) bool) *slotQueue {
	return &slotQueue{max: max, better: better}
}

// acquire bloquea hasta obtener un slot o hasta que el contexto se cancele.
func (q *slotQueue) acquire(ctx context.Context, priority int, fileSize int64) error {
	q.mu.Lock()
	if q.active < q.max {
		q.active++
		q.mu.Unlock()
		return nil
	}

	q.seq++
	item := &queueItem{
		priority:   priority,
		fileSize:   fileSize,
		enqueuedAt: time.Now(),
		seq:        q.seq,
		ready:      make(chan struct{}),
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case <-item.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, it := range q.items {
			if it == item {
				q.items = append(q.items[:i], q.items[i+1:]...)
				q.mu.Unlock()
				return ctx.Err()
			}
		}
		q.mu.Unlock()
		// El slot ya fue transferido a este item; devolverlo.
		q.release()
		return ctx.Err()
	}
}

// release entrega el slot al mejor item encolado, o libera la cuota.
func (q *slotQueue) release() {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.active--
		q.mu.Unlock()
		return
	}

	best := 0
	for i := 1; i < len(q.items); i++ {
		if q.better(q.items[i], q.items[best]) {
			best = i
		}
	}
	item := q.items[best]
	q.items = append(q.items[:best], q.items[best+1:]...)
	q.mu.Unlock()

	close(item.ready)
}

func (q *slotQueue) stats() (active, queued, max int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active, len(q.items), q.max
}

// betterByPriorityFIFO: prioridad mayor primero, FIFO entre iguales.
func betterByPriorityFIFO(a, b *queueItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// betterByPrioritySizeFIFO: prioridad, luego tamaño (menor primero cuando la
// diferencia supera 1 MiB), luego FIFO.
func betterByPrioritySizeFIFO(a, b *queueItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	diff := a.fileSize - b.fileSize
	if diff < 0 {
		diff = -diff
	}
	if diff > 1024*1024 {
		return a.fileSize < b.fileSize
	}
	return a.seq < b.seq
}
