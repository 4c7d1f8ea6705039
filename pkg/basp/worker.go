package basp

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerHub runs payload decoding off the event loop.
//
// With a zero queue size a job is accepted only when a worker is idle; with a
// positive size up to that many jobs may wait. TryLaunch never blocks.
type WorkerHub struct {
	jobs   chan func()
	wg     sync.WaitGroup
	closed bool
}

// NewWorkerHub starts workers goroutines. It returns nil when workers <= 0,
// which makes every launch fall back to the caller.
func NewWorkerHub(workers, queue int) *WorkerHub {
	if workers <= 0 {
		return nil
	}
	if queue < 0 {
		queue = 0
	}
	h := &WorkerHub{jobs: make(chan func(), queue)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go h.run()
	}
	zap.L().Debug("basp worker hub started", zap.Int("workers", workers), zap.Int("queue", queue))
	return h
}

func (h *WorkerHub) run() {
	defer h.wg.Done()
	for job := range h.jobs {
		job()
	}
}

// TryLaunch hands job to a worker. It returns false if none is available.
// Not safe for concurrent use with Close.
func (h *WorkerHub) TryLaunch(job func()) bool {
	if h == nil || h.closed {
		return false
	}
	select {
	case h.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for the running ones.
func (h *WorkerHub) Close() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	close(h.jobs)
	h.wg.Wait()
}
