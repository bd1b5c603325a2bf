// Package parallel runs per-row render work across a fixed set of worker
// goroutines with work stealing.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool executes batches of independent tasks, typically one per scanline
// band of an output frame. Each worker owns a queue and steals from the
// others when its own runs dry, which keeps rays over empty space from
// leaving workers idle while dense rows finish.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// A few buffered slots per worker keep the submit loop ahead of
	// execution without unbounded queue growth.
	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work(i)
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Do distributes tasks round-robin across the workers and blocks until all
// of them have run. If the pool has been closed the tasks are executed
// inline on the caller so rendering still completes.
func (p *Pool) Do(tasks []func()) {
	if len(tasks) == 0 {
		return
	}
	if !p.running.Load() {
		for _, t := range tasks {
			t()
		}
		return
	}

	var pending sync.WaitGroup
	pending.Add(len(tasks))

	for i, task := range tasks {
		run := task
		wrapped := func() {
			defer pending.Done()
			run()
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			// Pool is shutting down; run on the caller instead.
			wrapped()
		}
	}

	pending.Wait()
}

// Close stops the workers after draining their queues.
// Safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case <-p.done:
			drain(own)
			return
		case task := <-own:
			if task != nil {
				task()
			}
		default:
			if task := p.steal(id); task != nil {
				task()
				continue
			}
			// Nothing to steal; block on the own queue.
			select {
			case <-p.done:
				drain(own)
				return
			case task := <-own:
				if task != nil {
					task()
				}
			}
		}
	}
}

// steal takes one task from another worker's queue, if any.
func (p *Pool) steal(self int) func() {
	for i := range p.queues {
		if i == self {
			continue
		}
		select {
		case task := <-p.queues[i]:
			return task
		default:
		}
	}
	return nil
}

func drain(queue chan func()) {
	for {
		select {
		case task := <-queue:
			if task != nil {
				task()
			}
		default:
			return
		}
	}
}
