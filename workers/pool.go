package workers

import (
	"sync"
	"sync/atomic"
)

// Task is one unit of background work.
type Task interface {
	Execute()
}

// TaskFunc adapts a function to Task.
type TaskFunc func()

func (f TaskFunc) Execute() { f() }

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	mu      sync.Mutex
	size    int
	closed  bool
	tasks   chan Task
	kill    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewPool(workers int, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	pool := &Pool{
		tasks: make(chan Task, queue),
		kill:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	pool.Resize(workers)
	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task.Execute()
		case <-p.kill:
			return
		}
	}
}

// Resize grows or shrinks the number of workers. Shrinking waits for busy
// workers to finish their current task but never holds the queue lock while
// doing so.
func (p *Pool) Resize(n int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for p.size < n {
		p.size++
		p.wg.Add(1)
		go p.worker()
	}
	stop := 0
	for p.size > n && p.size > 1 {
		p.size--
		stop++
	}
	p.mu.Unlock()

	for ; stop > 0; stop-- {
		select {
		case p.kill <- struct{}{}:
		case <-p.done:
			return
		}
	}
}

// TryExec queues task without blocking. It reports false when the queue is
// full or the pool is closed; the task is then dropped.
func (p *Pool) TryExec(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped counts tasks refused by TryExec.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
