// Package workerpool provides the bounded pool that federation fanout
// runs on, so delivering to many follower inboxes neither serializes
// nor spawns an unbounded number of goroutines.
package workerpool

import (
	"runtime"
	"sync"
)

type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// New starts a pool with the given number of workers. A count below
// one defaults to three workers per CPU.
func New(workers int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU() * 3
	}

	p := &Pool{tasks: make(chan func(), 1024)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for task := range p.tasks {
		task()
		p.wg.Done()
	}
}

// Submit queues a task, blocking when the buffer is full.
func (p *Pool) Submit(task func()) {
	p.wg.Add(1)
	p.tasks <- task
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close waits for outstanding tasks and stops the workers.
func (p *Pool) Close() {
	p.wg.Wait()
	p.once.Do(func() { close(p.tasks) })
}
