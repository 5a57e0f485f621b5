package stream

import (
	"sync"
)

// DefaultMaxWorkers bounds the worker pool when no count is configured.
const DefaultMaxWorkers = 4

// workerPool runs chunk-transfer tasks on a bounded set of goroutines.
// It is created lazily on first use and owned by exactly one buffered
// stream, which tears it down on close.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	p := &workerPool{
		tasks: make(chan func()),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit schedules a task. It blocks while all workers are busy, which
// naturally bounds the number of in-flight transfers.
func (p *workerPool) submit(task func()) {
	p.tasks <- task
}

// close stops accepting tasks and waits for running ones to finish.
func (p *workerPool) close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
