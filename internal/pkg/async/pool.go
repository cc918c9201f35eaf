// Package async provides a bounded worker pool for running independent
// read queries in parallel.
package async

import (
	"context"
	"sync"
)

// Task is one unit of work, keyed by name in the result map.
type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

// Result carries a task's outcome. Err is set when the task failed;
// callers decide per task whether a failure is fatal.
type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool limits how many tasks run concurrently. A Pool is reusable and
// holds no state between Execute calls.
type Pool struct {
	size int
}

// NewPool returns a pool that runs at most size tasks at once.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Execute runs the tasks and blocks until all finish or ctx is
// canceled. On cancellation it returns whatever results completed;
// tasks already running are not interrupted, tasks not yet started are
// never dispatched.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	results := make(map[string]Result, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, p.size)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for _, task := range tasks {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				<-sem
				return
			}
			wg.Add(1)
			go func(task Task) {
				defer wg.Done()
				defer func() { <-sem }()
				data, err := task.Execute()
				mu.Lock()
				results[task.Name] = Result{Name: task.Name, Data: data, Err: err}
				mu.Unlock()
			}(task)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return results
	case <-ctx.Done():
		// Copy under the lock: stragglers may still be writing.
		mu.Lock()
		defer mu.Unlock()
		partial := make(map[string]Result, len(results))
		for name, res := range results {
			partial[name] = res
		}
		return partial
	}
}
