// Package async runs independent read queries concurrently and collects
// their results by name.
package async

import (
	"context"

	"github.com/alitto/pond/v2"
)

// Task is one named unit of work.
type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

// Result is the outcome of a Task.
type Result struct {
	Name string
	Data any
	Err  error
}

// Pool bounds how many tasks run at the same time.
type Pool struct {
	maxConcurrency int
}

func NewPool(maxConcurrency int) *Pool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Pool{maxConcurrency: maxConcurrency}
}

// Execute runs every task and returns the results keyed by task name. Tasks
// not started before ctx is cancelled get ctx.Err() as their result.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	pool := pond.NewResultPool[any](p.maxConcurrency)
	defer pool.StopAndWait()

	pending := make([]pond.Result[any], len(tasks))
	for i, task := range tasks {
		pending[i] = pool.SubmitErr(func() (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return task.Execute(ctx)
		})
	}

	collected := make(map[string]Result, len(tasks))
	for i, task := range tasks {
		data, err := pending[i].Wait()
		collected[task.Name] = Result{Name: task.Name, Data: data, Err: err}
	}
	return collected
}

// ValueOr returns the named result's data as T, or fallback when the task
// failed or produced another type.
func ValueOr[T any](results map[string]Result, name string, fallback T) T {
	result, ok := results[name]
	if !ok || result.Err != nil {
		return fallback
	}
	if value, ok := result.Data.(T); ok {
		return value
	}
	return fallback
}
