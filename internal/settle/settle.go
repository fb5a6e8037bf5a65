// Package settle runs independent tasks concurrently and waits for every one
// of them, collecting each outcome separately. A failing task never cancels
// its siblings.
package settle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Task is one unit of work in a fan-out
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Outcome is the settled result of a Task
type Outcome struct {
	Name     string
	Err      error
	Duration time.Duration
}

// All runs every task in its own goroutine with its own timeout derived from
// ctx, and returns once all of them have returned. Outcomes are in task order.
// A task that panics settles with an error.
func All(ctx context.Context, timeout time.Duration, tasks ...Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			outcomes[i] = run(ctx, timeout, task)
		}(i, task)
	}
	wg.Wait()

	return outcomes
}

func run(ctx context.Context, timeout time.Duration, task Task) (out Outcome) {
	out.Name = task.Name
	start := time.Now()

	taskCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()

	out.Err = task.Run(taskCtx)
	return out
}

// Failed returns the names of the outcomes that carry an error
func Failed(outcomes []Outcome) []string {
	var names []string
	for _, o := range outcomes {
		if o.Err != nil {
			names = append(names, o.Name)
		}
	}
	return names
}
