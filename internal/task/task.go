// File: internal/task/task.go
// Brief: Named units of asynchronous work with progress reporting.

// Package task runs named units of work that report progress lines and resolve
// exactly once. Sibling groups are settled together so that one failure never
// cancels or hides another.
package task

import (
	"context"
	"sync"
)

// Progress receives a human-readable progress line for the running task.
type Progress func(message string)

// Func is the body of a task.
type Func[T any] func(ctx context.Context, progress Progress) (T, error)

// Task is a named unit of work resolving to a T.
type Task[T any] struct {
	Name string
	run  Func[T]
}

// New returns a task with the given name and body.
func New[T any](name string, fn Func[T]) Task[T] {
	return Task[T]{Name: name, run: fn}
}

// Observer is notified about task lifecycle transitions. Implementations must
// be safe for concurrent use because sibling tasks report from different
// goroutines.
type Observer interface {
	TaskStarted(name string)
	TaskProgress(name, message string)
	TaskSucceeded(name string)
	TaskFailed(name string, err error)
}

type nopObserver struct{}

func (nopObserver) TaskStarted(string)          {}
func (nopObserver) TaskProgress(string, string) {}
func (nopObserver) TaskSucceeded(string)        {}
func (nopObserver) TaskFailed(string, error)    {}

// Discard is an Observer that ignores every notification.
var Discard Observer = nopObserver{}

// Run executes t and reports its lifecycle to obs. Progress emitted after the
// body returned is dropped.
func Run[T any](ctx context.Context, obs Observer, t Task[T]) (T, error) {
	if obs == nil {
		obs = Discard
	}
	obs.TaskStarted(t.Name)

	var (
		mu       sync.Mutex
		resolved bool
	)
	progress := func(message string) {
		mu.Lock()
		defer mu.Unlock()
		if resolved {
			return
		}
		obs.TaskProgress(t.Name, message)
	}

	var zero T
	if t.run == nil {
		mu.Lock()
		resolved = true
		mu.Unlock()
		err := errNoBody(t.Name)
		obs.TaskFailed(t.Name, err)
		return zero, err
	}

	value, err := t.run(ctx, progress)

	mu.Lock()
	resolved = true
	mu.Unlock()

	if err != nil {
		obs.TaskFailed(t.Name, err)
		return zero, err
	}
	obs.TaskSucceeded(t.Name)
	return value, nil
}
