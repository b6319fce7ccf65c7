package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Failure records one failed member of a settled group.
type Failure struct {
	Task string
	Err  error
}

// Outcome is the settled state of a sibling group. Values and Failures keep
// the input order of the tasks that produced them.
type Outcome[T any] struct {
	Group    string
	Total    int
	Values   []T
	Names    []string
	Failures []Failure
}

// Err folds the failures into a *GroupError, or returns nil when every member
// succeeded.
func (o Outcome[T]) Err() error {
	if len(o.Failures) == 0 {
		return nil
	}
	return &GroupError{Group: o.Group, Total: o.Total, Failures: append([]Failure(nil), o.Failures...)}
}

// GroupError reports every failure of a settled group.
type GroupError struct {
	Group    string
	Total    int
	Failures []Failure
}

func (e *GroupError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Task)
	}
	group := e.Group
	if group == "" {
		group = "tasks"
	}
	return fmt.Sprintf("%d of %d %s failed: %s", len(e.Failures), e.Total, group, strings.Join(names, ", "))
}

// Unwrap exposes every member error to errors.Is and errors.As.
func (e *GroupError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Detail renders one line per failure for logs that need the full text.
func (e *GroupError) Detail() string {
	var b strings.Builder
	for i, f := range e.Failures {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %v", f.Task, f.Err)
	}
	return b.String()
}

// Failed returns the names of the failed tasks carried by err, if it is (or
// wraps) a *GroupError.
func Failed(err error) []string {
	var ge *GroupError
	if !errors.As(err, &ge) {
		return nil
	}
	names := make([]string, 0, len(ge.Failures))
	for _, f := range ge.Failures {
		names = append(names, f.Task)
	}
	return names
}

// Settle runs every task concurrently and waits until all of them resolved.
// A failing member never cancels its siblings.
func Settle[T any](ctx context.Context, obs Observer, group string, tasks []Task[T]) Outcome[T] {
	type slot struct {
		value T
		err   error
	}
	slots := make([]slot, len(tasks))

	var g errgroup.Group
	for i := range tasks {
		i := i
		g.Go(func() error {
			v, err := Run(ctx, obs, tasks[i])
			slots[i] = slot{value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome[T]{Group: group, Total: len(tasks)}
	for i, s := range slots {
		if s.err != nil {
			out.Failures = append(out.Failures, Failure{Task: tasks[i].Name, Err: s.err})
			continue
		}
		out.Values = append(out.Values, s.value)
		out.Names = append(out.Names, tasks[i].Name)
	}
	return out
}

func errNoBody(name string) error {
	return fmt.Errorf("task %s has no body", name)
}
