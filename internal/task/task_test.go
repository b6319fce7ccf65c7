package task

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu        sync.Mutex
	started   []string
	progress  map[string][]string
	succeeded []string
	failed    map[string]error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{progress: map[string][]string{}, failed: map[string]error{}}
}

func (r *recordingObserver) TaskStarted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
}

func (r *recordingObserver) TaskProgress(name, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[name] = append(r.progress[name], message)
}

func (r *recordingObserver) TaskSucceeded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, name)
}

func (r *recordingObserver) TaskFailed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[name] = err
}

func TestRunReportsProgressThenResolves(t *testing.T) {
	obs := newRecordingObserver()
	tk := New("build a", func(ctx context.Context, progress Progress) (int, error) {
		progress("step 1")
		progress("step 2")
		return 42, nil
	})
	got, err := Run(context.Background(), obs, tk)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if !reflect.DeepEqual(obs.progress["build a"], []string{"step 1", "step 2"}) {
		t.Fatalf("unexpected progress: %v", obs.progress["build a"])
	}
	if len(obs.succeeded) != 1 || len(obs.failed) != 0 {
		t.Fatalf("expected exactly one success, got succeeded=%v failed=%v", obs.succeeded, obs.failed)
	}
}

func TestRunDropsProgressAfterResolve(t *testing.T) {
	obs := newRecordingObserver()
	var late Progress
	tk := New("leaky", func(ctx context.Context, progress Progress) (string, error) {
		late = progress
		return "ok", nil
	})
	if _, err := Run(context.Background(), obs, tk); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	late("too late")
	if len(obs.progress["leaky"]) != 0 {
		t.Fatalf("expected late progress to be dropped, got %v", obs.progress["leaky"])
	}
}

func TestSettleCollectsEveryFailure(t *testing.T) {
	obs := newRecordingObserver()
	names := []string{"a", "b", "c", "d"}
	tasks := make([]Task[string], 0, len(names))
	for _, name := range names {
		name := name
		tasks = append(tasks, New(name, func(ctx context.Context, progress Progress) (string, error) {
			if name == "b" || name == "d" {
				return "", fmt.Errorf("%s exploded", name)
			}
			return "image-" + name, nil
		}))
	}
	out := Settle(context.Background(), obs, "builds", tasks)
	if !reflect.DeepEqual(out.Values, []string{"image-a", "image-c"}) {
		t.Fatalf("unexpected values: %v", out.Values)
	}
	if !reflect.DeepEqual(out.Names, []string{"a", "c"}) {
		t.Fatalf("unexpected names: %v", out.Names)
	}
	err := out.Err()
	if err == nil {
		t.Fatalf("expected group error")
	}
	if got := Failed(err); !reflect.DeepEqual(got, []string{"b", "d"}) {
		t.Fatalf("unexpected failed set: %v", got)
	}
	if err.Error() != "2 of 4 builds failed: b, d" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if len(obs.failed) != 2 || len(obs.succeeded) != 2 {
		t.Fatalf("observer mismatch: failed=%v succeeded=%v", obs.failed, obs.succeeded)
	}
}

func TestSettleWaitsForSlowSiblings(t *testing.T) {
	var slowDone bool
	var mu sync.Mutex
	tasks := []Task[int]{
		New("fast-fail", func(ctx context.Context, progress Progress) (int, error) {
			return 0, errors.New("boom")
		}),
		New("slow", func(ctx context.Context, progress Progress) (int, error) {
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			slowDone = true
			mu.Unlock()
			return 1, nil
		}),
	}
	out := Settle(context.Background(), nil, "runs", tasks)
	mu.Lock()
	defer mu.Unlock()
	if !slowDone {
		t.Fatalf("Settle returned before the slow sibling finished")
	}
	if len(out.Values) != 1 || len(out.Failures) != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestGroupErrorUnwrapsMembers(t *testing.T) {
	sentinel := errors.New("sentinel")
	out := Settle(context.Background(), nil, "builds", []Task[int]{
		New("x", func(ctx context.Context, progress Progress) (int, error) {
			return 0, fmt.Errorf("wrapped: %w", sentinel)
		}),
	})
	if !errors.Is(out.Err(), sentinel) {
		t.Fatalf("expected errors.Is to find the member error")
	}
}

func TestFirstOfSignalWins(t *testing.T) {
	signal := make(chan string, 1)
	signal <- "started"
	got, err := FirstOf(context.Background(), signal, nil, time.Second)
	if err != nil {
		t.Fatalf("FirstOf returned error: %v", err)
	}
	if got != "started" {
		t.Fatalf("expected started, got %q", got)
	}
}

func TestFirstOfTimeout(t *testing.T) {
	signal := make(chan struct{})
	begin := time.Now()
	_, err := FirstOf(context.Background(), signal, nil, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(begin) < 20*time.Millisecond {
		t.Fatalf("FirstOf returned before the timeout elapsed")
	}
}

func TestFirstOfFailure(t *testing.T) {
	failed := make(chan error, 1)
	failed <- errors.New("daemon said no")
	_, err := FirstOf(context.Background(), make(chan struct{}), failed, time.Second)
	if err == nil || err.Error() != "daemon said no" {
		t.Fatalf("expected failure to win, got %v", err)
	}
}

func TestFirstOfContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FirstOf(ctx, make(chan struct{}), nil, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFirstOfClosedSignalCounts(t *testing.T) {
	signal := make(chan struct{})
	close(signal)
	if _, err := FirstOf(context.Background(), signal, nil, time.Second); err != nil {
		t.Fatalf("expected closed signal to win, got %v", err)
	}
}
