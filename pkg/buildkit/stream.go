package buildkit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/moby/buildkit/client"
	"github.com/opencontainers/go-digest"

	"github.com/example/fnstack/internal/build"
)

// solveStream adapts a BuildKit solve into build.Events.
type solveStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan build.Event

	mu  sync.Mutex
	err error
}

func newSolveStream(ctx context.Context, cancel context.CancelFunc) *solveStream {
	return &solveStream{ctx: ctx, cancel: cancel, events: make(chan build.Event)}
}

// run executes solve, translating its status updates into events. The solve
// result becomes the terminal event, or the error returned by Next.
func (s *solveStream) run(solve func(chan *client.SolveStatus) (string, error)) {
	statusCh := make(chan *client.SolveStatus)
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		tr := newStatusTranslator()
		for st := range statusCh {
			for _, ev := range tr.translate(st) {
				s.send(ev)
			}
		}
	}()

	id, err := solve(statusCh)
	<-statusDone
	if err == nil {
		s.send(build.Event{ImageID: id})
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

func (s *solveStream) send(ev build.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// Next returns the next event, the solve error once events are exhausted, or
// io.EOF after a successful build.
func (s *solveStream) Next() (build.Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return build.Event{}, s.err
	}
	return build.Event{}, io.EOF
}

// Close aborts a running solve.
func (s *solveStream) Close() error {
	s.cancel()
	return nil
}

type vertexState struct {
	started bool
	done    bool
}

// statusTranslator turns BuildKit vertex updates into one line per step
// transition, plus the steps' own log output.
type statusTranslator struct {
	vertices map[digest.Digest]*vertexState
	names    map[digest.Digest]string
}

func newStatusTranslator() *statusTranslator {
	return &statusTranslator{
		vertices: map[digest.Digest]*vertexState{},
		names:    map[digest.Digest]string{},
	}
}

func (t *statusTranslator) translate(st *client.SolveStatus) []build.Event {
	if st == nil {
		return nil
	}
	var out []build.Event
	for _, v := range st.Vertexes {
		if v == nil || strings.TrimSpace(v.Name) == "" {
			continue
		}
		state, ok := t.vertices[v.Digest]
		if !ok {
			state = &vertexState{}
			t.vertices[v.Digest] = state
			t.names[v.Digest] = v.Name
		}
		if state.done {
			continue
		}
		switch {
		case v.Cached:
			state.done = true
			out = append(out, build.Event{Stream: "CACHED " + v.Name})
		case v.Error != "":
			state.done = true
			out = append(out, build.Event{Stream: fmt.Sprintf("ERROR %s: %s", v.Name, v.Error)})
		case v.Completed != nil:
			state.done = true
			out = append(out, build.Event{Stream: "DONE " + v.Name})
		case v.Started != nil && !state.started:
			state.started = true
			out = append(out, build.Event{Stream: "[+] " + v.Name})
		}
	}
	for _, l := range st.Logs {
		if l == nil {
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(string(l.Data), "\r\n"), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			out = append(out, build.Event{ID: t.names[l.Vertex], Stream: line})
		}
	}
	return out
}
