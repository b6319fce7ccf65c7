package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/cluster"
	"github.com/example/fnstack/internal/history"
	"github.com/example/fnstack/internal/stack"
	"github.com/example/fnstack/internal/task"
	"github.com/example/fnstack/internal/ui"
	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// TeardownTimeout bounds the final teardown on quit.
const TeardownTimeout = 2 * time.Minute

// StackBuilder builds every function of a stack.
type StackBuilder interface {
	BuildStack(ctx context.Context, obs task.Observer, s *stack.Stack) ([]build.Image, error)
}

// Console shows task progress grouped in phases.
type Console interface {
	task.Observer
	Phase(title string)
	Done()
}

// Recorder persists cycle outcomes.
type Recorder interface {
	Record(ctx context.Context, entries ...history.Entry) error
}

// Controller owns the RunContext of the current cycle. Only one cycle runs at
// a time and every cycle starts by tearing down the previous one.
type Controller struct {
	Stack   *stack.Stack
	Builder StackBuilder
	Runner  *cluster.Runner
	Keys    KeySource
	Console Console
	Out     io.Writer
	History Recorder
	Log     logr.Logger
	// Session labels every resource of this session. Generated when empty.
	Session string
	// OnState, when set, observes every transition.
	OnState func(State)

	mu    sync.Mutex
	state State
	cycle int
	rc    *cluster.RunContext
}

// NewSessionID returns a random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.Log.V(1).Info("session state", "state", s.String(), "cycle", c.cycle)
	if c.OnState != nil {
		c.OnState(s)
	}
}

// Run runs cycles until the developer quits or ctx is cancelled, then tears
// everything down. A teardown failure on the way out is returned; it means
// resources were leaked.
func (c *Controller) Run(ctx context.Context) error {
	if c.Stack == nil || c.Builder == nil || c.Runner == nil || c.Keys == nil {
		return errors.New("session controller is missing a collaborator")
	}
	if c.Session == "" {
		c.Session = NewSessionID()
	}
	if c.Out == nil {
		c.Out = io.Discard
	}
	if c.Console == nil {
		c.Console = ui.NewTaskConsole(c.Out, ui.TaskConsoleOptions{})
	}
	c.Log.Info("session started", "stack", c.Stack.Name, "session", c.Session)
	c.setState(Idle)

	for {
		c.runCycle(ctx)
		cmd, err := c.Keys.Next(ctx)
		if err != nil || cmd == CommandQuit {
			return c.quit(ctx, err)
		}
		c.setState(Refreshing)
	}
}

func (c *Controller) runCycle(ctx context.Context) {
	c.cycle++
	if err := c.teardown(ctx); err != nil {
		c.fail(err)
		return
	}

	c.setState(Building)
	c.Console.Phase(fmt.Sprintf("Building %s (cycle %d)", c.Stack.Name, c.cycle))
	images, err := c.Builder.BuildStack(ctx, c.Console, c.Stack)
	c.Console.Done()
	if err != nil {
		c.record(ctx, c.buildEntries(err))
		c.fail(err)
		return
	}
	build.SortImages(images)

	c.setState(Running)
	c.Console.Phase(fmt.Sprintf("Starting %s", c.Stack.Name))
	rc, err := cluster.Provision(ctx, c.Console, c.Runner.Runtime, c.Stack.Name, c.Session)
	c.rc = rc
	if err == nil {
		subs := stack.DeriveSubscriptions(c.Stack, cluster.GatewayPort)
		err = c.Runner.RunAll(ctx, c.Console, rc, images, subs)
	}
	c.Console.Done()
	c.record(ctx, c.runEntries(images, rc, err))
	if err != nil {
		c.fail(err)
		return
	}

	ui.RenderPortTable(c.Out, c.Stack.Name, ui.PortRows(rc.Ports, func(fn string) string {
		return cluster.LogPath(c.Runner.LogRoot, fn)
	}))
	c.setState(WaitingForInput)
}

// fail reports a cycle that did not produce a running cluster. Per-task
// detail was already shown by the console.
func (c *Controller) fail(err error) {
	c.setState(Failed)
	c.Log.Error(err, "cycle failed", "cycle", c.cycle)
	fmt.Fprintf(c.Out, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
	fmt.Fprintf(c.Out, "Fix the problem and press %s to retry, or %s to quit.\n",
		color.New(color.FgCyan, color.Bold).Sprint("r"),
		color.New(color.FgCyan, color.Bold).Sprint("q"))
	c.setState(WaitingForInput)
}

func (c *Controller) teardown(ctx context.Context) error {
	if c.rc == nil {
		return nil
	}
	if err := cluster.Teardown(ctx, c.Runner.Runtime, c.rc); err != nil {
		return err
	}
	c.rc = nil
	return nil
}

func (c *Controller) quit(ctx context.Context, cause error) error {
	c.setState(Quitting)
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TeardownTimeout)
	defer cancel()

	var err error
	if !c.rc.Empty() {
		stop := ui.StartSpinner(c.Out, "Tearing down "+c.Stack.Name)
		err = c.teardown(tctx)
		stop(err == nil)
	} else {
		c.rc = nil
	}
	if cerr := c.Keys.Close(); cerr != nil {
		c.Log.Error(cerr, "restore terminal")
	}
	if err != nil {
		return err
	}
	c.setState(TornDown)
	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("read key: %w", cause)
	}
	return nil
}

func (c *Controller) record(ctx context.Context, entries []history.Entry) {
	if c.History == nil || len(entries) == 0 {
		return
	}
	if err := c.History.Record(context.WithoutCancel(ctx), entries...); err != nil {
		c.Log.Error(err, "record session history")
	}
}

func (c *Controller) entry(function string) history.Entry {
	return history.Entry{
		RecordedAt: time.Now(),
		Session:    c.Session,
		Stack:      c.Stack.Name,
		Cycle:      c.cycle,
		Function:   function,
	}
}

func (c *Controller) buildEntries(err error) []history.Entry {
	failures := failureMessages(err)
	var out []history.Entry
	for _, fn := range c.Stack.FunctionNames() {
		msg, failed := failures[fn]
		if !failed {
			continue
		}
		e := c.entry(fn)
		e.Status = history.StatusBuildFailed
		e.Error = msg
		out = append(out, e)
	}
	return out
}

func (c *Controller) runEntries(images []build.Image, rc *cluster.RunContext, err error) []history.Entry {
	failures := failureMessages(err)
	out := make([]history.Entry, 0, len(images))
	for _, img := range images {
		e := c.entry(img.Function.Name)
		e.Image = img.ID
		if port, ok := rc.Ports[img.Function.Name]; ok {
			e.Port = port
			e.Status = history.StatusRunning
		} else {
			e.Status = history.StatusRunFailed
			e.Error = failures[img.Function.Name]
			if e.Error == "" && err != nil {
				e.Error = err.Error()
			}
		}
		out = append(out, e)
	}
	return out
}

// failureMessages maps each failed task of a group error to its message.
func failureMessages(err error) map[string]string {
	out := map[string]string{}
	var group *task.GroupError
	if errors.As(err, &group) {
		for _, f := range group.Failures {
			out[f.Task] = f.Err.Error()
		}
	}
	return out
}
