package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/task"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// TaskConsoleOptions controls how a TaskConsole renders.
type TaskConsoleOptions struct {
	// Live redraws the task table in place. Without it every transition is
	// printed as its own line.
	Live bool
	// Width is the live table width in cells; zero means 120.
	Width int
}

// TaskConsole renders sibling task progress. It implements task.Observer.
type TaskConsole struct {
	out  io.Writer
	opts TaskConsoleOptions

	mu        sync.Mutex
	title     string
	startedAt time.Time
	order     []string
	tasks     map[string]*taskState
	failures  []taskFailure
	screen    sectionWriter
}

type taskState struct {
	status    string
	last      string
	startedAt time.Time
	elapsed   time.Duration
}

type taskFailure struct {
	name   string
	detail string
}

var _ task.Observer = (*TaskConsole)(nil)

// NewTaskConsole returns a console that writes to out.
func NewTaskConsole(out io.Writer, opts TaskConsoleOptions) *TaskConsole {
	return &TaskConsole{
		out:    out,
		opts:   opts,
		tasks:  map[string]*taskState{},
		screen: sectionWriter{out: out},
	}
}

// Phase starts a new group of tasks under title. The previous group stays on
// screen above it.
func (c *TaskConsole) Phase(title string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screen.release()
	c.title = strings.TrimSpace(title)
	c.startedAt = time.Now()
	c.order = nil
	c.tasks = map[string]*taskState{}
	c.failures = nil
	if c.opts.Live {
		c.renderLocked()
		return
	}
	fmt.Fprintln(c.out, color.New(color.Bold).Sprint(c.title))
}

func (c *TaskConsole) TaskStarted(name string) {
	c.update(name, func(ts *taskState) {
		ts.status = "running"
		ts.startedAt = time.Now()
	}, "started")
}

func (c *TaskConsole) TaskProgress(name, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	c.update(name, func(ts *taskState) { ts.last = message }, message)
}

func (c *TaskConsole) TaskSucceeded(name string) {
	c.update(name, func(ts *taskState) {
		ts.status = "done"
		ts.elapsed = time.Since(ts.startedAt)
	}, "done")
}

func (c *TaskConsole) TaskFailed(name string, err error) {
	if c == nil {
		return
	}
	detail := FailureDetail(err)
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.stateLocked(name)
	ts.status = "failed"
	ts.elapsed = time.Since(ts.startedAt)
	c.failures = append(c.failures, taskFailure{name: name, detail: detail})
	if c.opts.Live {
		c.renderLocked()
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", c.prefix(name), color.New(color.FgRed).Sprint("failed"))
	for _, line := range strings.Split(detail, "\n") {
		fmt.Fprintf(c.out, "  %s\n", color.New(color.FgRed).Sprint(line))
	}
}

// Done leaves the final state of the current group on screen.
func (c *TaskConsole) Done() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Live {
		c.renderLocked()
	}
	c.screen.release()
}

func (c *TaskConsole) update(name string, apply func(*taskState), line string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	apply(c.stateLocked(name))
	if c.opts.Live {
		c.renderLocked()
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", c.prefix(name), line)
}

func (c *TaskConsole) stateLocked(name string) *taskState {
	ts, ok := c.tasks[name]
	if !ok {
		ts = &taskState{status: "queued", startedAt: time.Now()}
		c.tasks[name] = ts
		c.order = append(c.order, name)
	}
	return ts
}

func (c *TaskConsole) prefix(name string) string {
	return color.New(color.FgCyan).Sprintf("[%s]", name)
}

func (c *TaskConsole) renderLocked() {
	var sections []consoleSection
	if c.title != "" {
		elapsed := time.Since(c.startedAt).Round(100 * time.Millisecond)
		sections = append(sections, consoleSection{name: "header", lines: []string{
			fmt.Sprintf("%s • elapsed=%s", color.New(color.Bold).Sprint(c.title), elapsed),
		}})
	}
	sections = append(sections, consoleSection{name: "tasks", lines: c.renderTasksLocked()})
	if len(c.failures) > 0 {
		sections = append(sections, consoleSection{name: "failures", lines: c.renderFailuresLocked()})
	}
	c.screen.apply(sections)
}

func (c *TaskConsole) renderTasksLocked() []string {
	width := c.opts.Width
	if width <= 0 {
		width = 120
	}
	nameWidth := 8
	for _, name := range c.order {
		if w := runewidth.StringWidth(name); w > nameWidth {
			nameWidth = w
		}
	}
	if nameWidth > 32 {
		nameWidth = 32
	}
	lines := make([]string, 0, len(c.order))
	for _, name := range c.order {
		ts := c.tasks[name]
		status := ts.status
		note := ts.last
		if ts.elapsed > 0 {
			note = ts.elapsed.Round(100 * time.Millisecond).String()
		}
		room := width - nameWidth - 12
		if room < 0 {
			room = 0
		}
		label := runewidth.Truncate(name, nameWidth, "…")
		lines = append(lines, fmt.Sprintf("  %s %s %s",
			padCells(label, runewidth.StringWidth(label), nameWidth),
			padCells(colorizeTaskStatus(status), len(status), 8),
			runewidth.Truncate(note, room, "…")))
	}
	return lines
}

func (c *TaskConsole) renderFailuresLocked() []string {
	lines := []string{color.New(color.FgRed, color.Bold).Sprint("FAILURES")}
	for _, f := range c.failures {
		detail := strings.Split(f.detail, "\n")
		lines = append(lines, color.New(color.FgRed).Sprintf("  %s: %s", f.name, detail[0]))
		for _, extra := range detail[1:] {
			lines = append(lines, color.New(color.FgRed).Sprintf("    %s", extra))
		}
	}
	return lines
}

func colorizeTaskStatus(status string) string {
	switch status {
	case "queued":
		return color.New(color.FgHiBlack).Sprint(status)
	case "running":
		return color.New(color.FgBlue, color.Bold).Sprint(status)
	case "done":
		return color.New(color.FgGreen, color.Bold).Sprint(status)
	case "failed":
		return color.New(color.FgRed, color.Bold).Sprint(status)
	default:
		return status
	}
}

// padCells pads s, whose visible width is visible cells, to target cells.
// Colour escapes make len(s) useless for this.
func padCells(s string, visible, target int) string {
	if visible >= target {
		return s
	}
	return s + strings.Repeat(" ", target-visible)
}

// FailureDetail renders err for inline display, including captured script
// output.
func FailureDetail(err error) string {
	if err == nil {
		return ""
	}
	var script *build.ScriptError
	if errors.As(err, &script) {
		head, _, _ := strings.Cut(script.Error(), ":\n")
		out := strings.TrimSpace(script.Output)
		if out == "" {
			return head
		}
		return head + "\n" + tail(out, 12)
	}
	return err.Error()
}

func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = append([]string{"…"}, lines[len(lines)-n:]...)
	}
	return strings.Join(lines, "\n")
}
