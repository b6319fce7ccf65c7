package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/example/fnstack/internal/build"
	"github.com/example/fnstack/internal/engine"
	"github.com/example/fnstack/internal/stack"
	"github.com/example/fnstack/internal/task"
	"github.com/go-logr/logr"
)

// StartTimeout bounds how long a container may take to report started.
const StartTimeout = 2 * time.Second

// OutputDrainTimeout bounds how long an exited container's output may keep
// flowing into its log file.
const OutputDrainTimeout = 5 * time.Second

// Environment variables injected into every function container.
const (
	EnvSubscriptions = "FNSTACK_SUBSCRIPTIONS"
	EnvFunction      = "FNSTACK_FUNCTION"
	EnvStack         = "FNSTACK_STACK"
	EnvGatewayPort   = "FNSTACK_GATEWAY_PORT"
)

// Instance is one running function.
type Instance struct {
	Function  string
	Port      int
	Container *engine.Container
}

// Runner starts function containers on a provisioned RunContext.
type Runner struct {
	Runtime Runtime
	Ports   *PortAllocator
	LogRoot string
	Log     logr.Logger

	startTimeout time.Duration
	outputDrain  time.Duration
}

// LogPath returns {root}/{function}.txt.
func LogPath(root, function string) string {
	return filepath.Join(root, function+".txt")
}

func (r *Runner) drainTimeout() time.Duration {
	if r.outputDrain > 0 {
		return r.outputDrain
	}
	return OutputDrainTimeout
}

func (r *Runner) timeout() time.Duration {
	if r.startTimeout > 0 {
		return r.startTimeout
	}
	return StartTimeout
}

// Run starts the container of img on rc's network and volume and waits until
// the runtime reports it started.
func (r *Runner) Run(ctx context.Context, rc *RunContext, img build.Image, subs stack.Subscriptions, progress task.Progress) (Instance, error) {
	if progress == nil {
		progress = func(string) {}
	}
	fn := img.Function

	port, err := r.claimPort(fn)
	if err != nil {
		return Instance{}, err
	}
	released := false
	release := func() {
		if !released {
			r.Ports.Release(port)
			released = true
		}
	}

	netName, alias := r.resolveNetwork(ctx, rc, fn.Name, progress)

	encoded, err := subs.Encode()
	if err != nil {
		release()
		return Instance{}, err
	}
	spec := engine.ContainerSpec{
		Image:    img.ID,
		Function: fn.Name,
		Stack:    rc.Stack,
		Session:  rc.Session,
		Env: []string{
			EnvSubscriptions + "=" + encoded,
			EnvFunction + "=" + fn.Name,
			EnvStack + "=" + rc.Stack,
			EnvGatewayPort + "=" + strconv.Itoa(GatewayPort),
		},
		ContainerPort: GatewayPort,
		HostPort:      port,
		Network:       netName,
		Alias:         alias,
	}
	if rc.Volume != nil {
		spec.Volume = rc.Volume.Name
		spec.MountPath = VolumeMountPath
	}

	logFile, err := openLog(r.LogRoot, fn.Name)
	if err != nil {
		release()
		return Instance{}, fmt.Errorf("function %s: %w", fn.Name, err)
	}
	spec.Output = logFile

	progress(fmt.Sprintf("starting %s on port %d", shortImage(img.ID), port))
	ctr, err := r.Runtime.StartContainer(ctx, spec)
	if err != nil {
		logFile.Close()
		release()
		return Instance{}, &DaemonError{Function: fn.Name, Op: "start container", Err: err}
	}
	go r.watch(ctr, logFile)

	if _, err := task.FirstOf(ctx, ctr.Started(), ctr.Failed(), r.timeout()); err != nil {
		r.discard(ctr)
		release()
		if errors.Is(err, task.ErrTimeout) {
			return Instance{}, &StartTimeoutError{Function: fn.Name, Image: img.ID, Timeout: r.timeout()}
		}
		return Instance{}, &DaemonError{Function: fn.Name, Op: "start container", Err: err}
	}
	progress(fmt.Sprintf("started, logs in %s", LogPath(r.LogRoot, fn.Name)))
	return Instance{Function: fn.Name, Port: port, Container: ctr}, nil
}

func (r *Runner) claimPort(fn stack.Function) (int, error) {
	if r.Ports == nil {
		return 0, &PortAllocationError{Function: fn.Name, Reason: "no port allocator configured"}
	}
	if fn.Port > 0 {
		if err := r.Ports.Claim(fn.Name, fn.Port); err != nil {
			return 0, err
		}
		return fn.Port, nil
	}
	port, err := r.Ports.Allocate(fn.Name)
	if err != nil {
		var pae *PortAllocationError
		if errors.As(err, &pae) {
			return 0, err
		}
		return 0, &PortAllocationError{Function: fn.Name, Reason: err.Error()}
	}
	return port, nil
}

// resolveNetwork returns the network to join and the alias to register. When
// the session network cannot be resolved the default network is used without
// an alias, since the default bridge does not support them.
func (r *Runner) resolveNetwork(ctx context.Context, rc *RunContext, function string, progress task.Progress) (string, string) {
	if rc.Network == nil {
		warn := &NetworkResolutionWarning{Function: function, Network: "<none>", Err: errors.New("no session network")}
		r.Log.Info("warning: "+warn.Error(), "function", function)
		progress("warning: using default network")
		return engine.DefaultNetwork, ""
	}
	name, err := r.Runtime.NetworkName(ctx, *rc.Network)
	if err != nil || name == "" {
		if err == nil {
			err = errors.New("empty network name")
		}
		warn := &NetworkResolutionWarning{Function: function, Network: rc.Network.Name, Err: err}
		r.Log.Info("warning: "+warn.Error(), "function", function, "network", rc.Network.Name)
		progress("warning: using default network")
		return engine.DefaultNetwork, ""
	}
	return name, function
}

func (r *Runner) watch(ctr *engine.Container, logFile *os.File) {
	<-ctr.Exited()
	exit := ctr.ExitStatus()
	if exit.Err != nil {
		r.Log.Info("container exited with error", "function", ctr.Function, "status", exit.StatusCode, "error", exit.Err.Error())
	} else {
		r.Log.V(1).Info("container exited", "function", ctr.Function, "status", exit.StatusCode)
	}
	drain := time.NewTimer(r.drainTimeout())
	defer drain.Stop()
	select {
	case <-ctr.OutputDone():
	case <-drain.C:
		r.Log.V(1).Info("container output still open after exit", "function", ctr.Function)
	}
	_ = logFile.Close()
}

// discard removes a container that never reported started.
func (r *Runner) discard(ctr *engine.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Runtime.StopContainer(ctx, ctr); err != nil {
		r.Log.Error(err, "remove unstarted container", "function", ctr.Function)
	}
}

func openLog(root, function string) (*os.File, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(LogPath(root, function))
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	return f, nil
}

func shortImage(id string) string {
	const max = 19
	if len(id) > max {
		return id[:max]
	}
	return id
}

// RunAll starts every image concurrently on rc. Each successful instance is
// recorded in rc even when siblings fail, so teardown can reclaim it.
func (r *Runner) RunAll(ctx context.Context, obs task.Observer, rc *RunContext, images []build.Image, subs stack.Subscriptions) error {
	tasks := make([]task.Task[Instance], 0, len(images))
	for _, img := range images {
		img := img
		tasks = append(tasks, task.New(img.Function.Name, func(ctx context.Context, progress task.Progress) (Instance, error) {
			return r.Run(ctx, rc, img, subs, progress)
		}))
	}
	out := task.Settle(ctx, obs, "functions", tasks)
	rc.allocator = r.Ports
	for _, inst := range out.Values {
		rc.Containers[inst.Function] = inst.Container
		rc.Ports[inst.Function] = inst.Port
	}
	return out.Err()
}
