package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec describes a function container.
type ContainerSpec struct {
	Image         string
	Function      string
	Stack         string
	Session       string
	Env           []string
	ContainerPort int
	HostPort      int
	Network       string
	Alias         string
	Volume        string
	MountPath     string
	// Output receives the container's combined stdout and stderr.
	Output io.Writer
}

// Exit is the terminal state of a container.
type Exit struct {
	StatusCode int64
	Err        error
}

// Container is a handle on a started (or starting) container. Started is
// closed once the runtime reported the container running; Failed delivers the
// error if it could not be started; Exited is closed when it stops.
// OutputDone is closed once the attached output has been fully copied.
type Container struct {
	ID       string
	Image    string
	Function string

	started chan struct{}
	failed  chan error
	exited  chan struct{}
	exit    Exit
	drained chan struct{}

	startOnce sync.Once
	exitOnce  sync.Once
	drainOnce sync.Once
}

// NewContainer returns a handle whose lifecycle signals are driven by the
// caller through MarkStarted, MarkFailed and MarkExited.
func NewContainer(id, image, function string) *Container {
	return &Container{
		ID:       id,
		Image:    image,
		Function: function,
		started:  make(chan struct{}),
		failed:   make(chan error, 1),
		exited:   make(chan struct{}),
		drained:  make(chan struct{}),
	}
}

// Started is closed once the container is running.
func (c *Container) Started() <-chan struct{} { return c.started }

// Failed delivers the start error of a container that never ran.
func (c *Container) Failed() <-chan error { return c.failed }

// Exited is closed when the container stops.
func (c *Container) Exited() <-chan struct{} { return c.exited }

// OutputDone is closed when nothing more will be written to the spec's
// Output. It may close after Exited.
func (c *Container) OutputDone() <-chan struct{} { return c.drained }

// ExitStatus returns the terminal state once Exited is closed.
func (c *Container) ExitStatus() Exit {
	<-c.exited
	return c.exit
}

// MarkStarted closes Started. Only the first of MarkStarted and MarkFailed
// has an effect.
func (c *Container) MarkStarted() {
	c.startOnce.Do(func() { close(c.started) })
}

// MarkFailed delivers err on Failed.
func (c *Container) MarkFailed(err error) {
	c.startOnce.Do(func() { c.failed <- err })
}

// MarkExited records the exit and closes Exited once.
func (c *Container) MarkExited(exit Exit) {
	c.exitOnce.Do(func() {
		c.exit = exit
		close(c.exited)
	})
}

// MarkOutputDone closes OutputDone once.
func (c *Container) MarkOutputDone() {
	c.drainOnce.Do(func() { close(c.drained) })
}

// StartContainer creates the container, attaches its output and starts it in
// the background. Creation errors are returned directly; start errors arrive
// on the handle's Failed channel.
func (c *Client) StartContainer(ctx context.Context, spec ContainerSpec) (*Container, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return nil, fmt.Errorf("container port %d: %w", spec.ContainerPort, err)
	}
	labels := sessionLabels(spec.Stack, spec.Session)
	labels[LabelFunction] = spec.Function

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		AttachStdout: true,
		AttachStderr: true,
		Labels:       labels,
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}}},
		NetworkMode:  container.NetworkMode(spec.Network),
	}
	if spec.Volume != "" && spec.MountPath != "" {
		hostCfg.Mounts = []mount.Mount{{Type: mount.TypeVolume, Source: spec.Volume, Target: spec.MountPath}}
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		endpoint := &network.EndpointSettings{}
		if spec.Alias != "" {
			endpoint.Aliases = []string{spec.Alias}
		}
		netCfg = &network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: endpoint}}
	}

	created, err := c.api.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, "")
	if err != nil {
		return nil, wrapDaemonErr(fmt.Sprintf("create container for %s", spec.Function), err)
	}
	for _, w := range created.Warnings {
		c.log.Info("container created with warning", "function", spec.Function, "warning", w)
	}

	handle := NewContainer(created.ID, spec.Image, spec.Function)

	attach, err := c.api.ContainerAttach(ctx, created.ID, container.AttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		_ = c.api.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return nil, wrapDaemonErr(fmt.Sprintf("attach container for %s", spec.Function), err)
	}
	output := spec.Output
	if output == nil {
		output = io.Discard
	}
	go func() {
		defer handle.MarkOutputDone()
		defer attach.Close()
		_, _ = stdcopy.StdCopy(output, output, attach.Reader)
	}()

	bg := context.WithoutCancel(ctx)
	waitCh, waitErrCh := c.api.ContainerWait(bg, created.ID, container.WaitConditionNextExit)
	go func() {
		if err := c.api.ContainerStart(bg, created.ID, container.StartOptions{}); err != nil {
			handle.MarkFailed(wrapDaemonErr(fmt.Sprintf("start container for %s", spec.Function), err))
			handle.MarkExited(Exit{StatusCode: -1, Err: err})
			return
		}
		handle.MarkStarted()
		select {
		case res := <-waitCh:
			exit := Exit{StatusCode: res.StatusCode}
			if res.Error != nil && res.Error.Message != "" {
				exit.Err = fmt.Errorf("%s", res.Error.Message)
			}
			handle.MarkExited(exit)
		case err := <-waitErrCh:
			handle.MarkExited(Exit{StatusCode: -1, Err: err})
		}
	}()
	return handle, nil
}

// StopContainer stops and removes the container. Containers that already
// stopped or no longer exist are tolerated.
func (c *Client) StopContainer(ctx context.Context, ctr *Container) error {
	if ctr == nil || ctr.ID == "" {
		return nil
	}
	timeout := 5
	if err := c.api.ContainerStop(ctx, ctr.ID, container.StopOptions{Timeout: &timeout}); err != nil && !client.IsErrNotFound(err) {
		return wrapDaemonErr(fmt.Sprintf("stop container %s", shortID(ctr.ID)), err)
	}
	if err := c.api.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true, RemoveVolumes: false}); err != nil && !client.IsErrNotFound(err) {
		return wrapDaemonErr(fmt.Sprintf("remove container %s", shortID(ctr.ID)), err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
