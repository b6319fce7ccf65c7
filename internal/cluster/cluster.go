// File: internal/cluster/cluster.go
// Brief: Session-scoped cluster resources and their teardown.

// Package cluster provisions the per-session network and volume, runs one
// container per built image, and tears the whole set down again.
package cluster

import (
	"context"
	"errors"
	"sort"

	"github.com/example/fnstack/internal/engine"
)

// GatewayPort is the port every function runtime listens on inside its
// container.
const GatewayPort = 9001

// VolumeMountPath is where the shared session volume is mounted.
const VolumeMountPath = "/fnstack"

// Runtime is the container runtime surface the cluster needs.
type Runtime interface {
	CreateNetwork(ctx context.Context, name, stackName, session string) (engine.Network, error)
	CreateVolume(ctx context.Context, name, stackName, session string) (engine.Volume, error)
	NetworkName(ctx context.Context, n engine.Network) (string, error)
	StartContainer(ctx context.Context, spec engine.ContainerSpec) (*engine.Container, error)
	StopContainer(ctx context.Context, c *engine.Container) error
	RemoveNetwork(ctx context.Context, n engine.Network) error
	RemoveVolume(ctx context.Context, v engine.Volume) error
}

// RunContext holds the live resources of one run cycle. It is created fresh
// per cycle and torn down completely before the next one.
type RunContext struct {
	Stack      string
	Session    string
	Network    *engine.Network
	Volume     *engine.Volume
	Containers map[string]*engine.Container
	Ports      map[string]int

	// allocator reclaims Ports on teardown.
	allocator *PortAllocator
}

func newRunContext(stackName, session string) *RunContext {
	return &RunContext{
		Stack:      stackName,
		Session:    session,
		Containers: map[string]*engine.Container{},
		Ports:      map[string]int{},
	}
}

// Functions returns the names of running functions, sorted.
func (rc *RunContext) Functions() []string {
	if rc == nil {
		return nil
	}
	names := make([]string, 0, len(rc.Containers))
	for name := range rc.Containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether rc holds no resources.
func (rc *RunContext) Empty() bool {
	return rc == nil || (rc.Network == nil && rc.Volume == nil && len(rc.Containers) == 0)
}

// Teardown stops and removes every container of rc, then removes its network
// and volume. Every step runs even if an earlier one failed; failures are
// joined into a *TeardownError.
func Teardown(ctx context.Context, rt Runtime, rc *RunContext) error {
	if rc.Empty() {
		return nil
	}
	var errs []error
	for _, name := range rc.Functions() {
		if err := rt.StopContainer(ctx, rc.Containers[name]); err != nil {
			errs = append(errs, &DaemonError{Function: name, Op: "stop container", Err: err})
			continue
		}
		if port, ok := rc.Ports[name]; ok && rc.allocator != nil {
			rc.allocator.Release(port)
		}
		delete(rc.Containers, name)
		delete(rc.Ports, name)
	}
	if rc.Network != nil {
		if err := rt.RemoveNetwork(ctx, *rc.Network); err != nil {
			errs = append(errs, &DaemonError{Op: "remove network " + rc.Network.Name, Err: err})
		} else {
			rc.Network = nil
		}
	}
	if rc.Volume != nil {
		if err := rt.RemoveVolume(ctx, *rc.Volume); err != nil {
			errs = append(errs, &DaemonError{Op: "remove volume " + rc.Volume.Name, Err: err})
		} else {
			rc.Volume = nil
		}
	}
	if len(errs) > 0 {
		return &TeardownError{Err: errors.Join(errs...)}
	}
	return nil
}
