package cluster

import (
	"context"
	"fmt"

	"github.com/example/fnstack/internal/engine"
	"github.com/example/fnstack/internal/task"
)

// NetworkName returns the session network name of a stack.
func NetworkName(stackName string) string {
	return fmt.Sprintf("%s-net", stackName)
}

// VolumeName returns the session volume name of a stack.
func VolumeName(stackName string) string {
	return fmt.Sprintf("%s-vol", stackName)
}

type provisioned struct {
	network *engine.Network
	volume  *engine.Volume
}

// Provision creates the session network and volume concurrently. The returned
// RunContext carries whichever resources were created, even on error, so the
// caller can tear them down.
func Provision(ctx context.Context, obs task.Observer, rt Runtime, stackName, session string) (*RunContext, error) {
	netName := NetworkName(stackName)
	volName := VolumeName(stackName)
	tasks := []task.Task[provisioned]{
		task.New("network "+netName, func(ctx context.Context, progress task.Progress) (provisioned, error) {
			n, err := rt.CreateNetwork(ctx, netName, stackName, session)
			if err != nil {
				return provisioned{}, &DaemonError{Op: "create network " + netName, Err: err}
			}
			return provisioned{network: &n}, nil
		}),
		task.New("volume "+volName, func(ctx context.Context, progress task.Progress) (provisioned, error) {
			v, err := rt.CreateVolume(ctx, volName, stackName, session)
			if err != nil {
				return provisioned{}, &DaemonError{Op: "create volume " + volName, Err: err}
			}
			return provisioned{volume: &v}, nil
		}),
	}
	out := task.Settle(ctx, obs, "provisioning steps", tasks)
	rc := newRunContext(stackName, session)
	for _, p := range out.Values {
		if p.network != nil {
			rc.Network = p.network
		}
		if p.volume != nil {
			rc.Volume = p.volume
		}
	}
	return rc, out.Err()
}
