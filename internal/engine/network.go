package engine

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
)

// Network is a session network handle.
type Network struct {
	ID   string
	Name string
}

// Volume is a session volume handle.
type Volume struct {
	Name string
}

// CreateNetwork creates a bridge network labelled for the session.
func (c *Client) CreateNetwork(ctx context.Context, name, stackName, session string) (Network, error) {
	resp, err := c.api.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: sessionLabels(stackName, session),
	})
	if err != nil {
		return Network{}, wrapDaemonErr(fmt.Sprintf("create network %s", name), err)
	}
	if resp.Warning != "" {
		c.log.Info("network created with warning", "network", name, "warning", resp.Warning)
	}
	return Network{ID: resp.ID, Name: name}, nil
}

// NetworkName resolves the daemon-side name of n.
func (c *Client) NetworkName(ctx context.Context, n Network) (string, error) {
	ref := n.ID
	if ref == "" {
		ref = n.Name
	}
	if ref == "" {
		return "", fmt.Errorf("network handle is empty")
	}
	info, err := c.api.NetworkInspect(ctx, ref, network.InspectOptions{})
	if err != nil {
		return "", wrapDaemonErr(fmt.Sprintf("inspect network %s", ref), err)
	}
	return info.Name, nil
}

// RemoveNetwork removes n. A network that no longer exists is not an error.
func (c *Client) RemoveNetwork(ctx context.Context, n Network) error {
	ref := n.ID
	if ref == "" {
		ref = n.Name
	}
	if err := c.api.NetworkRemove(ctx, ref); err != nil && !client.IsErrNotFound(err) {
		return wrapDaemonErr(fmt.Sprintf("remove network %s", ref), err)
	}
	return nil
}

// CreateVolume creates a named volume labelled for the session.
func (c *Client) CreateVolume(ctx context.Context, name, stackName, session string) (Volume, error) {
	vol, err := c.api.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Labels: sessionLabels(stackName, session),
	})
	if err != nil {
		return Volume{}, wrapDaemonErr(fmt.Sprintf("create volume %s", name), err)
	}
	return Volume{Name: vol.Name}, nil
}

// RemoveVolume force-removes v. A volume that no longer exists is not an
// error.
func (c *Client) RemoveVolume(ctx context.Context, v Volume) error {
	if err := c.api.VolumeRemove(ctx, v.Name, true); err != nil && !client.IsErrNotFound(err) {
		return wrapDaemonErr(fmt.Sprintf("remove volume %s", v.Name), err)
	}
	return nil
}
