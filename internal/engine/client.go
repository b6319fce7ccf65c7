// File: internal/engine/client.go
// Brief: Docker Engine API client used for image builds and the local cluster.

// Package engine wraps the Docker Engine API: image builds and loads,
// session networks and volumes, and function containers.
package engine

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
	"github.com/go-logr/logr"
)

// Label keys stamped on every resource fnstack creates.
const (
	LabelStack    = "dev.fnstack.stack"
	LabelSession  = "dev.fnstack.session"
	LabelFunction = "dev.fnstack.function"
)

// DefaultNetwork is the platform default network used when a session network
// cannot be resolved.
const DefaultNetwork = "bridge"

// Client talks to a Docker-compatible daemon.
type Client struct {
	api *client.Client
	log logr.Logger
}

// New connects using the environment (DOCKER_HOST and friends) with API
// version negotiation.
func New(log logr.Logger) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{api: api, log: log}, nil
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return wrapDaemonErr("ping", err)
	}
	return nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.api.Close()
}

// IsUnreachable reports whether err means the daemon could not be contacted.
func IsUnreachable(err error) bool {
	return err != nil && client.IsErrConnectionFailed(err)
}

func wrapDaemonErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUnreachable(err) {
		return fmt.Errorf("%s: docker daemon unreachable: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sessionLabels(stackName, session string) map[string]string {
	labels := map[string]string{LabelStack: stackName}
	if session != "" {
		labels[LabelSession] = session
	}
	return labels
}
