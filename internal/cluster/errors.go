package cluster

import (
	"fmt"
	"time"
)

// PortAllocationError is returned when no host port could be claimed for a
// function.
type PortAllocationError struct {
	Function string
	Port     int
	Reason   string
}

func (e *PortAllocationError) Error() string {
	if e.Port > 0 {
		return fmt.Sprintf("function %s: cannot claim port %d: %s", e.Function, e.Port, e.Reason)
	}
	return fmt.Sprintf("function %s: cannot allocate a port: %s", e.Function, e.Reason)
}

// StartTimeoutError is returned when a container did not report started in
// time.
type StartTimeoutError struct {
	Function string
	Image    string
	Timeout  time.Duration
}

func (e *StartTimeoutError) Error() string {
	return fmt.Sprintf("function %s: container from image %s did not start within %s", e.Function, e.Image, e.Timeout)
}

// DaemonError wraps a container runtime failure.
type DaemonError struct {
	Function string
	Op       string
	Err      error
}

func (e *DaemonError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("function %s: %s: %v", e.Function, e.Op, e.Err)
}

func (e *DaemonError) Unwrap() error { return e.Err }

// NetworkResolutionWarning describes a session network that could not be
// resolved. It is logged, never returned: the container falls back to the
// default network.
type NetworkResolutionWarning struct {
	Function string
	Network  string
	Err      error
}

func (w *NetworkResolutionWarning) Error() string {
	return fmt.Sprintf("function %s: cannot resolve network %s, falling back to the default network: %v", w.Function, w.Network, w.Err)
}

func (w *NetworkResolutionWarning) Unwrap() error { return w.Err }

// TeardownError reports resources that could not be released.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown failed: %v", e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
