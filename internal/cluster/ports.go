package cluster

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Default host port range for dynamically allocated gateway ports.
const (
	DefaultPortMin = 49152
	DefaultPortMax = 65535
)

// PortAllocator hands out host ports from a fixed range. It is safe for
// concurrent use; a port is never handed out twice until released.
type PortAllocator struct {
	mu      sync.Mutex
	min     int
	max     int
	next    int
	claimed map[int]string
	isFree  func(port int) bool
}

// NewPortAllocator returns an allocator over [min, max].
func NewPortAllocator(min, max int) (*PortAllocator, error) {
	if min <= 0 || max > 65535 || min > max {
		return nil, fmt.Errorf("invalid port range %d-%d", min, max)
	}
	return &PortAllocator{
		min:     min,
		max:     max,
		next:    min,
		claimed: map[int]string{},
		isFree:  portFree,
	}, nil
}

// Range returns the configured bounds.
func (a *PortAllocator) Range() (int, int) {
	return a.min, a.max
}

// Allocate claims the next free port in the range for owner.
func (a *PortAllocator) Allocate(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.max {
			a.next = a.min
		}
		if _, taken := a.claimed[port]; taken {
			continue
		}
		if a.isFree != nil && !a.isFree(port) {
			continue
		}
		a.claimed[port] = owner
		return port, nil
	}
	return 0, &PortAllocationError{Function: owner, Reason: fmt.Sprintf("no free port in range %d-%d", a.min, a.max)}
}

// Claim reserves a specific port for owner. Fixed ports may lie outside the
// dynamic range.
func (a *PortAllocator) Claim(owner string, port int) error {
	if port <= 0 || port > 65535 {
		return &PortAllocationError{Function: owner, Port: port, Reason: "port out of range"}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if holder, taken := a.claimed[port]; taken {
		return &PortAllocationError{Function: owner, Port: port, Reason: "already claimed by " + holder}
	}
	a.claimed[port] = owner
	return nil
}

// Release frees port.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.claimed, port)
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}
