package camera

import (
	"context"
	"fmt"
	"sync"
)

// Guard gives one holder at a time exclusive use of a device.
type Guard struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// DefaultGuard is shared by every component in the process.
var DefaultGuard = NewGuard()

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{slots: make(map[string]chan struct{})}
}

func (g *Guard) slot(device string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[device]
	if !ok {
		s = make(chan struct{}, 1)
		g.slots[device] = s
	}
	return s
}

// Acquire blocks until the device is free or ctx is done. The returned
// release func is idempotent.
func (g *Guard) Acquire(ctx context.Context, device string) (func(), error) {
	s := g.slot(device)
	select {
	case s <- struct{}{}:
		return releaser(s), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, device)
	}
}

// TryAcquire takes the device only if it is free right now.
func (g *Guard) TryAcquire(device string) (func(), error) {
	s := g.slot(device)
	select {
	case s <- struct{}{}:
		return releaser(s), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, device)
	}
}

// Busy reports whether the device is currently held.
func (g *Guard) Busy(device string) bool {
	return len(g.slot(device)) > 0
}

func releaser(s chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}
}
