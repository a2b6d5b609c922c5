package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ProvisionFunc creates or looks up the queue for a target.
type ProvisionFunc func(ctx context.Context, target Target) (Handle, error)

// ProvisionCache remembers provisioned handles for the process lifetime and
// collapses concurrent first requests for the same target into one call.
// Failures are not cached.
type ProvisionCache struct {
	provision ProvisionFunc

	mu      sync.RWMutex
	handles map[Target]Handle
	group   singleflight.Group
}

// NewProvisionCache wraps fn.
func NewProvisionCache(fn ProvisionFunc) *ProvisionCache {
	return &ProvisionCache{provision: fn, handles: make(map[Target]Handle)}
}

// Get returns the cached handle for target, provisioning it on first use.
func (c *ProvisionCache) Get(ctx context.Context, target Target) (Handle, error) {
	if h, ok := c.lookup(target); ok {
		return h, nil
	}

	v, err, _ := c.group.Do(target.Surface+"\x00"+target.ApplicationID, func() (any, error) {
		if h, ok := c.lookup(target); ok {
			return h, nil
		}
		h, err := c.provision(ctx, target)
		if err != nil {
			return Handle{}, err
		}
		c.mu.Lock()
		c.handles[target] = h
		c.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// Len returns the number of cached handles.
func (c *ProvisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

func (c *ProvisionCache) lookup(target Target) (Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[target]
	return h, ok
}
