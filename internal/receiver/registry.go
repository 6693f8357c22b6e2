package receiver

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds independently running controllers keyed by stream name.
// It is owned by the caller; nothing in this package keeps a global one.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Add registers c under its stream name.
func (r *Registry) Add(c *Controller) error {
	name := c.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.controllers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStream, name)
	}
	r.controllers[name] = c
	return nil
}

// Get returns the controller for a stream.
func (r *Registry) Get(name string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[name]
	return c, ok
}

// Names returns the registered stream names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Each calls fn for every controller in name order.
func (r *Registry) Each(fn func(*Controller)) {
	for _, name := range r.Names() {
		if c, ok := r.Get(name); ok {
			fn(c)
		}
	}
}

// StartAll starts every registered controller.
func (r *Registry) StartAll() {
	r.Each(func(c *Controller) { c.Start() })
}

// StopAll stops every registered controller concurrently and waits for
// all of them.
func (r *Registry) StopAll() {
	var wg sync.WaitGroup
	r.Each(func(c *Controller) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	})
	wg.Wait()
}

// AnyListening reports whether at least one controller is listening.
func (r *Registry) AnyListening() bool {
	listening := false
	r.Each(func(c *Controller) {
		if c.IsListening() {
			listening = true
		}
	})
	return listening
}
