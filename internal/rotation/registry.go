package rotation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry holds the rotators hosted by one process, keyed by name.
type Registry struct {
	mu sync.RWMutex
	// notify orders visibility updates so the last aggregate computed is
	// the last one a rotator receives.
	notify     sync.Mutex
	rotators   map[string]*Controller
	visibility map[string]map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		rotators:   make(map[string]*Controller),
		visibility: make(map[string]map[string]bool),
	}
}

// Add registers c under its name.
func (r *Registry) Add(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rotators[c.Name()]; ok {
		return fmt.Errorf("rotator %q already registered", c.Name())
	}
	r.rotators[c.Name()] = c
	r.visibility[c.Name()] = make(map[string]bool)
	return nil
}

// Get returns the rotator called name.
func (r *Registry) Get(name string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rotators[name]
	return c, ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rotators))
	for name := range r.rotators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReportVisibility records whether the viewer identified by viewerID can see
// rotator name, and updates the rotator. A rotator is hidden only while it
// has viewers and none of them is visible.
func (r *Registry) ReportVisibility(name, viewerID string, visible bool) {
	r.updateViewers(name, func(viewers map[string]bool) {
		viewers[viewerID] = visible
	})
}

// Leave forgets a viewer of rotator name.
func (r *Registry) Leave(name, viewerID string) {
	r.updateViewers(name, func(viewers map[string]bool) {
		delete(viewers, viewerID)
	})
}

func (r *Registry) updateViewers(name string, update func(map[string]bool)) {
	r.notify.Lock()
	defer r.notify.Unlock()

	r.mu.Lock()
	c, ok := r.rotators[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	viewers := r.visibility[name]
	update(viewers)
	visible := len(viewers) == 0
	for _, v := range viewers {
		visible = visible || v
	}
	r.mu.Unlock()

	c.SetVisible(visible)
}

// Run runs every registered rotator until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.rotators))
	for _, c := range r.rotators {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range controllers {
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("rotator %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
