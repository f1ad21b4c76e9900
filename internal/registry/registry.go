// Package registry tracks the named MCP services the bridge knows about. The
// registry is memory-only; it starts empty and is mutated solely by the
// register, unregister, and reset commands (plus the brief unspawn/idle
// eviction remove-and-restore dance).
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kagenti/mcp-bridge/internal/config"
)

// Registry is the in-memory service descriptor store.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*config.ServiceInfo
	logger   *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		services: map[string]*config.ServiceInfo{},
		logger:   logger.With("component", "registry"),
	}
}

// Register validates and stores a descriptor, stamping Created. A duplicate
// name silently replaces the existing entry. Returns false when the
// descriptor is invalid.
func (r *Registry) Register(info config.ServiceInfo) bool {
	if !info.Valid() {
		return false
	}
	info.Created = time.Now().UnixMilli()
	r.mu.Lock()
	if _, exists := r.services[info.Name]; exists {
		r.logger.Info("replacing registered service", "service", info.Name)
	}
	r.services[info.Name] = &info
	r.mu.Unlock()
	return true
}

// Put reinserts a descriptor as-is, preserving its Created and LastUsed
// stamps. Used when a descriptor removed for unspawn or idle eviction is
// restored.
func (r *Registry) Put(info config.ServiceInfo) {
	r.mu.Lock()
	r.services[info.Name] = &info
	r.mu.Unlock()
}

// Unregister removes a descriptor. Returns false for an unknown name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return false
	}
	delete(r.services, name)
	return true
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (config.ServiceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.services[name]
	if !ok {
		return config.ServiceInfo{}, false
	}
	return *info, true
}

// List returns copies of all descriptors, sorted by name.
func (r *Registry) List() []config.ServiceInfo {
	r.mu.RLock()
	out := make([]config.ServiceInfo, 0, len(r.services))
	for _, info := range r.services {
		out = append(out, *info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Touch stamps LastUsed for the named service.
func (r *Registry) Touch(name string) {
	now := time.Now().UnixMilli()
	r.mu.Lock()
	if info, ok := r.services[name]; ok {
		info.LastUsed = now
	}
	r.mu.Unlock()
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Reset empties the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.services = map[string]*config.ServiceInfo{}
	r.mu.Unlock()
}
