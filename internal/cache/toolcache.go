// Package cache provides the per-service tool list cache. Entries are
// written by helper ready events and by the cachetools command, and survive
// helper restarts until the next ready event overwrites them.
package cache

import (
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCache maps service names to their last known tool lists.
type ToolCache struct {
	tools sync.Map
}

// New creates an empty ToolCache.
func New() *ToolCache {
	return &ToolCache{}
}

// Set stores the tool list for a service, replacing any previous entry.
func (c *ToolCache) Set(name string, tools []mcp.Tool) {
	copied := make([]mcp.Tool, len(tools))
	copy(copied, tools)
	c.tools.Store(name, copied)
}

// Get returns a copy of the cached tools for a service. The second return
// distinguishes "never activated" from an empty tool list.
func (c *ToolCache) Get(name string) ([]mcp.Tool, bool) {
	v, ok := c.tools.Load(name)
	if !ok {
		return nil, false
	}
	cached := v.([]mcp.Tool)
	out := make([]mcp.Tool, len(cached))
	copy(out, cached)
	return out, true
}

// Count returns the number of cached tools for a service.
func (c *ToolCache) Count(name string) int {
	v, ok := c.tools.Load(name)
	if !ok {
		return 0
	}
	return len(v.([]mcp.Tool))
}

// Names returns the cached service names, sorted.
func (c *ToolCache) Names() []string {
	var names []string
	c.tools.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Delete removes the entry for a service.
func (c *ToolCache) Delete(name string) {
	c.tools.Delete(name)
}

// Clear removes every entry.
func (c *ToolCache) Clear() {
	c.tools.Range(func(k, _ any) bool {
		c.tools.Delete(k)
		return true
	})
}
