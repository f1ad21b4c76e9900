package cache

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDistinguishesEmptyFromMissing(t *testing.T) {
	c := New()

	_, ok := c.Get("ghost")
	assert.False(t, ok)

	c.Set("empty", nil)
	tools, ok := c.Get("empty")
	assert.True(t, ok)
	assert.Empty(t, tools)
}

func TestSetCopies(t *testing.T) {
	c := New()
	original := []mcp.Tool{{Name: "read"}, {Name: "write"}}
	c.Set("files", original)

	original[0].Name = "mutated"
	tools, ok := c.Get("files")
	require.True(t, ok)
	assert.Equal(t, "read", tools[0].Name)

	// mutating the returned slice must not affect the cache either
	tools[1].Name = "mutated"
	again, _ := c.Get("files")
	assert.Equal(t, "write", again[1].Name)
}

func TestCountAndNames(t *testing.T) {
	c := New()
	c.Set("zeta", []mcp.Tool{{Name: "a"}})
	c.Set("alpha", []mcp.Tool{{Name: "a"}, {Name: "b"}})

	assert.Equal(t, 1, c.Count("zeta"))
	assert.Equal(t, 2, c.Count("alpha"))
	assert.Equal(t, 0, c.Count("ghost"))
	assert.Equal(t, []string{"alpha", "zeta"}, c.Names())
}

func TestDeleteAndClear(t *testing.T) {
	c := New()
	c.Set("a", []mcp.Tool{{Name: "x"}})
	c.Set("b", []mcp.Tool{{Name: "y"}})

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Empty(t, c.Names())
}
