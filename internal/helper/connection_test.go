package helper

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCommand(t *testing.T) {
	tests := []struct {
		name        string
		command     string
		args        []string
		wantCommand string
		wantArgs    []string
	}{
		{
			name:        "plain command untouched",
			command:     "node",
			args:        []string{"server.js", "--port", "3000"},
			wantCommand: "node",
			wantArgs:    []string{"server.js", "--port", "3000"},
		},
		{
			name:        "npx rewritten to pnpm dlx",
			command:     "npx",
			args:        []string{"-y", "@modelcontextprotocol/server-filesystem", "/data"},
			wantCommand: "pnpm",
			wantArgs:    []string{"dlx", "@modelcontextprotocol/server-filesystem", "/data"},
		},
		{
			name:        "long form yes flag dropped",
			command:     "npx",
			args:        []string{"--yes", "some-server"},
			wantCommand: "pnpm",
			wantArgs:    []string{"dlx", "some-server"},
		},
		{
			name:        "npx by path",
			command:     "/usr/local/bin/npx",
			args:        []string{"some-server"},
			wantCommand: "pnpm",
			wantArgs:    []string{"dlx", "some-server"},
		},
		{
			name:        "yes flags kept for non-npx commands",
			command:     "uvx",
			args:        []string{"-y", "mcp-server"},
			wantCommand: "uvx",
			wantArgs:    []string{"-y", "mcp-server"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command, args := resolveCommand(tt.command, tt.args)
			assert.Equal(t, tt.wantCommand, command)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestWorkDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "mcp_plugins", "files"), workDir("files", ""))
	assert.Equal(t, "/srv/mcp", workDir("files", "/srv/mcp"))
	assert.Equal(t, filepath.Join(home, "plugins"), workDir("files", "~/plugins"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, filepath.Join(home, "bin", "server"), expandHome("~/bin/server"))
	assert.Equal(t, "/opt/server", expandHome("/opt/server"))
	// a tilde not in the leading position is left alone
	assert.Equal(t, "/data/~cache", expandHome("/data/~cache"))
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv("/work", map[string]string{
		"npm_config_prefer_offline": "false",
		"API_KEY":                   "secret",
	})

	byKey := map[string]string{}
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		byKey[parts[0]] = parts[1]
	}

	assert.Equal(t, filepath.Join("/work", ".npm-cache"), byKey["npm_config_cache"])
	assert.Equal(t, "copy", byKey["UV_LINK_MODE"])
	assert.Equal(t, "secret", byKey["API_KEY"])
	// descriptor env wins over the defaults
	assert.Equal(t, "false", byKey["npm_config_prefer_offline"])
	if runtime.GOOS == "linux" {
		assert.Equal(t, "--openssl-legacy-provider", byKey["NODE_OPTIONS"])
	}

	assert.IsIncreasing(t, env)
}

func TestErrorText(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "file not found"},
			mcp.TextContent{Type: "text", Text: "second line"},
		},
	}
	assert.Equal(t, "file not found", errorText(result))

	assert.Equal(t, "tool reported an error", errorText(&mcp.CallToolResult{}))
}
