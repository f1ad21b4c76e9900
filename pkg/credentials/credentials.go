// Package credentials resolves bearer tokens for remote services whose
// descriptors omit one.
package credentials

import (
	"os"
	"path/filepath"
	"strings"
)

// Get looks up a token for the named service: first the environment variable
// MCP_BRIDGE_<NAME>_TOKEN (name uppercased, non-alphanumerics mapped to "_"),
// then the file ~/.mcp-bridge/credentials/<name>. Returns "" when neither
// exists.
func Get(service string) string {
	if service == "" {
		return ""
	}
	if v := os.Getenv("MCP_BRIDGE_" + envKey(service) + "_TOKEN"); v != "" {
		return strings.TrimSpace(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return getFromPath(filepath.Join(home, ".mcp-bridge", "credentials"), service)
}

func getFromPath(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // reading the user's own credential files
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func envKey(service string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, service)
}
