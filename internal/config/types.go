// Package config provides the service descriptor types and the bridge's own
// runtime settings.
package config

// ServiceType discriminates the two service variants.
type ServiceType string

// Service variants.
const (
	ServiceLocal  ServiceType = "local"
	ServiceRemote ServiceType = "remote"
)

// Remote connection types.
const (
	ConnectionHTTPStream = "httpStream"
	ConnectionSSE        = "sse"
)

// LocalService describes an MCP server spawned as a child of the helper,
// speaking MCP over stdio. A "~"-prefixed command or cwd is expanded against
// the home directory by the helper; Cwd defaults to <home>/mcp_plugins/<name>.
type LocalService struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// RemoteService describes an MCP endpoint reached over streamable HTTP or SSE.
type RemoteService struct {
	Endpoint       string            `json:"endpoint"`
	ConnectionType string            `json:"connectionType,omitempty"`
	BearerToken    string            `json:"bearerToken,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// ServiceInfo is one registry entry. Exactly one of Local/Remote is set,
// matching Type. The struct is JSON-tagged because it travels to helpers
// inside the init IPC frame.
type ServiceInfo struct {
	Name        string         `json:"name"`
	Type        ServiceType    `json:"type"`
	Description string         `json:"description,omitempty"`
	Local       *LocalService  `json:"local,omitempty"`
	Remote      *RemoteService `json:"remote,omitempty"`
	Created     int64          `json:"created"`
	LastUsed    int64          `json:"lastUsed,omitempty"`
}

// Valid reports whether the descriptor has a name, a known type, and the
// field group its type requires.
func (s *ServiceInfo) Valid() bool {
	if s.Name == "" {
		return false
	}
	switch s.Type {
	case ServiceLocal:
		return s.Local != nil && s.Local.Command != ""
	case ServiceRemote:
		return s.Remote != nil && s.Remote.Endpoint != ""
	}
	return false
}
