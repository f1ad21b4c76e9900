package bridge

import (
	"encoding/json"
	"net"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/kagenti/mcp-bridge/internal/protocol"
)

type statusResult struct {
	Status  string `json:"status"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

type spawnResult struct {
	Status    string `json:"status"`
	Name      string `json:"name"`
	ToolCount int    `json:"toolCount"`
	Ready     bool   `json:"ready"`
}

type cacheResult struct {
	Status    string `json:"status"`
	Name      string `json:"name"`
	ToolCount int    `json:"toolCount"`
}

// serviceStatus is the list command's view of one service.
type serviceStatus struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Command     string     `json:"command,omitempty"`
	Endpoint    string     `json:"endpoint,omitempty"`
	Active      bool       `json:"active"`
	Ready       bool       `json:"ready"`
	ToolCount   int        `json:"toolCount"`
	Tools       []mcp.Tool `json:"tools,omitempty"`
	Created     int64      `json:"created"`
	LastUsed    int64      `json:"lastUsed,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

type listResult struct {
	Services  []serviceStatus `json:"services"`
	Count     int             `json:"count"`
	Timestamp int64           `json:"timestamp"`
}

type singleListResult struct {
	Service   serviceStatus `json:"service"`
	Timestamp int64         `json:"timestamp"`
}

type serviceToolsEntry struct {
	Active bool       `json:"active"`
	Tools  []mcp.Tool `json:"tools"`
}

type listToolsResult struct {
	ServiceTools map[string]serviceToolsEntry `json:"serviceTools"`
}

type singleToolsResult struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Tools  []mcp.Tool `json:"tools"`
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, v)
}

func (b *Bridge) cmdRegister(id any, params json.RawMessage) *protocol.Response {
	var p protocol.RegisterParams
	if err := decode(params, &p); err != nil {
		return errResponse(id, protocol.CodeInvalidParams, "invalid register params: %v", err)
	}
	info := serviceInfoFromParams(p)
	if !b.registry.Register(info) {
		return errResponse(id, protocol.CodeInvalidParams, "invalid service definition for %q", p.Name)
	}
	b.logger.Info("service registered", "service", p.Name, "type", p.Type)
	return okResponse(id, statusResult{Status: "registered", Name: p.Name})
}

func (b *Bridge) cmdUnregister(id any, params json.RawMessage) *protocol.Response {
	var p protocol.NameParams
	if err := decode(params, &p); err != nil || p.Name == "" {
		return errResponse(id, protocol.CodeInvalidParams, "name is required")
	}
	if _, ok := b.registry.Get(p.Name); !ok {
		return errResponse(id, protocol.CodeMethodNotFound, "service %s not found", p.Name)
	}
	// killing first removes the helper handle, so the exit is never treated
	// as a crash
	b.sup.Kill(p.Name)
	b.registry.Unregister(p.Name)
	b.tools.Delete(p.Name)
	b.logger.Info("service unregistered", "service", p.Name)
	return okResponse(id, statusResult{Status: "unregistered", Name: p.Name})
}

// cmdSpawn starts a service's helper. The reply is deferred until the helper
// reports ready, the spawn times out, or restarts are exhausted.
func (b *Bridge) cmdSpawn(conn net.Conn, id any, params json.RawMessage) *protocol.Response {
	var p protocol.SpawnParams
	if err := decode(params, &p); err != nil {
		return errResponse(id, protocol.CodeInvalidParams, "invalid spawn params: %v", err)
	}
	if p.Name == "" {
		return errResponse(id, protocol.CodeInvalidParams, "name is required")
	}

	if _, registered := b.registry.Get(p.Name); !registered {
		cfg := b.settings.Get()
		command, args := p.Command, p.Args
		if command == "" {
			command, args = cfg.DefaultCommand, cfg.DefaultArgs
		}
		if command == "" {
			return errResponse(id, protocol.CodeInvalidParams,
				"service %s is not registered and no command was given", p.Name)
		}
		info := config.ServiceInfo{
			Name: p.Name,
			Type: config.ServiceLocal,
			Local: &config.LocalService{
				Command: command,
				Args:    args,
				Cwd:     p.Cwd,
				Env:     p.Env,
			},
		}
		if !b.registry.Register(info) {
			return errResponse(id, protocol.CodeInvalidParams, "invalid service definition for %q", p.Name)
		}
		b.logger.Info("service auto-registered for spawn", "service", p.Name, "command", command)
	}

	if b.sup.Ready(p.Name) {
		return okResponse(id, spawnResult{
			Status:    "already_running",
			Name:      p.Name,
			ToolCount: b.tools.Count(p.Name),
			Ready:     true,
		})
	}

	if rpcErr := b.router.BindSpawn(p.Name, id, conn); rpcErr != nil {
		return &protocol.Response{ID: id, Success: false, Error: rpcErr}
	}
	if rpcErr := b.sup.Spawn(p.Name); rpcErr != nil {
		b.router.FailSpawn(p.Name, rpcErr)
	}
	return nil
}

func (b *Bridge) cmdUnspawn(id any, params json.RawMessage) *protocol.Response {
	var p protocol.NameParams
	if err := decode(params, &p); err != nil || p.Name == "" {
		return errResponse(id, protocol.CodeInvalidParams, "name is required")
	}
	if _, ok := b.registry.Get(p.Name); !ok {
		return errResponse(id, protocol.CodeMethodNotFound, "service %s not found", p.Name)
	}
	if !b.sup.Active(p.Name) {
		return okResponse(id, statusResult{Status: "already_unspawned", Name: p.Name})
	}
	b.sup.Suspend(p.Name, b.settings.Get().UnspawnRestoreDelay)
	return okResponse(id, statusResult{Status: "unspawned", Name: p.Name})
}

func (b *Bridge) cmdShutdown(id any, params json.RawMessage) *protocol.Response {
	var p protocol.NameParams
	if err := decode(params, &p); err != nil || p.Name == "" {
		return errResponse(id, protocol.CodeInvalidParams, "name is required")
	}
	if _, ok := b.registry.Get(p.Name); !ok {
		return errResponse(id, protocol.CodeMethodNotFound, "service %s not found", p.Name)
	}
	// unregister before the kill so a racing exit event finds no descriptor
	b.registry.Unregister(p.Name)
	b.sup.Kill(p.Name)
	b.tools.Delete(p.Name)
	b.logger.Info("service shut down", "service", p.Name)
	return okResponse(id, statusResult{Status: "shutdown", Name: p.Name})
}

func (b *Bridge) cmdList(id any, params json.RawMessage) *protocol.Response {
	var p protocol.NameParams
	if err := decode(params, &p); err != nil {
		return errResponse(id, protocol.CodeInvalidParams, "invalid list params: %v", err)
	}
	now := time.Now().UnixMilli()

	if p.Name != "" {
		info, ok := b.registry.Get(p.Name)
		if !ok {
			return errResponse(id, protocol.CodeMethodNotFound, "service %s not found", p.Name)
		}
		b.registry.Touch(p.Name)
		return okResponse(id, singleListResult{Service: b.describe(info), Timestamp: now})
	}

	infos := b.registry.List()
	services := make([]serviceStatus, 0, len(infos))
	for _, info := range infos {
		services = append(services, b.describe(info))
	}
	return okResponse(id, listResult{Services: services, Count: len(services), Timestamp: now})
}

func (b *Bridge) describe(info config.ServiceInfo) serviceStatus {
	st := serviceStatus{
		Name:        info.Name,
		Type:        string(info.Type),
		Description: info.Description,
		Active:      b.sup.Active(info.Name),
		Ready:       b.sup.Ready(info.Name),
		ToolCount:   b.tools.Count(info.Name),
		Created:     info.Created,
		LastUsed:    info.LastUsed,
		LastError:   b.sup.LastError(info.Name),
	}
	if info.Local != nil {
		st.Command = info.Local.Command
	}
	if info.Remote != nil {
		st.Endpoint = info.Remote.Endpoint
	}
	st.Tools, _ = b.tools.Get(info.Name)
	return st
}

func (b *Bridge) cmdListTools(id any, params json.RawMessage) *protocol.Response {
	var p protocol.NameParams
	if err := decode(params, &p); err != nil {
		return errResponse(id, protocol.CodeInvalidParams, "invalid listtools params: %v", err)
	}

	if p.Name != "" {
		tools, ok := b.tools.Get(p.Name)
		if !ok {
			return errResponse(id, protocol.CodeInternal, "service %s has not been activated", p.Name)
		}
		return okResponse(id, singleToolsResult{
			Name:   p.Name,
			Active: b.sup.Active(p.Name),
			Tools:  tools,
		})
	}

	entries := map[string]serviceToolsEntry{}
	for _, name := range b.tools.Names() {
		tools, _ := b.tools.Get(name)
		entries[name] = serviceToolsEntry{Active: b.sup.Active(name), Tools: tools}
	}
	return okResponse(id, listToolsResult{ServiceTools: entries})
}

// cmdToolCall forwards a tool call to a ready service's helper. The reply is
// deferred until the helper answers or the request times out.
func (b *Bridge) cmdToolCall(conn net.Conn, id any, params json.RawMessage) *protocol.Response {
	var p protocol.ToolCallParams
	if err := decode(params, &p); err != nil {
		return errResponse(id, protocol.CodeInvalidParams, "invalid toolcall params: %v", err)
	}
	if p.Method == "" {
		return errResponse(id, protocol.CodeInvalidParams, "method is required")
	}

	name := p.Name
	if name == "" {
		ready, ok := b.sup.FirstReady()
		if !ok {
			return errResponse(id, protocol.CodeInternal, "no active service")
		}
		name = ready
	} else {
		if _, ok := b.registry.Get(name); !ok {
			return errResponse(id, protocol.CodeMethodNotFound, "service %s not found", name)
		}
		if !b.sup.Ready(name) {
			return errResponse(id, protocol.CodeInternal, "service %s is not active", name)
		}
	}
	b.registry.Touch(name)

	key := requestKey(id)
	if rpcErr := b.router.BindCall(key, id, name, conn); rpcErr != nil {
		return &protocol.Response{ID: id, Success: false, Error: rpcErr}
	}
	if rpcErr := b.sup.Forward(name, key, p.Method, p.Params); rpcErr != nil {
		b.router.ResolveCall(key, protocol.ToolResult{Success: false, Error: rpcErr})
	}
	return nil
}

func (b *Bridge) cmdCacheTools(id any, params json.RawMessage) *protocol.Response {
	var p protocol.CacheToolsParams
	if err := decode(params, &p); err != nil {
		return errResponse(id, protocol.CodeInvalidParams, "invalid cachetools params: %v", err)
	}
	if p.Name == "" {
		return errResponse(id, protocol.CodeInvalidParams, "name is required")
	}
	if _, ok := b.registry.Get(p.Name); !ok {
		return errResponse(id, protocol.CodeMethodNotFound, "service %s not found", p.Name)
	}
	b.tools.Set(p.Name, p.Tools)
	b.logger.Info("tools cached", "service", p.Name, "tools", len(p.Tools))
	return okResponse(id, cacheResult{Status: "cached", Name: p.Name, ToolCount: len(p.Tools)})
}

func (b *Bridge) cmdReset(id any) *protocol.Response {
	b.sup.Reset()
	b.registry.Reset()
	b.tools.Clear()
	b.router.Clear()
	b.logger.Info("bridge reset")
	return okResponse(id, statusResult{Status: "reset", Message: "all services stopped and state cleared"})
}

func serviceInfoFromParams(p protocol.RegisterParams) config.ServiceInfo {
	info := config.ServiceInfo{
		Name:        p.Name,
		Type:        config.ServiceType(p.Type),
		Description: p.Description,
	}
	switch info.Type {
	case config.ServiceLocal:
		info.Local = &config.LocalService{
			Command: p.Command,
			Args:    p.Args,
			Cwd:     p.Cwd,
			Env:     p.Env,
		}
	case config.ServiceRemote:
		info.Remote = &config.RemoteService{
			Endpoint:       p.Endpoint,
			ConnectionType: p.ConnectionType,
			BearerToken:    p.BearerToken,
			Headers:        p.Headers,
		}
	}
	return info
}
