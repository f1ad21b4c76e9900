// Package bridge is the command dispatcher: it wires the registry, the
// supervisor, the router, and the tool cache together and turns each framed
// client command into exactly one reply, synchronous or deferred.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/kagenti/mcp-bridge/internal/cache"
	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/kagenti/mcp-bridge/internal/protocol"
	"github.com/kagenti/mcp-bridge/internal/registry"
	"github.com/kagenti/mcp-bridge/internal/router"
	"github.com/kagenti/mcp-bridge/internal/supervisor"
)

// Bridge dispatches client commands and owns the component wiring.
type Bridge struct {
	registry *registry.Registry
	sup      *supervisor.Supervisor
	router   *router.Router
	tools    *cache.ToolCache
	settings *config.Store
	logger   *slog.Logger
}

// New wires a Bridge. launcher may be nil, in which case the supervisor
// re-executes the bridge binary (or the configured helper command).
func New(settings *config.Store, launcher supervisor.Launcher, logger *slog.Logger) *Bridge {
	b := &Bridge{
		registry: registry.New(logger),
		router:   router.New(logger),
		tools:    cache.New(),
		settings: settings,
		logger:   logger.With("component", "bridge"),
	}
	if launcher == nil {
		launcher = supervisor.ExecLauncher(settings.Get().HelperCommand)
	}
	b.sup = supervisor.New(b.registry, b.tools, launcher, settings.Get, supervisor.Callbacks{
		OnReady:       b.onReady,
		OnSpawnFailed: b.onSpawnFailed,
		OnToolResult:  b.onToolResult,
	}, logger)
	return b
}

func (b *Bridge) onReady(service string, toolCount int) {
	b.router.ResolveSpawn(service, spawnResult{
		Status:    "started",
		Name:      service,
		ToolCount: toolCount,
		Ready:     true,
	})
}

func (b *Bridge) onSpawnFailed(service, reason string) {
	b.router.FailSpawn(service,
		protocol.Errorf(protocol.CodeInternal, "service %s failed to start: %s", service, reason))
}

func (b *Bridge) onToolResult(id string, result protocol.ToolResult) {
	b.router.ResolveCall(id, result)
}

// HandleLine processes one framed client request and writes its reply, unless
// the command defers the reply through the router.
func (b *Bridge) HandleLine(conn net.Conn, line []byte) {
	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		b.write(conn, protocol.JSONRPCErrorResponse{
			JSONRPC: "2.0",
			ID:      extractID(line),
			Error:   protocol.Errorf(protocol.CodeParse, "Parse error: %v", err),
		})
		return
	}
	if req.Command == "" {
		b.write(conn, protocol.JSONRPCErrorResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   protocol.Errorf(protocol.CodeInvalidRequest, "Invalid request: no service specified"),
		})
		return
	}

	id := req.ID
	if id == nil {
		id = uuid.NewString()
	}

	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("command panicked", "command", req.Command, "panic", rec)
			b.write(conn, protocol.NewErrorResponse(id, protocol.CodeInternal,
				fmt.Sprintf("internal error handling %s", req.Command)))
		}
	}()

	if resp := b.dispatch(conn, id, req); resp != nil {
		b.write(conn, *resp)
	}
}

func (b *Bridge) dispatch(conn net.Conn, id any, req protocol.Request) *protocol.Response {
	switch req.Command {
	case protocol.CommandRegister:
		return b.cmdRegister(id, req.Params)
	case protocol.CommandUnregister:
		return b.cmdUnregister(id, req.Params)
	case protocol.CommandSpawn:
		return b.cmdSpawn(conn, id, req.Params)
	case protocol.CommandUnspawn:
		return b.cmdUnspawn(id, req.Params)
	case protocol.CommandShutdown:
		return b.cmdShutdown(id, req.Params)
	case protocol.CommandList:
		return b.cmdList(id, req.Params)
	case protocol.CommandListTools:
		return b.cmdListTools(id, req.Params)
	case protocol.CommandToolCall:
		return b.cmdToolCall(conn, id, req.Params)
	case protocol.CommandCacheTools:
		return b.cmdCacheTools(id, req.Params)
	case protocol.CommandReset:
		return b.cmdReset(id)
	default:
		return errResponse(id, protocol.CodeMethodNotFound, "unknown command %q", req.Command)
	}
}

// ConnClosed silently drops every pending entry bound to the connection.
func (b *Bridge) ConnClosed(conn net.Conn) {
	b.router.DropConn(conn)
}

// RunSweeper drives the periodic work: expiring pending requests and spawns,
// and evicting idle services. It returns when ctx is done.
func (b *Bridge) RunSweeper(ctx context.Context) error {
	cfg := b.settings.Get()
	sweep := time.NewTicker(cfg.SweepInterval)
	defer sweep.Stop()
	idle := time.NewTicker(cfg.IdleSweepInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			s := b.settings.Get()
			b.router.Sweep(s.RequestTimeout, s.SpawnTimeout)
		case <-idle.C:
			b.sup.EvictIdle()
		}
	}
}

// Close kills every helper. Called on graceful shutdown.
func (b *Bridge) Close() {
	b.sup.Close()
}

func (b *Bridge) write(conn net.Conn, v any) {
	if err := protocol.WriteFrame(conn, v); err != nil {
		b.logger.Warn("write reply", "error", err)
	}
}

// extractID pulls an id out of an otherwise unparseable frame, best effort.
func extractID(line []byte) any {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil
	}
	return probe.ID
}

// requestKey canonicalizes a client id for use as a pending-map key and IPC
// correlation id.
func requestKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case nil:
		return uuid.NewString()
	default:
		return fmt.Sprint(v)
	}
}

func errResponse(id any, code int, format string, args ...any) *protocol.Response {
	resp := protocol.NewErrorResponse(id, code, fmt.Sprintf(format, args...))
	return &resp
}

func okResponse(id any, result any) *protocol.Response {
	resp := protocol.NewResultResponse(id, result)
	return &resp
}
