// Package router correlates TCP client requests with helper responses. It
// owns the pending tool-call map (keyed by request id), the pending spawn map
// (keyed by service name, at most one per service), and guarantees every
// pending entry exactly one terminal action: a reply, a timeout reply, or a
// silent drop when the client disconnects.
package router

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kagenti/mcp-bridge/internal/protocol"
)

type pendingCall struct {
	id      any // original client id, echoed in the reply
	conn    net.Conn
	created time.Time
	service string
}

type pendingSpawn struct {
	id      any
	conn    net.Conn
	created time.Time
}

// Router tracks in-flight deferred replies.
type Router struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	spawns map[string]*pendingSpawn
	logger *slog.Logger
}

// New creates an empty Router.
func New(logger *slog.Logger) *Router {
	return &Router{
		calls:  map[string]*pendingCall{},
		spawns: map[string]*pendingSpawn{},
		logger: logger.With("component", "router"),
	}
}

// BindCall records an in-flight tool call. The key is the canonical string
// form of the request id; id is the original value echoed back to the client.
func (r *Router) BindCall(key string, id any, service string, conn net.Conn) *protocol.RPCError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calls[key]; exists {
		return protocol.Errorf(protocol.CodeInvalidRequest, "request id %s already pending", key)
	}
	r.calls[key] = &pendingCall{id: id, conn: conn, created: time.Now(), service: service}
	return nil
}

// ResolveCall writes the helper's tool result to the originating client and
// removes the entry. A late reply for an unknown key is dropped with a
// warning.
func (r *Router) ResolveCall(key string, result protocol.ToolResult) bool {
	r.mu.Lock()
	p, ok := r.calls[key]
	if ok {
		delete(r.calls, key)
	}
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("dropping tool result for unknown request", "id", key)
		return false
	}
	resp := protocol.Response{ID: p.id, Success: result.Success, Error: result.Error}
	if len(result.Result) > 0 {
		resp.Result = result.Result
	}
	r.write(p.conn, resp)
	return true
}

// BindSpawn records a pending spawn for a service. At most one spawn may be
// pending per service name.
func (r *Router) BindSpawn(service string, id any, conn net.Conn) *protocol.RPCError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.spawns[service]; exists {
		return protocol.Errorf(protocol.CodeInternal, "spawn already in progress for service %s", service)
	}
	r.spawns[service] = &pendingSpawn{id: id, conn: conn, created: time.Now()}
	return nil
}

// HasSpawn reports whether a spawn is pending for the service.
func (r *Router) HasSpawn(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spawns[service]
	return ok
}

// ResolveSpawn writes a success reply to the client waiting on a spawn. A
// ready event with no waiter (e.g. after the spawn deadline already failed
// it) is a no-op.
func (r *Router) ResolveSpawn(service string, result any) bool {
	r.mu.Lock()
	p, ok := r.spawns[service]
	if ok {
		delete(r.spawns, service)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.write(p.conn, protocol.NewResultResponse(p.id, result))
	return true
}

// FailSpawn writes an error reply to the client waiting on a spawn.
func (r *Router) FailSpawn(service string, rpcErr *protocol.RPCError) bool {
	r.mu.Lock()
	p, ok := r.spawns[service]
	if ok {
		delete(r.spawns, service)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.write(p.conn, protocol.Response{ID: p.id, Success: false, Error: rpcErr})
	return true
}

// Sweep expires pending entries older than the given thresholds, writing a
// timeout error to each affected client.
func (r *Router) Sweep(requestTimeout, spawnTimeout time.Duration) {
	now := time.Now()

	r.mu.Lock()
	var expiredCalls []*pendingCall
	for key, p := range r.calls {
		if now.Sub(p.created) > requestTimeout {
			expiredCalls = append(expiredCalls, p)
			delete(r.calls, key)
			r.logger.Warn("tool call timed out", "id", key, "service", p.service)
		}
	}
	type expiredSpawn struct {
		service string
		p       *pendingSpawn
	}
	var expiredSpawns []expiredSpawn
	for service, p := range r.spawns {
		if now.Sub(p.created) > spawnTimeout {
			expiredSpawns = append(expiredSpawns, expiredSpawn{service: service, p: p})
			delete(r.spawns, service)
			r.logger.Warn("spawn timed out", "service", service)
		}
	}
	r.mu.Unlock()

	for _, p := range expiredCalls {
		r.write(p.conn, protocol.NewErrorResponse(p.id, protocol.CodeInternal, "Request timeout"))
	}
	for _, e := range expiredSpawns {
		r.write(e.p.conn, protocol.NewErrorResponse(e.p.id, protocol.CodeInternal,
			"service "+e.service+" failed to start within "+spawnTimeout.String()))
	}
}

// DropConn silently removes every pending entry bound to the closed
// connection. Nothing is written to a dead socket.
func (r *Router) DropConn(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, p := range r.calls {
		if p.conn == conn {
			delete(r.calls, key)
		}
	}
	for service, p := range r.spawns {
		if p.conn == conn {
			delete(r.spawns, service)
		}
	}
}

// Clear silently drops every pending entry. Used by reset; affected clients
// never receive a reply for the dropped ids.
func (r *Router) Clear() {
	r.mu.Lock()
	r.calls = map[string]*pendingCall{}
	r.spawns = map[string]*pendingSpawn{}
	r.mu.Unlock()
}

// PendingCalls returns the number of in-flight tool calls.
func (r *Router) PendingCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// PendingSpawns returns the number of in-flight spawns.
func (r *Router) PendingSpawns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spawns)
}

func (r *Router) write(conn net.Conn, v any) {
	if err := protocol.WriteFrame(conn, v); err != nil {
		r.logger.Warn("write response", "error", err)
	}
}
