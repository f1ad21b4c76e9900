// Package supervisor owns the helper subprocesses: one per active service.
// It spawns helpers, relays tool calls to them, caches their tool lists on
// ready, and restarts them with exponential backoff when they crash.
package supervisor

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kagenti/mcp-bridge/internal/cache"
	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/kagenti/mcp-bridge/internal/protocol"
	"github.com/kagenti/mcp-bridge/internal/registry"
)

// Callbacks deliver helper outcomes to the dispatcher. All three may be nil.
type Callbacks struct {
	// OnReady fires when a helper reports its MCP session up, with the size
	// of the tool list it announced.
	OnReady func(service string, toolCount int)
	// OnSpawnFailed fires when restart attempts for a service are exhausted.
	OnSpawnFailed func(service string, reason string)
	// OnToolResult fires for each tool_result frame a helper emits.
	OnToolResult func(id string, result protocol.ToolResult)
}

type handle struct {
	proc      Process
	ready     bool
	abortHint bool
}

// Supervisor manages the helper process per active service.
type Supervisor struct {
	launcher Launcher
	registry *registry.Registry
	tools    *cache.ToolCache
	settings func() config.Settings
	cb       Callbacks
	logger   *slog.Logger

	mu       sync.Mutex
	helpers  map[string]*handle
	attempts map[string]int
	lastErr  map[string]string
	closed   bool
}

// New creates a Supervisor. settings is called at each decision point so that
// live-reloaded tunables take effect without a restart.
func New(reg *registry.Registry, tools *cache.ToolCache, launcher Launcher, settings func() config.Settings, cb Callbacks, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		launcher: launcher,
		registry: reg,
		tools:    tools,
		settings: settings,
		cb:       cb,
		logger:   logger.With("component", "supervisor"),
		helpers:  map[string]*handle{},
		attempts: map[string]int{},
		lastErr:  map[string]string{},
	}
}

// Spawn starts (or restarts) the helper for a registered service. The ready
// outcome arrives later through Callbacks; a launch failure here feeds the
// same backoff machinery as a crash.
func (s *Supervisor) Spawn(name string) *protocol.RPCError {
	info, ok := s.registry.Get(name)
	if !ok {
		return protocol.Errorf(protocol.CodeInternal, "service %s is not registered", name)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Errorf(protocol.CodeInternal, "bridge is shutting down")
	}
	old := s.helpers[name]
	delete(s.helpers, name)
	s.mu.Unlock()
	if old != nil {
		s.logger.Info("replacing running helper", "service", name)
		old.proc.Kill()
	}

	proc, err := s.launcher(info)
	if err != nil {
		s.logger.Error("launch helper", "service", name, "error", err)
		s.mu.Lock()
		s.lastErr[name] = err.Error()
		s.mu.Unlock()
		s.scheduleRestart(name, false)
		return nil
	}

	h := &handle{proc: proc}
	s.mu.Lock()
	s.helpers[name] = h
	s.mu.Unlock()

	init := protocol.NewHelperCommand(protocol.HelperInit, "",
		protocol.InitParams{ServiceName: name, ServiceInfo: info})
	if err := proc.Send(init); err != nil {
		s.logger.Error("send init to helper", "service", name, "error", err)
	}

	go s.eventLoop(name, h)
	go s.stderrLoop(name, h)
	go s.waitLoop(name, h)

	s.logger.Info("helper spawned", "service", name, "type", info.Type)
	return nil
}

func (s *Supervisor) eventLoop(name string, h *handle) {
	for ev := range h.proc.Events() {
		switch ev.Event {
		case protocol.EventReady:
			var p protocol.ReadyParams
			if err := json.Unmarshal(ev.Params, &p); err != nil {
				s.logger.Error("decode ready event", "service", name, "error", err)
				continue
			}
			s.mu.Lock()
			h.ready = true
			s.attempts[name] = 0
			delete(s.lastErr, name)
			s.mu.Unlock()
			s.tools.Set(name, p.Tools)
			s.logger.Info("service ready", "service", name, "tools", len(p.Tools))
			if s.cb.OnReady != nil {
				s.cb.OnReady(name, len(p.Tools))
			}

		case protocol.EventToolResult:
			var result protocol.ToolResult
			if err := json.Unmarshal(ev.Result, &result); err != nil {
				s.logger.Error("decode tool result", "service", name, "id", ev.ID, "error", err)
				result = protocol.ToolResult{
					Success: false,
					Error:   protocol.Errorf(protocol.CodeInternal, "malformed tool result from helper"),
				}
			}
			if s.cb.OnToolResult != nil {
				s.cb.OnToolResult(ev.ID, result)
			}

		case protocol.EventClosed:
			var p protocol.ClosedParams
			_ = json.Unmarshal(ev.Params, &p)
			s.logger.Warn("helper session closed", "service", name, "error", p.Error, "signal", p.Signal)
			s.mu.Lock()
			h.ready = false
			if p.Error != "" {
				s.lastErr[name] = p.Error
			}
			if isAbortLike(p.Signal) || strings.Contains(p.Error, "SIGABRT") {
				h.abortHint = true
			}
			s.mu.Unlock()

		case protocol.EventError:
			var p protocol.ErrorParams
			_ = json.Unmarshal(ev.Params, &p)
			s.logger.Warn("helper error", "service", name, "error", p.Error)
			s.mu.Lock()
			if p.Error != "" {
				s.lastErr[name] = p.Error
			}
			s.mu.Unlock()

		default:
			s.logger.Warn("unknown helper event", "service", name, "event", ev.Event)
		}
	}
}

func (s *Supervisor) stderrLoop(name string, h *handle) {
	for line := range h.proc.StderrLines() {
		s.logger.Debug("helper stderr", "service", name, "line", line)
		if strings.Contains(line, "SIGABRT") {
			s.mu.Lock()
			h.abortHint = true
			s.mu.Unlock()
		}
	}
}

// waitLoop reaps the helper and decides whether the exit warrants a restart.
// Deliberate kills remove the handle from the map first, so the staleness
// check below makes them restart-free.
func (s *Supervisor) waitLoop(name string, h *handle) {
	st := h.proc.Wait()

	s.mu.Lock()
	if s.helpers[name] != h {
		s.mu.Unlock()
		return
	}
	delete(s.helpers, name)
	abort := h.abortHint || isAbortLike(st.Signal)
	closed := s.closed
	s.mu.Unlock()

	s.logger.Warn("helper exited", "service", name, "code", st.Code, "signal", st.Signal)
	if closed {
		return
	}
	if _, ok := s.registry.Get(name); !ok {
		// unregistered while running; nothing to bring back
		return
	}
	s.scheduleRestart(name, abort)
}

// scheduleRestart applies the backoff policy: base delay doubling per
// consecutive failure, collapsed to zero after an abort-like exit, giving up
// after the configured number of attempts.
func (s *Supervisor) scheduleRestart(name string, abort bool) {
	cfg := s.settings()

	s.mu.Lock()
	s.attempts[name]++
	n := s.attempts[name]
	if n > cfg.MaxRestartAttempts {
		s.attempts[name] = 0
		reason := s.lastErr[name]
		s.mu.Unlock()
		if reason == "" {
			reason = "service failed to start"
		}
		s.logger.Error("giving up on service", "service", name, "attempts", cfg.MaxRestartAttempts, "reason", reason)
		if s.cb.OnSpawnFailed != nil {
			s.cb.OnSpawnFailed(name, reason)
		}
		return
	}
	s.mu.Unlock()

	delay := time.Duration(0)
	if !abort {
		delay = cfg.RestartBaseDelay << (n - 1)
	}
	s.logger.Info("scheduling helper restart", "service", name, "attempt", n, "delay", delay)

	time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || s.helpers[name] != nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if _, ok := s.registry.Get(name); !ok {
			return
		}
		if rpcErr := s.Spawn(name); rpcErr != nil {
			s.logger.Error("restart failed", "service", name, "error", rpcErr.Message)
		}
	})
}

// Forward relays a tool call to the named service's helper.
func (s *Supervisor) Forward(name, id, tool string, args map[string]any) *protocol.RPCError {
	s.mu.Lock()
	h := s.helpers[name]
	ready := h != nil && h.ready
	s.mu.Unlock()
	if !ready {
		return protocol.Errorf(protocol.CodeInternal, "service %s is not active", name)
	}
	cmd := protocol.NewHelperCommand(protocol.HelperToolCall, id,
		protocol.ToolCallArgs{Name: tool, Arguments: args})
	if err := h.proc.Send(cmd); err != nil {
		return protocol.Errorf(protocol.CodeInternal, "forward tool call to %s: %v", name, err)
	}
	return nil
}

// Kill terminates the helper for a service without triggering a restart.
// Returns false when no helper was running.
func (s *Supervisor) Kill(name string) bool {
	s.mu.Lock()
	h := s.helpers[name]
	delete(s.helpers, name)
	s.mu.Unlock()
	if h == nil {
		return false
	}
	// ask nicely first so the helper can close its MCP session
	_ = h.proc.Send(protocol.NewHelperCommand(protocol.HelperShutdown, "", nil))
	h.proc.Kill()
	s.logger.Info("helper killed", "service", name)
	return true
}

// Suspend kills a service's helper while keeping its descriptor: the entry is
// pulled from the registry so a racing restart cannot resurrect the helper,
// then reinserted after restoreAfter. Used by unspawn and idle eviction.
func (s *Supervisor) Suspend(name string, restoreAfter time.Duration) bool {
	info, ok := s.registry.Get(name)
	if !ok {
		return false
	}
	s.registry.Unregister(name)
	killed := s.Kill(name)
	s.mu.Lock()
	delete(s.attempts, name)
	s.mu.Unlock()
	time.AfterFunc(restoreAfter, func() {
		s.registry.Put(info)
	})
	return killed
}

// EvictIdle suspends every active service whose last use is older than the
// idle timeout.
func (s *Supervisor) EvictIdle() {
	cfg := s.settings()
	now := time.Now().UnixMilli()
	for _, info := range s.registry.List() {
		if !s.Active(info.Name) {
			continue
		}
		last := info.LastUsed
		if last == 0 {
			last = info.Created
		}
		if now-last <= cfg.IdleTimeout.Milliseconds() {
			continue
		}
		s.logger.Info("evicting idle service", "service", info.Name, "idle", time.Duration(now-last)*time.Millisecond)
		s.Suspend(info.Name, cfg.UnspawnRestoreDelay)
	}
}

// Active reports whether a helper process exists for the service.
func (s *Supervisor) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.helpers[name] != nil
}

// Ready reports whether the service's helper has announced its session up.
func (s *Supervisor) Ready(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.helpers[name]
	return h != nil && h.ready
}

// FirstReady returns the name of a ready service, preferring registry order.
func (s *Supervisor) FirstReady() (string, bool) {
	for _, info := range s.registry.List() {
		if s.Ready(info.Name) {
			return info.Name, true
		}
	}
	return "", false
}

// LastError returns the most recent failure recorded for the service.
func (s *Supervisor) LastError(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[name]
}

// Attempts returns the current consecutive-failure count for the service.
func (s *Supervisor) Attempts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[name]
}

// Reset kills every helper and clears restart state. The registry and tool
// cache are the dispatcher's to clear.
func (s *Supervisor) Reset() {
	s.killAll()
	s.mu.Lock()
	s.attempts = map[string]int{}
	s.lastErr = map[string]string{}
	s.mu.Unlock()
}

// Close kills every helper and refuses further spawns and restarts.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.killAll()
}

func (s *Supervisor) killAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.helpers))
	for name := range s.helpers {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		s.Kill(name)
	}
}

func isAbortLike(signal string) bool {
	return signal == "SIGABRT" || signal == "abort" || signal == "aborted"
}
