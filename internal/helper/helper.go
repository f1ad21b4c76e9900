// Package helper implements the per-service subprocess that owns one MCP
// client session. It reads command frames from stdin, drives the session, and
// writes event frames to stdout. Crashing MCP servers take down only their
// helper; the bridge process never hosts a session itself.
package helper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/client"

	"github.com/kagenti/mcp-bridge/internal/ipc"
	"github.com/kagenti/mcp-bridge/internal/protocol"
)

type runner struct {
	conn   *ipc.Conn
	logger *slog.Logger
	name   string
	cli    *client.Client
}

// Run executes the helper loop until the bridge sends shutdown or closes the
// pipe. It returns the process exit code.
func Run(logger *slog.Logger) (code int) {
	r := &runner{
		conn:   ipc.New(os.Stdin, os.Stdout),
		logger: logger.With("component", "helper"),
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("helper panic", "panic", rec)
			r.emitClosed(fmt.Sprintf("panic: %v", rec), "")
			code = 1
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		var cmd protocol.HelperCommand
		if err := r.conn.Recv(&cmd); err != nil {
			if errors.Is(err, io.EOF) {
				// bridge went away; nothing left to serve
				r.close()
				return 0
			}
			r.logger.Error("read command", "error", err)
			r.emitClosed(fmt.Sprintf("read command: %v", err), "")
			r.close()
			return 1
		}

		switch cmd.Command {
		case protocol.HelperInit:
			if !r.handleInit(ctx, cmd) {
				r.close()
				return 1
			}
		case protocol.HelperToolCall:
			// a slow tool must never delay shutdown or later commands
			go r.handleToolCall(ctx, cmd)
		case protocol.HelperShutdown:
			r.logger.Info("shutdown requested", "service", r.name)
			r.close()
			return 0
		default:
			r.emitError(fmt.Sprintf("unknown command %q", cmd.Command))
		}
	}
}

// handleInit connects the MCP session. The session is set before any toolcall
// frame is read, so later goroutines see it without locking. A connect
// failure is fatal: the supervisor reaps the exit and applies its backoff.
func (r *runner) handleInit(ctx context.Context, cmd protocol.HelperCommand) bool {
	var params protocol.InitParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		r.emitClosed(fmt.Sprintf("decode init: %v", err), "")
		return false
	}
	r.name = params.ServiceName

	cli, tools, err := connect(ctx, params.ServiceInfo)
	if err != nil {
		r.logger.Error("connect service", "service", r.name, "error", err)
		r.emitClosed(err.Error(), "")
		return false
	}
	r.cli = cli
	r.logger.Info("session up", "service", r.name, "tools", len(tools))
	r.emit(protocol.NewHelperEvent(protocol.EventReady, "",
		protocol.ReadyParams{ServiceName: r.name, Tools: tools}))
	return true
}

// handleToolCall answers exactly one tool_result frame for the command's id,
// whatever goes wrong.
func (r *runner) handleToolCall(ctx context.Context, cmd protocol.HelperCommand) {
	var args protocol.ToolCallArgs
	if err := json.Unmarshal(cmd.Params, &args); err != nil {
		r.emitToolResult(cmd.ID, protocol.ToolResult{
			Success: false,
			Error:   protocol.Errorf(protocol.CodeInvalidParams, "decode tool call: %v", err),
		})
		return
	}
	if r.cli == nil {
		r.emitToolResult(cmd.ID, protocol.ToolResult{
			Success: false,
			Error:   protocol.Errorf(protocol.CodeInternal, "session not initialized"),
		})
		return
	}
	r.emitToolResult(cmd.ID, callTool(ctx, r.cli, args.Name, args.Arguments))
}

func (r *runner) close() {
	if r.cli != nil {
		_ = r.cli.Close()
		r.cli = nil
	}
}

func (r *runner) emit(ev protocol.HelperEvent) {
	if err := r.conn.Send(ev); err != nil {
		r.logger.Error("emit event", "event", ev.Event, "error", err)
	}
}

func (r *runner) emitToolResult(id string, result protocol.ToolResult) {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(protocol.ToolResult{
			Success: false,
			Error:   protocol.Errorf(protocol.CodeInternal, "encode tool result: %v", err),
		})
	}
	r.emit(protocol.HelperEvent{Event: protocol.EventToolResult, ID: id, Result: data})
}

func (r *runner) emitClosed(errMsg, signal string) {
	r.emit(protocol.NewHelperEvent(protocol.EventClosed, "",
		protocol.ClosedParams{ServiceName: r.name, Error: errMsg, Signal: signal}))
}

func (r *runner) emitError(msg string) {
	r.emit(protocol.NewHelperEvent(protocol.EventError, "",
		protocol.ErrorParams{ServiceName: r.name, Error: msg}))
}
