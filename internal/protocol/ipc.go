package protocol

import (
	"encoding/json"

	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
)

// IPC commands sent from the supervisor to a helper.
const (
	HelperInit     = "init"
	HelperToolCall = "toolcall"
	HelperShutdown = "shutdown"
)

// IPC events emitted by a helper.
const (
	EventReady      = "ready"
	EventToolResult = "tool_result"
	EventClosed     = "closed"
	EventError      = "error"
)

// HelperCommand is one supervisor-to-helper frame.
type HelperCommand struct {
	Command string          `json:"command"`
	ID      string          `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// HelperEvent is one helper-to-supervisor frame.
type HelperEvent struct {
	Event  string          `json:"event"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// InitParams instructs a helper which service to connect.
type InitParams struct {
	ServiceName string             `json:"serviceName"`
	ServiceInfo config.ServiceInfo `json:"serviceInfo"`
}

// ToolCallArgs names the tool and arguments for a helper toolcall frame.
type ToolCallArgs struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"args,omitempty"`
}

// ReadyParams is the payload of a ready event.
type ReadyParams struct {
	ServiceName string     `json:"serviceName"`
	Tools       []mcp.Tool `json:"tools"`
}

// ToolResult is the payload of a tool_result event. Result carries the raw
// MCP call result through to the client unchanged.
type ToolResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ClosedParams is the payload of a closed event. Signal is advisory: the
// supervisor only cares whether it is abort-like.
type ClosedParams struct {
	ServiceName string `json:"serviceName"`
	Error       string `json:"error,omitempty"`
	Signal      string `json:"signal,omitempty"`
}

// ErrorParams is the payload of a non-fatal helper error event.
type ErrorParams struct {
	ServiceName string `json:"serviceName"`
	Error       string `json:"error"`
}

// NewHelperCommand builds a helper frame, marshalling params. Marshal
// failures are programming errors and produce a frame with empty params.
func NewHelperCommand(command, id string, params any) HelperCommand {
	cmd := HelperCommand{Command: command, ID: id}
	if params != nil {
		if data, err := json.Marshal(params); err == nil {
			cmd.Params = data
		}
	}
	return cmd
}

// NewHelperEvent builds a helper event frame, marshalling params.
func NewHelperEvent(event, id string, params any) HelperEvent {
	ev := HelperEvent{Event: event, ID: id}
	if params != nil {
		if data, err := json.Marshal(params); err == nil {
			ev.Params = data
		}
	}
	return ev
}
