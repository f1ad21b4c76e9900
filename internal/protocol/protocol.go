// Package protocol defines the line-delimited JSON command surface the bridge
// exposes to TCP clients, the JSON-RPC error codes used in replies, and the
// IPC frames exchanged between the bridge and its helper subprocesses.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
)

// JSON-RPC error codes used in client replies.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeParse          = -32700
	CodeToolError      = -32000
)

// Client commands accepted by the dispatcher.
const (
	CommandRegister   = "register"
	CommandUnregister = "unregister"
	CommandSpawn      = "spawn"
	CommandUnspawn    = "unspawn"
	CommandShutdown   = "shutdown"
	CommandList       = "list"
	CommandListTools  = "listtools"
	CommandToolCall   = "toolcall"
	CommandCacheTools = "cachetools"
	CommandReset      = "reset"
)

// RPCError is the error payload carried in failure replies.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Errorf builds an RPCError with a formatted message.
func Errorf(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is one framed command from a TCP client. ID may be a string, a
// number, or null; the dispatcher generates a UUID when it is absent.
type Request struct {
	ID      any             `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one framed reply to a TCP client.
type Response struct {
	ID      any       `json:"id"`
	Success bool      `json:"success"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// JSONRPCErrorResponse is the JSON-RPC shaped reply used for frames that
// never made it into a valid Request: parse failures and missing commands.
type JSONRPCErrorResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Error   *RPCError `json:"error"`
}

// NewErrorResponse builds a failure reply.
func NewErrorResponse(id any, code int, message string) Response {
	return Response{ID: id, Success: false, Error: &RPCError{Code: code, Message: message}}
}

// NewResultResponse builds a success reply.
func NewResultResponse(id any, result any) Response {
	return Response{ID: id, Success: true, Result: result}
}

// WriteFrame marshals v and writes it followed by a single newline. Every
// client reply and every IPC frame goes through this.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// RegisterParams carries the flat wire form of a service descriptor.
type RegisterParams struct {
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Endpoint       string            `json:"endpoint,omitempty"`
	ConnectionType string            `json:"connectionType,omitempty"`
	BearerToken    string            `json:"bearerToken,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Description    string            `json:"description,omitempty"`
}

// SpawnParams names the service to start, with an optional embedded command
// for implicit local registration.
type SpawnParams struct {
	Name    string            `json:"name"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// NameParams is the shared single-name parameter shape.
type NameParams struct {
	Name string `json:"name"`
}

// ToolCallParams selects a tool on a service. Name may be empty, in which
// case the dispatcher picks the first ready service.
type ToolCallParams struct {
	Name   string         `json:"name,omitempty"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// CacheToolsParams seeds the tool cache for a registered service.
type CacheToolsParams struct {
	Name  string     `json:"name"`
	Tools []mcp.Tool `json:"tools"`
}
