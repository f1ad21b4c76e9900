package helper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/kagenti/mcp-bridge/internal/protocol"
	"github.com/kagenti/mcp-bridge/pkg/credentials"
)

// connect opens the MCP session described by info and returns the client
// together with the server's tool list.
func connect(ctx context.Context, info config.ServiceInfo) (*client.Client, []mcp.Tool, error) {
	var (
		cli *client.Client
		err error
	)
	switch info.Type {
	case config.ServiceLocal:
		cli, err = connectLocal(info)
	case config.ServiceRemote:
		cli, err = connectRemote(ctx, info)
	default:
		return nil, nil, fmt.Errorf("unknown service type %q", info.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	if _, err := cli.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "mcp-bridge-helper",
				Version: "0.1.0",
			},
		},
	}); err != nil {
		cli.Close()
		return nil, nil, fmt.Errorf("initialize %s: %w", info.Name, err)
	}

	toolsResult, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return nil, nil, fmt.Errorf("list tools for %s: %w", info.Name, err)
	}
	return cli, toolsResult.Tools, nil
}

// connectLocal spawns the service's stdio MCP server as a child of this
// helper. The helper serves exactly one service, so it is safe to chdir into
// the service's working directory before spawning.
func connectLocal(info config.ServiceInfo) (*client.Client, error) {
	local := info.Local
	command, args := resolveCommand(local.Command, local.Args)

	cwd := workDir(info.Name, local.Cwd)
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory %s: %w", cwd, err)
	}
	if err := os.Chdir(cwd); err != nil {
		return nil, fmt.Errorf("enter working directory %s: %w", cwd, err)
	}

	return client.NewStdioMCPClient(command, mergeEnv(cwd, local.Env), args...)
}

func connectRemote(ctx context.Context, info config.ServiceInfo) (*client.Client, error) {
	remote := info.Remote

	headers := map[string]string{}
	for k, v := range remote.Headers {
		headers[k] = v
	}
	token := remote.BearerToken
	if token == "" {
		token = credentials.Get(info.Name)
	}
	if token != "" && headers["Authorization"] == "" {
		headers["Authorization"] = "Bearer " + strings.TrimPrefix(token, "Bearer ")
	}

	var (
		cli *client.Client
		err error
	)
	switch remote.ConnectionType {
	case config.ConnectionSSE:
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, client.WithHeaders(headers))
		}
		cli, err = client.NewSSEMCPClient(remote.Endpoint, opts...)
	case config.ConnectionHTTPStream, "":
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		cli, err = client.NewStreamableHttpClient(remote.Endpoint, opts...)
	default:
		return nil, fmt.Errorf("unknown connection type %q", remote.ConnectionType)
	}
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", remote.Endpoint, err)
	}
	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("start client for %s: %w", remote.Endpoint, err)
	}
	return cli, nil
}

// resolveCommand expands a leading "~" and rewrites npx invocations to
// "pnpm dlx", dropping npx's -y/--yes flags which pnpm does not take.
func resolveCommand(command string, args []string) (string, []string) {
	command = expandHome(command)
	if filepath.Base(command) == "npx" {
		filtered := make([]string, 0, len(args)+1)
		filtered = append(filtered, "dlx")
		for _, a := range args {
			if a == "-y" || a == "--yes" {
				continue
			}
			filtered = append(filtered, a)
		}
		return "pnpm", filtered
	}
	return command, append([]string(nil), args...)
}

// workDir returns the service's working directory, defaulting to
// <home>/mcp_plugins/<name>.
func workDir(name, cwd string) string {
	if cwd != "" {
		return expandHome(cwd)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "mcp_plugins", name)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// mergeEnv builds the extra environment for a local server: package-manager
// defaults keyed to the working directory, overridden by the descriptor's own
// env. The stdio transport appends these to the helper's environment.
func mergeEnv(cwd string, override map[string]string) []string {
	merged := map[string]string{
		"npm_config_cache":          filepath.Join(cwd, ".npm-cache"),
		"npm_config_prefer_offline": "true",
		"UV_LINK_MODE":              "copy",
	}
	if runtime.GOOS == "linux" {
		merged["NODE_OPTIONS"] = "--openssl-legacy-provider"
	}
	for k, v := range override {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// callTool invokes one tool and maps the MCP result onto the IPC result
// shape. A result flagged IsError becomes a tool-level failure carrying the
// server's first text content.
func callTool(ctx context.Context, cli *client.Client, name string, args map[string]any) protocol.ToolResult {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return protocol.ToolResult{
			Success: false,
			Error:   protocol.Errorf(protocol.CodeInternal, "tool call %s failed: %v", name, err),
		}
	}
	if result.IsError {
		return protocol.ToolResult{
			Success: false,
			Error:   protocol.Errorf(protocol.CodeToolError, "%s", errorText(result)),
		}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return protocol.ToolResult{
			Success: false,
			Error:   protocol.Errorf(protocol.CodeInternal, "encode tool result: %v", err),
		}
	}
	return protocol.ToolResult{Success: true, Result: raw}
}

func errorText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok && text.Text != "" {
			return text.Text
		}
	}
	return "tool reported an error"
}
