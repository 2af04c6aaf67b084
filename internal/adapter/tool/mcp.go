package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
)

// maxToolNameLen is the longest function name the chat APIs accept.
const maxToolNameLen = 64

// mcpSession is the part of an MCP client the toolset uses.
type mcpSession interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// mcpDialer opens and initializes a session with one server.
type mcpDialer func(ctx context.Context, srv config.MCPServer) (mcpSession, error)

// MCPServerStatus describes one configured MCP server after connecting.
type MCPServerStatus struct {
	Name      string
	Transport string
	Tools     []string
	Err       error
}

// MCPToolset holds the sessions of the configured MCP servers and the tools
// they expose. A server that fails to connect is kept with its error so it
// can be reported; it contributes no tools.
type MCPToolset struct {
	servers []*mcpServer
	logger  *slog.Logger
	closeMu sync.Mutex
}

type mcpServer struct {
	cfg     config.MCPServer
	session mcpSession
	tools   []domain.Tool
	err     error
}

// ConnectMCP dials every server concurrently and lists its tools.
func ConnectMCP(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) *MCPToolset {
	return connectMCP(ctx, servers, dialMCP, logger)
}

func connectMCP(ctx context.Context, servers []config.MCPServer, dial mcpDialer, logger *slog.Logger) *MCPToolset {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ts := &MCPToolset{logger: logger, servers: make([]*mcpServer, len(servers))}

	var g errgroup.Group
	for i, cfg := range servers {
		srv := &mcpServer{cfg: cfg}
		ts.servers[i] = srv
		g.Go(func() error {
			srv.connect(ctx, dial, logger)
			return nil
		})
	}
	_ = g.Wait()
	return ts
}

func (s *mcpServer) connect(ctx context.Context, dial mcpDialer, logger *slog.Logger) {
	session, err := dial(ctx, s.cfg)
	if err != nil {
		s.err = err
		logger.Warn("mcp server unavailable", "server", s.cfg.Name, "error", err)
		return
	}
	s.session = session

	listed, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		s.err = fmt.Errorf("list tools: %w", err)
		logger.Warn("mcp server unavailable", "server", s.cfg.Name, "error", s.err)
		return
	}

	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = s.cfg.Name
	}
	for _, remote := range listed.Tools {
		if len(s.cfg.Tools) > 0 && !slices.Contains(s.cfg.Tools, remote.Name) {
			continue
		}
		s.tools = append(s.tools, &mcpTool{
			server:  s.cfg.Name,
			name:    mcpToolName(prefix, remote.Name),
			remote:  remote,
			session: session,
			timeout: s.cfg.Timeout,
		})
	}
	logger.Info("mcp server connected",
		"server", s.cfg.Name,
		"transport", s.cfg.Transport,
		"tools", len(s.tools),
	)
}

// Tools returns the tools of every connected server, in configuration order.
func (ts *MCPToolset) Tools() []domain.Tool {
	var out []domain.Tool
	for _, srv := range ts.servers {
		out = append(out, srv.tools...)
	}
	return out
}

// Status reports every configured server, connected or not.
func (ts *MCPToolset) Status() []MCPServerStatus {
	out := make([]MCPServerStatus, 0, len(ts.servers))
	for _, srv := range ts.servers {
		st := MCPServerStatus{Name: srv.cfg.Name, Transport: srv.cfg.Transport, Err: srv.err}
		for _, t := range srv.tools {
			st.Tools = append(st.Tools, t.Name())
		}
		out = append(out, st)
	}
	return out
}

// Close ends every open session. It is safe to call more than once.
func (ts *MCPToolset) Close() {
	ts.closeMu.Lock()
	defer ts.closeMu.Unlock()
	for _, srv := range ts.servers {
		if srv.session == nil {
			continue
		}
		if err := srv.session.Close(); err != nil {
			ts.logger.Warn("mcp session close failed", "server", srv.cfg.Name, "error", err)
		}
		srv.session = nil
	}
}

// dialMCP starts the transport named by srv and performs the MCP handshake.
func dialMCP(ctx context.Context, srv config.MCPServer) (mcpSession, error) {
	var c *mcpclient.Client
	switch srv.Transport {
	case "stdio":
		var err error
		c, err = mcpclient.NewStdioMCPClient(srv.Command, environ(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", srv.Command, err)
		}
	case "http":
		tr, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("http transport: %w", err)
		}
		c = mcpclient.NewClient(tr)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", srv.URL, err)
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	var hello mcp.InitializeRequest
	hello.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	hello.Params.ClientInfo = mcp.Implementation{Name: "skillagent", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, hello); err != nil {
		_ = c.Close()
		return nil, domain.WrapOp("mcp initialize", err)
	}
	return c, nil
}

// mcpTool is one remote tool exposed through the catalog.
type mcpTool struct {
	server  string
	name    string
	remote  mcp.Tool
	session mcpSession
	timeout time.Duration
}

func (t *mcpTool) Name() string { return t.name }

func (t *mcpTool) Description() string {
	if t.remote.Description != "" {
		return t.remote.Description
	}
	if t.remote.Annotations.Title != "" {
		return t.remote.Annotations.Title
	}
	return fmt.Sprintf("%s (via MCP server %s)", t.remote.Name, t.server)
}

// Schema forwards the server's input schema. Servers that publish a raw
// schema have it passed through untouched.
func (t *mcpTool) Schema() domain.ToolSchema {
	params := t.remote.RawInputSchema
	if len(params) == 0 {
		in := t.remote.InputSchema
		if in.Type == "" {
			in.Type = "object"
		}
		if data, err := json.Marshal(in); err == nil {
			params = data
		}
	}
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: params}
}

// Execute forwards the call. Transport failures are returned as errors so
// the executor can classify them; a result the server flags as an error is
// returned as an error ToolResult.
func (t *mcpTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
		}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var req mcp.CallToolRequest
	req.Params.Name = t.remote.Name
	req.Params.Arguments = args

	res, err := t.session.CallTool(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && t.timeout > 0:
		return nil, fmt.Errorf("%w: %s did not answer within %s", domain.ErrToolTimeout, t.server, t.timeout)
	default:
		return nil, fmt.Errorf("mcp %s: %w", t.server, err)
	}

	return &domain.ToolResult{Content: renderMCPResult(res), IsError: res.IsError}, nil
}

// renderMCPResult flattens a call result to text. Binary content is
// summarized, and structured content is used when no content block was sent.
func renderMCPResult(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if s := renderMCPContent(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}

func renderMCPContent(c mcp.Content) string {
	switch v := c.(type) {
	case mcp.TextContent:
		return v.Text
	case *mcp.TextContent:
		return v.Text
	case mcp.ImageContent:
		return fmt.Sprintf("[image %s, %d bytes base64]", v.MIMEType, len(v.Data))
	case mcp.AudioContent:
		return fmt.Sprintf("[audio %s, %d bytes base64]", v.MIMEType, len(v.Data))
	case mcp.EmbeddedResource:
		return renderMCPResource(v.Resource)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

func renderMCPResource(r mcp.ResourceContents) string {
	switch v := r.(type) {
	case mcp.TextResourceContents:
		return v.Text
	case *mcp.TextResourceContents:
		return v.Text
	case mcp.BlobResourceContents:
		return fmt.Sprintf("[resource %s, %s]", v.URI, v.MIMEType)
	case *mcp.BlobResourceContents:
		return fmt.Sprintf("[resource %s, %s]", v.URI, v.MIMEType)
	}
	return ""
}

// mcpToolName builds mcp_<prefix>_<tool>, mapping characters the chat APIs
// reject to '_' and truncating to maxToolNameLen.
func mcpToolName(prefix, tool string) string {
	clean := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}
	name := "mcp_" + strings.Map(clean, prefix) + "_" + strings.Map(clean, tool)
	if len(name) > maxToolNameLen {
		name = name[:maxToolNameLen]
	}
	return name
}

// environ renders env as sorted KEY=VALUE pairs.
func environ(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}
