package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
)

// fakeSession is an in-memory MCP server.
type fakeSession struct {
	mu      sync.Mutex
	tools   []mcp.Tool
	listErr error
	call    func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	closed  int
}

func (s *fakeSession) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return &mcp.ListToolsResult{Tools: s.tools}, nil
}

func (s *fakeSession) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.call != nil {
		return s.call(ctx, req)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("called " + req.Params.Name)}}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// dialFakes returns a dialer serving sessions by server name.
func dialFakes(sessions map[string]*fakeSession, failures map[string]error) mcpDialer {
	return func(_ context.Context, srv config.MCPServer) (mcpSession, error) {
		if err := failures[srv.Name]; err != nil {
			return nil, err
		}
		s, ok := sessions[srv.Name]
		if !ok {
			return nil, fmt.Errorf("no fake for %s", srv.Name)
		}
		return s, nil
	}
}

func toolNames(tools []domain.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

func TestConnectMCPToolsInConfigOrder(t *testing.T) {
	sessions := map[string]*fakeSession{
		"docs":   {tools: []mcp.Tool{{Name: "search-docs"}, {Name: "fetch.page"}}},
		"sql.db": {tools: []mcp.Tool{{Name: "query"}}},
	}
	ts := connectMCP(context.Background(), []config.MCPServer{
		{Name: "docs", Transport: "stdio"},
		{Name: "sql.db", Transport: "http"},
	}, dialFakes(sessions, nil), nopLogger())
	defer ts.Close()

	assert.Equal(t, []string{"mcp_docs_search_docs", "mcp_docs_fetch_page", "mcp_sql_db_query"}, toolNames(ts.Tools()))
}

func TestConnectMCPPrefixAndAllowlist(t *testing.T) {
	sessions := map[string]*fakeSession{
		"filesystem": {tools: []mcp.Tool{{Name: "read_file"}, {Name: "write_file"}, {Name: "delete_file"}}},
	}
	ts := connectMCP(context.Background(), []config.MCPServer{
		{Name: "filesystem", Transport: "stdio", Prefix: "fs", Tools: []string{"read_file"}},
	}, dialFakes(sessions, nil), nopLogger())
	defer ts.Close()

	assert.Equal(t, []string{"mcp_fs_read_file"}, toolNames(ts.Tools()))
}

func TestConnectMCPFailedServerIsReported(t *testing.T) {
	sessions := map[string]*fakeSession{
		"ok":     {tools: []mcp.Tool{{Name: "ping"}}},
		"listed": {listErr: errors.New("method not found")},
	}
	ts := connectMCP(context.Background(), []config.MCPServer{
		{Name: "ok", Transport: "stdio"},
		{Name: "down", Transport: "http"},
		{Name: "listed", Transport: "stdio"},
	}, dialFakes(sessions, map[string]error{"down": errors.New("connection refused")}), nopLogger())
	defer ts.Close()

	assert.Equal(t, []string{"mcp_ok_ping"}, toolNames(ts.Tools()))

	status := ts.Status()
	require.Len(t, status, 3)
	assert.Equal(t, "ok", status[0].Name)
	assert.NoError(t, status[0].Err)
	assert.Equal(t, []string{"mcp_ok_ping"}, status[0].Tools)
	assert.Equal(t, "http", status[1].Transport)
	assert.EqualError(t, status[1].Err, "connection refused")
	assert.Empty(t, status[1].Tools)
	assert.ErrorContains(t, status[2].Err, "list tools: method not found")
}

func TestMCPToolsetCloseIsIdempotent(t *testing.T) {
	a, b := &fakeSession{}, &fakeSession{listErr: errors.New("boom")}
	ts := connectMCP(context.Background(), []config.MCPServer{
		{Name: "a", Transport: "stdio"},
		{Name: "b", Transport: "stdio"},
	}, dialFakes(map[string]*fakeSession{"a": a, "b": b}, nil), nopLogger())

	ts.Close()
	ts.Close()
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed, "sessions that failed listing are still closed")
}

func TestDialMCPUnsupportedTransport(t *testing.T) {
	_, err := dialMCP(context.Background(), config.MCPServer{Name: "weird", Transport: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported transport "carrier-pigeon"`)

	ts := ConnectMCP(context.Background(), []config.MCPServer{{Name: "weird", Transport: "ws"}}, nil)
	assert.Empty(t, ts.Tools())
	assert.Error(t, ts.Status()[0].Err)
}

func TestMCPToolDescription(t *testing.T) {
	tests := []struct {
		remote mcp.Tool
		want   string
	}{
		{mcp.Tool{Name: "x", Description: "Does stuff"}, "Does stuff"},
		{mcp.Tool{Name: "x", Annotations: mcp.ToolAnnotation{Title: "Stuff doer"}}, "Stuff doer"},
		{mcp.Tool{Name: "x"}, "x (via MCP server srv)"},
	}
	for _, tt := range tests {
		tool := &mcpTool{server: "srv", name: "mcp_srv_x", remote: tt.remote}
		assert.Equal(t, tt.want, tool.Description())
	}
}

func TestMCPToolSchema(t *testing.T) {
	typed := &mcpTool{name: "mcp_t_greet", remote: mcp.Tool{
		Name: "greet",
		InputSchema: mcp.ToolInputSchema{
			Properties: map[string]any{"name": map[string]any{"type": "string"}},
			Required:   []string{"name"},
		},
	}}
	var params struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	schema := typed.Schema()
	assert.Equal(t, "mcp_t_greet", schema.Name)
	require.NoError(t, json.Unmarshal(schema.Parameters, &params))
	assert.Equal(t, "object", params.Type)
	assert.Contains(t, params.Properties, "name")
	assert.Equal(t, []string{"name"}, params.Required)

	raw := `{"type":"object","properties":{"path":{"type":"string","pattern":"^/"}}}`
	passthrough := &mcpTool{name: "mcp_t_read", remote: mcp.Tool{Name: "read", RawInputSchema: json.RawMessage(raw)}}
	assert.JSONEq(t, raw, string(passthrough.Schema().Parameters))
}

func TestMCPToolExecute(t *testing.T) {
	session := &fakeSession{call: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := req.Params.Arguments.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("arguments are %T", req.Params.Arguments)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{
			mcp.NewTextContent(fmt.Sprintf("Hello, %s!", args["name"])),
			mcp.NewTextContent("Bye."),
		}}, nil
	}}
	tool := &mcpTool{server: "t", name: "mcp_t_greet", remote: mcp.Tool{Name: "greet"}, session: session}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"name":"World"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Hello, World!\nBye.", res.Content)
}

func TestMCPToolExecuteServerReportedError(t *testing.T) {
	session := &fakeSession{call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.NewTextContent("file not found")}}, nil
	}}
	tool := &mcpTool{server: "fs", name: "mcp_fs_read", remote: mcp.Tool{Name: "read"}, session: session}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"/nope"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "file not found", res.Content)
}

func TestMCPToolExecuteTransportErrors(t *testing.T) {
	hang := func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	slow := &mcpTool{server: "slow", name: "mcp_slow_x", remote: mcp.Tool{Name: "x"},
		session: &fakeSession{call: hang}, timeout: 20 * time.Millisecond}

	_, err := slow.Execute(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrToolTimeout)
	assert.Equal(t, domain.KindExecutionTimeout, domain.ErrorKindOf(err))
	assert.Contains(t, err.Error(), "slow did not answer within 20ms")

	broken := &mcpTool{server: "api", name: "mcp_api_x", remote: mcp.Tool{Name: "x"},
		session: &fakeSession{call: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, errors.New("server unavailable")
		}}}
	_, err = broken.Execute(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, "mcp api: server unavailable", err.Error())

	_, err = broken.Execute(context.Background(), json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestMCPToolNoOwnTimeoutUsesCallerDeadline(t *testing.T) {
	var hadDeadline bool
	tool := &mcpTool{server: "s", name: "mcp_s_x", remote: mcp.Tool{Name: "x"},
		session: &fakeSession{call: func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			_, hadDeadline = ctx.Deadline()
			return &mcp.CallToolResult{}, nil
		}}}

	_, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, hadDeadline)
}

func TestRenderMCPResult(t *testing.T) {
	res := &mcp.CallToolResult{Content: []mcp.Content{
		mcp.TextContent{Type: "text", Text: "summary"},
		mcp.ImageContent{Type: "image", MIMEType: "image/png", Data: "aGVsbG8="},
		mcp.EmbeddedResource{Type: "resource", Resource: mcp.TextResourceContents{URI: "file:///a.txt", Text: "file body"}},
		mcp.EmbeddedResource{Type: "resource", Resource: mcp.BlobResourceContents{URI: "file:///a.bin", MIMEType: "application/octet-stream"}},
	}}
	assert.Equal(t, strings.Join([]string{
		"summary",
		"[image image/png, 8 bytes base64]",
		"file body",
		"[resource file:///a.bin, application/octet-stream]",
	}, "\n"), renderMCPResult(res))

	structured := &mcp.CallToolResult{StructuredContent: map[string]any{"temp": 21}}
	assert.JSONEq(t, `{"temp":21}`, renderMCPResult(structured))

	assert.Equal(t, "", renderMCPResult(&mcp.CallToolResult{}))
}

func TestMCPToolThroughExecutorRegistry(t *testing.T) {
	session := &fakeSession{tools: []mcp.Tool{{
		Name: "restart",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"service": map[string]any{"type": "string"}},
			Required:   []string{"service"},
		},
	}}}
	ts := connectMCP(context.Background(), []config.MCPServer{{Name: "ops", Transport: "stdio"}},
		dialFakes(map[string]*fakeSession{"ops": session}, nil), nopLogger())
	defer ts.Close()

	reg := NewRegistry(nopLogger())
	require.NoError(t, reg.RegisterAll(ts.Tools()...))
	tl, err := reg.Catalog().Get("mcp_ops_restart")
	require.NoError(t, err)

	res, err := tl.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, domain.KindInvalidArguments, res.Kind)

	res, err = tl.Execute(context.Background(), json.RawMessage(`{"service":"api"}`))
	require.NoError(t, err)
	assert.Equal(t, "called restart", res.Content)
}

func TestMCPToolName(t *testing.T) {
	assert.Equal(t, "mcp_sql_db_run_query", mcpToolName("sql.db", "run-query"))
	assert.Equal(t, "mcp_a_b_c", mcpToolName("a b", "c"))
	long := mcpToolName("server", strings.Repeat("x", 100))
	assert.Len(t, long, maxToolNameLen)
	assert.True(t, strings.HasPrefix(long, "mcp_server_xxx"))
}

func TestEnviron(t *testing.T) {
	assert.Nil(t, environ(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, environ(map[string]string{"B": "2", "A": "1"}))
}
