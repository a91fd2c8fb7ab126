package mcpsearch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/parley/internal/tools"
)

type searchInput struct {
	Query string `json:"query"`
}

// newServer returns an MCP server with a "search" tool that answers with
// handler.
func newServer(handler func(query string) (*mcpsdk.CallToolResult, error)) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "search-test", Version: "0.0.1"}, nil)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: "search", Description: "Search the web."},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in searchInput) (*mcpsdk.CallToolResult, any, error) {
			res, err := handler(in.Query)
			return res, nil, err
		})
	return srv
}

// inMemory wires s to srv over in-memory transports and counts connections.
func inMemory(t *testing.T, s *Searcher, srv *mcpsdk.Server) *atomic.Int32 {
	t.Helper()
	var conns atomic.Int32
	s.transport = func(ctx context.Context) (mcpsdk.Transport, error) {
		clientT, serverT := mcpsdk.NewInMemoryTransports()
		ss, err := srv.Connect(ctx, serverT, nil)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { _ = ss.Close() })
		conns.Add(1)
		return clientT, nil
	}
	t.Cleanup(func() { _ = s.Close() })
	return &conns
}

func text(s string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: s}}}
}

func TestSearcher_Search(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	srv := newServer(func(q string) (*mcpsdk.CallToolResult, error) {
		got.Store(q)
		return text("1. Lisbon weather: 21°C, sunny"), nil
	})
	s, err := New(Config{Transport: TransportStreamableHTTP, URL: "http://unused", Tool: "search"})
	if err != nil {
		t.Fatal(err)
	}
	conns := inMemory(t, s, srv)

	for range 2 {
		out, err := s.Search(context.Background(), "weather in lisbon")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if !strings.Contains(out, "21°C") {
			t.Errorf("out = %q", out)
		}
	}
	if q, _ := got.Load().(string); q != "weather in lisbon" {
		t.Errorf("query = %q", q)
	}
	if n := conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
}

func TestSearcher_ToolError(t *testing.T) {
	t.Parallel()

	srv := newServer(func(string) (*mcpsdk.CallToolResult, error) {
		res := text("quota exceeded")
		res.IsError = true
		return res, nil
	})
	s, err := New(Config{Transport: TransportStreamableHTTP, URL: "http://unused", Tool: "search"})
	if err != nil {
		t.Fatal(err)
	}
	inMemory(t, s, srv)

	_, err = s.Search(context.Background(), "anything")
	if err == nil || tools.KindOf(err) != tools.KindUpstreamFailure {
		t.Errorf("err = %v, want upstream failure", err)
	}
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v, want server message", err)
	}
}

func TestSearcher_MissingTool(t *testing.T) {
	t.Parallel()

	srv := newServer(func(string) (*mcpsdk.CallToolResult, error) { return text(""), nil })
	s, err := New(Config{Transport: TransportStreamableHTTP, URL: "http://unused", Tool: "lookup"})
	if err != nil {
		t.Fatal(err)
	}
	inMemory(t, s, srv)

	_, err = s.Search(context.Background(), "anything")
	if err == nil || tools.KindOf(err) != tools.KindUpstreamFailure || !strings.Contains(err.Error(), `"lookup"`) {
		t.Errorf("err = %v, want upstream failure naming the tool", err)
	}
}

func TestSearcher_TransportFailure(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Transport: TransportStdio, Command: "search-server", Tool: "search"})
	if err != nil {
		t.Fatal(err)
	}
	s.transport = func(context.Context) (mcpsdk.Transport, error) {
		return nil, errors.New("executable not found")
	}
	_, err = s.Search(context.Background(), "anything")
	if err == nil || tools.KindOf(err) != tools.KindUpstreamFailure {
		t.Errorf("err = %v, want upstream failure", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "stdio", cfg: Config{Transport: TransportStdio, Command: "npx -y search-mcp", Tool: "search"}},
		{name: "http", cfg: Config{Transport: TransportStreamableHTTP, URL: "http://localhost:8931/mcp", Tool: "search"}},
		{name: "stdio without command", cfg: Config{Transport: TransportStdio, Tool: "search"}, wantErr: true},
		{name: "http without url", cfg: Config{Transport: TransportStreamableHTTP, Tool: "search"}, wantErr: true},
		{name: "no tool", cfg: Config{Transport: TransportStdio, Command: "x"}, wantErr: true},
		{name: "bad transport", cfg: Config{Transport: "carrier-pigeon", Tool: "search"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
