// Package mcpsearch implements the web_search tool's search backend on top of
// a Model Context Protocol server that exposes a search tool (for example a
// Brave, Tavily or DuckDuckGo MCP server).
//
// The connection is opened lazily on the first search and re-established
// after a transport failure.
package mcpsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/parley/internal/tools"
)

// Transport selects how the MCP server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// DefaultQueryArgument is the argument name the query is passed in.
const DefaultQueryArgument = "query"

// Config describes the MCP server and the tool to call.
type Config struct {
	Transport Transport

	// Command is the executable and arguments for stdio servers.
	Command string
	Env     map[string]string

	// URL is the endpoint of streamable-http servers.
	URL string

	// Tool is the name of the server's search tool.
	Tool string

	// QueryArgument defaults to [DefaultQueryArgument].
	QueryArgument string
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			errs = append(errs, errors.New("stdio transport requires a command"))
		}
	case TransportStreamableHTTP:
		if c.URL == "" {
			errs = append(errs, errors.New("streamable-http transport requires a url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if c.Tool == "" {
		errs = append(errs, errors.New("tool name is required"))
	}
	return errors.Join(errs...)
}

// Searcher runs queries through the configured MCP tool. Safe for concurrent
// use.
type Searcher struct {
	cfg    Config
	client *mcpsdk.Client

	// transport builds a fresh transport per connection attempt.
	transport func(ctx context.Context) (mcpsdk.Transport, error)

	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// New returns a Searcher for cfg. No connection is made until the first
// search.
func New(cfg Config) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mcpsearch: %w", err)
	}
	if cfg.QueryArgument == "" {
		cfg.QueryArgument = DefaultQueryArgument
	}
	s := &Searcher{
		cfg:    cfg,
		client: mcpsdk.NewClient(&mcpsdk.Implementation{Name: "parley-search", Version: "1.0.0"}, nil),
	}
	s.transport = s.defaultTransport
	return s, nil
}

func (s *Searcher) defaultTransport(context.Context) (mcpsdk.Transport, error) {
	switch s.cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(s.cfg.Command)
		// The server outlives the connecting request, so it is not bound to
		// that context.
		cmd := exec.Command(parts[0], parts[1:]...)
		cmd.Env = os.Environ()
		for k, v := range s.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	default:
		return &mcpsdk.StreamableClientTransport{Endpoint: s.cfg.URL}, nil
	}
}

// connect returns the live session, opening one if needed. Callers hold mu.
func (s *Searcher) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	if s.session != nil {
		return s.session, nil
	}
	t, err := s.transport(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	found := false
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("list tools: %w", err)
		}
		if tool.Name == s.cfg.Tool {
			found = true
			break
		}
	}
	if !found {
		_ = session.Close()
		return nil, fmt.Errorf("server has no tool %q", s.cfg.Tool)
	}
	slog.Info("connected to search server", "tool", s.cfg.Tool, "transport", string(s.cfg.Transport))
	s.session = session
	return session, nil
}

// Search calls the search tool with query and returns the concatenated text
// content of the result. Connection failures are reported as upstream
// failures and drop the session so the next search reconnects.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	session, err := s.connect(ctx)
	s.mu.Unlock()
	if err != nil {
		return "", tools.Upstream(fmt.Errorf("mcpsearch: %w", err))
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      s.cfg.Tool,
		Arguments: map[string]any{s.cfg.QueryArgument: query},
	})
	if err != nil {
		s.drop(session)
		return "", tools.Upstream(fmt.Errorf("mcpsearch: call %s: %w", s.cfg.Tool, err))
	}

	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", tools.Upstream(fmt.Errorf("mcpsearch: %s reported an error: %s", s.cfg.Tool, b.String()))
	}
	return b.String(), nil
}

func (s *Searcher) drop(session *mcpsdk.ClientSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == session {
		_ = session.Close()
		s.session = nil
	}
}

// Close closes the server connection, if any.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
