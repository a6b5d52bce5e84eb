// Package mcp exposes the gate's paywalled routes to AI agents over the
// Model Context Protocol. Agents discover routes with search_resources and
// call them, payment attached, through proxy_tool_call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jayyu23/x402-zkid/logger"
	"github.com/jayyu23/x402-zkid/x402"
)

const (
	serverName    = "x402-discovery"
	serverVersion = "1.0.0"
)

// Server wraps the MCP server for x402 discovery.
type Server struct {
	mcpServer *mcp.Server
	resources []x402.DiscoveryItem
	tools     map[string]x402.DiscoveryItem
	client    *http.Client
	logger    logger.Logger
}

type Option func(*Server)

// WithHTTPClient sets the client proxy_tool_call uses to reach resources.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		if c != nil {
			s.client = c
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = logger.OrNoop(l) }
}

// NewServer builds an MCP server over the given discovery items, usually
// x402.Discover(registry, ...).Items.
func NewServer(resources []x402.DiscoveryItem, opts ...Option) *Server {
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, &mcp.ServerOptions{}),
		resources: resources,
		tools:     make(map[string]x402.DiscoveryItem, len(resources)),
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(map[string]any{"component": "mcp"})
	for _, item := range resources {
		s.tools[toolName(item.Method, item.Resource)] = item
	}

	s.registerResources()
	s.registerTools()
	return s
}

// Handler returns the streamable HTTP transport handler.
func (s *Server) Handler() http.Handler {
	return s.HandlerWithOptions(nil)
}

func (s *Server) HandlerWithOptions(opts *mcp.StreamableHTTPOptions) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, opts)
}

// registerResources publishes each paywalled route as an MCP resource whose
// content is its discovery entry.
func (s *Server) registerResources() {
	for _, item := range s.resources {
		s.mcpServer.AddResource(&mcp.Resource{
			URI:         item.Resource,
			Name:        item.Method + " " + item.Resource,
			Description: item.Description,
			MIMEType:    "application/json",
		}, s.readResource)
	}
}

func (s *Server) readResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	for _, item := range s.resources {
		if item.Resource != uri {
			continue
		}
		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			}},
		}, nil
	}
	return nil, mcp.ResourceNotFoundError(uri)
}

func (s *Server) String() string {
	return fmt.Sprintf("%s/%s (%d resources)", serverName, serverVersion, len(s.resources))
}
