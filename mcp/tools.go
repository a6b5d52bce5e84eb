package mcp

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jayyu23/x402-zkid/x402"
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:  "search_resources",
		Title: "Find paid endpoints",
		Description: "Lists the paywalled HTTP endpoints behind this gate as callable tools, " +
			"each with its payment requirements in _meta. Filter with searchQuery. " +
			"Call a result through proxy_tool_call, attaching the signed payment as _meta x402/payment.",
		Meta:         mcp.Meta{"x402/usage": map[string]any{"step": "discover", "next": "proxy_tool_call"}},
		OutputSchema: searchOutputSchema(),
	}, s.SearchResources)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:  "proxy_tool_call",
		Title: "Call a paid endpoint",
		Description: "Calls an endpoint returned by search_resources. Without a payment the " +
			"result is the endpoint's 402 challenge.",
		Meta: mcp.Meta{"x402/usage": map[string]any{"step": "execute", "via": "proxy_tool_call"}},
	}, s.ProxyToolCall)
}

// SearchResources lists paywalled routes as proxyable tools.
func (s *Server) SearchResources(_ context.Context, _ *mcp.CallToolRequest, params *SearchResourcesParams) (*mcp.CallToolResult, SearchResourcesOutput, error) {
	if params == nil {
		params = &SearchResourcesParams{}
	}

	matches := s.resources
	if q := strings.ToLower(strings.TrimSpace(params.SearchQuery)); q != "" {
		matches = slices.DeleteFunc(slices.Clone(matches), func(item x402.DiscoveryItem) bool {
			return !strings.Contains(strings.ToLower(item.Resource), q) &&
				!strings.Contains(strings.ToLower(item.Description), q)
		})
	}

	page, pagination := paginate(matches, params.Limit, params.Offset)
	out := SearchResourcesOutput{
		Pagination:  pagination,
		X402Version: x402.X402Version,
		Tools:       make([]*mcp.Tool, 0, len(page)),
	}
	for _, item := range page {
		if tool := toolFor(item); tool != nil {
			out.Tools = append(out.Tools, tool)
		}
	}
	return nil, out, nil
}

// ProxyToolCall calls a paywalled route over HTTP and turns the response
// into an MCP result. A 402 comes back as an error result carrying the
// challenge.
func (s *Server) ProxyToolCall(ctx context.Context, req *mcp.CallToolRequest, params *ProxyToolCallParams) (*mcp.CallToolResult, any, error) {
	if params == nil || params.ToolName == "" {
		return errorResult("toolName is required"), nil, nil
	}
	item, ok := s.tools[params.ToolName]
	if !ok {
		return errorResult(fmt.Sprintf("tool %q not found", params.ToolName)), nil, nil
	}

	args, err := decodeProxyArgs(params.Parameters)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if payment := paymentFromMeta(req); payment != nil {
		if err := attachPayment(args, payment); err != nil {
			return errorResult("invalid x402 payment metadata: " + err.Error()), nil, nil
		}
	}

	httpReq, err := newProxyRequest(ctx, item, args)
	if err != nil {
		return nil, nil, fmt.Errorf("build proxy request: %w", err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("proxy request failed", map[string]any{
			"tool":  params.ToolName,
			"url":   httpReq.URL.String(),
			"error": err.Error(),
		})
		return nil, nil, fmt.Errorf("proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	s.logger.Info("proxied tool call", map[string]any{
		"tool":   params.ToolName,
		"method": httpReq.Method,
		"url":    httpReq.URL.String(),
		"status": resp.StatusCode,
	})
	return toolResult(resp)
}

func paymentFromMeta(req *mcp.CallToolRequest) any {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.GetMeta()[metaPayment]
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func paginate(items []x402.DiscoveryItem, limit, offset *int) ([]x402.DiscoveryItem, SearchResourcesPagination) {
	total := len(items)
	p := SearchResourcesPagination{Limit: limit, Offset: offset, Total: &total}

	start, end := 0, total
	if offset != nil && *offset > 0 {
		start = min(*offset, total)
	}
	if limit != nil && *limit >= 0 {
		end = min(start+*limit, total)
	}
	return items[start:end], p
}
