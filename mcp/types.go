package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// _meta keys understood by x402-aware agents.
const (
	metaPayment         = "x402/payment"
	metaPaymentRequired = "x402/payment-required"
	metaPaymentResponse = "x402/payment-response"
	metaCallWith        = "x402/call-with"
)

type SearchResourcesParams struct {
	SearchQuery string `json:"searchQuery,omitempty" jsonschema:"case-insensitive match against resource URL and description"`
	Limit       *int   `json:"limit,omitempty" jsonschema:"maximum number of tools to return"`
	Offset      *int   `json:"offset,omitempty" jsonschema:"number of matches to skip"`
}

// SearchResourcesPagination echoes the requested window and the number of
// matches before paging.
type SearchResourcesPagination struct {
	Limit  *int `json:"limit,omitempty"`
	Offset *int `json:"offset,omitempty"`
	Total  *int `json:"total,omitempty"`
}

type SearchResourcesOutput struct {
	Pagination  SearchResourcesPagination `json:"pagination"`
	X402Version int                       `json:"x402Version"`
	Tools       []*mcp.Tool               `json:"tools,omitempty"`
}

// ProxyToolCallParams names a tool from search_resources and the request
// parameters (query, headers, body) to call it with.
type ProxyToolCallParams struct {
	ToolName   string         `json:"toolName" jsonschema:"name of a tool returned by search_resources"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"query, headers and body for the proxied request"`
}
