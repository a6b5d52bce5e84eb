package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jayyu23/x402-zkid/x402"
)

const maxProxyResponseBytes = 1 << 20

// proxyArgs is the decoded "parameters" object of a proxy_tool_call.
type proxyArgs struct {
	Query   map[string]any  `json:"query,omitempty"`
	Headers map[string]any  `json:"headers,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func decodeProxyArgs(params map[string]any) (*proxyArgs, error) {
	var args proxyArgs
	if len(params) == 0 {
		return &args, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	return &args, nil
}

func (a *proxyArgs) hasBody() bool {
	return len(a.Body) > 0 && string(a.Body) != "null"
}

// setHeader sets name unless the caller already supplied it.
func (a *proxyArgs) setHeader(name, value string) {
	for k := range a.Headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return
		}
	}
	if a.Headers == nil {
		a.Headers = map[string]any{}
	}
	a.Headers[name] = value
}

func newProxyRequest(ctx context.Context, item x402.DiscoveryItem, args *proxyArgs) (*http.Request, error) {
	method := item.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(item.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource url: %w", err)
	}
	q := target.Query()
	for k, v := range args.Query {
		q.Set(k, fmt.Sprint(v))
	}
	target.RawQuery = q.Encode()

	var body io.Reader
	if args.hasBody() {
		body = bytes.NewReader(args.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range args.Headers {
		req.Header.Set(k, fmt.Sprint(v))
	}
	return req, nil
}

// toolResult converts the proxied response. A payment challenge becomes an
// error result with the challenge as structured content; anything else is
// reported as status, headers and body, with the settlement receipt in _meta.
func toolResult(resp *http.Response) (*mcp.CallToolResult, any, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read proxy response: %w", err)
	}

	if challenge := decodePaymentRequired(resp, body); challenge != nil {
		text, err := json.Marshal(challenge)
		if err != nil {
			return nil, nil, fmt.Errorf("encode payment challenge: %w", err)
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(text)}},
			StructuredContent: challenge,
			IsError:           true,
		}, nil, nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	text, err := json.MarshalIndent(map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(body),
	}, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode proxy response: %w", err)
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: resp.StatusCode >= http.StatusBadRequest,
	}
	if receipt := decodePaymentResponse(resp); receipt != nil {
		result.Meta = mcp.Meta{metaPaymentResponse: receipt}
	}
	return result, nil, nil
}
