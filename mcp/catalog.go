package mcp

import (
	"strings"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jayyu23/x402-zkid/x402"
)

// toolNamespace seeds the name-based UUIDs that keep tool names unique when
// two resources sanitize to the same string.
var toolNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("x402-discovery/tools"))

// toolName is stable across restarts for the same method and resource.
func toolName(method, resource string) string {
	id := uuid.NewSHA1(toolNamespace, []byte(method+" "+resource))
	prefix := "x402_"
	if method != "" {
		prefix += sanitizeToolName(strings.ToLower(method)) + "_"
	}
	return prefix + sanitizeToolName(resource) + "_" + strings.ReplaceAll(id.String(), "-", "")[:8]
}

// sanitizeToolName lowercases value and maps everything outside [a-z0-9]
// to an underscore.
func sanitizeToolName(value string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 'a' - 'A'
		}
		return '_'
	}, value)
	if out = strings.Trim(out, "_"); out == "" {
		return "resource"
	}
	return out
}

// toolFor turns a discovered HTTP resource into a tool listing. Non-HTTP
// items have no proxy and are skipped.
func toolFor(item x402.DiscoveryItem) *mcp.Tool {
	if !strings.EqualFold(item.Type, "http") {
		return nil
	}

	desc := strings.TrimSpace(item.Description)
	if desc == "" {
		desc = "Proxy call to " + item.Resource + "."
	}
	desc += " Use proxy_tool_call with payment to execute."

	name := toolName(item.Method, item.Resource)
	return &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: proxyInputSchema(item),
		Meta: mcp.Meta{
			metaPaymentRequired: challengeMeta(item, name, desc),
			metaCallWith:        map[string]any{"tool": "proxy_tool_call"},
		},
	}
}

// challengeMeta is the 402 body the resource would answer with, so an agent
// can sign a payment before its first call.
func challengeMeta(item x402.DiscoveryItem, name, desc string) map[string]any {
	accepts := make([]map[string]any, len(item.Accepts))
	for i, req := range item.Accepts {
		entry := map[string]any{
			"scheme":  req.Scheme,
			"network": req.Network,
			"price":   req.Price,
			"payTo":   req.PayTo,
		}
		if amount, err := x402.RequiredAtomicAmount(req); err == nil {
			entry["amount"] = amount.String()
		}
		if req.Asset != "" {
			entry["asset"] = req.Asset
		}
		if req.MaxTimeoutSeconds > 0 {
			entry["maxTimeoutSeconds"] = req.MaxTimeoutSeconds
		}
		if len(req.Extra) > 0 {
			entry["extra"] = req.Extra
		}
		accepts[i] = entry
	}

	resource := map[string]any{
		"url":         item.Resource,
		"tool":        "mcp://tool/" + name,
		"description": desc,
	}
	if item.MimeType != "" {
		resource["mimeType"] = item.MimeType
	}
	return map[string]any{
		"x402Version": item.X402Version,
		"resource":    resource,
		"accepts":     accepts,
	}
}
