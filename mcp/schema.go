package mcp

import (
	"fmt"
	"net/http"

	"github.com/jayyu23/x402-zkid/x402"
)

// jsonSchema is the subset of JSON Schema the discovery tools publish. The
// SDK accepts any value that marshals to a schema object.
type jsonSchema struct {
	Type                 string                 `json:"type,omitempty"`
	Description          string                 `json:"description,omitempty"`
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Items                *jsonSchema            `json:"items,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties any                    `json:"additionalProperties,omitempty"`
}

func object(props map[string]*jsonSchema) *jsonSchema {
	return &jsonSchema{Type: "object", Properties: props}
}

func typed(t string) *jsonSchema { return &jsonSchema{Type: t} }

// proxyInputSchema describes the parameters accepted when item is called
// through proxy_tool_call. Query parameters named by the route are listed
// and make the parameters object mandatory.
func proxyInputSchema(item x402.DiscoveryItem) *jsonSchema {
	params := object(map[string]*jsonSchema{
		"headers": {
			Type:                 "object",
			Description:          "Extra request headers.",
			AdditionalProperties: typed("string"),
		},
	})

	if len(item.QueryParams) > 0 {
		query := object(make(map[string]*jsonSchema, len(item.QueryParams)))
		query.Description = "Query string parameters."
		query.AdditionalProperties = false
		for name, desc := range item.QueryParams {
			query.Properties[name] = &jsonSchema{Type: "string", Description: desc}
		}
		params.Properties["query"] = query
	}

	switch item.Method {
	case http.MethodGet, http.MethodHead:
	default:
		params.Properties["body"] = &jsonSchema{Description: "JSON request body."}
	}

	s := object(map[string]*jsonSchema{"parameters": params})
	s.Description = fmt.Sprintf("%s %s", item.Method, item.Resource)
	if len(item.QueryParams) > 0 {
		s.Required = []string{"parameters"}
	}
	return s
}

func searchOutputSchema() *jsonSchema {
	pagination := object(map[string]*jsonSchema{
		"limit":  typed("integer"),
		"offset": typed("integer"),
		"total":  typed("integer"),
	})
	pagination.AdditionalProperties = false

	tool := typed("object")
	tool.AdditionalProperties = true

	s := object(map[string]*jsonSchema{
		"pagination":  pagination,
		"x402Version": typed("integer"),
		"tools":       {Type: "array", Items: tool},
	})
	s.AdditionalProperties = false
	return s
}
