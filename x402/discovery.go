package x402

import (
	"net/http"
	"strings"
	"time"
)

// DiscoveryItem describes one paywalled HTTP resource for discovery clients.
type DiscoveryItem struct {
	Resource    string               `json:"resource"`
	Type        string               `json:"type"`
	Method      string               `json:"method"`
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Description string               `json:"description,omitempty"`
	MimeType    string               `json:"mimeType,omitempty"`
	QueryParams map[string]string    `json:"queryParams,omitempty"`
	LastUpdated time.Time            `json:"lastUpdated"`
}

type DiscoveryResponse struct {
	X402Version int             `json:"x402Version"`
	Items       []DiscoveryItem `json:"items"`
}

// Discover lists the registry's paywalled routes in pattern order. Free
// routes and prefix routes are left out since neither names a single
// callable resource. Routes without a method are advertised as GET.
func Discover(reg *Registry, baseURL string, updated time.Time) DiscoveryResponse {
	baseURL = strings.TrimRight(baseURL, "/")
	items := make([]DiscoveryItem, 0)
	for _, rt := range reg.Routes() {
		if rt.Prefix || len(rt.Config.Accepts) == 0 {
			continue
		}
		method := rt.Method
		if method == "" {
			method = http.MethodGet
		}
		items = append(items, DiscoveryItem{
			Resource:    baseURL + rt.Path,
			Type:        "http",
			Method:      method,
			X402Version: X402Version,
			Accepts:     rt.Config.Accepts,
			Description: rt.Config.Description,
			MimeType:    rt.Config.MimeType,
			QueryParams: rt.Config.QueryParams,
			LastUpdated: updated.UTC(),
		})
	}
	return DiscoveryResponse{X402Version: X402Version, Items: items}
}
