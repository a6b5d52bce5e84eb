package x402

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
	x402http "github.com/coinbase/x402/go/http"
)

const (
	CoinbaseFacilitatorBaseURL = "https://api.cdp.coinbase.com"
	CoinbaseFacilitatorV2Route = "/platform/v2/x402"

	X402SDKVersion = "0.7.3"
	CDPSDKVersion  = "1.29.0"
)

// CoinbaseAuthProvider signs facilitator requests with a CDP API key.
type CoinbaseAuthProvider struct {
	apiKeyID     string
	apiKeySecret string
	requestHost  string
	routePrefix  string
}

// NewCoinbaseAuthProvider builds a provider for the facilitator at
// facilitatorURL. The JWT is bound to that host and path.
func NewCoinbaseAuthProvider(apiKeyID, apiKeySecret, facilitatorURL string) *CoinbaseAuthProvider {
	host, prefix := splitFacilitatorURL(facilitatorURL)
	return &CoinbaseAuthProvider{
		apiKeyID:     apiKeyID,
		apiKeySecret: apiKeySecret,
		requestHost:  host,
		routePrefix:  prefix,
	}
}

// GetAuthHeaders signs a fresh JWT per endpoint; CDP tokens expire after
// two minutes.
func (p *CoinbaseAuthProvider) GetAuthHeaders(context.Context) (x402http.AuthHeaders, error) {
	headers := x402http.AuthHeaders{
		Verify:    map[string]string{"Correlation-Context": createCorrelationHeader()},
		Settle:    map[string]string{"Correlation-Context": createCorrelationHeader()},
		Supported: map[string]string{"Correlation-Context": createCorrelationHeader()},
	}
	if p.apiKeyID == "" || p.apiKeySecret == "" {
		return headers, nil
	}

	for _, ep := range []struct {
		method string
		path   string
		dst    map[string]string
	}{
		{"POST", "/verify", headers.Verify},
		{"POST", "/settle", headers.Settle},
		{"GET", "/supported", headers.Supported},
	} {
		auth, err := CreateAuthHeader(p.apiKeyID, p.apiKeySecret, ep.method, p.requestHost, p.routePrefix+ep.path)
		if err != nil {
			return x402http.AuthHeaders{}, err
		}
		ep.dst["Authorization"] = auth
	}
	return headers, nil
}

// ResolveFacilitatorURL picks the facilitator: an explicit URL wins, CDP
// credentials select the Coinbase facilitator, otherwise the public one.
func ResolveFacilitatorURL(explicit, apiKeyID, apiKeySecret string) string {
	if u := strings.TrimSpace(explicit); u != "" {
		return u
	}
	if apiKeyID != "" || apiKeySecret != "" {
		return CoinbaseFacilitatorBaseURL + CoinbaseFacilitatorV2Route
	}
	return DefaultFacilitatorURL
}

// CreateAuthHeader returns a "Bearer <jwt>" value for one CDP API call.
func CreateAuthHeader(apiKeyID, apiKeySecret, requestMethod, requestHost, requestPath string) (string, error) {
	jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
		KeyID:         apiKeyID,
		KeySecret:     apiKeySecret,
		RequestMethod: requestMethod,
		RequestHost:   requestHost,
		RequestPath:   requestPath,
	})
	if err != nil {
		return "", fmt.Errorf("generate JWT: %w", err)
	}
	return "Bearer " + jwt, nil
}

// correlationContext identifies this gate to CDP; pairs are in key order.
var correlationContext = [][2]string{
	{"sdk_language", "go"},
	{"sdk_version", CDPSDKVersion},
	{"source", "x402-zkid"},
	{"source_version", X402SDKVersion},
}

func createCorrelationHeader() string {
	var b strings.Builder
	for i, kv := range correlationContext {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kv[0] + "=" + url.QueryEscape(kv[1]))
	}
	return b.String()
}

func splitFacilitatorURL(raw string) (host, path string) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.TrimPrefix(CoinbaseFacilitatorBaseURL, "https://"), CoinbaseFacilitatorV2Route
	}
	return parsed.Host, strings.TrimRight(parsed.Path, "/")
}
