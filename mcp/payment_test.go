package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayyu23/x402-zkid/x402"
)

func decodeHeaderJSON(t *testing.T, raw any) map[string]any {
	t.Helper()
	s, ok := raw.(string)
	require.True(t, ok, "header value is %T", raw)
	data, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func attach(t *testing.T, params map[string]any, payment any) (*proxyArgs, error) {
	t.Helper()
	args, err := decodeProxyArgs(params)
	if err != nil {
		return nil, err
	}
	return args, attachPayment(args, payment)
}

func TestAttachPayment(t *testing.T) {
	t.Parallel()

	args, err := attach(t, nil, map[string]any{
		"x402Version": 2,
		"resource":    map[string]any{"url": "http://gate.test/weather"},
		"accepted":    map[string]any{"scheme": "exact", "network": "eip155:84532"},
		"payload":     map[string]any{"signature": "0xdeadbeef"},
	})
	require.NoError(t, err)

	payload := decodeHeaderJSON(t, args.Headers["PAYMENT-SIGNATURE"])
	assert.Equal(t, float64(2), payload["x402Version"])
	assert.Equal(t, map[string]any{"url": "http://gate.test/weather"}, payload["resource"])
	assert.Equal(t, map[string]any{"scheme": "exact", "network": "eip155:84532"}, payload["accepted"])
	assert.Equal(t, map[string]any{"signature": "0xdeadbeef"}, payload["payload"])
	assert.NotContains(t, args.Headers, "X-PAYMENT")
}

func TestAttachPaymentV1UsesXPayment(t *testing.T) {
	t.Parallel()

	args, err := attach(t, nil, map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "eip155:84532",
		"payload":     map[string]any{"signature": "0xdeadbeef"},
	})
	require.NoError(t, err)

	payload := decodeHeaderJSON(t, args.Headers["X-PAYMENT"])
	assert.Equal(t, float64(1), payload["x402Version"])
	assert.Equal(t, "exact", payload["scheme"])
	assert.Equal(t, "eip155:84532", payload["network"])
}

func TestAttachPaymentKeepsCallerHeaders(t *testing.T) {
	t.Parallel()

	args, err := attach(t, map[string]any{
		"headers": map[string]any{
			"Payment-Signature": "explicit",
			"X-Trace":           "1",
		},
	}, map[string]any{
		"x402Version": 2,
		"accepted":    map[string]any{"scheme": "exact", "network": "eip155:84532"},
		"payload":     map[string]any{"signature": "0xdeadbeef"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Payment-Signature": "explicit", "X-Trace": "1"}, args.Headers)
}

func TestAttachPaymentErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		params  map[string]any
		payment any
	}{
		"not an object":   {payment: "base64"},
		"no payload":      {payment: map[string]any{"x402Version": 2}},
		"v2 no accepted":  {payment: map[string]any{"x402Version": 2, "payload": map[string]any{}}},
		"headers not map": {params: map[string]any{"headers": "x"}, payment: map[string]any{"x402Version": 1, "payload": map[string]any{}}},
	}
	for name, tc := range cases {
		_, err := attach(t, tc.params, tc.payment)
		assert.Error(t, err, name)
	}
}

func TestNewProxyRequest(t *testing.T) {
	t.Parallel()

	args, err := decodeProxyArgs(map[string]any{
		"query":   map[string]any{"limit": 5},
		"headers": map[string]any{"X-Trace": "abc"},
		"body":    map[string]any{"symbol": "ACME"},
	})
	require.NoError(t, err)

	item := x402.DiscoveryItem{Resource: "https://gate.test/quotes?region=eu", Method: http.MethodPost}
	req, err := newProxyRequest(context.Background(), item, args)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://gate.test/quotes?limit=5&region=eu", req.URL.String())
	assert.Equal(t, "abc", req.Header.Get("X-Trace"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"ACME"}`, string(body))

	args, err = decodeProxyArgs(map[string]any{"body": nil})
	require.NoError(t, err)
	req, err = newProxyRequest(context.Background(), x402.DiscoveryItem{Resource: "https://gate.test/api"}, args)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Nil(t, req.Body)
	assert.Empty(t, req.Header.Get("Content-Type"))
}

func TestHTTPResponseToMCPResultAddsPaymentMeta(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"Payment-Response", "X-Payment-Response"} {
		payload, err := json.Marshal(map[string]any{"success": true, "network": "eip155:84532"})
		require.NoError(t, err)

		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{header: []string{base64.StdEncoding.EncodeToString(payload)}},
			Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
		}

		result, structured, err := toolResult(resp)
		require.NoError(t, err, header)
		assert.Nil(t, structured)
		assert.False(t, result.IsError)
		require.Contains(t, result.Meta, metaPaymentResponse, header)
		assert.Equal(t, true, result.Meta[metaPaymentResponse].(map[string]any)["success"])
	}
}

func TestHTTPResponseToMCPResultContent(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusBadRequest,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":"city query param is required"}`)),
	}

	result, _, err := toolResult(resp)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Nil(t, result.Meta)

	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok)
	var content map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &content))
	assert.Equal(t, float64(400), content["status"])
	assert.Equal(t, map[string]any{"Content-Type": "application/json"}, content["headers"])
	assert.Equal(t, `{"error":"city query param is required"}`, content["body"])
}

func TestHTTPResponseToMCPResultPaymentRequired(t *testing.T) {
	t.Parallel()

	challenge := map[string]any{
		"x402Version": 2,
		"accepts": []any{map[string]any{
			"scheme":  "exact",
			"network": "eip155:84532",
			"price":   "$0.01",
			"payTo":   "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		}},
		"description": "Access to API endpoint",
	}
	payload, err := json.Marshal(challenge)
	require.NoError(t, err)

	resp := &http.Response{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{"Payment-Required": []string{base64.StdEncoding.EncodeToString(payload)}},
		Body:       io.NopCloser(strings.NewReader(`ignored`)),
	}

	result, _, err := toolResult(resp)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	structured, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content is %T", result.StructuredContent)
	assert.Equal(t, "Access to API endpoint", structured["description"])

	require.Len(t, result.Content, 1)
	text := result.Content[0].(*sdkmcp.TextContent)
	var content map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &content))
	assert.Equal(t, float64(2), content["x402Version"])
}

func TestHTTPResponseToMCPResultPaymentErrorBody(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusPaymentRequired,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"x402Version":2,"error":"insufficient_amount","accepts":[]}`)),
	}

	result, _, err := toolResult(resp)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	structured := result.StructuredContent.(map[string]any)
	assert.Equal(t, "insufficient_amount", structured["error"])
}

func TestDecodePaymentRequiredIgnoresOrdinaryErrors(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: http.StatusPaymentRequired, Header: http.Header{}}
	assert.Nil(t, decodePaymentRequired(resp, []byte(`{"error":"nope"}`)))
	assert.Nil(t, decodePaymentRequired(resp, []byte(`not json`)))
	assert.Nil(t, decodePaymentRequired(nil, nil))

	resp.StatusCode = http.StatusOK
	assert.Nil(t, decodePaymentRequired(resp, []byte(`{"x402Version":2,"accepts":[]}`)))
}
