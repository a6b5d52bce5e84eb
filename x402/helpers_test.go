package x402

import (
	"context"
	"crypto/ecdsa"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	x402types "github.com/coinbase/x402/go/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const (
	testPayTo   = "0xABC0000000000000000000000000000000000001"
	testNetwork = "eip155:84532"
)

var (
	testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	testKey, _ = crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01ac0daf9b8")
	testPayer  = crypto.PubkeyToAddress(testKey.PublicKey).Hex()
)

func scenarioRequirement() PaymentRequirement {
	return PaymentRequirement{
		Scheme:  SchemeExact,
		Network: testNetwork,
		Price:   "$0.01",
		PayTo:   testPayTo,
	}
}

func testRoutes() RoutesConfig {
	return RoutesConfig{
		"GET /api": {
			Accepts: []PaymentRequirement{scenarioRequirement()},
		},
		"GET /weather": {
			Description: "Get synthetic weather data for a city",
			MimeType:    "application/json",
			Accepts: []PaymentRequirement{
				{Scheme: SchemeExact, Network: "eip155:8453", Price: "$0.001", PayTo: testPayTo},
				{Scheme: SchemeExact, Network: testNetwork, Price: "0.001 USDC", PayTo: testPayTo},
			},
		},
		"GET /free": {},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(testRoutes())
	require.NoError(t, err)
	return reg
}

func newTestDispatcher(t *testing.T, mechanisms ...Mechanism) *Dispatcher {
	t.Helper()
	if len(mechanisms) == 0 {
		mechanisms = []Mechanism{
			NewExactEVM(testNetwork, WithClock(func() time.Time { return testNow })),
		}
	}
	d, err := NewDispatcher(mechanisms)
	require.NoError(t, err)
	return d
}

func authorization(value string) map[string]any {
	return map[string]any{
		"from":        testPayer,
		"to":          testPayTo,
		"value":       value,
		"validAfter":  strconv.FormatInt(testNow.Add(-time.Minute).Unix(), 10),
		"validBefore": strconv.FormatInt(testNow.Add(5*time.Minute).Unix(), 10),
		"nonce":       "0x" + strings.Repeat("ab", 32),
	}
}

// evmPayload is auth signed by testKey for the scenario requirement.
func evmPayload(auth map[string]any) map[string]any {
	return signedPayload(testKey, scenarioRequirement(), auth)
}

// signedPayload signs auth in req's asset domain. An authorization that
// cannot be hashed keeps a placeholder signature.
func signedPayload(key *ecdsa.PrivateKey, req PaymentRequirement, auth map[string]any) map[string]any {
	payload := map[string]any{
		"signature":     "0x" + strings.Repeat("cd", 65),
		"authorization": auth,
	}
	digest, err := TransferAuthorizationHash(req, payload)
	if err != nil {
		return payload
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		panic(err)
	}
	sig[64] += 27
	payload["signature"] = hexutil.Encode(sig)
	return payload
}

// v2Evidence encodes a PAYMENT-SIGNATURE header value.
func v2Evidence(t *testing.T, scheme, network string, payload map[string]any) string {
	t.Helper()
	v, err := EncodeHeader(PaymentPayload{
		X402Version: 2,
		Resource:    &ResourceInfo{URL: "http://example.test/api"},
		Accepted:    x402types.PaymentRequirements{Scheme: scheme, Network: network},
		Payload:     payload,
	})
	require.NoError(t, err)
	return v
}

func v1Evidence(t *testing.T, scheme, network string, payload map[string]any) string {
	t.Helper()
	v, err := EncodeHeader(PaymentPayloadV1{
		X402Version: 1,
		Scheme:      scheme,
		Network:     network,
		Payload:     payload,
	})
	require.NoError(t, err)
	return v
}

// decoded is the Evidence the dispatcher would hand a mechanism for the
// header value raw.
func decoded(t *testing.T, raw string) *Evidence {
	t.Helper()
	ev, err := DecodeEvidence(raw)
	require.NoError(t, err)
	return ev
}

func validEvidence(t *testing.T) string {
	t.Helper()
	return v2Evidence(t, SchemeExact, testNetwork, evmPayload(authorization("10000")))
}

func newRequest(method, target string, headers map[string]string) RequestView {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return NewHTTPRequestView(r)
}

type verifierFunc func(ctx context.Context, req RequestView, accepts []PaymentRequirement) (Outcome, error)

func (f verifierFunc) Verify(ctx context.Context, req RequestView, accepts []PaymentRequirement) (Outcome, error) {
	return f(ctx, req, accepts)
}

type mechanismFunc struct {
	scheme, network string
	fn              func(ctx context.Context, ev *Evidence, req PaymentRequirement) (Outcome, error)
}

func (m mechanismFunc) Scheme() string  { return m.scheme }
func (m mechanismFunc) Network() string { return m.network }
func (m mechanismFunc) Verify(ctx context.Context, ev *Evidence, req PaymentRequirement) (Outcome, error) {
	return m.fn(ctx, ev, req)
}

type settlerFunc func(ctx context.Context, proof *Proof) (SettleResponse, error)

func (f settlerFunc) Settle(ctx context.Context, proof *Proof) (SettleResponse, error) {
	return f(ctx, proof)
}

// countingHandler records how often the protected resource ran.
type countingHandler struct {
	calls  int
	status int
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.calls++
	status := h.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}
