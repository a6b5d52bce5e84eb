package x402

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactEVMVerify(t *testing.T) {
	withAuth := func(mutate func(auth map[string]any)) map[string]any {
		auth := authorization("10000")
		mutate(auth)
		return evmPayload(auth)
	}
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	cases := []struct {
		name    string
		payload map[string]any
		req     func(*PaymentRequirement)
		now     time.Time
		want    Reason
	}{
		{
			name:    "no authorization",
			payload: map[string]any{"signature": "0x00"},
			want:    ReasonMalformedEvidence,
		},
		{
			name:    "bad from",
			payload: withAuth(func(a map[string]any) { a["from"] = "alice" }),
			want:    ReasonMalformedEvidence,
		},
		{
			name:    "fractional value",
			payload: withAuth(func(a map[string]any) { a["value"] = "10000.5" }),
			want:    ReasonMalformedEvidence,
		},
		{
			name:    "negative value",
			payload: withAuth(func(a map[string]any) { a["value"] = "-1" }),
			want:    ReasonMalformedEvidence,
		},
		{
			name:    "missing validBefore",
			payload: withAuth(func(a map[string]any) { delete(a, "validBefore") }),
			want:    ReasonMalformedEvidence,
		},
		{
			name:    "short nonce",
			payload: withAuth(func(a map[string]any) { a["nonce"] = "0xabcd" }),
			want:    ReasonMalformedEvidence,
		},
		{
			name: "short signature",
			payload: map[string]any{
				"signature":     "0xdeadbeef",
				"authorization": authorization("10000"),
			},
			want: ReasonMalformedEvidence,
		},
		{
			name: "zero signature",
			payload: map[string]any{
				"signature":     "0x" + strings.Repeat("00", 65),
				"authorization": authorization("10000"),
			},
			want: ReasonVerificationFailed,
		},
		{
			name:    "signed by someone else",
			payload: signedPayload(otherKey, scenarioRequirement(), authorization("10000")),
			want:    ReasonVerificationFailed,
		},
		{
			name: "signature over other terms",
			payload: func() map[string]any {
				p := evmPayload(authorization("500000"))
				p["authorization"] = authorization("10000")
				return p
			}(),
			want: ReasonVerificationFailed,
		},
		{
			name:    "signed for another token",
			payload: evmPayload(authorization("10000")),
			req:     func(r *PaymentRequirement) { r.Extra = map[string]any{"name": "USD Coin"} },
			want:    ReasonVerificationFailed,
		},
		{
			name:    "wrong recipient",
			payload: withAuth(func(a map[string]any) { a["to"] = testPayer }),
			want:    ReasonVerificationFailed,
		},
		{
			name:    "underpaid",
			payload: withAuth(func(a map[string]any) { a["value"] = "9999" }),
			want:    ReasonInsufficientAmount,
		},
		{
			name:    "expired",
			payload: withAuth(func(map[string]any) {}),
			now:     testNow.Add(time.Hour),
			want:    ReasonVerificationFailed,
		},
		{
			name:    "not yet valid",
			payload: withAuth(func(map[string]any) {}),
			now:     testNow.Add(-time.Hour),
			want:    ReasonVerificationFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := testNow
			if !tc.now.IsZero() {
				now = tc.now
			}
			m := NewExactEVM(testNetwork, WithClock(func() time.Time { return now }))
			req := scenarioRequirement()
			if tc.req != nil {
				tc.req(&req)
			}

			ev := decoded(t, v2Evidence(t, SchemeExact, testNetwork, tc.payload))
			out, err := m.Verify(context.Background(), ev, req)
			require.NoError(t, err)
			assert.False(t, out.Accepted)
			assert.Equal(t, tc.want, out.Reason)
			assert.NotEmpty(t, out.Detail)
		})
	}
}

func TestExactEVMAccepts(t *testing.T) {
	m := NewExactEVM(testNetwork, WithClock(func() time.Time { return testNow }))

	auth := authorization("10000")
	auth["to"] = "0xabc0000000000000000000000000000000000001"
	auth["validBefore"] = float64(testNow.Add(time.Minute).Unix())
	ev := decoded(t, v2Evidence(t, SchemeExact, testNetwork, evmPayload(auth)))

	out, err := m.Verify(context.Background(), ev, scenarioRequirement())
	require.NoError(t, err)
	require.True(t, out.Accepted)
	assert.Equal(t, SchemeExact, out.Proof.Scheme)
	assert.Equal(t, testNetwork, out.Proof.Network)
	assert.Equal(t, testPayer, out.Proof.Payer)
	assert.Same(t, ev, out.Proof.Evidence)
}

func TestExactEVMAcceptsRequirementDomain(t *testing.T) {
	m := NewExactEVM(testNetwork, WithClock(func() time.Time { return testNow }))
	req := scenarioRequirement()
	req.Asset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	req.Extra = map[string]any{"name": "USDC", "version": "2"}

	ev := decoded(t, v1Evidence(t, SchemeExact, testNetwork, signedPayload(testKey, req, authorization("10000"))))
	out, err := m.Verify(context.Background(), ev, req)
	require.NoError(t, err)
	assert.True(t, out.Accepted, out.Detail)
}

func TestExactEVMOverpaymentAccepted(t *testing.T) {
	m := NewExactEVM(testNetwork, WithClock(func() time.Time { return testNow }))
	ev := decoded(t, v2Evidence(t, SchemeExact, testNetwork, evmPayload(authorization("500000"))))

	out, err := m.Verify(context.Background(), ev, scenarioRequirement())
	require.NoError(t, err)
	assert.True(t, out.Accepted)
}
