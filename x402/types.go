package x402

import (
	x402sdk "github.com/coinbase/x402/go"
	x402types "github.com/coinbase/x402/go/types"
)

// x402 wire types for the HTTP resource-server side of the protocol.
// Field order of the JSON structs is part of the contract: challenge bodies
// must be byte-stable across requests.

const (
	X402Version = 2

	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderXPayment         = "X-PAYMENT"
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"

	SchemeExact = "exact"
)

// PaymentRequirement is one payment option a route accepts.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme" yaml:"scheme" validate:"required"`
	Network           string         `json:"network" yaml:"network" validate:"required,contains=:"`
	Price             string         `json:"price" yaml:"price" validate:"required"`
	PayTo             string         `json:"payTo" yaml:"pay_to" validate:"required"`
	Asset             string         `json:"asset,omitempty" yaml:"asset"`
	Description       string         `json:"description,omitempty" yaml:"description"`
	MimeType          string         `json:"mimeType,omitempty" yaml:"mime_type"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty" yaml:"max_timeout_seconds" validate:"gte=0"`
	Extra             map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// RouteConfig is the ordered set of requirements for one route plus the
// metadata advertised in its challenge.
type RouteConfig struct {
	Accepts     []PaymentRequirement `json:"accepts" yaml:"accepts" validate:"dive"`
	Description string               `json:"description,omitempty" yaml:"description"`
	MimeType    string               `json:"mimeType,omitempty" yaml:"mime_type"`
	// QueryParams documents the route's query parameters (name to
	// description) for discovery clients.
	QueryParams map[string]string `json:"queryParams,omitempty" yaml:"query_params"`
}

// RoutesConfig maps "METHOD /path" patterns to their payment configuration.
type RoutesConfig map[string]RouteConfig

// Wire types shared with the x402 SDK, so evidence and facilitator answers
// decode exactly as the SDK's clients and facilitators produce them.
type (
	PaymentPayload    = x402types.PaymentPayload
	PaymentPayloadV1  = x402types.PaymentPayloadV1
	ResourceInfo      = x402types.ResourceInfo
	SupportedKind     = x402types.SupportedKind
	SupportedResponse = x402types.SupportedResponse
	VerifyResponse    = x402sdk.VerifyResponse
	SettleResponse    = x402sdk.SettleResponse
	Network           = x402sdk.Network
)

// Evidence is a decoded evidence header. The embedded view reads scheme,
// network and payload the same way for v1 and v2 payloads. Raw is the JSON
// the client sent; facilitators receive it unchanged.
type Evidence struct {
	x402sdk.PaymentPayloadView
	Raw []byte
}

// Resource returns the resource a v2 payload names, or nil.
func (e *Evidence) Resource() *ResourceInfo {
	if p, ok := e.PaymentPayloadView.(PaymentPayload); ok {
		return p.Resource
	}
	return nil
}

// Proof is what a verifier hands back when it accepts evidence.
type Proof struct {
	Scheme      string             `json:"scheme"`
	Network     string             `json:"network"`
	Payer       string             `json:"payer,omitempty"`
	Requirement PaymentRequirement `json:"requirement"`
	Evidence    *Evidence          `json:"-"`
}

// PaymentRequiredBody is the 402 challenge sent when no evidence was supplied.
type PaymentRequiredBody struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Description string               `json:"description,omitempty"`
	MimeType    string               `json:"mimeType,omitempty"`
}

// PaymentErrorBody is the 402 sent when evidence was present but rejected.
type PaymentErrorBody struct {
	X402Version int                  `json:"x402Version"`
	Error       Reason               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// ErrorBody is used for 5xx responses.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
