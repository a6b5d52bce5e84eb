package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	x402types "github.com/coinbase/x402/go/types"

	"github.com/jayyu23/x402-zkid/x402"
)

type versionEnvelope struct {
	X402Version int             `json:"x402Version"`
	Accepts     json.RawMessage `json:"accepts"`
}

// attachPayment encodes the payment an agent put in _meta as the evidence
// header for its protocol version: PAYMENT-SIGNATURE for v2 and X-PAYMENT
// for v1. A header the caller set explicitly wins.
func attachPayment(args *proxyArgs, payment any) error {
	fields, ok := payment.(map[string]any)
	if !ok {
		return fmt.Errorf("%s metadata must be an object", metaPayment)
	}
	if fields["payload"] == nil {
		return fmt.Errorf("%s metadata missing payload", metaPayment)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}
	version, err := x402types.DetectVersion(data)
	if err != nil {
		var env versionEnvelope
		if json.Unmarshal(data, &env) != nil || env.X402Version <= 0 {
			return fmt.Errorf("payment has no usable x402Version: %w", err)
		}
		version = env.X402Version
	}

	header := x402.HeaderXPayment
	if version >= 2 {
		if _, ok := fields["accepted"].(map[string]any); !ok {
			return errors.New("v2 payment metadata missing accepted")
		}
		header = x402.HeaderPaymentSignature
	}

	value, err := x402.EncodeHeader(fields)
	if err != nil {
		return err
	}
	args.setHeader(header, value)
	return nil
}

// decodePaymentRequired returns the challenge carried by resp, taken from
// the PAYMENT-REQUIRED header or, failing that, from a 402 body that looks
// like a challenge.
func decodePaymentRequired(resp *http.Response, body []byte) map[string]any {
	if resp == nil {
		return nil
	}
	var challenge map[string]any
	if raw := resp.Header.Get(x402.HeaderPaymentRequired); raw != "" {
		if x402.DecodeHeader(raw, &challenge) == nil && challenge != nil {
			return challenge
		}
	}
	if resp.StatusCode != http.StatusPaymentRequired || len(body) == 0 {
		return nil
	}

	var env versionEnvelope
	if json.Unmarshal(body, &env) != nil || env.X402Version <= 0 || env.Accepts == nil {
		return nil
	}
	if json.Unmarshal(body, &challenge) != nil {
		return nil
	}
	return challenge
}

// decodePaymentResponse returns the settlement receipt, if any.
func decodePaymentResponse(resp *http.Response) map[string]any {
	if resp == nil {
		return nil
	}
	for _, name := range []string{x402.HeaderPaymentResponse, "X-PAYMENT-RESPONSE"} {
		var receipt map[string]any
		if raw := resp.Header.Get(name); raw != "" && x402.DecodeHeader(raw, &receipt) == nil && receipt != nil {
			return receipt
		}
	}
	return nil
}
