package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	x402sdk "github.com/coinbase/x402/go"
	x402types "github.com/coinbase/x402/go/types"
)

// EvidenceHeaders lists the headers evidence is read from, newest protocol
// version first.
var EvidenceHeaders = []string{HeaderPaymentSignature, HeaderXPayment}

// ExtractEvidence returns the raw evidence header value and the header it
// came from. An empty raw value means the request carries no evidence.
func ExtractEvidence(req RequestView, headers []string) (raw, header string) {
	if len(headers) == 0 {
		headers = EvidenceHeaders
	}
	for _, name := range headers {
		if v := strings.TrimSpace(req.Header(name)); v != "" {
			return v, name
		}
	}
	return "", ""
}

// DecodeEvidence turns a header value into Evidence. Any failure is
// malformed evidence from the client's point of view. An empty payload is
// left for the dispatcher, which reports scheme and network mismatches
// first.
func DecodeEvidence(raw string) (*Evidence, error) {
	data, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("evidence is not base64: %w", err)
	}

	version, err := x402types.DetectVersion(data)
	if err != nil {
		return nil, fmt.Errorf("evidence is not a JSON payment payload: %w", err)
	}

	var view x402sdk.PaymentPayloadView
	if version < 2 {
		var p PaymentPayloadV1
		err = json.Unmarshal(data, &p)
		view = p
	} else {
		var p PaymentPayload
		err = json.Unmarshal(data, &p)
		view = p
	}
	if err != nil {
		return nil, fmt.Errorf("evidence is not a v%d payment payload: %w", version, err)
	}

	switch {
	case view.GetScheme() == "":
		return nil, errors.New("evidence does not name a scheme")
	case view.GetNetwork() == "":
		return nil, errors.New("evidence does not name a network")
	}
	return &Evidence{PaymentPayloadView: view, Raw: data}, nil
}

// EncodeHeader base64-encodes v as JSON for PAYMENT-* headers.
func EncodeHeader(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeHeader reverses EncodeHeader into v.
func DecodeHeader(raw string, v any) error {
	data, err := decodeBase64(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func decodeBase64(raw string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err == nil {
		return data, nil
	}
	if data, rawErr := base64.RawStdEncoding.DecodeString(raw); rawErr == nil {
		return data, nil
	}
	if data, urlErr := base64.URLEncoding.DecodeString(raw); urlErr == nil {
		return data, nil
	}
	return nil, err
}
