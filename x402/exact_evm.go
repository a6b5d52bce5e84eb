package x402

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	x402evm "github.com/coinbase/x402/go/mechanisms/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

const signatureLength = 65

// ExactEVM is the in-process verifier for the "exact" scheme on an EVM
// network. It checks an EIP-3009 transferWithAuthorization payload offline:
// recipient, amount and validity window, then recovers the EIP-712 signer
// and requires it to be authorization.from. Balances, nonce reuse and
// smart-wallet signatures need a chain and are left to the facilitator.
type ExactEVM struct {
	network string
	now     func() time.Time
}

type ExactEVMOption func(*ExactEVM)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ExactEVMOption {
	return func(e *ExactEVM) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExactEVM returns a verifier for the exact scheme on network, a CAIP-2
// eip155 identifier.
func NewExactEVM(network string, opts ...ExactEVMOption) *ExactEVM {
	e := &ExactEVM{network: network, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ExactEVM) Scheme() string  { return SchemeExact }
func (e *ExactEVM) Network() string { return e.network }

type evmAuthorization struct {
	From        string
	To          string
	Value       decimal.Decimal
	ValidAfter  int64
	ValidBefore int64
	Nonce       string
}

func (e *ExactEVM) Verify(_ context.Context, ev *Evidence, req PaymentRequirement) (Outcome, error) {
	payload := ev.GetPayload()
	auth, err := parseAuthorization(payload)
	if err != nil {
		return Reject(ReasonMalformedEvidence, "%v", err), nil
	}

	sig, _ := payload["signature"].(string)
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return Reject(ReasonMalformedEvidence, "signature is not hex: %v", err), nil
	}
	if len(raw) != signatureLength {
		return Reject(ReasonMalformedEvidence, "signature is %d bytes, want %d", len(raw), signatureLength), nil
	}

	if common.HexToAddress(auth.To) != common.HexToAddress(req.PayTo) {
		return Reject(ReasonVerificationFailed, "authorization pays %s, not %s", auth.To, req.PayTo), nil
	}

	required, err := RequiredAtomicAmount(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("requirement price: %w", err)
	}
	if auth.Value.LessThan(required) {
		return Reject(ReasonInsufficientAmount, "authorized %s, required %s", auth.Value.String(), required.String()), nil
	}

	now := e.now().Unix()
	if now < auth.ValidAfter {
		return Reject(ReasonVerificationFailed, "authorization not yet valid"), nil
	}
	if now >= auth.ValidBefore {
		return Reject(ReasonVerificationFailed, "authorization expired"), nil
	}

	digest, err := auth.digest(req)
	if err != nil {
		return Reject(ReasonVerificationFailed, "cannot hash authorization: %v", err), nil
	}
	signed, err := x402evm.VerifyEOASignature(digest, raw, common.HexToAddress(auth.From))
	if err != nil {
		return Reject(ReasonVerificationFailed, "signature does not recover: %v", err), nil
	}
	if !signed {
		return Reject(ReasonVerificationFailed, "signature is not from %s", auth.From), nil
	}

	return Accept(req, &Proof{
		Scheme:      SchemeExact,
		Network:     e.network,
		Payer:       common.HexToAddress(auth.From).Hex(),
		Requirement: req,
		Evidence:    ev,
	}), nil
}

// TransferAuthorizationHash returns the EIP-712 digest an exact EVM payment
// signs: the payload's TransferWithAuthorization in the domain of req's
// asset. The asset defaults to the network's USDC; extra.name and
// extra.version override its domain name and version.
func TransferAuthorizationHash(req PaymentRequirement, payload map[string]any) ([]byte, error) {
	auth, err := parseAuthorization(payload)
	if err != nil {
		return nil, err
	}
	return auth.digest(req)
}

func (a evmAuthorization) digest(req PaymentRequirement) ([]byte, error) {
	chainID, err := x402evm.GetEvmChainId(req.Network)
	if err != nil {
		return nil, err
	}
	asset, err := x402evm.GetAssetInfo(req.Network, req.Asset)
	if err != nil {
		return nil, err
	}
	name, version := asset.Name, asset.Version
	if v, ok := req.Extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := req.Extra["version"].(string); ok && v != "" {
		version = v
	}

	nonce := a.Nonce
	if nonce == "" {
		nonce = "0x" + strings.Repeat("00", 32)
	}
	return x402evm.HashEIP3009Authorization(x402evm.ExactEIP3009Authorization{
		From:        a.From,
		To:          a.To,
		Value:       a.Value.String(),
		ValidAfter:  strconv.FormatInt(a.ValidAfter, 10),
		ValidBefore: strconv.FormatInt(a.ValidBefore, 10),
		Nonce:       nonce,
	}, chainID, asset.Address, name, version)
}

func parseAuthorization(payload map[string]any) (evmAuthorization, error) {
	m, ok := payload["authorization"].(map[string]any)
	if !ok {
		return evmAuthorization{}, fmt.Errorf("payload has no authorization")
	}

	var auth evmAuthorization
	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"from", &auth.From},
		{"to", &auth.To},
	} {
		v, _ := m[field.name].(string)
		if !common.IsHexAddress(v) {
			return evmAuthorization{}, fmt.Errorf("authorization.%s %q is not an address", field.name, v)
		}
		*field.dst = v
	}

	value, err := decimalField(m, "value")
	if err != nil {
		return evmAuthorization{}, err
	}
	if value.IsNegative() || !value.Equal(value.Truncate(0)) {
		return evmAuthorization{}, fmt.Errorf("authorization.value %s is not an atomic amount", value)
	}
	auth.Value = value

	after, err := decimalField(m, "validAfter")
	if err != nil {
		return evmAuthorization{}, err
	}
	before, err := decimalField(m, "validBefore")
	if err != nil {
		return evmAuthorization{}, err
	}
	auth.ValidAfter = after.IntPart()
	auth.ValidBefore = before.IntPart()

	auth.Nonce, _ = m["nonce"].(string)
	if auth.Nonce != "" {
		if b, err := hexutil.Decode(auth.Nonce); err != nil || len(b) != 32 {
			return evmAuthorization{}, fmt.Errorf("authorization.nonce %q is not 32 bytes of hex", auth.Nonce)
		}
	}
	return auth, nil
}

// decimalField reads a numeric field that clients send either as a JSON
// string or a JSON number.
func decimalField(m map[string]any, name string) (decimal.Decimal, error) {
	switch v := m[name].(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("authorization.%s: %w", name, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case nil:
		return decimal.Zero, fmt.Errorf("authorization.%s is missing", name)
	default:
		return decimal.Zero, fmt.Errorf("authorization.%s has type %T", name, v)
	}
}
