package payee

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cdp "github.com/coinbase/cdp-sdk/go"
	"github.com/coinbase/cdp-sdk/go/openapi"
	"github.com/google/uuid"
)

// CDPBasePath is the CDP platform API root.
const CDPBasePath = "https://api.cdp.coinbase.com/platform"

// CDPProvider creates (or looks up) an EVM account in the CDP wallet
// service and returns its address. Request signing, including the
// X-Wallet-Auth token on account mutations, is done by the CDP SDK.
type CDPProvider struct {
	opts    cdp.ClientOptions
	timeout time.Duration
}

type CDPOption func(*CDPProvider)

// WithBasePath points the provider at another CDP API root.
func WithBasePath(u string) CDPOption {
	return func(p *CDPProvider) { p.opts.BasePath = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) CDPOption {
	return func(p *CDPProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewCDPProvider builds a provider from a CDP API key and the wallet secret
// (a base64 PKCS#8 EC key).
func NewCDPProvider(apiKeyID, apiKeySecret, walletSecret string, opts ...CDPOption) *CDPProvider {
	p := &CDPProvider{
		opts: cdp.ClientOptions{
			APIKeyID:     apiKeyID,
			APIKeySecret: apiKeySecret,
			WalletSecret: walletSecret,
			BasePath:     CDPBasePath,
		},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision creates the named account. If it already exists the existing
// account is returned.
func (p *CDPProvider) Provision(ctx context.Context, name string) (string, error) {
	client, err := cdp.NewClient(p.opts)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	key := uuid.NewString()
	created, err := client.CreateEvmAccountWithResponse(ctx,
		&openapi.CreateEvmAccountParams{XIdempotencyKey: &key},
		openapi.CreateEvmAccountJSONRequestBody{Name: &name},
	)
	if err != nil {
		return "", fmt.Errorf("cdp create account: %w", err)
	}

	var acct *openapi.EvmAccount
	switch created.StatusCode() {
	case http.StatusCreated:
		acct = created.JSON201
	case http.StatusConflict:
		found, err := client.GetEvmAccountByNameWithResponse(ctx, name)
		if err != nil {
			return "", fmt.Errorf("cdp get account: %w", err)
		}
		if found.StatusCode() != http.StatusOK {
			return "", cdpStatusError("get account", found.StatusCode(), found.JSON404)
		}
		acct = found.JSON200
	default:
		return "", cdpStatusError("create account", created.StatusCode(), created.JSON400, created.JSON401, created.JSON500)
	}

	if acct == nil || acct.Address == "" {
		return "", errors.New("cdp accounts: response has no address")
	}
	return acct.Address, nil
}

func cdpStatusError(op string, status int, bodies ...*openapi.Error) error {
	for _, b := range bodies {
		if b != nil && b.ErrorMessage != "" {
			return fmt.Errorf("cdp %s: status %d: %s: %s", op, status, b.ErrorType, b.ErrorMessage)
		}
	}
	return fmt.Errorf("cdp %s: status %d", op, status)
}
