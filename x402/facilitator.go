package x402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	x402sdk "github.com/coinbase/x402/go"
	x402http "github.com/coinbase/x402/go/http"
	x402types "github.com/coinbase/x402/go/types"

	"github.com/jayyu23/x402-zkid/logger"
)

// DefaultFacilitatorURL is the public x402 facilitator (testnets only).
const DefaultFacilitatorURL = x402http.DefaultFacilitatorURL

// FacilitatorClient talks to an x402 facilitator through the SDK's HTTP
// client. Only 2xx answers and 400 verdicts are read as facilitator
// responses; every other status, and any transport failure, is an
// UpstreamError.
type FacilitatorClient struct {
	url    string
	client *x402http.HTTPFacilitatorClient
	logger logger.Logger
}

type facilitatorConfig struct {
	httpClient *http.Client
	auth       x402http.AuthProvider
	logger     logger.Logger
}

// FacilitatorOption configures a FacilitatorClient.
type FacilitatorOption func(*facilitatorConfig)

// WithHTTPClient sends facilitator calls through c. Its transport is wrapped,
// not replaced.
func WithHTTPClient(c *http.Client) FacilitatorOption {
	return func(f *facilitatorConfig) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// WithAuthProvider attaches per-endpoint auth headers to every call.
func WithAuthProvider(p x402http.AuthProvider) FacilitatorOption {
	return func(f *facilitatorConfig) { f.auth = p }
}

// WithFacilitatorLogger logs each facilitator round trip at debug level.
func WithFacilitatorLogger(l logger.Logger) FacilitatorOption {
	return func(f *facilitatorConfig) { f.logger = logger.OrNoop(l) }
}

// NewFacilitatorClient builds a client for the facilitator rooted at url.
// timeout bounds every call independently of the caller's context.
func NewFacilitatorClient(url string, timeout time.Duration, opts ...FacilitatorOption) *FacilitatorClient {
	if url == "" {
		url = DefaultFacilitatorURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg := facilitatorConfig{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	httpClient := *cfg.httpClient
	httpClient.Transport = &statusGuard{next: httpClient.Transport, logger: cfg.logger}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = timeout
	}

	url = strings.TrimRight(url, "/")
	return &FacilitatorClient{
		url: url,
		client: x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
			URL:          url,
			HTTPClient:   &httpClient,
			AuthProvider: cfg.auth,
			Identifier:   url,
		}),
		logger: cfg.logger,
	}
}

// URL returns the facilitator root with no trailing slash.
func (f *FacilitatorClient) URL() string { return f.url }

// Verify asks the facilitator to check ev against req. A well-formed
// rejection comes back as a response with IsValid false; a facilitator that
// gives no verdict is an UpstreamError.
func (f *FacilitatorClient) Verify(ctx context.Context, ev *Evidence, req PaymentRequirement) (VerifyResponse, error) {
	reqBytes, err := requirementsJSON(ev, req)
	if err != nil {
		return VerifyResponse{}, err
	}

	resp, err := f.client.Verify(ctx, ev.Raw, reqBytes)
	if err != nil {
		var verr *x402sdk.VerifyError
		if errors.As(err, &verr) && verr.InvalidReason != x402sdk.ErrInvalidResponse {
			return VerifyResponse{
				InvalidReason:  verr.InvalidReason,
				InvalidMessage: verr.InvalidMessage,
				Payer:          verr.Payer,
			}, nil
		}
		return VerifyResponse{}, asUpstream("verify", err)
	}
	if !resp.IsValid && resp.InvalidReason == "" {
		return VerifyResponse{}, &UpstreamError{Op: "verify", Err: errors.New("response carries no verdict")}
	}
	return *resp, nil
}

// Settle submits an accepted proof for settlement. A response with Success
// false is a settlement rejection, not an error.
func (f *FacilitatorClient) Settle(ctx context.Context, proof *Proof) (SettleResponse, error) {
	if proof == nil || proof.Evidence == nil {
		return SettleResponse{}, errors.New("settle: proof has no evidence")
	}
	reqBytes, err := requirementsJSON(proof.Evidence, proof.Requirement)
	if err != nil {
		return SettleResponse{}, err
	}

	resp, err := f.client.Settle(ctx, proof.Evidence.Raw, reqBytes)
	if err != nil {
		var serr *x402sdk.SettleError
		if !errors.As(err, &serr) {
			return SettleResponse{}, asUpstream("settle", err)
		}
		resp = &SettleResponse{
			ErrorReason:  serr.ErrorReason,
			ErrorMessage: serr.ErrorMessage,
			Payer:        serr.Payer,
			Transaction:  serr.Transaction,
			Network:      serr.Network,
		}
	}
	if !resp.Success && resp.ErrorReason == "" {
		return SettleResponse{}, &UpstreamError{Op: "settle", Err: errors.New("response carries no verdict")}
	}

	out := *resp
	if out.Network == "" {
		out.Network = Network(proof.Network)
	}
	if out.Payer == "" {
		out.Payer = proof.Payer
	}
	return out, nil
}

// Supported lists the scheme/network pairs the facilitator can handle.
func (f *FacilitatorClient) Supported(ctx context.Context) (SupportedResponse, error) {
	resp, err := f.client.GetSupported(ctx)
	if err != nil {
		return SupportedResponse{}, asUpstream("supported", err)
	}
	return resp, nil
}

// requirementsJSON encodes req in the shape the evidence's protocol version
// expects, with the price converted to atomic units.
func requirementsJSON(ev *Evidence, req PaymentRequirement) ([]byte, error) {
	amount, err := RequiredAtomicAmount(req)
	if err != nil {
		return nil, fmt.Errorf("requirement price: %w", err)
	}

	if ev.GetVersion() >= 2 {
		return json.Marshal(x402types.PaymentRequirements{
			Scheme:            req.Scheme,
			Network:           req.Network,
			Asset:             req.Asset,
			Amount:            amount.String(),
			PayTo:             req.PayTo,
			MaxTimeoutSeconds: req.MaxTimeoutSeconds,
			Extra:             req.Extra,
		})
	}

	v1 := x402types.PaymentRequirementsV1{
		Scheme:            req.Scheme,
		Network:           req.Network,
		MaxAmountRequired: amount.String(),
		Description:       req.Description,
		MimeType:          req.MimeType,
		PayTo:             req.PayTo,
		MaxTimeoutSeconds: req.MaxTimeoutSeconds,
		Asset:             req.Asset,
	}
	if r := ev.Resource(); r != nil {
		v1.Resource = r.URL
	}
	if len(req.Extra) > 0 {
		extra, err := json.Marshal(req.Extra)
		if err != nil {
			return nil, fmt.Errorf("requirement extra: %w", err)
		}
		raw := json.RawMessage(extra)
		v1.Extra = &raw
	}
	return json.Marshal(v1)
}

func asUpstream(op string, err error) error {
	if IsUpstream(err) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// statusGuard sits under the SDK client. It passes 2xx answers and 400
// verdicts through and turns any other status into an UpstreamError, so an
// auth or routing failure at the facilitator is never read as a verdict.
type statusGuard struct {
	next   http.RoundTripper
	logger logger.Logger
}

func (g *statusGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	next := g.next
	if next == nil {
		next = http.DefaultTransport
	}
	op := path.Base(req.URL.Path)

	start := time.Now()
	resp, err := next.RoundTrip(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	g.logger.Debug("facilitator call", map[string]any{
		"op":          op,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusBadRequest {
		return resp, nil
	}
	resp.Body.Close()
	return nil, &UpstreamError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
}

// FacilitatorMechanism verifies one scheme/network pair through a
// facilitator.
type FacilitatorMechanism struct {
	client  *FacilitatorClient
	scheme  string
	network string
}

// NewFacilitatorMechanism delegates verification of scheme on network to
// client.
func NewFacilitatorMechanism(client *FacilitatorClient, scheme, network string) *FacilitatorMechanism {
	return &FacilitatorMechanism{client: client, scheme: scheme, network: network}
}

func (m *FacilitatorMechanism) Scheme() string  { return m.scheme }
func (m *FacilitatorMechanism) Network() string { return m.network }

func (m *FacilitatorMechanism) Verify(ctx context.Context, ev *Evidence, req PaymentRequirement) (Outcome, error) {
	resp, err := m.client.Verify(ctx, ev, req)
	if err != nil {
		return Outcome{}, err
	}
	if !resp.IsValid {
		detail := resp.InvalidReason
		if resp.InvalidMessage != "" {
			detail += ": " + resp.InvalidMessage
		}
		return Reject(ReasonFromFacilitator(resp.InvalidReason), "facilitator: %s", detail), nil
	}
	return Accept(req, &Proof{
		Scheme:      m.scheme,
		Network:     m.network,
		Payer:       resp.Payer,
		Requirement: req,
		Evidence:    ev,
	}), nil
}
