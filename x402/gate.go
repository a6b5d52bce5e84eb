package x402

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jayyu23/x402-zkid/logger"
	"github.com/jayyu23/x402-zkid/metrics"
)

// DefaultVerifyTimeout bounds a single verification.
const DefaultVerifyTimeout = 10 * time.Second

// Gate decides, per request, whether a paywalled resource may be served. It
// holds no per-request state and is safe for concurrent use.
type Gate struct {
	registry *Registry
	verifier Verifier
	timeout  time.Duration
	headers  []string
	logger   logger.Logger
	metrics  metrics.Recorder
}

// NewGate builds a gate over an already validated registry.
func NewGate(registry *Registry, verifier Verifier, opts ...Option) (*Gate, error) {
	if registry == nil {
		return nil, &ConfigError{Field: "registry", Err: errors.New("registry is required")}
	}
	if verifier == nil {
		return nil, &ConfigError{Field: "verifier", Err: errors.New("verifier is required")}
	}
	g := &Gate{
		registry: registry,
		verifier: verifier,
		timeout:  DefaultVerifyTimeout,
		headers:  EvidenceHeaders,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gate) Registry() *Registry { return g.registry }

type verifyResult struct {
	outcome Outcome
	err     error
}

// Process runs the gate for one request. The returned error is always an
// *InternalError and must be rendered as a 500.
func (g *Gate) Process(ctx context.Context, req RequestView) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{}
			err = &InternalError{Message: "gate panicked", Err: fmt.Errorf("%v\n%s", r, debug.Stack())}
		}
		g.observe(req, d, err)
	}()

	route, ok := g.registry.Lookup(req.Method(), req.Path())
	if !ok || len(route.Accepts) == 0 {
		return paymentVerified(nil, route), nil
	}

	if raw, _ := ExtractEvidence(req, g.headers); raw == "" {
		return noPayment(route), nil
	}

	outcome, err := g.verify(ctx, req, route.Accepts)
	if err != nil {
		var ie *InternalError
		if errors.As(err, &ie) {
			return Decision{}, ie
		}
		return Decision{}, &InternalError{Message: "verifier failed", Err: err}
	}
	if !outcome.Accepted {
		return paymentError(outcome.Reason, outcome.Detail, route), nil
	}
	return paymentVerified(outcome.Proof, route), nil
}

func (g *Gate) verify(ctx context.Context, req RequestView, accepts []PaymentRequirement) (Outcome, error) {
	vctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan verifyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- verifyResult{err: &InternalError{
					Message: "verifier panicked",
					Err:     fmt.Errorf("%v\n%s", r, debug.Stack()),
				}}
			}
		}()
		outcome, err := g.verifier.Verify(vctx, req, accepts)
		done <- verifyResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.outcome, nil
		}
		var ie *InternalError
		switch {
		case errors.As(res.err, &ie):
			return Outcome{}, res.err
		case vctx.Err() != nil:
			return g.interrupted(ctx), nil
		case IsUpstream(res.err):
			return Reject(ReasonUpstreamUnavailable, "%v", res.err), nil
		}
		return Outcome{}, res.err
	case <-vctx.Done():
		return g.interrupted(ctx), nil
	}
}

// interrupted reports a verification cut short by the timeout or by the
// caller going away.
func (g *Gate) interrupted(ctx context.Context) Outcome {
	if err := ctx.Err(); err != nil {
		return Reject(ReasonUpstreamUnavailable, "request cancelled: %v", err)
	}
	return Reject(ReasonUpstreamUnavailable, "verification exceeded %s", g.timeout)
}

// Settle settles a verified decision through s. On success it returns the
// PAYMENT-RESPONSE header value and d unchanged. Otherwise the returned
// decision replaces d: a settlement rejection becomes verification_failed and
// an unreachable facilitator becomes upstream_unavailable. Free decisions are
// returned as-is.
func (g *Gate) Settle(ctx context.Context, s Settler, d Decision) (string, Decision, error) {
	if s == nil || d.Kind != PaymentVerified || d.Proof == nil {
		return "", d, nil
	}

	start := time.Now()
	resp, err := s.Settle(ctx, d.Proof)
	g.metrics.ObserveLatency("settle", time.Since(start), map[string]string{"network": d.Proof.Network})
	if err != nil {
		if IsUpstream(err) || ctx.Err() != nil {
			g.logger.Warn("settlement backend unavailable", map[string]any{
				"network": d.Proof.Network,
				"error":   err.Error(),
			})
			return "", paymentError(ReasonUpstreamUnavailable, err.Error(), d.Route), nil
		}
		return "", d, &InternalError{Message: "settlement failed", Err: err}
	}
	if !resp.Success {
		g.logger.Info("settlement rejected", map[string]any{
			"network": d.Proof.Network,
			"payer":   d.Proof.Payer,
			"reason":  resp.ErrorReason,
		})
		g.metrics.IncCounter("settlement", map[string]string{
			"decision": "rejected",
			"reason":   resp.ErrorReason,
			"network":  d.Proof.Network,
		})
		return "", paymentError(ReasonVerificationFailed, "settlement: "+resp.ErrorReason, d.Route), nil
	}

	header, err := EncodeHeader(resp)
	if err != nil {
		return "", d, &InternalError{Message: "encode settlement response", Err: err}
	}
	g.metrics.IncCounter("settlement", map[string]string{
		"decision": "settled",
		"network":  d.Proof.Network,
	})
	return header, d, nil
}

func (g *Gate) observe(req RequestView, d Decision, err error) {
	if err != nil {
		g.logger.Error("payment processing failed", map[string]any{
			"method": req.Method(),
			"path":   req.Path(),
			"error":  err.Error(),
		})
		g.metrics.IncCounter("decision", map[string]string{"decision": "internal_error"})
		return
	}

	labels := map[string]string{"decision": d.Kind.String(), "reason": string(d.Reason)}
	if d.Proof != nil {
		labels["network"] = d.Proof.Network
	}
	g.metrics.IncCounter("decision", labels)

	if d.Kind == PaymentError {
		g.logger.Info("payment rejected", map[string]any{
			"method": req.Method(),
			"path":   req.Path(),
			"reason": string(d.Reason),
			"detail": d.Detail,
		})
		return
	}
	g.logger.Debug("payment decision", map[string]any{
		"method":   req.Method(),
		"path":     req.Path(),
		"decision": d.Kind.String(),
	})
}
