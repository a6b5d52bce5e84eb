package x402

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jayyu23/x402-zkid/logger"
	"github.com/jayyu23/x402-zkid/metrics"
)

// Outcome is the result of verifying evidence against a route's requirements.
type Outcome struct {
	Accepted    bool
	Requirement *PaymentRequirement
	Proof       *Proof
	Reason      Reason
	Detail      string
}

// Accept builds an accepted outcome.
func Accept(req PaymentRequirement, proof *Proof) Outcome {
	return Outcome{Accepted: true, Requirement: &req, Proof: proof}
}

// Reject builds a rejected outcome.
func Reject(reason Reason, format string, args ...any) Outcome {
	return Outcome{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verifier checks the evidence carried by a request against an ordered list
// of requirements. Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, req RequestView, accepts []PaymentRequirement) (Outcome, error)
}

// Mechanism verifies decoded evidence for one scheme/network pair.
type Mechanism interface {
	Scheme() string
	Network() string
	Verify(ctx context.Context, ev *Evidence, req PaymentRequirement) (Outcome, error)
}

// Dispatcher is the standard Verifier: it decodes the evidence header and
// routes it to the mechanism registered for the requirement's scheme and
// network.
type Dispatcher struct {
	headers    []string
	mechanisms map[string]Mechanism
	logger     logger.Logger
	metrics    metrics.Recorder
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEvidenceHeaders overrides the headers evidence is read from.
func WithEvidenceHeaders(headers ...string) DispatcherOption {
	return func(d *Dispatcher) {
		if len(headers) > 0 {
			d.headers = headers
		}
	}
}

// WithDispatcherLogger logs verification backend failures to l.
func WithDispatcherLogger(l logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatcherMetrics records per-mechanism verify latency to r.
func WithDispatcherMetrics(r metrics.Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if r != nil {
			d.metrics = r
		}
	}
}

// NewDispatcher registers mechanisms by scheme/network. Registering two
// mechanisms for the same pair is an error.
func NewDispatcher(mechanisms []Mechanism, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		headers:    EvidenceHeaders,
		mechanisms: make(map[string]Mechanism, len(mechanisms)),
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, m := range mechanisms {
		key := mechanismKey(m.Scheme(), m.Network())
		if _, dup := d.mechanisms[key]; dup {
			return nil, &ConfigError{Field: "mechanisms", Err: fmt.Errorf("duplicate mechanism for %s", key)}
		}
		d.mechanisms[key] = m
	}
	return d, nil
}

// Supports reports whether a mechanism is registered for scheme and network.
func (d *Dispatcher) Supports(scheme, network string) bool {
	_, ok := d.mechanisms[mechanismKey(scheme, network)]
	return ok
}

// Verify tries requirements in registry order and returns the first accepted
// outcome. Otherwise it returns the most specific rejection seen.
func (d *Dispatcher) Verify(ctx context.Context, req RequestView, accepts []PaymentRequirement) (Outcome, error) {
	raw, header := ExtractEvidence(req, d.headers)
	if raw == "" {
		return Reject(ReasonMissingEvidence, "no %s header", strings.Join(d.headers, " or ")), nil
	}

	ev, err := DecodeEvidence(raw)
	if err != nil {
		return Reject(ReasonMalformedEvidence, "%s: %v", header, err), nil
	}

	scheme, network := ev.GetScheme(), ev.GetNetwork()
	best := Reject(ReasonMissingEvidence, "no requirement matched")
	for _, requirement := range accepts {
		var outcome Outcome
		switch {
		case requirement.Scheme != scheme:
			outcome = Reject(ReasonUnsupportedScheme, "scheme %q is not accepted", scheme)
		case requirement.Network != network:
			outcome = Reject(ReasonUnsupportedNetwork, "network %q is not accepted for scheme %q", network, scheme)
		default:
			mech, ok := d.mechanisms[mechanismKey(scheme, network)]
			if !ok {
				outcome = Reject(ReasonUnsupportedNetwork, "no verifier for %s on %s", scheme, network)
				break
			}
			if len(ev.GetPayload()) == 0 {
				outcome = Reject(ReasonMalformedEvidence, "%s: evidence payload is empty", header)
				break
			}
			outcome, err = d.verifyOne(ctx, mech, ev, requirement)
			if err != nil {
				return Outcome{}, err
			}
		}

		if outcome.Accepted {
			return outcome, nil
		}
		if outcome.Reason.MoreSpecific(best.Reason) {
			best = outcome
		}
	}
	return best, nil
}

func (d *Dispatcher) verifyOne(ctx context.Context, mech Mechanism, ev *Evidence, requirement PaymentRequirement) (Outcome, error) {
	start := time.Now()
	outcome, err := mech.Verify(ctx, ev, requirement)
	d.metrics.ObserveLatency("verify", time.Since(start), map[string]string{"network": requirement.Network})
	if err != nil {
		if IsUpstream(err) || ctx.Err() != nil {
			d.logger.Warn("verification backend unavailable", map[string]any{
				"scheme":  requirement.Scheme,
				"network": requirement.Network,
				"error":   err.Error(),
			})
			return Reject(ReasonUpstreamUnavailable, "%v", err), nil
		}
		return Outcome{}, fmt.Errorf("verify %s on %s: %w", requirement.Scheme, requirement.Network, err)
	}
	if outcome.Accepted && outcome.Requirement == nil {
		outcome.Requirement = &requirement
	}
	return outcome, nil
}

func mechanismKey(scheme, network string) string {
	return scheme + "|" + network
}
