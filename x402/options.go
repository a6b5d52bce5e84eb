package x402

import (
	"time"

	"github.com/jayyu23/x402-zkid/logger"
	"github.com/jayyu23/x402-zkid/metrics"
)

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.metrics = r
		}
	}
}

// WithTimeout bounds each verification. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGateEvidenceHeaders changes which headers count as evidence when
// deciding between NoPayment and verification. Keep it in sync with the
// dispatcher's WithEvidenceHeaders.
func WithGateEvidenceHeaders(headers ...string) Option {
	return func(g *Gate) {
		if len(headers) > 0 {
			g.headers = headers
		}
	}
}
