package x402

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/jayyu23/x402-zkid/logger"
)

// Settler finalizes a verified payment after the resource has been served.
type Settler interface {
	Settle(ctx context.Context, proof *Proof) (SettleResponse, error)
}

type middlewareConfig struct {
	settler Settler
	logger  logger.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithSettler enables settlement of verified payments. The resource output is
// buffered until settlement succeeds.
func WithSettler(s Settler) MiddlewareOption {
	return func(c *middlewareConfig) { c.settler = s }
}

func WithMiddlewareLogger(l logger.Logger) MiddlewareOption {
	return func(c *middlewareConfig) { c.logger = logger.OrNoop(l) }
}

// Middleware gates next behind gate for net/http servers.
func Middleware(gate *Gate, next http.Handler, opts ...MiddlewareOption) http.Handler {
	cfg := middlewareConfig{logger: logger.NoopLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := gate.Process(r.Context(), NewHTTPRequestView(r))
		spec := Render(d, err)
		if !spec.Proceed {
			spec.Write(w)
			return
		}

		if cfg.settler == nil || d.Free() {
			next.ServeHTTP(w, r)
			return
		}

		buf := newBufferedWriter()
		if p := serveBuffered(next, buf, r); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			cfg.logger.Error("resource handler panicked, payment not settled", map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"panic":  fmt.Sprint(p),
			})
			Render(Decision{}, &InternalError{Message: "resource handler failed", Err: fmt.Errorf("panic: %v", p)}).Write(w)
			return
		}
		if buf.status >= http.StatusBadRequest {
			buf.flush(w)
			return
		}

		header, settled, err := gate.Settle(r.Context(), cfg.settler, d)
		if err != nil || settled.Kind != PaymentVerified {
			Render(settled, err).Write(w)
			return
		}
		buf.Header().Set(HeaderPaymentResponse, header)
		buf.flush(w)
	})
}

// serveBuffered runs next into buf and returns what it panicked with, if
// anything. The buffered output of a panicking handler is dropped.
func serveBuffered(next http.Handler, buf *bufferedWriter, r *http.Request) (recovered any) {
	defer func() { recovered = recover() }()
	next.ServeHTTP(buf, r)
	return nil
}

// bufferedWriter holds a handler's response until settlement decides whether
// it may be sent.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for k, vs := range b.header {
		w.Header()[k] = vs
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
