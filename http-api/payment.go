package httpapi

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jayyu23/x402-zkid/logger"
	"github.com/jayyu23/x402-zkid/x402"
)

const decisionKey = "x402.decision"

// PaymentMiddleware gates the routes behind it. Only PaymentVerified
// requests reach the handler. With a settler, verified responses are held
// until settlement succeeds.
func PaymentMiddleware(gate *x402.Gate, settler x402.Settler, log logger.Logger) gin.HandlerFunc {
	log = logger.OrNoop(log)

	return func(c *gin.Context) {
		d, err := gate.Process(c.Request.Context(), newGinRequestView(c))
		if err == nil {
			c.Set(decisionKey, d)
		}

		spec := x402.Render(d, err)
		if !spec.Proceed {
			if err != nil {
				_ = c.Error(err)
			}
			writeSpec(c, spec)
			return
		}

		if settler == nil || d.Free() {
			c.Next()
			return
		}

		buf := newBufferedWriter(c.Writer)
		serveBuffered(c, buf)

		if buf.status >= http.StatusBadRequest {
			buf.flush()
			return
		}

		header, settled, err := gate.Settle(c.Request.Context(), settler, d)
		if err != nil || settled.Kind != x402.PaymentVerified {
			if err != nil {
				_ = c.Error(err)
			}
			writeSpec(c, x402.Render(settled, err))
			return
		}

		log.Info("x402 payment settled", map[string]any{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"network": d.Proof.Network,
			"payer":   d.Proof.Payer,
		})
		buf.Header().Set(x402.HeaderPaymentResponse, header)
		buf.flush()
	}
}

// serveBuffered runs the rest of the chain into buf. The real writer is
// back in place before a handler panic reaches gin.Recovery, so the client
// gets its 500 and nothing is settled.
func serveBuffered(c *gin.Context, buf *bufferedWriter) {
	c.Writer = buf
	defer func() { c.Writer = buf.ResponseWriter }()
	c.Next()
}

// DecisionFrom returns the gate decision recorded for this request, if any.
func DecisionFrom(c *gin.Context) (x402.Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return x402.Decision{}, false
	}
	d, ok := v.(x402.Decision)
	return d, ok
}

func writeSpec(c *gin.Context, spec x402.ResponseSpec) {
	for k, vs := range spec.Headers {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(spec.Status, spec.Headers.Get("Content-Type"), spec.Body)
	c.Abort()
}

// bufferedWriter captures a handler's output until settlement finishes.
type bufferedWriter struct {
	gin.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w, header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header              { return b.header }
func (b *bufferedWriter) WriteHeader(code int)             { b.status = code }
func (b *bufferedWriter) WriteHeaderNow()                  {}
func (b *bufferedWriter) Write(p []byte) (int, error)      { return b.body.Write(p) }
func (b *bufferedWriter) WriteString(s string) (int, error) { return b.body.WriteString(s) }
func (b *bufferedWriter) Status() int                      { return b.status }
func (b *bufferedWriter) Size() int                        { return b.body.Len() }
func (b *bufferedWriter) Written() bool                    { return false }
func (b *bufferedWriter) Flush()                           {}

func (b *bufferedWriter) flush() {
	dst := b.ResponseWriter
	for k, vs := range b.header {
		dst.Header()[k] = vs
	}
	dst.WriteHeader(b.status)
	_, _ = dst.Write(b.body.Bytes())
}
