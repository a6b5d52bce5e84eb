package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/jayyu23/x402-zkid/x402"
)

// ginRequestView exposes a gin request to the gate.
type ginRequestView struct {
	c *gin.Context
}

var _ x402.RequestView = ginRequestView{}

func newGinRequestView(c *gin.Context) ginRequestView {
	return ginRequestView{c: c}
}

func (v ginRequestView) Header(name string) string { return v.c.GetHeader(name) }
func (v ginRequestView) Method() string            { return v.c.Request.Method }
func (v ginRequestView) Path() string              { return v.c.Request.URL.Path }
func (v ginRequestView) AcceptHeader() string      { return v.c.GetHeader("Accept") }
func (v ginRequestView) UserAgent() string         { return v.c.Request.UserAgent() }
func (v ginRequestView) QueryParam(name string) string {
	return v.c.Query(name)
}

func (v ginRequestView) URL() string {
	return requestBaseURL(v.c) + v.c.Request.URL.RequestURI()
}

func (v ginRequestView) QueryParams() map[string]string {
	q := v.c.Request.URL.Query()
	params := make(map[string]string, len(q))
	for key := range q {
		params[key] = q.Get(key)
	}
	return params
}

// requestBaseURL is scheme://host as the client addressed us.
func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + c.Request.Host
}
