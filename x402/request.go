package x402

import (
	"net/http"
	"net/url"
)

// RequestView is the transport-neutral view of an inbound request. Each
// transport implements it once; the gate never sees framework types.
type RequestView interface {
	// Header returns the first value of the named header, matched
	// case-insensitively, or "" when absent.
	Header(name string) string
	Method() string
	Path() string
	URL() string
	AcceptHeader() string
	UserAgent() string
	QueryParams() map[string]string
	QueryParam(name string) string
}

// HTTPRequestView adapts a *http.Request.
type HTTPRequestView struct {
	r *http.Request
}

// NewHTTPRequestView wraps r. The request is read, never modified.
func NewHTTPRequestView(r *http.Request) *HTTPRequestView {
	return &HTTPRequestView{r: r}
}

func (v *HTTPRequestView) Header(name string) string { return v.r.Header.Get(name) }
func (v *HTTPRequestView) Method() string            { return v.r.Method }
func (v *HTTPRequestView) Path() string              { return v.r.URL.Path }
func (v *HTTPRequestView) AcceptHeader() string      { return v.r.Header.Get("Accept") }
func (v *HTTPRequestView) UserAgent() string         { return v.r.UserAgent() }

func (v *HTTPRequestView) URL() string {
	u := *v.r.URL
	if u.Host == "" {
		u.Host = v.r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if v.r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return u.String()
}

func (v *HTTPRequestView) QueryParams() map[string]string {
	return flattenQuery(v.r.URL.Query())
}

func (v *HTTPRequestView) QueryParam(name string) string {
	return v.r.URL.Query().Get(name)
}

func flattenQuery(q url.Values) map[string]string {
	params := make(map[string]string, len(q))
	for key, values := range q {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}
