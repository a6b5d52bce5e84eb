package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// RetryAfterSeconds is advertised on 503 responses.
const RetryAfterSeconds = 5

// ResponseSpec is a transport-neutral response. When Proceed is true the
// caller must serve the resource instead.
type ResponseSpec struct {
	Status  int
	Headers http.Header
	Body    []byte
	Proceed bool
}

// Render maps a gate result onto a response. It is a pure function of its
// inputs: the same decision always renders to the same bytes.
func Render(d Decision, err error) ResponseSpec {
	if err != nil {
		details := "unexpected error"
		var ie *InternalError
		if errors.As(err, &ie) {
			details = ie.Message
		}
		return jsonResponse(http.StatusInternalServerError, ErrorBody{
			Error:   "payment processing failed",
			Details: details,
		})
	}

	switch d.Kind {
	case PaymentVerified:
		return ResponseSpec{Proceed: true}
	case NoPayment:
		return challenge(PaymentRequiredBody{
			X402Version: X402Version,
			Accepts:     acceptsOf(d.Route),
			Description: d.Route.Description,
			MimeType:    d.Route.MimeType,
		})
	case PaymentError:
		if d.Reason == ReasonUpstreamUnavailable {
			spec := jsonResponse(http.StatusServiceUnavailable, ErrorBody{Error: "upstream verification unavailable"})
			spec.Headers.Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
			return spec
		}
		return challenge(PaymentErrorBody{
			X402Version: X402Version,
			Error:       d.Reason,
			Accepts:     acceptsOf(d.Route),
		})
	default:
		return Render(Decision{}, &InternalError{Message: "unknown decision"})
	}
}

// Write sends the response. It must not be called when Proceed is true.
func (r ResponseSpec) Write(w http.ResponseWriter) {
	for k, vs := range r.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

func challenge(body any) ResponseSpec {
	spec := jsonResponse(http.StatusPaymentRequired, body)
	spec.Headers.Set(HeaderPaymentRequired, base64.StdEncoding.EncodeToString(spec.Body))
	return spec
}

func jsonResponse(status int, body any) ResponseSpec {
	data, err := json.Marshal(body)
	if err != nil {
		// Bodies are built from validated config; this only happens when extra
		// holds something unencodable.
		status = http.StatusInternalServerError
		data = []byte(`{"error":"payment processing failed","details":"encode response"}`)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return ResponseSpec{Status: status, Headers: h, Body: data}
}

// acceptsOf never returns nil so the body always carries "accepts": [].
func acceptsOf(route RouteConfig) []PaymentRequirement {
	if route.Accepts == nil {
		return []PaymentRequirement{}
	}
	return route.Accepts
}
