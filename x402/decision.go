package x402

// DecisionKind is the outcome of gating one request.
type DecisionKind int

const (
	// NoPayment: the route is paywalled and the request carried no evidence.
	NoPayment DecisionKind = iota
	// PaymentError: evidence was present but not accepted.
	PaymentError
	// PaymentVerified: the request may reach the resource.
	PaymentVerified
)

func (k DecisionKind) String() string {
	switch k {
	case NoPayment:
		return "no_payment"
	case PaymentError:
		return "payment_error"
	case PaymentVerified:
		return "payment_verified"
	default:
		return "unknown"
	}
}

// Decision is produced once per request and never cached.
type Decision struct {
	Kind   DecisionKind
	Reason Reason // PaymentError only
	Detail string // PaymentError only; logged, never sent
	Route  RouteConfig
	// Proof is nil for a verified request to a free route.
	Proof *Proof
}

func noPayment(route RouteConfig) Decision {
	return Decision{Kind: NoPayment, Route: route}
}

func paymentError(reason Reason, detail string, route RouteConfig) Decision {
	return Decision{Kind: PaymentError, Reason: reason, Detail: detail, Route: route}
}

func paymentVerified(proof *Proof, route RouteConfig) Decision {
	return Decision{Kind: PaymentVerified, Proof: proof, Route: route}
}

// Free reports whether the request was let through without any payment.
func (d Decision) Free() bool {
	return d.Kind == PaymentVerified && d.Proof == nil
}
