package x402

// Reason explains why evidence was not accepted. The string value is what
// clients see in the "error" field of a 402 body.
type Reason string

const (
	ReasonMissingEvidence     Reason = "missing_evidence"
	ReasonUnsupportedScheme   Reason = "unsupported_scheme"
	ReasonUnsupportedNetwork  Reason = "unsupported_network"
	ReasonMalformedEvidence   Reason = "malformed_evidence"
	ReasonInsufficientAmount  Reason = "insufficient_amount"
	ReasonVerificationFailed  Reason = "verification_failed"
	ReasonUpstreamUnavailable Reason = "upstream_unavailable"
)

// specificity orders reasons from least to most informative. When no
// requirement accepts, the dispatcher reports the highest ranked reason.
var specificity = map[Reason]int{
	ReasonMissingEvidence:     0,
	ReasonUnsupportedScheme:   1,
	ReasonUnsupportedNetwork:  2,
	ReasonMalformedEvidence:   3,
	ReasonInsufficientAmount:  4,
	ReasonVerificationFailed:  5,
	ReasonUpstreamUnavailable: 6,
}

// MoreSpecific reports whether r carries more diagnostic detail than other.
func (r Reason) MoreSpecific(other Reason) bool {
	return specificity[r] > specificity[other]
}

// Retryable is true for reasons the client should retry unchanged.
func (r Reason) Retryable() bool {
	return r == ReasonUpstreamUnavailable
}

func (r Reason) String() string { return string(r) }

// ReasonFromFacilitator maps a facilitator invalidReason onto the gate's
// reason set. Facilitators use free-form snake_case codes, so matching is by
// substring.
func ReasonFromFacilitator(code string) Reason {
	switch c := normalizeCode(code); {
	case c == "", contains(c, "signature"):
		return ReasonVerificationFailed
	case contains(c, "scheme"):
		return ReasonUnsupportedScheme
	case contains(c, "network"), contains(c, "chain"):
		return ReasonUnsupportedNetwork
	case contains(c, "insufficient"), contains(c, "amount"), contains(c, "value"):
		return ReasonInsufficientAmount
	case contains(c, "payload"), contains(c, "malformed"), contains(c, "decode"):
		return ReasonMalformedEvidence
	default:
		return ReasonVerificationFailed
	}
}
