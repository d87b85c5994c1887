package engine

import "fmt"

// RejectReason taxonomizes why submit_signed refused a message, grounded on
// the variant names original_source/src/sdk_v2/error.rs uses for its SDK
// error taxonomy, translated into the categories spec section 7 defines:
// validation, authorization, protocol violation, threshold-not-met,
// arithmetic/solvency, and transient-resource.
type RejectReason string

const (
	// Validation errors: malformed, unsigned, or oversize messages.
	RejectMalformed     RejectReason = "malformed"
	RejectSignature     RejectReason = "invalid-signature"
	RejectOversize      RejectReason = "oversize"
	RejectTimestampSkew RejectReason = "timestamp-skew"

	// Authorization errors: no reputation effect on first offence.
	RejectNotInRoster RejectReason = "not-in-roster"
	RejectWrongPhase  RejectReason = "wrong-phase"
	RejectDuplicate   RejectReason = "duplicate"
	RejectPastDeadline RejectReason = "past-deadline"

	// Protocol violations: accepted as evidence, penalized heavily.
	RejectInvalidReveal  RejectReason = "invalid-reveal"
	RejectUnknownCommit  RejectReason = "unknown-commit"
	RejectWrongProposer  RejectReason = "wrong-proposer"
	RejectBadDerivation  RejectReason = "bad-derivation"

	// Transient resource errors: sender may retry before the deadline.
	RejectRateLimited RejectReason = "rate-limited"
	RejectGameUnknown RejectReason = "game-unknown"
)

// Rejected is the error type submit_signed returns for any non-fatal
// rejection; the message is dropped and the reason recorded, never a panic.
type Rejected struct {
	Reason RejectReason
	Detail string
}

func (r *Rejected) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("engine: rejected (%s)", r.Reason)
	}
	return fmt.Sprintf("engine: rejected (%s): %s", r.Reason, r.Detail)
}

func reject(reason RejectReason, format string, args ...interface{}) *Rejected {
	return &Rejected{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
