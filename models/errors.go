// models/errors.go
package models

// CodedError carries a stable machine-readable code alongside the human
// message. Handlers map codes to HTTP statuses; callers match with errors.Is.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string { return e.Message }

var (
	// ErrNotFound: claim or business absent. Not retryable.
	ErrNotFound = &CodedError{Code: "not_found", Message: "not found"}
	// ErrInvalidState: claim is not active (used, cancelled, or a
	// settlement for it is already in flight). Not retryable.
	ErrInvalidState = &CodedError{Code: "invalid_state", Message: "QR code is not active"}
	// ErrExpired: claim past its expiry, detected lazily on read.
	ErrExpired = &CodedError{Code: "expired", Message: "QR code expired"}
	// ErrNotCenter: the caller is not a registered, active recycling
	// center and may not issue or cancel QR codes.
	ErrNotCenter = &CodedError{Code: "not_a_center", Message: "not a registered recycling center"}
	// ErrBelowThreshold: redemption amount under the business minimum.
	ErrBelowThreshold = &CodedError{Code: "below_threshold", Message: "token amount below business minimum"}
	// ErrLedgerFailure: the ledger call definitively failed; the claim is
	// still active and the caller may retry.
	ErrLedgerFailure = &CodedError{Code: "ledger_failure", Message: "blockchain submission failed"}
	// ErrSettlementUnreconciled: the ledger side succeeded (or its outcome
	// is unknown) but the mirror is not yet consistent. Resolved by the
	// reconciliation sweep; the caller must not resubmit.
	ErrSettlementUnreconciled = &CodedError{Code: "settlement_unreconciled", Message: "settlement recorded on chain, processing"}
)
