// models/pending_settlement.go
package models

import "time"

// SettlementPhase tracks how far an in-flight settlement got.
type SettlementPhase string

const (
	// PhaseSubmitting: intent row inserted, ledger call in progress.
	PhaseSubmitting SettlementPhase = "submitting"
	// PhaseUnknown: the ledger call timed out; outcome must be discovered
	// via the ledger's reference lookup before anything is mirrored.
	PhaseUnknown SettlementPhase = "unknown"
	// PhaseUnmirrored: the ledger confirmed but the mirror write did not
	// complete; the sweep replays the mirror write, never the submission.
	PhaseUnmirrored SettlementPhase = "unmirrored"
)

// PendingSettlement is both the per-claim settlement reservation and the
// reconciliation queue. The unique index on QRCodeID is the atomic
// check-and-set that lets exactly one concurrent Settle proceed to the
// ledger; the same row then carries the ledger reference through the
// partial-failure window until the mirror write lands.
type PendingSettlement struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	QRCodeID string `gorm:"uniqueIndex;not null" json:"qr_code_id"`
	QRHash   string `gorm:"index;not null" json:"qr_hash"`
	Claimant string `gorm:"not null" json:"claimant"`

	Phase SettlementPhase `gorm:"not null;default:'submitting'" json:"phase"`

	// Populated once the ledger outcome is known.
	TxHash       string       `json:"tx_hash,omitempty"`
	BlockNumber  uint64       `json:"block_number,omitempty"`
	Reward       float64      `json:"reward,omitempty"`
	RewardSource RewardSource `json:"reward_source,omitempty"`

	Attempts  int    `gorm:"default:0" json:"attempts"`
	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
