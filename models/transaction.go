// models/transaction.go
package models

import "time"

// TransactionType mirrors the on-chain operation kinds.
type TransactionType string

const (
	TransactionRecycling  TransactionType = "recycling"
	TransactionRedemption TransactionType = "redemption"
	TransactionDonation   TransactionType = "donation"
	TransactionTransfer   TransactionType = "transfer"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionFailed    TransactionStatus = "failed"
)

// RewardSource distinguishes a reward decoded from the ledger's own event
// from one backfilled via the read-only estimator when event parsing failed.
type RewardSource string

const (
	RewardConfirmed RewardSource = "confirmed"
	RewardEstimated RewardSource = "estimated"
)

// Transaction is the off-chain mirror of one confirmed ledger transaction.
// Append-only: rows are created once per successful ledger call and only the
// status field may move pending -> confirmed/failed afterwards.
type Transaction struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	TxHash      string `gorm:"uniqueIndex;not null" json:"transaction_hash"`
	BlockNumber uint64 `json:"block_number"`

	Type        TransactionType `gorm:"not null;index" json:"type"`
	FromAddress string          `gorm:"index:idx_tx_from_time" json:"from_address"`
	ToAddress   string          `gorm:"index:idx_tx_to_time" json:"to_address"`
	Amount      float64         `gorm:"not null" json:"amount"`

	// Recycling detail
	CenterAddress string       `json:"center_address,omitempty"`
	MaterialType  MaterialType `json:"material_type,omitempty"`
	WeightGrams   int64        `json:"weight_grams,omitempty"`
	QRHash        string       `json:"qr_code_hash,omitempty"`
	RewardSource  RewardSource `json:"reward_source,omitempty"`

	// Redemption detail
	BusinessAddress string  `json:"business_address,omitempty"`
	DiscountApplied float64 `json:"discount_applied,omitempty"`

	Status     TransactionStatus `gorm:"not null;default:'pending'" json:"status"`
	RecordedAt time.Time         `gorm:"not null;index:idx_tx_from_time;index:idx_tx_to_time" json:"recorded_at"`
}
