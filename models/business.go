// models/business.go
package models

import "time"

// Business is a redemption partner offering a token-for-discount deal.
type Business struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Name          string `gorm:"not null" json:"name"`
	Description   string `gorm:"type:text" json:"description,omitempty"`
	Category      string `gorm:"index" json:"category,omitempty"`
	City          string `gorm:"index" json:"city,omitempty"`

	DiscountPercentage float64 `gorm:"not null" json:"discount_percentage"`
	MinTokensRequired  float64 `gorm:"default:0" json:"min_tokens_required"`

	TotalRedemptions    int64   `gorm:"default:0" json:"total_redemptions"`
	TotalTokensRedeemed float64 `gorm:"default:0" json:"total_tokens_redeemed"`

	IsVerified bool `gorm:"default:false" json:"is_verified"`
	IsActive   bool `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
