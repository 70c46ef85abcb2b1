// models/user.go
package models

import "time"

// User is the local stat-aggregate row for one wallet. Counters are derived
// exclusively from confirmed mirror transactions, never written directly by
// a claim transition on its own.
type User struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string `gorm:"uniqueIndex;not null" json:"wallet_address"`
	FullName      string `json:"full_name,omitempty"`
	ProfileImage  string `gorm:"type:text" json:"profile_image,omitempty"`

	TotalRecyclings     int64   `gorm:"default:0" json:"total_recyclings"`
	TotalTokensEarned   float64 `gorm:"default:0" json:"total_tokens_earned"`
	TotalTokensRedeemed float64 `gorm:"default:0" json:"total_tokens_redeemed"`

	CurrentStreak     int        `gorm:"default:0" json:"current_streak"`
	LongestStreak     int        `gorm:"default:0" json:"longest_streak"`
	LastRecyclingDate *time.Time `json:"last_recycling_date,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
