// models/center.go
package models

import "time"

// RecyclingCenter is the registry row for a claim issuer. Only registered,
// active centers may issue QR codes.
type RecyclingCenter struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Name          string `gorm:"not null" json:"name"`
	Description   string `gorm:"type:text" json:"description,omitempty"`
	City          string `json:"city,omitempty"`

	// Comma-separated subset of the material enum, e.g. "plastic,glass,metal".
	AcceptedMaterials string `json:"accepted_materials,omitempty"`

	TotalRecyclings      int64   `gorm:"default:0" json:"total_recyclings"`
	TotalTokensIssued    float64 `gorm:"default:0" json:"total_tokens_issued"`
	TotalWeightCollected int64   `gorm:"default:0" json:"total_weight_collected"` // grams

	IsVerified bool `gorm:"default:false" json:"is_verified"`
	IsActive   bool `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// CenterSummary is the trimmed center view embedded in scan and history
// responses.
type CenterSummary struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
	City          string `json:"city,omitempty"`
}

func (c *RecyclingCenter) Summary() CenterSummary {
	return CenterSummary{Name: c.Name, WalletAddress: c.WalletAddress, City: c.City}
}
