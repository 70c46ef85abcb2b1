// models/qr_code.go
package models

import "time"

// MaterialType enumerates the materials recycling centers accept.
type MaterialType string

const (
	MaterialPlastic    MaterialType = "plastic"
	MaterialPaper      MaterialType = "paper"
	MaterialGlass      MaterialType = "glass"
	MaterialMetal      MaterialType = "metal"
	MaterialElectronic MaterialType = "electronic"
	MaterialOrganic    MaterialType = "organic"
	MaterialTextile    MaterialType = "textile"
)

// ValidMaterial reports whether m is one of the accepted material types.
func ValidMaterial(m MaterialType) bool {
	switch m {
	case MaterialPlastic, MaterialPaper, MaterialGlass, MaterialMetal,
		MaterialElectronic, MaterialOrganic, MaterialTextile:
		return true
	}
	return false
}

// QRStatus is the lifecycle state of a QR code. A code leaves "active"
// exactly once; used/expired/cancelled are all terminal.
type QRStatus string

const (
	QRStatusActive    QRStatus = "active"
	QRStatusUsed      QRStatus = "used"
	QRStatusExpired   QRStatus = "expired"
	QRStatusCancelled QRStatus = "cancelled"
)

// QRCode is one center-issued, single-use recycling claim.
// Rows are never deleted; terminal codes are retained for audit.
type QRCode struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	QRCodeID string `gorm:"uniqueIndex;not null" json:"qr_code_id"`
	QRHash   string `gorm:"uniqueIndex;not null" json:"qr_hash"` // keccak256(qr_code_id), on-chain correlation key

	CenterAddress string       `gorm:"index;not null" json:"center_address"`
	MaterialType  MaterialType `gorm:"not null" json:"material_type"`
	WeightGrams   int64        `gorm:"not null" json:"weight_grams"`

	Status    QRStatus  `gorm:"not null;default:'active';index:idx_qr_status_expiry" json:"status"`
	ExpiresAt time.Time `gorm:"not null;index:idx_qr_status_expiry" json:"expires_at"`

	// Set together on the transition to "used", never before.
	UsedBy          string     `json:"used_by,omitempty"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	TransactionHash string     `json:"transaction_hash,omitempty"`

	QRImageURL string `gorm:"type:text" json:"qr_image_url,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
