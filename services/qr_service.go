// services/qr_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"greenchain-backend/ledger"
	"greenchain-backend/models"
	"greenchain-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

// QRValidity is how long an issued code stays redeemable.
const QRValidity = 24 * time.Hour

type QRService struct {
	DB     *gorm.DB
	Ledger ledger.Ledger
}

func NewQRService(db *gorm.DB, lg ledger.Ledger) *QRService {
	return &QRService{DB: db, Ledger: lg}
}

// IssueClaim creates a fresh single-use QR code for a registered center.
// No ledger interaction happens at issuance.
func (s *QRService) IssueClaim(centerAddress string, material models.MaterialType, weightGrams int64) (*models.QRCode, error) {
	if !models.ValidMaterial(material) {
		return nil, fmt.Errorf("%w: unknown material type %q", models.ErrInvalidState, material)
	}
	if weightGrams <= 0 {
		return nil, fmt.Errorf("%w: weight must be positive", models.ErrInvalidState)
	}

	var center models.RecyclingCenter
	if err := s.DB.Where("wallet_address = ? AND is_active = ?", centerAddress, true).First(&center).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotCenter
		}
		return nil, fmt.Errorf("DB error loading center: %w", err)
	}

	qrCodeID := "QR-" + uuid.NewString()
	code := &models.QRCode{
		ID:            uuid.NewString(),
		QRCodeID:      qrCodeID,
		QRHash:        ledger.HashQRCodeID(qrCodeID),
		CenterAddress: centerAddress,
		MaterialType:  material,
		WeightGrams:   weightGrams,
		Status:        models.QRStatusActive,
		ExpiresAt:     time.Now().Add(QRValidity),
		QRImageURL:    s.renderAndStoreImage(qrCodeID, centerAddress, material, weightGrams),
	}

	if err := s.DB.Create(code).Error; err != nil {
		return nil, fmt.Errorf("failed to persist QR code: %w", err)
	}
	return code, nil
}

// renderAndStoreImage is best-effort: a missing image never blocks issuance.
func (s *QRService) renderAndStoreImage(qrCodeID, centerAddress string, material models.MaterialType, weightGrams int64) string {
	payload, _ := json.Marshal(fiber.Map{
		"id":        qrCodeID,
		"center":    centerAddress,
		"material":  material,
		"weight":    weightGrams,
		"timestamp": time.Now().UnixMilli(),
	})
	png, err := qrcode.Encode(string(payload), qrcode.Medium, 256)
	if err != nil {
		log.Printf("⚠️ Failed to render QR image for %s: %v", qrCodeID, err)
		return ""
	}
	url, err := utils.UploadQRImage(qrCodeID+".png", png)
	if err != nil {
		log.Printf("⚠️ Failed to upload QR image for %s: %v", qrCodeID, err)
		return ""
	}
	return url
}

// loadClaimForUse fetches a QR code and applies the lazy expiry check. Every
// read path (scan and settle) goes through here, so a code past its expiry
// always fails Expired even if no sweep ever touched it.
func loadClaimForUse(db *gorm.DB, qrCodeID string) (*models.QRCode, error) {
	var code models.QRCode
	if err := db.Where("qr_code_id = ?", qrCodeID).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: QR code %s", models.ErrNotFound, qrCodeID)
		}
		return nil, fmt.Errorf("DB error loading QR code: %w", err)
	}

	switch code.Status {
	case models.QRStatusActive:
		if time.Now().After(code.ExpiresAt) {
			// CAS so a concurrent settle that already won is not clobbered.
			db.Model(&models.QRCode{}).
				Where("qr_code_id = ? AND status = ?", qrCodeID, models.QRStatusActive).
				Update("status", models.QRStatusExpired)
			return nil, models.ErrExpired
		}
		return &code, nil
	case models.QRStatusExpired:
		return nil, models.ErrExpired
	default:
		return nil, fmt.Errorf("%w: QR code is %s", models.ErrInvalidState, code.Status)
	}
}

// ScanResult is the preview a user sees before settling. EstimatedReward is
// non-binding and always an estimate; the confirmed amount only exists after
// settlement.
type ScanResult struct {
	QRCode          *models.QRCode       `json:"qr_code"`
	Center          models.CenterSummary `json:"center"`
	EstimatedReward float64              `json:"estimated_reward"`
	RewardSource    models.RewardSource  `json:"reward_source"`
}

// ScanClaim validates a code for preview. Read-only with respect to the
// ledger and (aside from lazy expiry) to the claim store; scanning twice
// never double-counts anything.
func (s *QRService) ScanClaim(ctx context.Context, qrCodeID, userAddress string) (*ScanResult, error) {
	code, err := loadClaimForUse(s.DB, qrCodeID)
	if err != nil {
		return nil, err
	}

	var center models.RecyclingCenter
	summary := models.CenterSummary{WalletAddress: code.CenterAddress}
	if err := s.DB.Where("wallet_address = ?", code.CenterAddress).First(&center).Error; err == nil {
		summary = center.Summary()
	}

	estimate, err := s.Ledger.EstimateReward(ctx, userAddress, string(code.MaterialType), code.WeightGrams)
	if err != nil {
		log.Printf("⚠️ Reward estimate failed for %s: %v", qrCodeID, err)
		estimate = ledger.FallbackBaseReward
	}

	return &ScanResult{
		QRCode:          code,
		Center:          summary,
		EstimatedReward: estimate,
		RewardSource:    models.RewardEstimated,
	}, nil
}

// CancelClaim is the issuer-initiated terminal transition.
func (s *QRService) CancelClaim(centerAddress, qrCodeID string) error {
	var code models.QRCode
	if err := s.DB.Where("qr_code_id = ?", qrCodeID).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: QR code %s", models.ErrNotFound, qrCodeID)
		}
		return fmt.Errorf("DB error loading QR code: %w", err)
	}
	if code.CenterAddress != centerAddress {
		return models.ErrNotCenter
	}

	res := s.DB.Model(&models.QRCode{}).
		Where("qr_code_id = ? AND status = ?", qrCodeID, models.QRStatusActive).
		Update("status", models.QRStatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("DB error cancelling QR code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: QR code is no longer active", models.ErrInvalidState)
	}
	return nil
}

// --- Fiber handlers ---

// GenerateQR handles POST /claims (center-issued).
func (s *QRService) GenerateQR(c *fiber.Ctx) error {
	centerAddress := c.Locals("wallet_address").(string)

	var req struct {
		MaterialType models.MaterialType `json:"material_type"`
		Weight       int64               `json:"weight"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	code, err := s.IssueClaim(centerAddress, req.MaterialType, req.Weight)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"qr_code_id": code.QRCodeID,
		"qr_hash":    code.QRHash,
		"qr_image":   code.QRImageURL,
		"expires_at": code.ExpiresAt,
	})
}

// ScanQR handles POST /claims/scan.
func (s *QRService) ScanQR(c *fiber.Ctx) error {
	userAddress := c.Locals("wallet_address").(string)

	var req struct {
		QRCodeID string `json:"qr_code_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.QRCodeID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "qr_code_id required"})
	}

	result, err := s.ScanClaim(c.Context(), req.QRCodeID, userAddress)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// CancelQR handles POST /claims/:id/cancel (issuer only).
func (s *QRService) CancelQR(c *fiber.Ctx) error {
	centerAddress := c.Locals("wallet_address").(string)
	qrCodeID := c.Params("id")

	if err := s.CancelClaim(centerAddress, qrCodeID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "QR code cancelled", "qr_code_id": qrCodeID})
}
