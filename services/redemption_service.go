// services/redemption_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"greenchain-backend/ledger"
	"greenchain-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RedemptionService spends credits at a partner business with the same
// ledger-once, mirror-idempotent discipline as settlement.
type RedemptionService struct {
	DB     *gorm.DB
	Ledger ledger.Ledger
}

func NewRedemptionService(db *gorm.DB, lg ledger.Ledger) *RedemptionService {
	return &RedemptionService{DB: db, Ledger: lg}
}

// RedeemOutcome is the response payload of a completed redemption.
// DiscountValue is derived for display; only the percentage is persisted.
type RedeemOutcome struct {
	TxHash             string  `json:"transaction_hash"`
	TokensRedeemed     float64 `json:"tokens_redeemed"`
	DiscountPercentage float64 `json:"discount_percentage"`
	DiscountValue      float64 `json:"discount_value"`
	BusinessName       string  `json:"business_name"`
}

// Redeem submits a redemption to the ledger and mirrors it. An amount equal
// to the business minimum passes; anything under it fails BelowThreshold.
func (s *RedemptionService) Redeem(ctx context.Context, userAddress, businessAddress string, amount float64) (*RedeemOutcome, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: token amount must be positive", models.ErrBelowThreshold)
	}

	var business models.Business
	if err := s.DB.Where("wallet_address = ? AND is_active = ?", businessAddress, true).First(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: business not found or inactive", models.ErrNotFound)
		}
		return nil, fmt.Errorf("DB error loading business: %w", err)
	}

	if amount < business.MinTokensRequired {
		return nil, fmt.Errorf("%w: minimum %.0f tokens required", models.ErrBelowThreshold, business.MinTokensRequired)
	}

	res, err := s.Ledger.RedeemAtBusiness(ctx, businessAddress, amount)
	if err != nil {
		log.Printf("❌ Redemption submission failed for %s at %s: %v", userAddress, businessAddress, err)
		return nil, fmt.Errorf("%w: %v", models.ErrLedgerFailure, err)
	}

	if err := s.applyRedemption(userAddress, &business, amount, res); err != nil {
		log.Printf("⚠️ Mirror write failed for redemption %s: %v", res.TxHash, err)
		return nil, fmt.Errorf("%w: ledger reference %s", models.ErrSettlementUnreconciled, res.TxHash)
	}

	return &RedeemOutcome{
		TxHash:             res.TxHash,
		TokensRedeemed:     amount,
		DiscountPercentage: business.DiscountPercentage,
		DiscountValue:      amount * business.DiscountPercentage / 100,
		BusinessName:       business.Name,
	}, nil
}

// applyRedemption mirrors a confirmed redemption in one durable unit,
// idempotent on the ledger reference.
func (s *RedemptionService) applyRedemption(userAddress string, business *models.Business, amount float64, res *ledger.RedeemResult) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		mirror := models.Transaction{
			ID:              uuid.NewString(),
			TxHash:          res.TxHash,
			BlockNumber:     res.BlockNumber,
			Type:            models.TransactionRedemption,
			FromAddress:     userAddress,
			ToAddress:       business.WalletAddress,
			Amount:          amount,
			BusinessAddress: business.WalletAddress,
			DiscountApplied: business.DiscountPercentage,
			Status:          models.TransactionConfirmed,
			RecordedAt:      time.Now(),
		}
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).Create(&mirror)
		if ins.Error != nil {
			return fmt.Errorf("failed to append mirror transaction: %w", ins.Error)
		}
		if ins.RowsAffected == 0 {
			return nil // already mirrored, stats already applied
		}

		if err := tx.Model(&models.Business{}).
			Where("wallet_address = ?", business.WalletAddress).
			Updates(map[string]interface{}{
				"total_redemptions":     gorm.Expr("total_redemptions + 1"),
				"total_tokens_redeemed": gorm.Expr("total_tokens_redeemed + ?", amount),
			}).Error; err != nil {
			return fmt.Errorf("failed to update business stats: %w", err)
		}

		// Pure counter: an atomic upsert increment, safe against a
		// concurrent settlement or redemption for the same wallet.
		user := models.User{
			ID:                  uuid.NewString(),
			WalletAddress:       userAddress,
			TotalTokensRedeemed: amount,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "wallet_address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_tokens_redeemed": gorm.Expr("total_tokens_redeemed + ?", amount),
			}),
		}).Create(&user).Error; err != nil {
			return fmt.Errorf("failed to update user stats: %w", err)
		}
		return nil
	})
}

// --- Fiber handler ---

// RedeemTokens handles POST /redemptions.
func (s *RedemptionService) RedeemTokens(c *fiber.Ctx) error {
	userAddress := c.Locals("wallet_address").(string)

	var req struct {
		BusinessAddress string  `json:"business_address"`
		TokenAmount     float64 `json:"token_amount"`
	}
	if err := c.BodyParser(&req); err != nil || req.BusinessAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "business_address and token_amount required"})
	}

	outcome, err := s.Redeem(c.Context(), userAddress, req.BusinessAddress, req.TokenAmount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":             true,
		"transaction_hash":    outcome.TxHash,
		"tokens_redeemed":     outcome.TokensRedeemed,
		"discount_percentage": outcome.DiscountPercentage,
		"discount_value":      outcome.DiscountValue,
		"business_name":       outcome.BusinessName,
	})
}
