// services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"greenchain-backend/ledger"
	"greenchain-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementService drives a QR code from active to used: exactly one ledger
// submission per code, then one atomic mirror write. The ledger call never
// holds a DB lock; the reservation is the unique pending_settlements row.
type SettlementService struct {
	DB     *gorm.DB
	Ledger ledger.Ledger
}

func NewSettlementService(db *gorm.DB, lg ledger.Ledger) *SettlementService {
	return &SettlementService{DB: db, Ledger: lg}
}

// SettleResult is the response payload of a completed settlement.
type SettleResult struct {
	TxHash       string              `json:"transaction_hash"`
	TokensEarned float64             `json:"tokens_earned"`
	RewardSource models.RewardSource `json:"reward_source"`
	MaterialType models.MaterialType `json:"material_type"`
	WeightGrams  int64               `json:"weight"`
}

// Settle converts an active QR code into a confirmed ledger transaction and
// mirrored record.
//
// Failure contract:
//   - validation errors leave everything untouched;
//   - a definite ledger failure releases the reservation, the code stays
//     active and the caller may retry;
//   - an unknown ledger outcome or a failed mirror write keeps the
//     reservation for the reconciliation sweep and surfaces
//     ErrSettlementUnreconciled — the code is never resubmitted.
func (s *SettlementService) Settle(ctx context.Context, qrCodeID, userAddress string) (*SettleResult, error) {
	code, err := loadClaimForUse(s.DB, qrCodeID)
	if err != nil {
		return nil, err
	}

	// Reserve the claim. The unique index on qr_code_id makes this the
	// atomic check-and-set: one concurrent caller wins, the rest fail here
	// without ever reaching the ledger.
	intent := models.PendingSettlement{
		ID:       uuid.NewString(),
		QRCodeID: code.QRCodeID,
		QRHash:   code.QRHash,
		Claimant: userAddress,
		Phase:    models.PhaseSubmitting,
	}
	if err := s.DB.Create(&intent).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: settlement already in progress", models.ErrInvalidState)
		}
		return nil, fmt.Errorf("DB error reserving settlement: %w", err)
	}

	// Recheck after acquiring the reservation: a settlement that finished
	// between our status read and the insert has already released its row,
	// but it also left the claim terminal.
	if _, err := loadClaimForUse(s.DB, qrCodeID); err != nil {
		s.DB.Where("id = ?", intent.ID).Delete(&models.PendingSettlement{})
		return nil, err
	}

	res, err := s.Ledger.SubmitRecycling(ctx, userAddress, string(code.MaterialType), code.WeightGrams, code.QRHash)
	if err != nil {
		var unknown *ledger.OutcomeUnknownError
		if errors.As(err, &unknown) {
			// Broadcast may still mine. Park the intent for the sweep;
			// the claim stays active until the outcome is discovered.
			s.DB.Model(&models.PendingSettlement{}).Where("id = ?", intent.ID).Updates(map[string]interface{}{
				"phase":      models.PhaseUnknown,
				"tx_hash":    unknown.TxHash,
				"last_error": err.Error(),
			})
			log.Printf("⏳ Settlement outcome unknown for %s (tx %s), deferred to reconciliation", qrCodeID, unknown.TxHash)
			return nil, fmt.Errorf("%w: awaiting confirmation", models.ErrSettlementUnreconciled)
		}

		// Definite failure: release the reservation, claim stays active.
		s.DB.Where("id = ?", intent.ID).Delete(&models.PendingSettlement{})
		log.Printf("❌ Ledger submission failed for %s: %v", qrCodeID, err)
		return nil, fmt.Errorf("%w: %v", models.ErrLedgerFailure, err)
	}

	reward, source := s.resolveReward(ctx, userAddress, code, res.Events)

	if err := ApplyRecyclingSettlement(s.DB, SettlementRecord{
		QRCodeID:     code.QRCodeID,
		Claimant:     userAddress,
		TxHash:       res.TxHash,
		BlockNumber:  res.BlockNumber,
		Reward:       reward,
		RewardSource: source,
	}); err != nil {
		// The ledger reference must not be lost: record it on the intent
		// and let the sweep redo the mirror write idempotently.
		s.DB.Model(&models.PendingSettlement{}).Where("id = ?", intent.ID).Updates(map[string]interface{}{
			"phase":         models.PhaseUnmirrored,
			"tx_hash":       res.TxHash,
			"block_number":  res.BlockNumber,
			"reward":        reward,
			"reward_source": source,
			"last_error":    err.Error(),
		})
		log.Printf("⚠️ Mirror write failed for %s (tx %s): %v — queued for reconciliation", qrCodeID, res.TxHash, err)
		return nil, fmt.Errorf("%w: ledger reference %s", models.ErrSettlementUnreconciled, res.TxHash)
	}

	return &SettleResult{
		TxHash:       res.TxHash,
		TokensEarned: reward,
		RewardSource: source,
		MaterialType: code.MaterialType,
		WeightGrams:  code.WeightGrams,
	}, nil
}

// resolveReward decodes the confirmed reward from the event feed. When the
// expected event is absent the read-only estimator backfills the amount, and
// the result is explicitly flagged as an estimate rather than silently
// substituted.
func (s *SettlementService) resolveReward(ctx context.Context, userAddress string, code *models.QRCode, events []ledger.Event) (float64, models.RewardSource) {
	if reward, ok := ledger.RecyclingReward(events); ok {
		return reward, models.RewardConfirmed
	}
	log.Printf("⚠️ RecyclingRecorded event missing for %s, falling back to estimate", code.QRCodeID)
	estimate, err := s.Ledger.EstimateReward(ctx, userAddress, string(code.MaterialType), code.WeightGrams)
	if err != nil {
		return ledger.FallbackBaseReward, models.RewardEstimated
	}
	return estimate, models.RewardEstimated
}

// SettlementRecord is everything needed to (re)apply the mirror side of a
// confirmed recycling settlement.
type SettlementRecord struct {
	QRCodeID     string
	Claimant     string
	TxHash       string
	BlockNumber  uint64
	Reward       float64
	RewardSource models.RewardSource
}

// ApplyRecyclingSettlement performs the mirror half of a settlement as one
// durable unit: claim transition, transaction append, stat deltas, and
// reservation cleanup. It is idempotent on the ledger reference so the
// reconciliation sweep can replay it: the OnConflict-guarded transaction
// insert decides whether the stat deltas run.
func ApplyRecyclingSettlement(db *gorm.DB, rec SettlementRecord) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var code models.QRCode
		if err := tx.Where("qr_code_id = ?", rec.QRCodeID).First(&code).Error; err != nil {
			return fmt.Errorf("QR code disappeared during settlement: %w", err)
		}

		// The ledger is authoritative: a code that lapsed to expired while
		// its settlement outcome was unknown still completes once the
		// ledger reference surfaces.
		now := time.Now()
		res := tx.Model(&models.QRCode{}).
			Where("qr_code_id = ? AND status IN ?", rec.QRCodeID, []models.QRStatus{models.QRStatusActive, models.QRStatusExpired}).
			Updates(map[string]interface{}{
				"status":           models.QRStatusUsed,
				"used_by":          rec.Claimant,
				"used_at":          now,
				"transaction_hash": rec.TxHash,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark QR code used: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already terminal. A replay of the same ledger reference is
			// fine; anything else is a real conflict.
			if code.Status != models.QRStatusUsed || code.TransactionHash != rec.TxHash {
				return fmt.Errorf("%w: QR code is %s", models.ErrInvalidState, code.Status)
			}
		}

		mirror := models.Transaction{
			ID:            uuid.NewString(),
			TxHash:        rec.TxHash,
			BlockNumber:   rec.BlockNumber,
			Type:          models.TransactionRecycling,
			FromAddress:   code.CenterAddress,
			ToAddress:     rec.Claimant,
			Amount:        rec.Reward,
			CenterAddress: code.CenterAddress,
			MaterialType:  code.MaterialType,
			WeightGrams:   code.WeightGrams,
			QRHash:        code.QRHash,
			RewardSource:  rec.RewardSource,
			Status:        models.TransactionConfirmed,
			RecordedAt:    now,
		}
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).Create(&mirror)
		if ins.Error != nil {
			return fmt.Errorf("failed to append mirror transaction: %w", ins.Error)
		}
		if ins.RowsAffected == 0 {
			// Mirror row already present: stats were applied by a previous
			// attempt. Just clear the reservation.
			return clearReservation(tx, rec.QRCodeID)
		}

		if err := bumpUserRecyclingStats(tx, rec.Claimant, rec.Reward, now); err != nil {
			return err
		}
		if err := tx.Model(&models.RecyclingCenter{}).
			Where("wallet_address = ?", code.CenterAddress).
			Updates(map[string]interface{}{
				"total_recyclings":       gorm.Expr("total_recyclings + 1"),
				"total_tokens_issued":    gorm.Expr("total_tokens_issued + ?", rec.Reward),
				"total_weight_collected": gorm.Expr("total_weight_collected + ?", code.WeightGrams),
			}).Error; err != nil {
			return fmt.Errorf("failed to update center stats: %w", err)
		}

		return clearReservation(tx, rec.QRCodeID)
	})
}

// isUniqueViolation matches duplicate-key errors across drivers: postgres
// says "duplicate key value violates unique constraint", sqlite says
// "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func clearReservation(tx *gorm.DB, qrCodeID string) error {
	if err := tx.Where("qr_code_id = ?", qrCodeID).Delete(&models.PendingSettlement{}).Error; err != nil {
		return fmt.Errorf("failed to clear settlement reservation: %w", err)
	}
	return nil
}

// bumpUserRecyclingStats applies the claimant's stat delta, including the
// consecutive-day streak. The streak needs the previous row, so the write is
// an optimistic update guarded by the counter that was read: a concurrent
// bump for the same wallet misses the guard and the loop re-reads. Portable
// where SELECT ... FOR UPDATE is not.
func bumpUserRecyclingStats(tx *gorm.DB, wallet string, reward float64, now time.Time) error {
	for attempt := 0; attempt < 5; attempt++ {
		var user models.User
		err := tx.Where("wallet_address = ?", wallet).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = models.User{ID: uuid.NewString(), WalletAddress: wallet}
			applyRecyclingDelta(&user, reward, now)
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "wallet_address"}},
				DoNothing: true,
			}).Create(&user)
			if res.Error != nil {
				return fmt.Errorf("failed to create user stats: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				return nil
			}
			// Lost the insert race; bump the existing row instead.
			continue
		}
		if err != nil {
			return fmt.Errorf("DB error loading user stats: %w", err)
		}

		seen := user.TotalRecyclings
		applyRecyclingDelta(&user, reward, now)
		res := tx.Model(&models.User{}).
			Where("wallet_address = ? AND total_recyclings = ?", wallet, seen).
			Updates(map[string]interface{}{
				"total_recyclings":    user.TotalRecyclings,
				"total_tokens_earned": user.TotalTokensEarned,
				"current_streak":      user.CurrentStreak,
				"longest_streak":      user.LongestStreak,
				"last_recycling_date": user.LastRecyclingDate,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update user stats: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return fmt.Errorf("user stats for %s kept changing underfoot", wallet)
}

func applyRecyclingDelta(user *models.User, reward float64, now time.Time) {
	user.TotalRecyclings++
	user.TotalTokensEarned += reward

	today := now.Truncate(24 * time.Hour)
	switch {
	case user.LastRecyclingDate == nil:
		user.CurrentStreak = 1
	case user.LastRecyclingDate.Truncate(24 * time.Hour).Equal(today):
		// second recycling today, streak unchanged
	case user.LastRecyclingDate.Truncate(24 * time.Hour).Equal(today.Add(-24 * time.Hour)):
		user.CurrentStreak++
	default:
		user.CurrentStreak = 1
	}
	if user.CurrentStreak > user.LongestStreak {
		user.LongestStreak = user.CurrentStreak
	}
	user.LastRecyclingDate = &now
}

// --- History ---

// HistoryEntry is one settled-claim summary.
type HistoryEntry struct {
	TxHash       string               `json:"transaction_hash"`
	RecordedAt   time.Time            `json:"timestamp"`
	TokensEarned float64              `json:"tokens_earned"`
	RewardSource models.RewardSource  `json:"reward_source"`
	MaterialType models.MaterialType  `json:"material_type"`
	WeightGrams  int64                `json:"weight"`
	Center       models.CenterSummary `json:"center"`
}

// History lists a user's confirmed recycling transactions, newest first.
func (s *SettlementService) History(userAddress string, limit, offset int) ([]HistoryEntry, error) {
	var txs []models.Transaction
	if err := s.DB.
		Where("to_address = ? AND type = ? AND status = ?", userAddress, models.TransactionRecycling, models.TransactionConfirmed).
		Order("recorded_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("DB error fetching history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(txs))
	for _, t := range txs {
		summary := models.CenterSummary{WalletAddress: t.CenterAddress}
		var center models.RecyclingCenter
		if err := s.DB.Where("wallet_address = ?", t.CenterAddress).First(&center).Error; err == nil {
			summary = center.Summary()
		}
		entries = append(entries, HistoryEntry{
			TxHash:       t.TxHash,
			RecordedAt:   t.RecordedAt,
			TokensEarned: t.Amount,
			RewardSource: t.RewardSource,
			MaterialType: t.MaterialType,
			WeightGrams:  t.WeightGrams,
			Center:       summary,
		})
	}
	return entries, nil
}

// --- Fiber handlers ---

// SubmitRecycling handles POST /claims/settle.
func (s *SettlementService) SubmitRecycling(c *fiber.Ctx) error {
	userAddress := c.Locals("wallet_address").(string)

	var req struct {
		QRCodeID string `json:"qr_code_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.QRCodeID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "qr_code_id required"})
	}

	result, err := s.Settle(c.Context(), req.QRCodeID, userAddress)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":          true,
		"transaction_hash": result.TxHash,
		"tokens_earned":    result.TokensEarned,
		"reward_source":    result.RewardSource,
		"material_type":    result.MaterialType,
		"weight":           result.WeightGrams,
	})
}

// GetHistory handles GET /claims/history.
func (s *SettlementService) GetHistory(c *fiber.Ctx) error {
	userAddress := c.Locals("wallet_address").(string)
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.History(userAddress, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}
