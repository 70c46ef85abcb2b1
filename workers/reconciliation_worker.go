// workers/reconciliation_worker.go
package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"greenchain-backend/ledger"
	"greenchain-backend/models"
	"greenchain-backend/services"

	"gorm.io/gorm"
)

// SettlementReconciler resolves settlements stuck in the partial-failure
// window: ledger call timed out (phase "unknown") or ledger confirmed but
// the mirror write failed (phase "unmirrored"). It only ever re-derives the
// mirror side from the ledger reference — it never resubmits to the ledger.
type SettlementReconciler struct {
	DB     *gorm.DB
	Ledger ledger.Ledger

	// Grace is how long an intent must sit untouched before the sweep
	// picks it up, so it never races a settle call still in flight.
	Grace time.Duration
}

func NewSettlementReconciler(db *gorm.DB, lg ledger.Ledger) *SettlementReconciler {
	return &SettlementReconciler{
		DB:     db,
		Ledger: lg,
		Grace:  30 * time.Second,
	}
}

// RunOnce processes one batch of stuck settlements.
func (r *SettlementReconciler) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.Grace)

	var pending []models.PendingSettlement
	if err := r.DB.
		Where("phase IN ? AND updated_at <= ?", []models.SettlementPhase{models.PhaseUnknown, models.PhaseUnmirrored}, cutoff).
		Order("updated_at ASC").
		Limit(50).
		Find(&pending).Error; err != nil {
		return err
	}

	for _, p := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch p.Phase {
		case models.PhaseUnknown:
			r.resolveUnknown(ctx, &p)
		case models.PhaseUnmirrored:
			r.replayMirror(&p)
		}
	}
	return nil
}

// resolveUnknown asks the ledger whether the timed-out submission actually
// landed, using the claim's content hash as the correlation key.
func (r *SettlementReconciler) resolveUnknown(ctx context.Context, p *models.PendingSettlement) {
	res, err := r.Ledger.FindRecyclingByHash(ctx, p.QRHash)
	if err != nil {
		log.Printf("❌ [RECON] Ledger lookup failed for %s: %v", p.QRCodeID, err)
		r.bumpAttempt(p, err.Error())
		return
	}

	if res == nil {
		// Not on chain (yet). The reservation must outlive the broadcast:
		// releasing it while the claim can still settle would let a retried
		// submission race a transaction that may yet mine. Only a claim
		// that can no longer settle makes the intent safe to drop.
		if r.claimStillSettleable(p.QRCodeID) {
			r.bumpAttempt(p, "no matching recycling on chain")
			return
		}
		log.Printf("🗑️ [RECON] Abandoning settlement intent for %s after %d lookups, claim can no longer settle", p.QRCodeID, p.Attempts+1)
		r.DB.Where("id = ?", p.ID).Delete(&models.PendingSettlement{})
		return
	}

	reward, source := float64(ledger.FallbackBaseReward), models.RewardEstimated
	if confirmed, ok := ledger.RecyclingReward(res.Events); ok {
		reward, source = confirmed, models.RewardConfirmed
	}

	if err := r.DB.Model(&models.PendingSettlement{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"phase":         models.PhaseUnmirrored,
		"tx_hash":       res.TxHash,
		"block_number":  res.BlockNumber,
		"reward":        reward,
		"reward_source": source,
		"last_error":    "",
	}).Error; err != nil {
		log.Printf("❌ [RECON] Failed to promote intent for %s: %v", p.QRCodeID, err)
		return
	}

	log.Printf("🔎 [RECON] Discovered on-chain settlement for %s (tx %s)", p.QRCodeID, res.TxHash)
	p.TxHash = res.TxHash
	p.BlockNumber = res.BlockNumber
	p.Reward = reward
	p.RewardSource = source
	r.replayMirror(p)
}

// replayMirror redoes the mirror write for a ledger-confirmed settlement.
// ApplyRecyclingSettlement is idempotent on the tx hash, so replaying after
// a partially applied attempt is safe.
func (r *SettlementReconciler) replayMirror(p *models.PendingSettlement) {
	err := services.ApplyRecyclingSettlement(r.DB, services.SettlementRecord{
		QRCodeID:     p.QRCodeID,
		Claimant:     p.Claimant,
		TxHash:       p.TxHash,
		BlockNumber:  p.BlockNumber,
		Reward:       p.Reward,
		RewardSource: p.RewardSource,
	})
	if err != nil {
		log.Printf("❌ [RECON] Mirror replay failed for %s (tx %s): %v", p.QRCodeID, p.TxHash, err)
		r.bumpAttempt(p, err.Error())
		return
	}
	log.Printf("✅ [RECON] Settlement reconciled for %s (tx %s)", p.QRCodeID, p.TxHash)
}

// claimStillSettleable reports whether the claim could still be submitted if
// its reservation were released: active and not past expiry. Load errors
// count as settleable so a transient DB failure never drops a reservation.
func (r *SettlementReconciler) claimStillSettleable(qrCodeID string) bool {
	var code models.QRCode
	if err := r.DB.Where("qr_code_id = ?", qrCodeID).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false
		}
		return true
	}
	return code.Status == models.QRStatusActive && time.Now().Before(code.ExpiresAt)
}

func (r *SettlementReconciler) bumpAttempt(p *models.PendingSettlement, lastErr string) {
	r.DB.Model(&models.PendingSettlement{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastErr,
	})
}

// PollSettlements runs the reconciliation sweep until ctx is cancelled.
func PollSettlements(ctx context.Context, reconciler *SettlementReconciler, pollInterval time.Duration) {
	log.Println("Starting settlement reconciliation sweep...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Settlement reconciliation stopped.")
			return
		case <-ticker.C:
			if err := reconciler.RunOnce(ctx); err != nil {
				log.Printf("❌ Reconciliation sweep error: %v", err)
			}
		}
	}
}
