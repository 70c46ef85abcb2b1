// workers/reconciliation_worker_test.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"greenchain-backend/ledger"
	"greenchain-backend/models"
)

func setupReconDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.RecyclingCenter{},
		&models.QRCode{},
		&models.Transaction{},
		&models.PendingSettlement{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeLedger only answers reference lookups; the sweep must never submit.
type fakeLedger struct {
	findResult  *ledger.SubmitResult
	findErr     error
	submitCalls int
}

func (f *fakeLedger) EstimateReward(ctx context.Context, claimant, material string, weightGrams int64) (float64, error) {
	return 0, errors.New("not expected")
}

func (f *fakeLedger) SubmitRecycling(ctx context.Context, claimant, material string, weightGrams int64, qrHash string) (*ledger.SubmitResult, error) {
	f.submitCalls++
	return nil, errors.New("reconciliation must never resubmit")
}

func (f *fakeLedger) RedeemAtBusiness(ctx context.Context, business string, amount float64) (*ledger.RedeemResult, error) {
	return nil, errors.New("not expected")
}

func (f *fakeLedger) FindRecyclingByHash(ctx context.Context, qrHash string) (*ledger.SubmitResult, error) {
	return f.findResult, f.findErr
}

func seedStuckSettlement(t *testing.T, db *gorm.DB, phase models.SettlementPhase) (models.QRCode, models.PendingSettlement) {
	t.Helper()

	center := models.RecyclingCenter{
		ID:            uuid.NewString(),
		WalletAddress: "0xcenter",
		Name:          "Test Center",
		IsActive:      true,
	}
	if err := db.Create(&center).Error; err != nil {
		t.Fatalf("create center: %v", err)
	}

	qrCodeID := "QR-" + uuid.NewString()
	code := models.QRCode{
		ID:            uuid.NewString(),
		QRCodeID:      qrCodeID,
		QRHash:        ledger.HashQRCodeID(qrCodeID),
		CenterAddress: center.WalletAddress,
		MaterialType:  models.MaterialPlastic,
		WeightGrams:   250,
		Status:        models.QRStatusActive,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := db.Create(&code).Error; err != nil {
		t.Fatalf("create qr code: %v", err)
	}

	intent := models.PendingSettlement{
		ID:       uuid.NewString(),
		QRCodeID: code.QRCodeID,
		QRHash:   code.QRHash,
		Claimant: "0xuser",
		Phase:    phase,
	}
	if err := db.Create(&intent).Error; err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return code, intent
}

func TestReconcilerResolvesUnknownOutcome(t *testing.T) {
	db := setupReconDB(t)
	code, _ := seedStuckSettlement(t, db, models.PhaseUnknown)

	lg := &fakeLedger{findResult: &ledger.SubmitResult{
		TxHash:      "0xfound",
		BlockNumber: 77,
		Events:      []ledger.Event{ledger.RecyclingRecorded{User: "0xuser", QRHash: code.QRHash, TokensEarned: 25}},
	}}
	r := &SettlementReconciler{DB: db, Ledger: lg, Grace: 0}

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var stored models.QRCode
	if err := db.Where("qr_code_id = ?", code.QRCodeID).First(&stored).Error; err != nil {
		t.Fatalf("reload code: %v", err)
	}
	if stored.Status != models.QRStatusUsed || stored.TransactionHash != "0xfound" {
		t.Fatalf("discovered settlement not applied: %+v", stored)
	}

	var mirror models.Transaction
	if err := db.Where("tx_hash = ?", "0xfound").First(&mirror).Error; err != nil {
		t.Fatalf("mirror transaction missing: %v", err)
	}
	if mirror.Amount != 25 || mirror.RewardSource != models.RewardConfirmed {
		t.Fatalf("unexpected mirror row: %+v", mirror)
	}

	var remaining int64
	db.Model(&models.PendingSettlement{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("reconciled intent must be cleared, found %d", remaining)
	}
	if lg.submitCalls != 0 {
		t.Fatalf("sweep must never resubmit, got %d calls", lg.submitCalls)
	}
}

func TestReconcilerRetriesLookupWhenNotOnChain(t *testing.T) {
	db := setupReconDB(t)
	code, intent := seedStuckSettlement(t, db, models.PhaseUnknown)

	r := &SettlementReconciler{DB: db, Ledger: &fakeLedger{}, Grace: 0}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var stored models.PendingSettlement
	if err := db.Where("id = ?", intent.ID).First(&stored).Error; err != nil {
		t.Fatalf("intent must survive an inconclusive lookup: %v", err)
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", stored.Attempts)
	}

	var storedCode models.QRCode
	if err := db.Where("qr_code_id = ?", code.QRCodeID).First(&storedCode).Error; err != nil {
		t.Fatalf("reload code: %v", err)
	}
	if storedCode.Status != models.QRStatusActive {
		t.Fatalf("inconclusive lookup must not touch the claim, got %s", storedCode.Status)
	}
}

func TestReconcilerHoldsReservationWhileClaimSettleable(t *testing.T) {
	db := setupReconDB(t)
	_, intent := seedStuckSettlement(t, db, models.PhaseUnknown)
	if err := db.Model(&models.PendingSettlement{}).Where("id = ?", intent.ID).
		Update("attempts", 40).Error; err != nil {
		t.Fatalf("set attempts: %v", err)
	}

	// The claim is active and far from expiry: no matter how many lookups
	// came back empty, the reservation must hold — releasing it would let
	// a retried submission race a broadcast that may still mine.
	r := &SettlementReconciler{DB: db, Ledger: &fakeLedger{}, Grace: 0}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var stored models.PendingSettlement
	if err := db.Where("id = ?", intent.ID).First(&stored).Error; err != nil {
		t.Fatalf("reservation must survive while the claim can settle: %v", err)
	}
	if stored.Phase != models.PhaseUnknown {
		t.Fatalf("expected phase unknown, got %s", stored.Phase)
	}
}

func TestReconcilerAbandonsUnknownOnceClaimLapsed(t *testing.T) {
	db := setupReconDB(t)
	code, _ := seedStuckSettlement(t, db, models.PhaseUnknown)
	if err := db.Model(&models.QRCode{}).Where("qr_code_id = ?", code.QRCodeID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}

	r := &SettlementReconciler{DB: db, Ledger: &fakeLedger{}, Grace: 0}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var remaining int64
	db.Model(&models.PendingSettlement{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("intent for an unsettleable claim must be dropped, found %d", remaining)
	}

	var storedCode models.QRCode
	if err := db.Where("qr_code_id = ?", code.QRCodeID).First(&storedCode).Error; err != nil {
		t.Fatalf("reload code: %v", err)
	}
	if storedCode.Status == models.QRStatusUsed {
		t.Fatalf("abandonment must not mark the claim used, got %s", storedCode.Status)
	}
}

func TestReconcilerAbandonsUnknownForCancelledClaim(t *testing.T) {
	db := setupReconDB(t)
	code, _ := seedStuckSettlement(t, db, models.PhaseUnknown)
	if err := db.Model(&models.QRCode{}).Where("qr_code_id = ?", code.QRCodeID).
		Update("status", models.QRStatusCancelled).Error; err != nil {
		t.Fatalf("cancel claim: %v", err)
	}

	r := &SettlementReconciler{DB: db, Ledger: &fakeLedger{}, Grace: 0}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var remaining int64
	db.Model(&models.PendingSettlement{}).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("intent for a cancelled claim must be dropped, found %d", remaining)
	}
}

func TestReconcilerReplaysUnmirroredSettlement(t *testing.T) {
	db := setupReconDB(t)
	code, intent := seedStuckSettlement(t, db, models.PhaseUnmirrored)
	if err := db.Model(&models.PendingSettlement{}).Where("id = ?", intent.ID).Updates(map[string]interface{}{
		"tx_hash":       "0xreplay",
		"block_number":  80,
		"reward":        12.0,
		"reward_source": models.RewardConfirmed,
	}).Error; err != nil {
		t.Fatalf("record ledger reference: %v", err)
	}

	r := &SettlementReconciler{DB: db, Ledger: &fakeLedger{}, Grace: 0}

	// Two sweeps in a row: the replay is idempotent on the ledger
	// reference, so a crash between mirror write and cleanup is safe.
	for i := 0; i < 2; i++ {
		if err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	var stored models.QRCode
	if err := db.Where("qr_code_id = ?", code.QRCodeID).First(&stored).Error; err != nil {
		t.Fatalf("reload code: %v", err)
	}
	if stored.Status != models.QRStatusUsed || stored.TransactionHash != "0xreplay" {
		t.Fatalf("replay not applied: %+v", stored)
	}

	var mirrors int64
	db.Model(&models.Transaction{}).Where("tx_hash = ?", "0xreplay").Count(&mirrors)
	if mirrors != 1 {
		t.Fatalf("expected one mirror row, got %d", mirrors)
	}

	var user models.User
	if err := db.Where("wallet_address = ?", "0xuser").First(&user).Error; err != nil {
		t.Fatalf("user stats missing: %v", err)
	}
	if user.TotalTokensEarned != 12 || user.TotalRecyclings != 1 {
		t.Fatalf("replay must apply stats exactly once: %+v", user)
	}
}

func TestReconcilerRespectsGrace(t *testing.T) {
	db := setupReconDB(t)
	_, intent := seedStuckSettlement(t, db, models.PhaseUnknown)

	r := &SettlementReconciler{DB: db, Ledger: &fakeLedger{findResult: &ledger.SubmitResult{TxHash: "0xearly"}}, Grace: time.Minute}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var stored models.PendingSettlement
	if err := db.Where("id = ?", intent.ID).First(&stored).Error; err != nil {
		t.Fatalf("reload intent: %v", err)
	}
	if stored.Phase != models.PhaseUnknown || stored.Attempts != 0 {
		t.Fatalf("intent inside the grace window must be untouched: %+v", stored)
	}
}
