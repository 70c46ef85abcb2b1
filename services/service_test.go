// services/service_test.go
package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"greenchain-backend/ledger"
	"greenchain-backend/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// Single connection keeps concurrent writers serialized instead of
	// surfacing sqlite lock errors that postgres would never produce.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{},
		&models.RecyclingCenter{},
		&models.Business{},
		&models.QRCode{},
		&models.Transaction{},
		&models.PendingSettlement{},
		&models.LeaderboardSnapshot{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedCenter(t *testing.T, db *gorm.DB, wallet string) models.RecyclingCenter {
	t.Helper()
	center := models.RecyclingCenter{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Name:          "Test Center",
		City:          "Springfield",
		IsActive:      true,
	}
	if err := db.Create(&center).Error; err != nil {
		t.Fatalf("create center: %v", err)
	}
	return center
}

func seedBusiness(t *testing.T, db *gorm.DB, wallet string, discount, minTokens float64) models.Business {
	t.Helper()
	business := models.Business{
		ID:                 uuid.NewString(),
		WalletAddress:      wallet,
		Name:               "Test Cafe",
		Category:           "food",
		City:               "Springfield",
		DiscountPercentage: discount,
		MinTokensRequired:  minTokens,
		IsActive:           true,
	}
	if err := db.Create(&business).Error; err != nil {
		t.Fatalf("create business: %v", err)
	}
	return business
}

func seedActiveCode(t *testing.T, db *gorm.DB, centerWallet string, material models.MaterialType, weight int64) models.QRCode {
	t.Helper()
	qrCodeID := "QR-" + uuid.NewString()
	code := models.QRCode{
		ID:            uuid.NewString(),
		QRCodeID:      qrCodeID,
		QRHash:        ledger.HashQRCodeID(qrCodeID),
		CenterAddress: centerWallet,
		MaterialType:  material,
		WeightGrams:   weight,
		Status:        models.QRStatusActive,
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := db.Create(&code).Error; err != nil {
		t.Fatalf("create qr code: %v", err)
	}
	return code
}

// stubLedger is a scriptable in-memory ledger.
type stubLedger struct {
	mu sync.Mutex

	estimate    float64
	estimateErr error

	submitResult *ledger.SubmitResult
	submitErr    error
	submitCalls  int

	redeemResult *ledger.RedeemResult
	redeemErr    error

	findResult *ledger.SubmitResult
	findErr    error
}

func (s *stubLedger) EstimateReward(ctx context.Context, claimant, material string, weightGrams int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimate, s.estimateErr
}

func (s *stubLedger) SubmitRecycling(ctx context.Context, claimant, material string, weightGrams int64, qrHash string) (*ledger.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.submitResult, nil
}

func (s *stubLedger) RedeemAtBusiness(ctx context.Context, business string, amount float64) (*ledger.RedeemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redeemErr != nil {
		return nil, s.redeemErr
	}
	return s.redeemResult, nil
}

func (s *stubLedger) FindRecyclingByHash(ctx context.Context, qrHash string) (*ledger.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findResult, s.findErr
}

func (s *stubLedger) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

func recordedEvent(user, qrHash string, tokens float64) ledger.Event {
	return ledger.RecyclingRecorded{User: user, QRHash: qrHash, TokensEarned: tokens}
}
