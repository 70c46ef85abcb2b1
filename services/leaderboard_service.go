// services/leaderboard_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"greenchain-backend/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// LeaderboardStaleness is the maximum snapshot age served without a
	// recompute.
	LeaderboardStaleness = 5 * time.Minute
	// LeaderboardSize caps each snapshot at the top N wallets.
	LeaderboardSize = 100
)

// LeaderboardService serves ranked views over the mirror's aggregates with
// bounded staleness. Concurrent reads of a stale period share one recompute
// via the singleflight group; no reader triggers its own.
type LeaderboardService struct {
	DB        *gorm.DB
	Staleness time.Duration
	TopN      int

	flight singleflight.Group
}

func NewLeaderboardService(db *gorm.DB) *LeaderboardService {
	return &LeaderboardService{DB: db, Staleness: LeaderboardStaleness, TopN: LeaderboardSize}
}

// Get returns the period's rankings, recomputing synchronously when the
// snapshot is missing or older than the staleness threshold.
func (s *LeaderboardService) Get(period models.LeaderboardPeriod) ([]models.RankingEntry, error) {
	if !models.ValidPeriod(period) {
		return nil, fmt.Errorf("%w: invalid period %q", models.ErrInvalidState, period)
	}

	var snap models.LeaderboardSnapshot
	err := s.DB.Where("period = ?", period).First(&snap).Error
	if err == nil && time.Since(snap.ComputedAt) <= s.Staleness {
		return decodeRankings(snap.Rankings)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("DB error loading leaderboard: %w", err)
	}

	// Stale or missing: at most one recompute per period in flight;
	// everyone waiting gets the same result.
	v, err, _ := s.flight.Do(string(period), func() (interface{}, error) {
		return s.recompute(period)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.RankingEntry), nil
}

// recompute ranks the top N wallets and replaces the period's snapshot
// atomically. Ties break by wallet address ascending — a documented,
// deterministic order, not an accident of the query plan.
func (s *LeaderboardService) recompute(period models.LeaderboardPeriod) ([]models.RankingEntry, error) {
	rows, err := s.scoreRows(period)
	if err != nil {
		return nil, err
	}

	entries := make([]models.RankingEntry, len(rows))
	for i, r := range rows {
		entries[i] = models.RankingEntry{
			Rank:          i + 1,
			WalletAddress: r.WalletAddress,
			UserName:      r.UserName,
			Score:         r.Score,
			ProfileImage:  r.ProfileImage,
		}
		if entries[i].UserName == "" {
			entries[i].UserName = "Anonymous"
		}
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rankings: %w", err)
	}
	snap := models.LeaderboardSnapshot{
		ID:         uuid.NewString(),
		Period:     period,
		Rankings:   string(encoded),
		ComputedAt: time.Now(),
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period"}},
		DoUpdates: clause.AssignmentColumns([]string{"rankings", "computed_at"}),
	}).Create(&snap).Error; err != nil {
		return nil, fmt.Errorf("failed to store leaderboard snapshot: %w", err)
	}

	log.Printf("🏆 Leaderboard recomputed for period %s (%d entries)", period, len(entries))
	return entries, nil
}

type scoreRow struct {
	WalletAddress string
	UserName      string
	ProfileImage  string
	Score         float64
}

// scoreRows selects the period's scores. all_time ranks by lifetime tokens
// earned; windowed periods sum confirmed recycling transactions inside a
// rolling window, so a daily board reflects the last day, not lifetime
// totals.
func (s *LeaderboardService) scoreRows(period models.LeaderboardPeriod) ([]scoreRow, error) {
	var rows []scoreRow

	if period == models.PeriodAllTime {
		err := s.DB.Model(&models.User{}).
			Select("wallet_address, full_name AS user_name, profile_image, total_tokens_earned AS score").
			Where("total_tokens_earned > 0").
			Order("score DESC, wallet_address ASC").
			Limit(s.TopN).
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("DB error computing leaderboard: %w", err)
		}
		return rows, nil
	}

	since := time.Now().Add(-periodWindow(period))
	err := s.DB.Table("transactions").
		Select("transactions.to_address AS wallet_address, users.full_name AS user_name, users.profile_image, SUM(transactions.amount) AS score").
		Joins("LEFT JOIN users ON users.wallet_address = transactions.to_address").
		Where("transactions.type = ? AND transactions.status = ? AND transactions.recorded_at >= ?",
			models.TransactionRecycling, models.TransactionConfirmed, since).
		Group("transactions.to_address, users.full_name, users.profile_image").
		Order("score DESC, wallet_address ASC").
		Limit(s.TopN).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("DB error computing leaderboard: %w", err)
	}
	return rows, nil
}

func periodWindow(period models.LeaderboardPeriod) time.Duration {
	switch period {
	case models.PeriodDaily:
		return 24 * time.Hour
	case models.PeriodWeekly:
		return 7 * 24 * time.Hour
	default: // monthly
		return 30 * 24 * time.Hour
	}
}

func decodeRankings(encoded string) ([]models.RankingEntry, error) {
	var entries []models.RankingEntry
	if encoded == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(encoded), &entries); err != nil {
		return nil, fmt.Errorf("corrupt leaderboard snapshot: %w", err)
	}
	return entries, nil
}

// --- Fiber handler ---

// GetLeaderboard handles GET /leaderboard/:period.
func (s *LeaderboardService) GetLeaderboard(c *fiber.Ctx) error {
	period := models.LeaderboardPeriod(c.Params("period"))
	if !models.ValidPeriod(period) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid period", "code": "invalid_period"})
	}

	entries, err := s.Get(period)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}
