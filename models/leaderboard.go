// models/leaderboard.go
package models

import "time"

type LeaderboardPeriod string

const (
	PeriodDaily   LeaderboardPeriod = "daily"
	PeriodWeekly  LeaderboardPeriod = "weekly"
	PeriodMonthly LeaderboardPeriod = "monthly"
	PeriodAllTime LeaderboardPeriod = "all_time"
)

// ValidPeriod reports whether p is a recognized leaderboard period.
func ValidPeriod(p LeaderboardPeriod) bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return true
	}
	return false
}

// RankingEntry is one row of a computed leaderboard.
type RankingEntry struct {
	Rank          int     `json:"rank"`
	WalletAddress string  `json:"user_address"`
	UserName      string  `json:"user_name"`
	Score         float64 `json:"score"`
	ProfileImage  string  `json:"profile_image,omitempty"`
}

// LeaderboardSnapshot caches one period's rankings. At most one current
// snapshot per period; replaced atomically by an upsert keyed on period.
type LeaderboardSnapshot struct {
	ID         string            `gorm:"primaryKey;type:uuid" json:"id"`
	Period     LeaderboardPeriod `gorm:"uniqueIndex;not null" json:"period"`
	Rankings   string            `gorm:"type:jsonb" json:"rankings"` // JSON-encoded []RankingEntry
	ComputedAt time.Time         `gorm:"not null" json:"computed_at"`
}
