// services/scheduler.go
package services

import (
	"log"
	"time"

	"greenchain-backend/models"

	"github.com/go-co-op/gocron/v2"
)

// StartExpirySweep periodically retires QR codes past their expiry. The lazy
// per-read check stays authoritative; the sweep just keeps the table from
// accumulating stale active rows.
func (s *QRService) StartExpirySweep() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: expire lapsed active codes.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			res := s.DB.Model(&models.QRCode{}).
				Where("status = ? AND expires_at <= ?", models.QRStatusActive, time.Now()).
				Update("status", models.QRStatusExpired)
			if res.Error != nil {
				log.Printf("[ExpirySweep] DB error: %v", res.Error)
				return
			}
			if res.RowsAffected > 0 {
				log.Printf("✅ Expired %d lapsed QR code(s)", res.RowsAffected)
			}
		}),
	)
}
