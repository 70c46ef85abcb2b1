// services/business_service.go
package services

import (
	"errors"

	"greenchain-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BusinessService struct {
	DB *gorm.DB
}

func NewBusinessService(db *gorm.DB) *BusinessService {
	return &BusinessService{DB: db}
}

// GetAllBusinesses handles GET /businesses with optional category/city
// filters, most-redeemed first.
func (s *BusinessService) GetAllBusinesses(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := s.DB.Where("is_active = ?", true)
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if city := c.Query("city"); city != "" {
		query = query.Where("city = ?", city)
	}

	var businesses []models.Business
	if err := query.Order("total_redemptions DESC").Limit(limit).Find(&businesses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch businesses"})
	}
	return c.JSON(businesses)
}

// GetBusiness handles GET /businesses/:address.
func (s *BusinessService) GetBusiness(c *fiber.Ctx) error {
	var business models.Business
	if err := s.DB.Where("wallet_address = ?", c.Params("address")).First(&business).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Business not found", "code": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(business)
}
