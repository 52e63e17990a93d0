package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bookshop-service/internal/models"
)

// NormalizeDiscountCode is the canonical form discount codes are stored and
// looked up under.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateDiscount registers a new promo code. First writer wins: duplicates are
// rejected, never overwritten.
func (s *Store) CreateDiscount(ctx context.Context, code string, percent int) error {
	code = NormalizeDiscountCode(code)
	if code == "" {
		return fmt.Errorf("discount code is required")
	}
	if percent < 1 || percent > 100 {
		return ErrInvalidPercent
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO discounts (code, percent) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING",
		code, percent)
	if err != nil {
		return fmt.Errorf("failed to create discount: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateCode
	}
	return nil
}

// GetDiscount looks up a code case-insensitively. Absence is not an error.
func (s *Store) GetDiscount(ctx context.Context, code string) (*models.Discount, error) {
	code = NormalizeDiscountCode(code)
	if code == "" {
		return nil, nil
	}

	var d models.Discount
	err := s.db.GetContext(ctx, &d, "SELECT * FROM discounts WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDiscounts lists all codes, newest first.
func (s *Store) GetDiscounts(ctx context.Context) ([]models.Discount, error) {
	var discounts []models.Discount
	err := s.db.SelectContext(ctx, &discounts,
		"SELECT * FROM discounts ORDER BY created_at DESC")
	return discounts, err
}

// IncrementDiscountUsage bumps the usage counter by one. Called once per order
// that reaches placed with the code attached.
func (s *Store) IncrementDiscountUsage(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE discounts SET usage_count = usage_count + 1 WHERE code = $1",
		NormalizeDiscountCode(code))
	return err
}
