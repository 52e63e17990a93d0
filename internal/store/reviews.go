package store

import (
	"context"
	"database/sql"
	"fmt"

	"bookshop-service/internal/models"

	"github.com/google/uuid"
)

// CreateReview inserts a review and flips the order's has_review flag in one
// transaction. The order must belong to the user, be delivered, and not
// already carry a review.
func (s *Store) CreateReview(ctx context.Context, review *models.Review) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", review.OrderID)
	if err == sql.ErrNoRows {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if order.UserID != review.UserID {
		return ErrOrderNotFound
	}
	if order.Status != models.OrderStatusDelivered {
		return fmt.Errorf("order %s is not delivered", review.OrderID)
	}
	if order.HasReview {
		return ErrReviewExists
	}

	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	review.UserName = order.Name

	query := `
		INSERT INTO reviews (id, order_id, user_id, user_name, rating, title, review_text, image_urls)
		VALUES (:id, :order_id, :user_id, :user_name, :rating, :title, :review_text, :image_urls)`

	if _, err := tx.NamedExecContext(ctx, query, review); err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET has_review = TRUE, updated_at = NOW() WHERE id = $1",
		review.OrderID)
	if err != nil {
		return fmt.Errorf("failed to flag order review: %w", err)
	}

	return tx.Commit()
}

// GetReviews lists all reviews, newest first.
func (s *Store) GetReviews(ctx context.Context) ([]models.Review, error) {
	var reviews []models.Review
	err := s.db.SelectContext(ctx, &reviews,
		"SELECT * FROM reviews ORDER BY created_at DESC")
	return reviews, err
}

// GetReviewByOrderID returns the review attached to an order, if any.
func (s *Store) GetReviewByOrderID(ctx context.Context, orderID string) (*models.Review, error) {
	var review models.Review
	err := s.db.GetContext(ctx, &review,
		"SELECT * FROM reviews WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}
