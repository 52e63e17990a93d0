package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"bookshop-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order. Orders always start pending; status,
// hasReview and paymentDetails are not caller-settable here.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.UserID == "" {
		return fmt.Errorf("user id is required to create an order")
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.Status = models.OrderStatusPending

	query := `
		INSERT INTO orders (
			id, user_id, name, phone, email, address, street, city, country,
			state, pin_code, payment_method, variant, price, original_price,
			discount_code, discount_amount, status
		) VALUES (
			:id, :user_id, :name, :phone, :email, :address, :street, :city,
			:country, :state, :pin_code, :payment_method, :variant, :price,
			:original_price, :discount_code, :discount_amount, :status
		) RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, order)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrders retrieves every order, newest first.
func (s *Store) GetOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// GetOrdersByUserID retrieves a customer's own order history, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatus is the administrative direct status write. It bypasses
// reconciliation side effects entirely: no inventory or discount logic runs.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// PlacePendingOrder performs the success half of reconciliation in one
// transaction: lock the order row, verify it is still pending, decrement the
// variant counter under a row lock, and move the order to placed. The status
// re-check under the lock is the idempotency boundary against duplicate
// callbacks; the stock lock is the no-oversell boundary against concurrent
// placements.
func (s *Store) PlacePendingOrder(ctx context.Context, orderID string, paymentDetails json.RawMessage) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status != models.OrderStatusPending {
		return &order, ErrOrderNotPending
	}

	if order.Variant.IsPhysical() {
		var available int
		err = tx.GetContext(ctx, &available,
			"SELECT quantity FROM stock WHERE variant = $1 FOR UPDATE", order.Variant)
		if err == sql.ErrNoRows {
			// Fail closed: no counter row means no sellable stock.
			return &order, ErrInsufficientStock
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock stock: %w", err)
		}
		if available < 1 {
			return &order, ErrInsufficientStock
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE stock SET quantity = quantity - 1, updated_at = NOW() WHERE variant = $1",
			order.Variant)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock: %w", err)
		}
	}

	err = s.setStatusTx(ctx, tx, orderID, models.OrderStatusPlaced, paymentDetails)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = models.OrderStatusPlaced
	order.PaymentDetails = paymentDetails
	return &order, nil
}

// CancelPendingOrder moves a pending order to cancelled, recording the payment
// detail. Orders past pending are left untouched (ErrOrderNotPending).
func (s *Store) CancelPendingOrder(ctx context.Context, orderID string, paymentDetails json.RawMessage) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	if order.Status != models.OrderStatusPending {
		return &order, ErrOrderNotPending
	}

	if err := s.setStatusTx(ctx, tx, orderID, models.OrderStatusCancelled, paymentDetails); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	order.Status = models.OrderStatusCancelled
	order.PaymentDetails = paymentDetails
	return &order, nil
}

func (s *Store) setStatusTx(ctx context.Context, tx *sqlx.Tx, orderID string, status models.OrderStatus, paymentDetails json.RawMessage) error {
	var err error
	if paymentDetails != nil {
		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, payment_details = $2, updated_at = NOW() WHERE id = $3",
			status, []byte(paymentDetails), orderID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
			status, orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// GetStalePendingPrepaidOrders returns ids of prepaid orders that have sat
// pending longer than the given age, for the sweeper.
func (s *Store) GetStalePendingPrepaidOrders(ctx context.Context, olderThanSeconds int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM orders
		WHERE status = $1 AND payment_method = $2
		  AND created_at < NOW() - make_interval(secs => $3)`,
		models.OrderStatusPending, models.PaymentMethodPrepaid, olderThanSeconds)
	return ids, err
}

// CreatePaymentTransaction persists the {gateway transaction id -> order id}
// mapping at payment initiation time.
func (s *Store) CreatePaymentTransaction(ctx context.Context, transactionID, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payment_transactions (transaction_id, order_id) VALUES ($1, $2)",
		transactionID, orderID)
	return err
}

// GetOrderIDByTransaction resolves a gateway transaction id to the internal
// order id.
func (s *Store) GetOrderIDByTransaction(ctx context.Context, transactionID string) (string, error) {
	var orderID string
	err := s.db.GetContext(ctx, &orderID,
		"SELECT order_id FROM payment_transactions WHERE transaction_id = $1", transactionID)
	if err == sql.ErrNoRows {
		return "", ErrTxNotFound
	}
	return orderID, err
}
