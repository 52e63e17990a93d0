package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bookshop-service/internal/models"
	"bookshop-service/internal/store"
	"bookshop-service/internal/util"

	"go.uber.org/zap"
)

// Outcome is a confirmed payment disposition handed to the engine. Ambiguous
// gateway states never reach it.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ReconcileStore is the storage surface the engine needs. *store.Store
// implements it; tests substitute an in-memory fake.
type ReconcileStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	PlacePendingOrder(ctx context.Context, orderID string, paymentDetails json.RawMessage) (*models.Order, error)
	CancelPendingOrder(ctx context.Context, orderID string, paymentDetails json.RawMessage) (*models.Order, error)
	IncrementDiscountUsage(ctx context.Context, code string) error
}

// EventSink receives fire-and-forget analytics facts. Failures are swallowed
// by the implementation, never surfaced here.
type EventSink interface {
	Track(ctx context.Context, eventType string, metadata map[string]interface{})
}

// ReconcileEngine is the one place an order's terminal disposition is decided.
// Both the synchronous place-order path (COD) and the asynchronous payment
// callback path (prepaid) funnel through Reconcile.
type ReconcileEngine struct {
	store  ReconcileStore
	events EventSink
	logger *zap.Logger
}

// NewReconcileEngine creates a reconciliation engine.
func NewReconcileEngine(store ReconcileStore, events EventSink) *ReconcileEngine {
	return &ReconcileEngine{
		store:  store,
		events: events,
		logger: util.GetLogger(),
	}
}

// Reconcile applies a confirmed payment outcome to an order exactly once.
// Invoking it again for an order that already left pending is a logged no-op.
// A success outcome that meets insufficient stock cancels the order and
// returns store.ErrInsufficientStock; the payment/fulfillment conflict is an
// operator problem, not an automatic refund.
func (e *ReconcileEngine) Reconcile(ctx context.Context, orderID string, outcome Outcome, paymentDetails json.RawMessage) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ReconcileEngine.Reconcile")
	defer span.End()

	order, err := e.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			e.logger.Error("Reconcile for unknown order", zap.String("order_id", orderID))
		}
		return nil, err
	}

	if order.Status != models.OrderStatusPending {
		e.logger.Warn("Reconcile skipped: order already left pending",
			zap.String("order_id", orderID),
			zap.String("status", string(order.Status)),
			zap.String("outcome", string(outcome)))
		util.ReconcileDuplicatesTotal.Inc()
		return order, nil
	}

	switch outcome {
	case OutcomeSuccess:
		return e.reconcileSuccess(ctx, order, paymentDetails)
	case OutcomeFailure:
		return e.reconcileFailure(ctx, order, paymentDetails)
	default:
		return nil, fmt.Errorf("unknown reconcile outcome: %q", outcome)
	}
}

func (e *ReconcileEngine) reconcileSuccess(ctx context.Context, order *models.Order, paymentDetails json.RawMessage) (*models.Order, error) {
	placed, err := e.store.PlacePendingOrder(ctx, order.ID, paymentDetails)

	switch {
	case errors.Is(err, store.ErrOrderNotPending):
		// Lost the race to a duplicate delivery; the winner did the work.
		e.logger.Warn("Reconcile no-op: order transitioned concurrently",
			zap.String("order_id", order.ID),
			zap.String("status", string(placed.Status)))
		util.ReconcileDuplicatesTotal.Inc()
		return placed, nil

	case errors.Is(err, store.ErrInsufficientStock):
		// Stock disappeared between booking and confirmation. Cancel instead
		// of placing and surface the conflict for operator follow-up.
		e.logger.Error("Stock exhausted for confirmed payment, cancelling order",
			zap.String("order_id", order.ID),
			zap.String("variant", string(order.Variant)),
			zap.String("payment_method", order.PaymentMethod))
		util.StockPaymentConflicts.Inc()
		util.ReconcileAttemptsTotal.WithLabelValues("stock_conflict").Inc()

		cancelled, cancelErr := e.store.CancelPendingOrder(ctx, order.ID, paymentDetails)
		if cancelErr != nil && !errors.Is(cancelErr, store.ErrOrderNotPending) {
			e.logger.Error("Failed to cancel order after stock conflict",
				zap.String("order_id", order.ID), zap.Error(cancelErr))
			return nil, cancelErr
		}
		util.OrdersCancelledTotal.WithLabelValues("stock_conflict").Inc()
		_ = cancelled
		return nil, store.ErrInsufficientStock

	case err != nil:
		util.ReconcileAttemptsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to place order %s: %w", order.ID, err)
	}

	util.ReconcileAttemptsTotal.WithLabelValues("placed").Inc()
	util.OrdersPlacedTotal.WithLabelValues(order.PaymentMethod).Inc()

	if order.DiscountCode != "" {
		// Usage counting is an analytics aid; a failure here never rolls the
		// order back.
		if err := e.store.IncrementDiscountUsage(ctx, order.DiscountCode); err != nil {
			e.logger.Error("Failed to increment discount usage",
				zap.String("order_id", order.ID),
				zap.String("code", order.DiscountCode),
				zap.Error(err))
		} else {
			util.DiscountUsageTotal.Inc()
		}
	}

	eventType := models.EventTypeOrderPlacedCOD
	if order.PaymentMethod == models.PaymentMethodPrepaid {
		eventType = models.EventTypeOrderPrepaidSuccess
	}
	e.events.Track(ctx, eventType, map[string]interface{}{
		"order_id": order.ID,
		"variant":  string(order.Variant),
	})

	e.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("variant", string(order.Variant)),
		zap.String("payment_method", order.PaymentMethod))
	return placed, nil
}

func (e *ReconcileEngine) reconcileFailure(ctx context.Context, order *models.Order, paymentDetails json.RawMessage) (*models.Order, error) {
	cancelled, err := e.store.CancelPendingOrder(ctx, order.ID, paymentDetails)
	if errors.Is(err, store.ErrOrderNotPending) {
		e.logger.Warn("Cancel no-op: order transitioned concurrently",
			zap.String("order_id", order.ID),
			zap.String("status", string(cancelled.Status)))
		util.ReconcileDuplicatesTotal.Inc()
		return cancelled, nil
	}
	if err != nil {
		util.ReconcileAttemptsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to cancel order %s: %w", order.ID, err)
	}

	util.ReconcileAttemptsTotal.WithLabelValues("cancelled").Inc()
	util.OrdersCancelledTotal.WithLabelValues("payment_failed").Inc()

	e.logger.Info("Order cancelled on failed payment",
		zap.String("order_id", order.ID))
	return cancelled, nil
}
