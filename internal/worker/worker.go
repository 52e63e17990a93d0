package worker

import (
	"context"
	"encoding/json"
	"time"

	"bookshop-service/internal/broker"
	"bookshop-service/internal/models"
	"bookshop-service/internal/service"
	"bookshop-service/internal/store"
	"bookshop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AnalyticsWorker drains the analytics event stream into the append-only
// event log. The event id is the idempotency key; redelivered messages insert
// nothing.
type AnalyticsWorker struct {
	consumer *broker.Consumer
	store    *store.Store
	logger   *zap.Logger
}

// NewAnalyticsWorker creates an analytics worker.
func NewAnalyticsWorker(consumer *broker.Consumer, store *store.Store) *AnalyticsWorker {
	return &AnalyticsWorker{
		consumer: consumer,
		store:    store,
		logger:   util.GetLogger(),
	}
}

// Start starts the worker
func (w *AnalyticsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting analytics worker")
	return w.consumer.StartConsuming(ctx, w.handleMessage)
}

// Stop stops the worker
func (w *AnalyticsWorker) Stop() error {
	w.logger.Info("Stopping analytics worker")
	return w.consumer.Close()
}

func (w *AnalyticsWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.TrackedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// Poison message; commit past it.
		w.logger.Error("Dropping unparseable analytics event", zap.Error(err))
		return nil
	}

	return w.store.AppendAnalyticsEvent(ctx, &models.AnalyticsEvent{
		ID:        event.EventID,
		Type:      event.Type,
		Metadata:  event.Metadata,
		Timestamp: event.Timestamp,
	})
}

// SweepWorker periodically cancels prepaid orders that have sat pending past
// the gateway session expiry. Disabled when maxAge is zero. Cancellation runs
// through the reconciliation engine, so the same idempotency guard applies:
// an order confirmed in the meantime is left alone.
type SweepWorker struct {
	store    *store.Store
	engine   *service.ReconcileEngine
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

// NewSweepWorker creates a pending-order sweeper.
func NewSweepWorker(store *store.Store, engine *service.ReconcileEngine, interval, maxAge time.Duration) *SweepWorker {
	return &SweepWorker{
		store:    store,
		engine:   engine,
		interval: interval,
		maxAge:   maxAge,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *SweepWorker) Start(ctx context.Context) error {
	if w.maxAge <= 0 {
		w.logger.Info("Pending-order sweeper disabled")
		return nil
	}

	w.logger.Info("Starting pending-order sweeper",
		zap.Duration("interval", w.interval),
		zap.Duration("max_age", w.maxAge))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	ids, err := w.store.GetStalePendingPrepaidOrders(ctx, int(w.maxAge.Seconds()))
	if err != nil {
		w.logger.Error("Sweep query failed", zap.Error(err))
		return
	}

	detail := json.RawMessage(`{"reason":"payment session expired"}`)
	for _, id := range ids {
		if _, err := w.engine.Reconcile(ctx, id, service.OutcomeFailure, detail); err != nil {
			w.logger.Error("Failed to sweep pending order",
				zap.String("order_id", id), zap.Error(err))
			continue
		}
		util.OrdersCancelledTotal.WithLabelValues("expired").Inc()
		w.logger.Info("Swept abandoned prepaid order", zap.String("order_id", id))
	}
}
