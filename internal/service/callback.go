package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookshop-service/internal/gateway"
	"bookshop-service/internal/store"
	"bookshop-service/internal/util"

	"go.uber.org/zap"
)

// ErrCallbackBusy is returned when another reconciliation attempt for the
// same order holds the lock; the gateway should retry the delivery.
var ErrCallbackBusy = errors.New("order reconciliation already in progress")

const orderLockTTL = 30 * time.Second

// CallbackGateway is the gateway surface the callback path needs.
type CallbackGateway interface {
	ParseCallback(rawBody []byte, signatureHeader string) (string, error)
	CheckStatus(ctx context.Context, transactionID string) (gateway.PaymentStatus, json.RawMessage, error)
}

// TransactionResolver maps a gateway transaction id to the internal order id.
type TransactionResolver interface {
	GetOrderIDByTransaction(ctx context.Context, transactionID string) (string, error)
}

// OrderLocker serializes reconciliation attempts per order id.
type OrderLocker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// CallbackProcessor handles the asynchronous payment notification: verify the
// signature, resolve the order, re-query the gateway's status endpoint, and
// feed the confirmed outcome into the reconciliation engine. The callback body
// itself is never trusted beyond the transaction id.
type CallbackProcessor struct {
	gateway CallbackGateway
	txs     TransactionResolver
	locker  OrderLocker
	engine  *ReconcileEngine
	logger  *zap.Logger
}

// NewCallbackProcessor creates a callback processor.
func NewCallbackProcessor(gw CallbackGateway, txs TransactionResolver, locker OrderLocker, engine *ReconcileEngine) *CallbackProcessor {
	return &CallbackProcessor{
		gateway: gw,
		txs:     txs,
		locker:  locker,
		engine:  engine,
		logger:  util.GetLogger(),
	}
}

// Process handles one callback delivery. Error mapping at the boundary:
// gateway.ErrSignatureMismatch and gateway.ErrMalformedCallback mean reject
// (400); any other error means retryable processing failure (500); nil means
// acknowledged (200) regardless of whether the order ended placed, cancelled,
// or untouched.
func (p *CallbackProcessor) Process(ctx context.Context, rawBody []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "CallbackProcessor.Process")
	defer span.End()

	transactionID, err := p.gateway.ParseCallback(rawBody, signatureHeader)
	if err != nil {
		return err
	}

	orderID, err := p.txs.GetOrderIDByTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, store.ErrTxNotFound) {
			p.logger.Error("Callback for unknown transaction",
				zap.String("transaction_id", transactionID))
		}
		return fmt.Errorf("failed to resolve transaction %s: %w", transactionID, err)
	}

	acquired, err := p.locker.AcquireLock(ctx, "order:"+orderID, orderLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire order lock: %w", err)
	}
	if !acquired {
		p.logger.Warn("Concurrent reconciliation attempt refused",
			zap.String("order_id", orderID))
		return ErrCallbackBusy
	}
	defer func() {
		if err := p.locker.ReleaseLock(ctx, "order:"+orderID); err != nil {
			p.logger.Warn("Failed to release order lock",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	// Independent re-query; the callback body is not authorization.
	status, detail, err := p.gateway.CheckStatus(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("status check failed for %s: %w", transactionID, err)
	}

	switch status {
	case gateway.StatusSuccess:
		_, err = p.engine.Reconcile(ctx, orderID, OutcomeSuccess, detail)
		if errors.Is(err, store.ErrInsufficientStock) {
			// The order was cancelled and the conflict logged by the engine.
			// The delivery itself is acknowledged.
			util.PaymentCallbacksTotal.WithLabelValues("stock_conflict").Inc()
			return nil
		}
		if err != nil {
			util.PaymentCallbacksTotal.WithLabelValues("error").Inc()
			return err
		}
		util.PaymentCallbacksTotal.WithLabelValues("success").Inc()
		return nil

	case gateway.StatusFailure:
		if _, err := p.engine.Reconcile(ctx, orderID, OutcomeFailure, detail); err != nil {
			util.PaymentCallbacksTotal.WithLabelValues("error").Inc()
			return err
		}
		util.PaymentCallbacksTotal.WithLabelValues("failure").Inc()
		return nil

	default:
		// Not confirmed either way yet; leave the order pending.
		p.logger.Info("Callback with unsettled status, awaiting confirmation",
			zap.String("order_id", orderID),
			zap.String("transaction_id", transactionID))
		util.PaymentCallbacksTotal.WithLabelValues("pending").Inc()
		return nil
	}
}
