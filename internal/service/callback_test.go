package service

import (
	"context"
	"encoding/json"
	"testing"

	"bookshop-service/internal/gateway"
	"bookshop-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCallbackGateway struct {
	transactionID string
	parseErr      error
	status        gateway.PaymentStatus
	detail        json.RawMessage
	statusErr     error
	statusCalls   int
}

func (f *fakeCallbackGateway) ParseCallback(_ []byte, _ string) (string, error) {
	return f.transactionID, f.parseErr
}

func (f *fakeCallbackGateway) CheckStatus(_ context.Context, _ string) (gateway.PaymentStatus, json.RawMessage, error) {
	f.statusCalls++
	return f.status, f.detail, f.statusErr
}

func newTestCallback(fs *fakeStore, gw *fakeCallbackGateway) (*CallbackProcessor, *fakeSessions) {
	locker := newFakeSessions()
	engine := NewReconcileEngine(fs, &recordingSink{})
	return NewCallbackProcessor(gw, fs, locker, engine), locker
}

func prepaidOrderWithTx(fs *fakeStore) *models.Order {
	order := fs.addOrder(pendingOrder(models.VariantPaperback, models.PaymentMethodPrepaid))
	fs.txs["MTID-abc12345"] = order.ID
	return order
}

func TestCallbackSuccessPlacesOrder(t *testing.T) {
	fs := newFakeStore()
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{
		transactionID: "MTID-abc12345",
		status:        gateway.StatusSuccess,
		detail:        json.RawMessage(`{"code":"PAYMENT_SUCCESS"}`),
	}
	processor, _ := newTestCallback(fs, gw)

	err := processor.Process(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPlaced, fs.orderStatus(t, order.ID))
	assert.Equal(t, 9, fs.stockLevel(models.VariantPaperback))
	assert.Equal(t, 1, gw.statusCalls, "outcome must come from the status re-query")
}

func TestCallbackFailureCancelsOrder(t *testing.T) {
	fs := newFakeStore()
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{
		transactionID: "MTID-abc12345",
		status:        gateway.StatusFailure,
	}
	processor, _ := newTestCallback(fs, gw)

	err := processor.Process(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(t, order.ID))
	assert.Equal(t, 10, fs.stockLevel(models.VariantPaperback))
}

func TestCallbackPendingLeavesOrderUntouched(t *testing.T) {
	fs := newFakeStore()
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{
		transactionID: "MTID-abc12345",
		status:        gateway.StatusPending,
	}
	processor, _ := newTestCallback(fs, gw)

	err := processor.Process(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(t, order.ID))
}

func TestCallbackSignatureMismatchRejected(t *testing.T) {
	fs := newFakeStore()
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{parseErr: gateway.ErrSignatureMismatch}
	processor, _ := newTestCallback(fs, gw)

	err := processor.Process(context.Background(), []byte(`{}`), "bad-sig")
	assert.ErrorIs(t, err, gateway.ErrSignatureMismatch)

	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(t, order.ID))
	assert.Zero(t, gw.statusCalls, "rejected deliveries must not reach the gateway")
}

func TestCallbackUnknownTransaction(t *testing.T) {
	fs := newFakeStore()
	gw := &fakeCallbackGateway{transactionID: "MTID-unknown", status: gateway.StatusSuccess}
	processor, _ := newTestCallback(fs, gw)

	err := processor.Process(context.Background(), []byte(`{}`), "sig")
	assert.Error(t, err)
}

func TestCallbackBusyWhenOrderLocked(t *testing.T) {
	fs := newFakeStore()
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{transactionID: "MTID-abc12345", status: gateway.StatusSuccess}
	processor, locker := newTestCallback(fs, gw)

	acquired, err := locker.AcquireLock(context.Background(), "order:"+order.ID, orderLockTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	err = processor.Process(context.Background(), []byte(`{}`), "sig")
	assert.ErrorIs(t, err, ErrCallbackBusy)
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(t, order.ID))
}

func TestCallbackStockConflictAcknowledged(t *testing.T) {
	fs := newFakeStore()
	fs.stock[models.VariantPaperback] = 0
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{transactionID: "MTID-abc12345", status: gateway.StatusSuccess}
	processor, _ := newTestCallback(fs, gw)

	// The delivery is acknowledged so the gateway stops retrying; the order is
	// cancelled for operator follow-up.
	err := processor.Process(context.Background(), []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(t, order.ID))
}

func TestCallbackDuplicateDeliveryIsNoOp(t *testing.T) {
	fs := newFakeStore()
	order := prepaidOrderWithTx(fs)
	gw := &fakeCallbackGateway{transactionID: "MTID-abc12345", status: gateway.StatusSuccess}
	processor, _ := newTestCallback(fs, gw)

	require.NoError(t, processor.Process(context.Background(), []byte(`{}`), "sig"))
	require.NoError(t, processor.Process(context.Background(), []byte(`{}`), "sig"))

	assert.Equal(t, models.OrderStatusPlaced, fs.orderStatus(t, order.ID))
	assert.Equal(t, 9, fs.stockLevel(models.VariantPaperback), "stock decremented once across duplicates")
}
