package service

import (
	"context"
	"errors"
	"testing"

	"bookshop-service/internal/gateway"
	"bookshop-service/internal/models"
	"bookshop-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInitiator struct {
	result *gateway.InitiationResult
	err    error
	calls  int
}

func (f *fakeInitiator) InitiatePayment(_ context.Context, _, _ string, _ int64) (*gateway.InitiationResult, error) {
	f.calls++
	return f.result, f.err
}

func validShipping() ShippingDetails {
	return ShippingDetails{
		Name:    "Asha Rao",
		Email:   "asha@example.com",
		Phone:   "+91 98765 43210",
		Address: "14 Lake View Road",
		City:    "Bengaluru",
		Country: "IN",
		State:   "Karnataka",
		PinCode: "560001",
	}
}

func testPricing() *StaticPricingOracle {
	return &StaticPricingOracle{
		BasePaperback: 299,
		BaseHardcover: 499,
		BaseCurrency:  "INR",
		BaseSymbol:    "₹",
		Rates: map[string]CurrencyRate{
			"US": {CurrencyCode: "USD", Symbol: "$", Rate: 0.012},
		},
	}
}

func newTestOrderService(fs *fakeStore, initiator *fakeInitiator, sink EventSink) *OrderService {
	if sink == nil {
		sink = &recordingSink{}
	}
	engine := NewReconcileEngine(fs, sink)
	return NewOrderService(fs, engine, initiator, testPricing(), sink)
}

func TestPlaceOrderCOD(t *testing.T) {
	fs := newFakeStore()
	sink := &recordingSink{}
	svc := newTestOrderService(fs, &fakeInitiator{}, sink)

	req := &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "paperback",
		PaymentMethod: models.PaymentMethodCOD,
		Shipping:      validShipping(),
	}

	result, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.OrderID)
	assert.Empty(t, result.RedirectURL)

	order, err := fs.GetOrderByID(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPlaced, order.Status)
	assert.Equal(t, int64(299), order.Price)
	assert.Equal(t, int64(299), order.OriginalPrice)
	assert.Equal(t, 9, fs.stockLevel(models.VariantPaperback))
	assert.Equal(t, 1, sink.count(models.EventTypeOrderPlacedCOD))
}

func TestPlaceOrderCODOutOfStock(t *testing.T) {
	fs := newFakeStore()
	fs.stock[models.VariantHardcover] = 0
	svc := newTestOrderService(fs, &fakeInitiator{}, nil)

	req := &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "hardcover",
		PaymentMethod: models.PaymentMethodCOD,
		Shipping:      validShipping(),
	}

	result, err := svc.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, models.OrderStatusCancelled, fs.orderStatus(t, result.OrderID))
}

func TestPlaceOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PlaceOrderRequest)
		wantErr error
	}{
		{"missing user", func(r *PlaceOrderRequest) { r.UserID = "" }, ErrUnauthorized},
		{"ebook not orderable", func(r *PlaceOrderRequest) { r.Variant = "ebook" }, ErrValidationFailed},
		{"unknown variant", func(r *PlaceOrderRequest) { r.Variant = "audiobook" }, ErrValidationFailed},
		{"unknown payment method", func(r *PlaceOrderRequest) { r.PaymentMethod = "crypto" }, ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore()
			svc := newTestOrderService(fs, &fakeInitiator{}, nil)

			req := &PlaceOrderRequest{
				UserID:        "user-1",
				Variant:       "paperback",
				PaymentMethod: models.PaymentMethodCOD,
				Shipping:      validShipping(),
			}
			tt.mutate(req)

			_, err := svc.PlaceOrder(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			orders, _ := fs.GetOrders(context.Background())
			assert.Empty(t, orders, "invalid requests must not create orders")
		})
	}
}

func TestPlaceOrderShippingFieldErrors(t *testing.T) {
	svc := newTestOrderService(newFakeStore(), &fakeInitiator{}, nil)

	shipping := validShipping()
	shipping.Email = "not-an-email"
	shipping.Phone = "12345"

	_, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "paperback",
		PaymentMethod: models.PaymentMethodCOD,
		Shipping:      shipping,
	})

	var fieldErrs *FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Contains(t, fieldErrs.Fields, "email")
	assert.Contains(t, fieldErrs.Fields, "phone")
}

func TestPlaceOrderAppliesDiscount(t *testing.T) {
	fs := newFakeStore()
	fs.discounts["LAUNCH20"] = &models.Discount{Code: "LAUNCH20", Percent: 20}
	svc := newTestOrderService(fs, &fakeInitiator{}, nil)

	result, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "hardcover",
		PaymentMethod: models.PaymentMethodCOD,
		DiscountCode:  "launch20",
		Shipping:      validShipping(),
	})
	require.NoError(t, err)

	order, err := fs.GetOrderByID(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(499), order.OriginalPrice)
	assert.Equal(t, int64(100), order.DiscountAmount)
	assert.Equal(t, int64(399), order.Price)
	assert.Equal(t, "LAUNCH20", order.DiscountCode)
	assert.Equal(t, 1, fs.usage["LAUNCH20"])
}

// brokenDiscountStore fails every discount lookup.
type brokenDiscountStore struct {
	*fakeStore
}

func (b *brokenDiscountStore) GetDiscount(context.Context, string) (*models.Discount, error) {
	return nil, errors.New("storage unavailable")
}

func TestPlaceOrderDiscountLookupFailure(t *testing.T) {
	fs := newFakeStore()
	engine := NewReconcileEngine(fs, &recordingSink{})
	svc := NewOrderService(&brokenDiscountStore{fs}, engine, &fakeInitiator{}, testPricing(), &recordingSink{})

	result, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "paperback",
		PaymentMethod: models.PaymentMethodCOD,
		DiscountCode:  "LAUNCH20",
		Shipping:      validShipping(),
	})
	assert.Error(t, err)
	assert.Nil(t, result)

	// The customer must not be charged full price behind a broken registry.
	orders, _ := fs.GetOrders(context.Background())
	assert.Empty(t, orders)
	assert.Equal(t, 10, fs.stockLevel(models.VariantPaperback))
}

func TestPlaceOrderIgnoresUnknownDiscount(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeInitiator{}, nil)

	result, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "paperback",
		PaymentMethod: models.PaymentMethodCOD,
		DiscountCode:  "NOPE",
		Shipping:      validShipping(),
	})
	require.NoError(t, err)

	order, err := fs.GetOrderByID(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(299), order.Price)
	assert.Empty(t, order.DiscountCode)
	assert.Zero(t, order.DiscountAmount)
}

func TestPlaceOrderPrepaidRedirects(t *testing.T) {
	fs := newFakeStore()
	sink := &recordingSink{}
	initiator := &fakeInitiator{result: &gateway.InitiationResult{
		TransactionID: "MTID-abc12345",
		RedirectURL:   "https://pay.example.com/session/xyz",
	}}
	svc := newTestOrderService(fs, initiator, sink)

	result, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "paperback",
		PaymentMethod: models.PaymentMethodPrepaid,
		Shipping:      validShipping(),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "https://pay.example.com/session/xyz", result.RedirectURL)

	// Order stays pending until the gateway confirms; stock is untouched.
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(t, result.OrderID))
	assert.Equal(t, 10, fs.stockLevel(models.VariantPaperback))

	orderID, err := fs.GetOrderIDByTransaction(context.Background(), "MTID-abc12345")
	require.NoError(t, err)
	assert.Equal(t, result.OrderID, orderID)
	assert.Equal(t, 1, sink.count(models.EventTypeOrderPrepaidInitiated))
}

func TestPlaceOrderPrepaidGatewayFailure(t *testing.T) {
	fs := newFakeStore()
	initiator := &fakeInitiator{err: errors.New("gateway timeout")}
	svc := newTestOrderService(fs, initiator, nil)

	result, err := svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        "user-1",
		Variant:       "paperback",
		PaymentMethod: models.PaymentMethodPrepaid,
		Shipping:      validShipping(),
	})
	assert.ErrorIs(t, err, ErrGateway)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	// The order survives the failed initiation for retry or admin cancel.
	assert.Equal(t, models.OrderStatusPending, fs.orderStatus(t, result.OrderID))
}

func TestChangeOrderStatusBulk(t *testing.T) {
	fs := newFakeStore()
	svc := newTestOrderService(fs, &fakeInitiator{}, nil)

	a := fs.addOrder(pendingOrder(models.VariantPaperback, models.PaymentMethodCOD))
	b := fs.addOrder(pendingOrder(models.VariantPaperback, models.PaymentMethodCOD))

	updated, err := svc.ChangeOrderStatusBulk(context.Background(),
		[]string{a.ID, "missing", b.ID}, models.OrderStatusDispatched)
	assert.Error(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, models.OrderStatusDispatched, fs.orderStatus(t, a.ID))
	assert.Equal(t, models.OrderStatusDispatched, fs.orderStatus(t, b.ID))
}

func TestDiscountAmount(t *testing.T) {
	tests := []struct {
		price   int64
		percent int
		want    int64
	}{
		{299, 10, 30},
		{499, 20, 100},
		{100, 33, 33},
		{150, 33, 50},
		{299, 100, 299},
		{1, 1, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DiscountAmount(tt.price, tt.percent),
			"%d%% of %d", tt.percent, tt.price)
	}
}
