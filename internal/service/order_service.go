package service

import (
	"context"
	"errors"
	"fmt"

	"bookshop-service/internal/gateway"
	"bookshop-service/internal/models"
	"bookshop-service/internal/store"
	"bookshop-service/internal/util"

	"go.uber.org/zap"
)

// Service-level sentinel errors mapped to coarse outcomes at the boundary.
var (
	ErrUnauthorized     = errors.New("order requires an authenticated customer")
	ErrValidationFailed = errors.New("validation failed")
	ErrGateway          = errors.New("payment gateway error")
)

// OrderStore is the storage surface PlaceOrder needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreatePaymentTransaction(ctx context.Context, transactionID, orderID string) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	GetDiscount(ctx context.Context, code string) (*models.Discount, error)
}

// PaymentInitiator starts a hosted-checkout session for an order amount.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, orderID, userID string, amount int64) (*gateway.InitiationResult, error)
}

// OrderService owns order placement and the admin/read paths around it.
type OrderService struct {
	store   OrderStore
	engine  *ReconcileEngine
	gateway PaymentInitiator
	pricing PricingOracle
	events  EventSink
	logger  *zap.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(store OrderStore, engine *ReconcileEngine, gw PaymentInitiator, pricing PricingOracle, events EventSink) *OrderService {
	return &OrderService{
		store:   store,
		engine:  engine,
		gateway: gw,
		pricing: pricing,
		events:  events,
		logger:  util.GetLogger(),
	}
}

// PlaceOrderRequest is the immutable order-placement intent produced by the
// checkout flow (or submitted directly to the API).
type PlaceOrderRequest struct {
	UserID        string          `json:"user_id"`
	Variant       string          `json:"variant"`
	PaymentMethod string          `json:"payment_method"`
	DiscountCode  string          `json:"discount_code,omitempty"`
	Shipping      ShippingDetails `json:"shipping"`
}

// PlaceOrderResult is the outcome of a placement attempt.
type PlaceOrderResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OrderID     string `json:"order_id,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// PlaceOrder validates the intent, freezes pricing, creates the pending order,
// and either reconciles it immediately (COD) or hands the shopper to the
// payment gateway (prepaid). A prepaid order stays pending until the callback
// or a status poll confirms the outcome.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if req.UserID == "" {
		return nil, ErrUnauthorized
	}

	variant, err := models.ParseVariant(req.Variant)
	if err != nil || !variant.IsPhysical() {
		return nil, fmt.Errorf("%w: variant must be paperback or hardcover", ErrValidationFailed)
	}
	if req.PaymentMethod != models.PaymentMethodCOD && req.PaymentMethod != models.PaymentMethodPrepaid {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidationFailed, req.PaymentMethod)
	}
	if fieldErrs := ValidateShipping(&req.Shipping); len(fieldErrs) > 0 {
		return nil, &FieldErrors{Fields: fieldErrs}
	}

	prices, err := s.pricing.GetPrices(ctx, req.Shipping.Country)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	originalPrice := prices.For(variant)

	var discountAmount int64
	discountCode := ""
	if req.DiscountCode != "" {
		discount, err := s.store.GetDiscount(ctx, req.DiscountCode)
		if err != nil {
			// An unknown code is just full price, but a failed lookup must not
			// silently charge full price for a code the customer entered.
			s.logger.Error("Discount lookup failed", zap.String("code", req.DiscountCode), zap.Error(err))
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
			return nil, fmt.Errorf("failed to look up discount code: %w", err)
		}
		if discount != nil {
			discountCode = discount.Code
			discountAmount = DiscountAmount(originalPrice, discount.Percent)
		}
	}
	finalPrice := originalPrice - discountAmount

	order := &models.Order{
		UserID:         req.UserID,
		Name:           req.Shipping.Name,
		Phone:          req.Shipping.Phone,
		Email:          req.Shipping.Email,
		Address:        req.Shipping.Address,
		Street:         req.Shipping.Street,
		City:           req.Shipping.City,
		Country:        req.Shipping.Country,
		State:          req.Shipping.State,
		PinCode:        req.Shipping.PinCode,
		PaymentMethod:  req.PaymentMethod,
		Variant:        variant,
		Price:          finalPrice,
		OriginalPrice:  originalPrice,
		DiscountCode:   discountCode,
		DiscountAmount: discountAmount,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	util.OrdersCreatedTotal.WithLabelValues(req.PaymentMethod).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("variant", string(variant)),
		zap.String("payment_method", req.PaymentMethod))

	if req.PaymentMethod == models.PaymentMethodCOD {
		return s.placeCOD(ctx, order)
	}
	return s.initiatePrepaid(ctx, order)
}

func (s *OrderService) placeCOD(ctx context.Context, order *models.Order) (*PlaceOrderResult, error) {
	_, err := s.engine.Reconcile(ctx, order.ID, OutcomeSuccess, nil)
	if errors.Is(err, store.ErrInsufficientStock) {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		return &PlaceOrderResult{
			Success: false,
			Message: "The selected variant is out of stock.",
			OrderID: order.ID,
		}, store.ErrInsufficientStock
	}
	if err != nil {
		return nil, err
	}
	return &PlaceOrderResult{
		Success: true,
		Message: "Order created successfully.",
		OrderID: order.ID,
	}, nil
}

func (s *OrderService) initiatePrepaid(ctx context.Context, order *models.Order) (*PlaceOrderResult, error) {
	s.events.Track(ctx, models.EventTypeOrderPrepaidInitiated, map[string]interface{}{
		"order_id": order.ID,
		"variant":  string(order.Variant),
	})

	initiation, err := s.gateway.InitiatePayment(ctx, order.ID, order.UserID, order.Price)
	if err != nil {
		// The order stays pending: the shopper can retry, an admin can cancel.
		s.logger.Error("Payment initiation failed",
			zap.String("order_id", order.ID), zap.Error(err))
		util.OrdersFailedTotal.WithLabelValues("gateway_initiation").Inc()
		return &PlaceOrderResult{
			Success: false,
			Message: "Could not start payment, please try again.",
			OrderID: order.ID,
		}, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if err := s.store.CreatePaymentTransaction(ctx, initiation.TransactionID, order.ID); err != nil {
		s.logger.Error("Failed to persist payment transaction mapping",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", initiation.TransactionID),
			zap.Error(err))
		return &PlaceOrderResult{
			Success: false,
			Message: "Could not start payment, please try again.",
			OrderID: order.ID,
		}, err
	}

	return &PlaceOrderResult{
		Success:     true,
		Message:     "Redirecting to payment gateway.",
		OrderID:     order.ID,
		RedirectURL: initiation.RedirectURL,
	}, nil
}

// GetOrders returns every order for the admin view.
func (s *OrderService) GetOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetOrders(ctx)
}

// GetOrdersForUser returns a customer's own order history.
func (s *OrderService) GetOrdersForUser(ctx context.Context, userID string) ([]models.Order, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	return s.store.GetOrdersByUserID(ctx, userID)
}

// GetOrder returns one order by id.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// ChangeOrderStatus is the administrative direct write. It bypasses the
// reconciliation side effects: moving an already placed order does not touch
// inventory or discounts.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	if err := s.store.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return err
	}
	s.logger.Info("Order status changed by admin",
		zap.String("order_id", orderID),
		zap.String("status", string(status)))
	return nil
}

// ChangeOrderStatusBulk applies one status to many orders, reporting how many
// succeeded.
func (s *OrderService) ChangeOrderStatusBulk(ctx context.Context, orderIDs []string, status models.OrderStatus) (int, error) {
	updated := 0
	for _, id := range orderIDs {
		if err := s.store.UpdateOrderStatus(ctx, id, status); err != nil {
			s.logger.Error("Bulk status update failed for order",
				zap.String("order_id", id), zap.Error(err))
			continue
		}
		updated++
	}
	if updated < len(orderIDs) {
		return updated, fmt.Errorf("updated %d of %d orders", updated, len(orderIDs))
	}
	return updated, nil
}

// DiscountAmount computes the rounded discount for a price and percent.
func DiscountAmount(originalPrice int64, percent int) int64 {
	return (originalPrice*int64(percent) + 50) / 100
}
