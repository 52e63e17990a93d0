package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"bookshop-service/internal/models"
	"bookshop-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutStep is the strictly sequential position of a checkout session.
type CheckoutStep string

const (
	StepVariant    CheckoutStep = "variant"
	StepShipping   CheckoutStep = "shipping"
	StepPayment    CheckoutStep = "payment"
	StepSubmitting CheckoutStep = "submitting"
)

const (
	sessionTTL     = 30 * time.Minute
	submitLockTTL  = 30 * time.Second
	submitLockName = "checkout-submit:%s"
)

var (
	ErrWrongStep       = errors.New("operation not valid for current checkout step")
	ErrVariantSoldOut  = errors.New("selected variant is out of stock")
	ErrInvalidDiscount = errors.New("invalid or expired discount code")
	ErrSubmitInFlight  = errors.New("checkout submission already in progress")
)

// FieldErrors carries field-level validation detail to the boundary.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ShippingDetails is the contact and delivery block collected at the shipping
// step.
type ShippingDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Street  string `json:"street,omitempty"`
	City    string `json:"city"`
	Country string `json:"country"`
	State   string `json:"state"`
	PinCode string `json:"pin_code"`
}

// CheckoutSession is the resumable per-session wizard state, persisted in
// Redis between steps.
type CheckoutSession struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Step            CheckoutStep       `json:"step"`
	Variant         models.BookVariant `json:"variant,omitempty"`
	Shipping        *ShippingDetails   `json:"shipping,omitempty"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	DiscountCode    string             `json:"discount_code,omitempty"`
	DiscountPercent int                `json:"discount_percent,omitempty"`
	StockSnapshot   models.StockLevels `json:"stock_snapshot"`
	CreatedAt       time.Time          `json:"created_at"`
}

// SessionStore persists checkout sessions and hands out the single-flight
// submit lock. *redisclient.Client implements it.
type SessionStore interface {
	PutSession(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) ([]byte, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// StockReader provides the once-per-session stock snapshot. The authoritative
// check still happens in the ledger at reconciliation time.
type StockReader interface {
	GetStockLevels(ctx context.Context) models.StockLevels
}

// DiscountReader looks up promo codes for the payment step.
type DiscountReader interface {
	GetDiscount(ctx context.Context, code string) (*models.Discount, error)
}

// OrderPlacer receives the finished placement request. *OrderService
// implements it.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error)
}

// CheckoutService drives the variant -> shipping -> payment -> submitting
// sequence. Backward navigation clears state captured after the point
// returned to.
type CheckoutService struct {
	sessions  SessionStore
	stock     StockReader
	discounts DiscountReader
	placer    OrderPlacer
	events    EventSink
	logger    *zap.Logger
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(sessions SessionStore, stock StockReader, discounts DiscountReader, placer OrderPlacer, events EventSink) *CheckoutService {
	return &CheckoutService{
		sessions:  sessions,
		stock:     stock,
		discounts: discounts,
		placer:    placer,
		events:    events,
		logger:    util.GetLogger(),
	}
}

// Start opens a new session for an authenticated customer, snapshotting stock
// once for the whole session.
func (c *CheckoutService) Start(ctx context.Context, userID string) (*CheckoutSession, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	session := &CheckoutSession{
		ID:            uuid.New().String(),
		UserID:        userID,
		Step:          StepVariant,
		StockSnapshot: c.stock.GetStockLevels(ctx),
		CreatedAt:     time.Now(),
	}

	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get loads a session by id.
func (c *CheckoutService) Get(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	payload, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var session CheckoutSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("corrupt checkout session %s: %w", sessionID, err)
	}
	return &session, nil
}

// SelectVariant records the chosen variant and advances to shipping. The
// variant must show positive inventory in the session's snapshot.
func (c *CheckoutService) SelectVariant(ctx context.Context, sessionID string, variant models.BookVariant) (*CheckoutSession, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != StepVariant {
		return nil, ErrWrongStep
	}
	if !variant.IsPhysical() {
		return nil, fmt.Errorf("%w: variant must be paperback or hardcover", ErrValidationFailed)
	}
	if c.snapshotLevel(session, variant) <= 0 {
		return nil, ErrVariantSoldOut
	}

	session.Variant = variant
	session.Step = StepShipping
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}

	c.events.Track(ctx, models.EventTypeCheckoutReachedShipping, nil)
	return session, nil
}

// SubmitShipping validates and records the shipping block, advancing to the
// payment step.
func (c *CheckoutService) SubmitShipping(ctx context.Context, sessionID string, details ShippingDetails) (*CheckoutSession, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != StepShipping {
		return nil, ErrWrongStep
	}
	if fieldErrs := ValidateShipping(&details); len(fieldErrs) > 0 {
		return nil, &FieldErrors{Fields: fieldErrs}
	}

	session.Shipping = &details
	session.Step = StepPayment
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}

	c.events.Track(ctx, models.EventTypeCheckoutDoneShipping, nil)
	return session, nil
}

// ApplyDiscount validates a promo code against the registry and attaches it to
// the session. Nothing is consumed until the order is placed.
func (c *CheckoutService) ApplyDiscount(ctx context.Context, sessionID, code string) (*CheckoutSession, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != StepPayment {
		return nil, ErrWrongStep
	}

	discount, err := c.discounts.GetDiscount(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("discount lookup failed: %w", err)
	}
	if discount == nil {
		return nil, ErrInvalidDiscount
	}

	session.DiscountCode = discount.Code
	session.DiscountPercent = discount.Percent
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// RemoveDiscount detaches any applied code.
func (c *CheckoutService) RemoveDiscount(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != StepPayment {
		return nil, ErrWrongStep
	}

	session.DiscountCode = ""
	session.DiscountPercent = 0
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Back navigates one step backwards, clearing state captured after the point
// returned to: payment -> shipping drops the discount; shipping -> variant
// drops payment method and discount.
func (c *CheckoutService) Back(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Step {
	case StepPayment:
		session.Step = StepShipping
		session.DiscountCode = ""
		session.DiscountPercent = 0
	case StepShipping:
		session.Step = StepVariant
		session.PaymentMethod = ""
		session.DiscountCode = ""
		session.DiscountPercent = 0
	default:
		return nil, ErrWrongStep
	}

	if err := c.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Submit builds the immutable placement request and hands it to the place
// order entry point, single-flighted per session. The session is discarded on
// success; on failure it returns to the payment step so the shopper can retry.
func (c *CheckoutService) Submit(ctx context.Context, sessionID, paymentMethod string) (*PlaceOrderResult, error) {
	lockKey := fmt.Sprintf(submitLockName, sessionID)
	acquired, err := c.sessions.AcquireLock(ctx, lockKey, submitLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire submit lock: %w", err)
	}
	if !acquired {
		return nil, ErrSubmitInFlight
	}
	defer func() {
		if err := c.sessions.ReleaseLock(ctx, lockKey); err != nil {
			c.logger.Warn("Failed to release submit lock",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}()

	session, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != StepPayment {
		return nil, ErrWrongStep
	}
	if paymentMethod != models.PaymentMethodCOD && paymentMethod != models.PaymentMethodPrepaid {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidationFailed, paymentMethod)
	}

	session.PaymentMethod = paymentMethod
	session.Step = StepSubmitting
	if err := c.save(ctx, session); err != nil {
		return nil, err
	}

	req := &PlaceOrderRequest{
		UserID:        session.UserID,
		Variant:       string(session.Variant),
		PaymentMethod: paymentMethod,
		DiscountCode:  session.DiscountCode,
		Shipping:      *session.Shipping,
	}

	result, placeErr := c.placer.PlaceOrder(ctx, req)
	if placeErr != nil || result == nil || !result.Success {
		session.Step = StepPayment
		if err := c.save(ctx, session); err != nil {
			c.logger.Error("Failed to rewind checkout session after placement failure",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return result, placeErr
	}

	if err := c.sessions.DeleteSession(ctx, sessionID); err != nil {
		c.logger.Warn("Failed to delete completed checkout session",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return result, nil
}

func (c *CheckoutService) save(ctx context.Context, session *CheckoutSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.sessions.PutSession(ctx, session.ID, payload, sessionTTL)
}

func (c *CheckoutService) snapshotLevel(session *CheckoutSession, variant models.BookVariant) int {
	switch variant {
	case models.VariantPaperback:
		return session.StockSnapshot.Paperback
	case models.VariantHardcover:
		return session.StockSnapshot.Hardcover
	default:
		return models.EbookStockLevel
	}
}

// ValidateShipping applies the shipping schema, returning per-field messages.
func ValidateShipping(d *ShippingDetails) map[string]string {
	errs := make(map[string]string)

	if len(strings.TrimSpace(d.Name)) < 2 {
		errs["name"] = "Name must be at least 2 characters."
	}
	if _, err := mail.ParseAddress(d.Email); err != nil {
		errs["email"] = "Please enter a valid email address."
	}
	if n := digitCount(d.Phone); n < 10 || n > 15 {
		errs["phone"] = "Please enter a valid phone number."
	}
	if len(strings.TrimSpace(d.Address)) < 5 {
		errs["address"] = "Address must be at least 5 characters."
	}
	if len(strings.TrimSpace(d.City)) < 2 {
		errs["city"] = "Please enter a valid city."
	}
	if len(strings.TrimSpace(d.Country)) < 2 {
		errs["country"] = "Please select a country."
	}
	if len(strings.TrimSpace(d.State)) < 2 {
		errs["state"] = "Please select a state."
	}
	if strings.TrimSpace(d.PinCode) == "" {
		errs["pin_code"] = "Please enter a valid PIN code."
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
