package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// BookVariant is one of the fixed forms the book is sold in.
type BookVariant string

const (
	VariantPaperback BookVariant = "paperback"
	VariantHardcover BookVariant = "hardcover"
	VariantEbook     BookVariant = "ebook"
)

// EbookStockLevel is reported for the digital variant, which is never decremented.
const EbookStockLevel = 99999

// ParseVariant validates a variant string against the closed set.
func ParseVariant(s string) (BookVariant, error) {
	switch BookVariant(s) {
	case VariantPaperback, VariantHardcover, VariantEbook:
		return BookVariant(s), nil
	}
	return "", fmt.Errorf("unknown variant: %q", s)
}

// IsPhysical reports whether the variant consumes inventory.
func (v BookVariant) IsPhysical() bool {
	return v == VariantPaperback || v == VariantHardcover
}

// OrderStatus is the order lifecycle state machine value.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPlaced     OrderStatus = "placed"
	OrderStatusDispatched OrderStatus = "dispatched"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// ParseOrderStatus validates a status string against the closed set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusPlaced, OrderStatusDispatched,
		OrderStatusDelivered, OrderStatusCancelled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status: %q", s)
}

// Payment methods
const (
	PaymentMethodCOD     = "cod"
	PaymentMethodPrepaid = "prepaid"
)

// Order is the central entity. One row per order; never deleted, cancellation
// is a status.
type Order struct {
	ID             string          `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	Name           string          `db:"name" json:"name"`
	Phone          string          `db:"phone" json:"phone"`
	Email          string          `db:"email" json:"email"`
	Address        string          `db:"address" json:"address"`
	Street         string          `db:"street" json:"street"`
	City           string          `db:"city" json:"city"`
	Country        string          `db:"country" json:"country"`
	State          string          `db:"state" json:"state"`
	PinCode        string          `db:"pin_code" json:"pin_code"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	Variant        BookVariant     `db:"variant" json:"variant"`
	Price          int64           `db:"price" json:"price"`
	OriginalPrice  int64           `db:"original_price" json:"original_price"`
	DiscountCode   string          `db:"discount_code" json:"discount_code,omitempty"`
	DiscountAmount int64           `db:"discount_amount" json:"discount_amount"`
	Status         OrderStatus     `db:"status" json:"status"`
	HasReview      bool            `db:"has_review" json:"has_review"`
	PaymentDetails json.RawMessage `db:"payment_details" json:"payment_details,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// StockLevels holds the per-variant inventory counters.
type StockLevels struct {
	Paperback int `json:"paperback"`
	Hardcover int `json:"hardcover"`
	Ebook     int `json:"ebook"`
}

// Discount is a promo code. The code itself is the key, stored uppercase.
type Discount struct {
	Code       string    `db:"code" json:"code"`
	Percent    int       `db:"percent" json:"percent"`
	UsageCount int       `db:"usage_count" json:"usage_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PaymentTransaction maps a gateway-side transaction id back to the internal
// order id. Created at payment initiation, read by the callback path.
type PaymentTransaction struct {
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Review is attached to a delivered order; at most one per order, immutable.
type Review struct {
	ID         string         `db:"id" json:"id"`
	OrderID    string         `db:"order_id" json:"order_id"`
	UserID     string         `db:"user_id" json:"user_id"`
	UserName   string         `db:"user_name" json:"user_name"`
	Rating     int            `db:"rating" json:"rating"`
	Title      string         `db:"title" json:"title"`
	ReviewText string         `db:"review_text" json:"review_text,omitempty"`
	ImageURLs  ReviewImageURL `db:"image_urls" json:"image_urls"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// ReviewImageURL stores the image URL list as a JSON column.
type ReviewImageURL []string

// Value implements driver.Valuer.
func (r ReviewImageURL) Value() (interface{}, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (r *ReviewImageURL) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(r))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(r))
	}
	return fmt.Errorf("unsupported image_urls type %T", src)
}

// AnalyticsEvent is an append-only, loosely typed fact.
type AnalyticsEvent struct {
	ID        string          `db:"id" json:"id"`
	Type      string          `db:"type" json:"type"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Timestamp time.Time       `db:"timestamp" json:"timestamp"`
}
