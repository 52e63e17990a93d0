package models

import (
	"encoding/json"
	"time"
)

// Analytics event types
const (
	EventTypeOrderPlacedCOD          = "order_placed_cod"
	EventTypeOrderPrepaidInitiated   = "order_placed_prepaid_initiated"
	EventTypeOrderPrepaidSuccess     = "order_placed_prepaid_success"
	EventTypeCheckoutReachedShipping = "checkout_reached_shipping"
	EventTypeCheckoutDoneShipping    = "checkout_completed_shipping"
	EventTypeUserLogin               = "user_login"
	EventTypeUserSignup              = "user_signup"
	EventTypeViewSampleChapter       = "view_sample_chapter"
)

// Prefixes for open-ended client-side event families.
const (
	EventPrefixPageView = "page_view_"
	EventPrefixClick    = "click_"
)

// TrackedEvent is the wire form of an analytics fact published to Kafka and
// appended to the event log by the analytics worker.
type TrackedEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// AnalyticsSummary is the aggregate derived from the event log on read.
type AnalyticsSummary struct {
	TotalVisitors  int              `json:"total_visitors"`
	Clicks         map[string]int   `json:"clicks"`
	CheckoutFunnel CheckoutFunnel   `json:"checkout_funnel"`
	Orders         OrderCounts      `json:"orders"`
	Users          UserCounts       `json:"users"`
	SampleChapters map[string]int   `json:"sample_chapters"`
	Reviews        ReviewAggregates `json:"reviews"`
}

type CheckoutFunnel struct {
	ReachedShipping   int `json:"reached_shipping"`
	CompletedShipping int `json:"completed_shipping"`
}

type OrderCounts struct {
	COD              int `json:"cod"`
	Prepaid          int `json:"prepaid"`
	PrepaidInitiated int `json:"prepaid_initiated"`
}

type UserCounts struct {
	Login  int `json:"login"`
	Signup int `json:"signup"`
}

type ReviewAggregates struct {
	Total         int     `json:"total"`
	AverageRating float64 `json:"average_rating"`
}
