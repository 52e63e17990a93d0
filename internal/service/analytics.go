package service

import (
	"context"
	"encoding/json"
	"strings"

	"bookshop-service/internal/models"
)

// AnalyticsStore is the read surface for the event log.
type AnalyticsStore interface {
	GetAnalyticsEvents(ctx context.Context) ([]models.AnalyticsEvent, error)
	GetReviews(ctx context.Context) ([]models.Review, error)
}

// AnalyticsService derives the aggregated summary from the append-only event
// log on read.
type AnalyticsService struct {
	store AnalyticsStore
}

// NewAnalyticsService creates an analytics service.
func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// Summary aggregates the whole event log plus review stats.
func (s *AnalyticsService) Summary(ctx context.Context) (*models.AnalyticsSummary, error) {
	events, err := s.store.GetAnalyticsEvents(ctx)
	if err != nil {
		return nil, err
	}
	reviews, err := s.store.GetReviews(ctx)
	if err != nil {
		return nil, err
	}
	return Aggregate(events, reviews), nil
}

// Aggregate folds the event log into the summary. Visitors are counted once
// per session id over page-view events.
func Aggregate(events []models.AnalyticsEvent, reviews []models.Review) *models.AnalyticsSummary {
	summary := &models.AnalyticsSummary{
		Clicks:         make(map[string]int),
		SampleChapters: make(map[string]int),
	}

	seenSessions := make(map[string]struct{})

	for _, event := range events {
		switch {
		case strings.HasPrefix(event.Type, models.EventPrefixClick):
			summary.Clicks[event.Type]++

		case strings.HasPrefix(event.Type, models.EventPrefixPageView):
			if sid := metadataString(event.Metadata, "session_id"); sid != "" {
				if _, seen := seenSessions[sid]; !seen {
					seenSessions[sid] = struct{}{}
					summary.TotalVisitors++
				}
			}
		}

		switch event.Type {
		case models.EventTypeCheckoutReachedShipping:
			summary.CheckoutFunnel.ReachedShipping++
		case models.EventTypeCheckoutDoneShipping:
			summary.CheckoutFunnel.CompletedShipping++
		case models.EventTypeOrderPlacedCOD:
			summary.Orders.COD++
		case models.EventTypeOrderPrepaidInitiated:
			summary.Orders.PrepaidInitiated++
		case models.EventTypeOrderPrepaidSuccess:
			summary.Orders.Prepaid++
		case models.EventTypeUserLogin:
			summary.Users.Login++
		case models.EventTypeUserSignup:
			summary.Users.Signup++
		case models.EventTypeViewSampleChapter:
			if chapter := metadataString(event.Metadata, "chapter"); chapter != "" {
				summary.SampleChapters[chapter]++
			}
		}
	}

	summary.Reviews.Total = len(reviews)
	if len(reviews) > 0 {
		total := 0
		for _, r := range reviews {
			total += r.Rating
		}
		summary.Reviews.AverageRating = float64(total) / float64(len(reviews))
	}

	return summary
}

func metadataString(metadata json.RawMessage, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	var m map[string]interface{}
	if err := json.Unmarshal(metadata, &m); err != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
