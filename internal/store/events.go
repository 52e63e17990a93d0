package store

import (
	"context"

	"bookshop-service/internal/models"
)

// AppendAnalyticsEvent appends one fact to the event log. The log is
// append-only; events are never updated or deleted.
func (s *Store) AppendAnalyticsEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO analytics_events (id, type, metadata, timestamp) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
		event.ID, event.Type, []byte(event.Metadata), event.Timestamp)
	return err
}

// GetAnalyticsEvents returns the full event log in chronological order.
func (s *Store) GetAnalyticsEvents(ctx context.Context) ([]models.AnalyticsEvent, error) {
	var events []models.AnalyticsEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM analytics_events ORDER BY timestamp ASC")
	return events, err
}
