package storage

import (
	"context"
	"encoding/json"
	"time"

	"vlog-platform/internal/domain"
)

type analyticsEntity struct {
	entity
	UserID         string    `json:"UserId"`
	ContentID      string    `json:"ContentId"`
	CategoryID     string    `json:"CategoryId"`
	Device         string    `json:"Device"`
	Country        string    `json:"Country"`
	Referrer       string    `json:"Referrer"`
	Query          string    `json:"Query"`
	Duration       float64   `json:"Duration"`
	DurationType   string    `json:"Duration@odata.type"`
	OccurredAt     time.Time `json:"OccurredAt"`
	OccurredAtType string    `json:"OccurredAt@odata.type"`
}

func (e analyticsEntity) event() domain.AnalyticsEvent {
	return domain.AnalyticsEvent{
		ID:         e.RowKey,
		Kind:       e.PartitionKey,
		UserID:     e.UserID,
		ContentID:  e.ContentID,
		CategoryID: e.CategoryID,
		Device:     e.Device,
		Country:    e.Country,
		Referrer:   e.Referrer,
		Query:      e.Query,
		Duration:   e.Duration,
		OccurredAt: e.OccurredAt,
	}
}

// RecordAnalytics upserts ev keyed by (kind, id); writing the same event id
// twice leaves one row.
func (s *Storage) RecordAnalytics(ctx context.Context, ev domain.AnalyticsEvent) error {
	return upsertEntity(ctx, s.analytics, analyticsEntity{
		entity:         entity{PartitionKey: ev.Kind, RowKey: ev.ID},
		UserID:         ev.UserID,
		ContentID:      ev.ContentID,
		CategoryID:     ev.CategoryID,
		Device:         ev.Device,
		Country:        ev.Country,
		Referrer:       ev.Referrer,
		Query:          ev.Query,
		Duration:       ev.Duration,
		DurationType:   EdmDouble,
		OccurredAt:     ev.OccurredAt.UTC(),
		OccurredAtType: EdmDateTime,
	})
}

// AnalyticsSubject selects the column a summary is grouped by.
type AnalyticsSubject string

const (
	SubjectContent  AnalyticsSubject = "content"
	SubjectUser     AnalyticsSubject = "user"
	SubjectCategory AnalyticsSubject = "category"
)

func (s AnalyticsSubject) column() string {
	switch s {
	case SubjectUser:
		return "UserId"
	case SubjectCategory:
		return "CategoryId"
	default:
		return "ContentId"
	}
}

// ListAnalytics returns every recorded engagement for one subject.
func (s *Storage) ListAnalytics(ctx context.Context, subject AnalyticsSubject, id string) ([]domain.AnalyticsEvent, error) {
	out := []domain.AnalyticsEvent{}
	err := list(ctx, s.analytics, eq(subject.column(), id), func(raw []byte) error {
		var ent analyticsEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, ent.event())
		return nil
	})
	return out, err
}
