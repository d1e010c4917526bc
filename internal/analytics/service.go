// Package analytics records engagement events and serves per-subject
// summaries.
package analytics

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/cache"
	"vlog-platform/internal/config"
	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/storage"
)

type Store interface {
	RecordAnalytics(ctx context.Context, ev domain.AnalyticsEvent) error
	ListAnalytics(ctx context.Context, subject storage.AnalyticsSubject, id string) ([]domain.AnalyticsEvent, error)
}

// Kinds maps the recorded event types to the stored kind.
var Kinds = map[string]string{
	domain.ContentViewed:   "view",
	domain.ContentLiked:    "like",
	domain.ContentShared:   "share",
	domain.UserFollowed:    "follow",
	domain.SearchPerformed: "search",
}

type Service struct {
	store  Store
	cache  *cache.Manager
	ttl    config.Cache
	logger *log.Logger
}

func New(store Store, c *cache.Manager, ttl config.Cache, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, cache: c, ttl: ttl, logger: logger}
}

func summaryKey(subject storage.AnalyticsSubject, id string) string {
	return cache.Shape("analytics", string(subject), id)
}

func (s *Service) Subscribe(d *consumer.Dispatch) error {
	for t := range Kinds {
		if err := d.On(t, s.onEvent); err != nil {
			return err
		}
	}
	return nil
}

// onEvent stores one row per envelope id, so redelivery overwrites the
// same row.
func (s *Service) onEvent(ctx context.Context, ev domain.Event) error {
	kind, ok := Kinds[ev.Type]
	if !ok {
		return nil
	}
	var p domain.EngagementPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	rec := domain.AnalyticsEvent{
		ID:         ev.ID,
		Kind:       kind,
		UserID:     p.UserID,
		ContentID:  p.ContentID,
		CategoryID: p.CategoryID,
		Device:     p.Device,
		Country:    p.Country,
		Referrer:   p.Referrer,
		Query:      p.SearchQuery,
		Duration:   p.DurationSeconds,
		OccurredAt: ev.ProducedAt.UTC(),
	}
	if err := s.store.RecordAnalytics(ctx, rec); err != nil {
		return err
	}

	var keys []string
	if rec.ContentID != "" {
		keys = append(keys, summaryKey(storage.SubjectContent, rec.ContentID))
	}
	if rec.UserID != "" {
		keys = append(keys, summaryKey(storage.SubjectUser, rec.UserID))
	}
	if rec.CategoryID != "" {
		keys = append(keys, summaryKey(storage.SubjectCategory, rec.CategoryID))
	}
	if len(keys) > 0 {
		s.cache.InvalidateLogged(ctx, keys...)
	}
	return nil
}

// ParseSubject validates a summary subject.
func ParseSubject(v string) (storage.AnalyticsSubject, error) {
	switch s := storage.AnalyticsSubject(v); s {
	case storage.SubjectContent, storage.SubjectUser, storage.SubjectCategory:
		return s, nil
	default:
		return "", fmt.Errorf("unknown analytics subject %q", v)
	}
}

// Summary counts the recorded engagements of one subject by kind.
func (s *Service) Summary(ctx context.Context, subject storage.AnalyticsSubject, id string) (domain.AnalyticsSummary, error) {
	return cache.ReadThrough(ctx, s.cache, summaryKey(subject, id), s.ttl.ListTTL, func(ctx context.Context) (domain.AnalyticsSummary, error) {
		events, err := s.store.ListAnalytics(ctx, subject, id)
		if err != nil {
			return domain.AnalyticsSummary{}, err
		}
		sum := domain.AnalyticsSummary{Subject: string(subject), ID: id, Counts: map[string]int{}}
		for _, ev := range events {
			sum.Counts[ev.Kind]++
			sum.Total++
		}
		return sum, nil
	})
}
