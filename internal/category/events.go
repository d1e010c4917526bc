package category

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
)

// Subscribe registers the content handlers that maintain category counters.
func (s *Service) Subscribe(d *consumer.Dispatch) error {
	for eventType, h := range map[string]consumer.Handler{
		domain.ContentCreated: s.onContentCreated,
		domain.ContentUpdated: s.onContentUpdated,
		domain.ContentDeleted: s.onContentDeleted,
	} {
		if err := d.On(eventType, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onContentCreated(ctx context.Context, ev domain.Event) error {
	var p domain.ContentPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return s.setMembership(ctx, ev, p.CategoryID, true)
}

func (s *Service) onContentUpdated(ctx context.Context, ev domain.Event) error {
	var p domain.ContentPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.PreviousCategoryID != "" && p.PreviousCategoryID != p.CategoryID {
		if err := s.setMembership(ctx, ev, p.PreviousCategoryID, false); err != nil {
			return err
		}
	}
	return s.setMembership(ctx, ev, p.CategoryID, true)
}

func (s *Service) onContentDeleted(ctx context.Context, ev domain.Event) error {
	var p domain.ContentPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return s.setMembership(ctx, ev, p.CategoryID, false)
}

// setMembership moves the (category, content) marker to member as of the
// event version. Stale or repeated events leave the counter alone.
func (s *Service) setMembership(ctx context.Context, ev domain.Event, categoryID string, member bool) error {
	if categoryID == "" {
		return nil
	}
	fields := log.Fields{"category_id": categoryID, "content_id": ev.AggregateID, "version": ev.Version, "member": member}
	changed, err := s.store.SetMembership(ctx, categoryID, ev.AggregateID, member, ev.Version)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithFields(fields).Info("membership for unknown category ignored")
		return nil
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, categoryID)
	s.logger.WithFields(fields).WithField("counter_changed", changed).Debug("membership applied")
	return nil
}
