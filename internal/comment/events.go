package comment

import (
	"context"

	"vlog-platform/internal/cache"
	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
)

func (s *Service) Subscribe(d *consumer.Dispatch) error {
	if err := d.On(domain.ContentDeleted, s.onContentDeleted); err != nil {
		return err
	}
	return d.On(domain.UserDeleted, s.onUserDeleted)
}

// onContentDeleted hides the comments of a removed content item. Rows
// already marked deleted are skipped, so redelivery changes nothing.
func (s *Service) onContentDeleted(ctx context.Context, ev domain.Event) error {
	n, err := s.store.SoftDeleteComments(ctx, ev.AggregateID)
	if err != nil {
		return err
	}
	s.cache.InvalidateLogged(ctx, listPattern(ev.AggregateID), cache.Pattern("comments", "parent"))
	s.logger.WithField("content_id", ev.AggregateID).WithField("comments", n).Debug("comments soft deleted")
	return nil
}

// onUserDeleted drops every cached comment page since any of them may show
// the user's name.
func (s *Service) onUserDeleted(ctx context.Context, ev domain.Event) error {
	s.cache.InvalidateLogged(ctx, cache.Pattern("comments", "content"), cache.Pattern("comments", "parent"))
	return nil
}
