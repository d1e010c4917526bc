package content

import (
	"context"

	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
)

// Subscribe registers the handlers that keep content caches coherent with
// category changes.
func (s *Service) Subscribe(d *consumer.Dispatch) error {
	if err := d.On(domain.CategoryUpdated, s.onCategoryChanged); err != nil {
		return err
	}
	return d.On(domain.CategoryDeleted, s.onCategoryChanged)
}

func (s *Service) onCategoryChanged(ctx context.Context, ev domain.Event) error {
	s.cache.InvalidateLogged(ctx, categoryListKey(ev.AggregateID))
	return nil
}
