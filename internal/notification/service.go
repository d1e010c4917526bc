// Package notification materialises per-user notifications from engagement
// and comment events.
package notification

import (
	"context"

	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/cache"
	"vlog-platform/internal/config"
	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/readmodel"
	"vlog-platform/internal/server"
)

type Store interface {
	PutNotification(ctx context.Context, n domain.Notification) (bool, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, recipientID string, ids []string) (int, error)
	DeleteNotifications(ctx context.Context, recipientID string, ids []string) (int, error)
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

func userPattern(userID string) string { return cache.Pattern("notifications", "user", userID) }

func listKey(userID string, p server.Page, unreadOnly bool) string {
	parts := append([]string{"user", userID}, p.Key()...)
	if unreadOnly {
		parts = append(parts, "unread")
	}
	return cache.Shape("notifications", parts...)
}

// Subscribe registers a handler for every event type with a fan-out rule.
func (s *Service) Subscribe(d *consumer.Dispatch) error {
	for _, t := range readmodel.FanoutTypes() {
		if err := d.On(t, s.onEvent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) onEvent(ctx context.Context, ev domain.Event) error {
	n, ok, err := readmodel.Fanout(ev)
	if err != nil || !ok {
		return err
	}
	created, err := s.store.PutNotification(ctx, n)
	if err != nil {
		return err
	}
	if created {
		s.cache.InvalidateLogged(ctx, userPattern(n.RecipientID))
	}
	s.logger.WithFields(log.Fields{"notification_id": n.ID, "recipient_id": n.RecipientID, "created": created}).Debug("notification fanned out")
	return nil
}

func (s *Service) List(ctx context.Context, userID string, p server.Page, unreadOnly bool) (server.List[domain.Notification], error) {
	return cache.ReadThrough(ctx, s.cache, listKey(userID, p, unreadOnly), s.ttl.ListTTL, func(ctx context.Context) (server.List[domain.Notification], error) {
		all, err := s.store.ListNotifications(ctx, userID, unreadOnly)
		if err != nil {
			return server.List[domain.Notification]{}, err
		}
		return server.Paginate(all, p), nil
	})
}

func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	n, err := s.store.MarkNotificationsRead(ctx, userID, ids)
	if n > 0 {
		s.cache.InvalidateLogged(ctx, userPattern(userID))
	}
	return n, err
}

func (s *Service) Delete(ctx context.Context, userID string, ids []string) (int, error) {
	n, err := s.store.DeleteNotifications(ctx, userID, ids)
	if n > 0 {
		s.cache.InvalidateLogged(ctx, userPattern(userID))
	}
	return n, err
}
