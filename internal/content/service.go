// Package content owns content items. Every committed write invalidates
// the service's own cache entries before returning and then publishes a
// content-* event.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/cache"
	"vlog-platform/internal/config"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/storage"
)

const maxWriteAttempts = 5

type Store interface {
	InsertContent(ctx context.Context, c domain.Content) (string, error)
	GetContent(ctx context.Context, id string) (domain.Content, string, error)
	ReplaceContent(ctx context.Context, c domain.Content, etag string) (string, error)
	DeleteContent(ctx context.Context, id, etag string) error
	ListContents(ctx context.Context, f storage.ContentFilter) ([]domain.Content, error)
}

type Publisher interface {
	Emit(ctx context.Context, eventType, aggregateID string, version int64, payload any) (domain.Event, error)
}

type Service struct {
	store  Store
	cache  *cache.Manager
	pub    Publisher
	ttl    config.Cache
	logger *log.Logger
	now    func() time.Time
}

func New(store Store, c *cache.Manager, pub Publisher, ttl config.Cache, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, cache: c, pub: pub, ttl: ttl, logger: logger, now: time.Now}
}

func contentKey(id string) string { return cache.Key("content", id) }

func categoryListKey(categoryID string) string { return cache.Shape("content", "category", categoryID) }

// invalidate drops the entry for id and the category lists it appears in.
func (s *Service) invalidate(ctx context.Context, id string, categoryIDs ...string) {
	keys := []string{contentKey(id)}
	for _, cat := range categoryIDs {
		if cat != "" {
			keys = append(keys, categoryListKey(cat))
		}
	}
	s.cache.InvalidateLogged(ctx, keys...)
}

// Create stores c and publishes content-created. A publish failure is
// returned wrapped in domain.ErrDegradedSync together with the stored item.
func (s *Service) Create(ctx context.Context, c domain.Content) (domain.Content, error) {
	c.ID = uuid.NewString()
	c.Version = 1
	c.UpdatedAt = s.now().UTC()
	if c.Status == "" {
		c.Status = "draft"
	}
	if c.Visibility == "" {
		c.Visibility = "public"
	}
	if c.Status == "published" && c.PublishedAt.IsZero() {
		c.PublishedAt = c.UpdatedAt
	}
	if _, err := s.store.InsertContent(ctx, c); err != nil {
		return domain.Content{}, fmt.Errorf("insert content: %w", err)
	}
	s.invalidate(ctx, c.ID, c.CategoryID)
	_, err := s.pub.Emit(ctx, domain.ContentCreated, c.ID, c.Version, c.Payload())
	return c, err
}

func (s *Service) Get(ctx context.Context, id string) (domain.Content, error) {
	return cache.ReadThrough(ctx, s.cache, contentKey(id), s.ttl.EntityTTL, func(ctx context.Context) (domain.Content, error) {
		c, _, err := s.store.GetContent(ctx, id)
		return c, err
	})
}

// List returns content filtered by category or author. Only per-category
// lists are cached; they are the shape other services' events invalidate.
func (s *Service) List(ctx context.Context, f storage.ContentFilter) ([]domain.Content, error) {
	if f.CategoryID == "" || f.AuthorID != "" {
		return s.store.ListContents(ctx, f)
	}
	return cache.ReadThrough(ctx, s.cache, categoryListKey(f.CategoryID), s.ttl.ListTTL, func(ctx context.Context) ([]domain.Content, error) {
		return s.store.ListContents(ctx, f)
	})
}

func applyPatch(c *domain.Content, p domain.ContentPatch) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Body != nil {
		c.Body = *p.Body
	}
	if p.Tags != nil {
		c.Tags = *p.Tags
	}
	if p.CategoryID != nil {
		c.CategoryID = *p.CategoryID
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Visibility != nil {
		c.Visibility = *p.Visibility
	}
}

// Update applies p and publishes content-updated. When the category
// changes the payload carries the previous one so counters can move.
func (s *Service) Update(ctx context.Context, id string, p domain.ContentPatch) (domain.Content, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, etag, err := s.store.GetContent(ctx, id)
		if err != nil {
			return domain.Content{}, err
		}
		next := cur
		applyPatch(&next, p)
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now().UTC()
		if next.Status == "published" && next.PublishedAt.IsZero() {
			next.PublishedAt = next.UpdatedAt
		}
		if _, err := s.store.ReplaceContent(ctx, next, etag); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			return domain.Content{}, fmt.Errorf("replace content %s: %w", id, err)
		}
		s.invalidate(ctx, id, cur.CategoryID, next.CategoryID)

		payload := next.Payload()
		if cur.CategoryID != next.CategoryID {
			payload.PreviousCategoryID = cur.CategoryID
		}
		_, err = s.pub.Emit(ctx, domain.ContentUpdated, id, next.Version, payload)
		return next, err
	}
	return domain.Content{}, fmt.Errorf("%w: content %s", domain.ErrConcurrencyConflict, id)
}

// Delete removes the item and publishes content-deleted with the final
// category so dependents can release it.
func (s *Service) Delete(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, etag, err := s.store.GetContent(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.DeleteContent(ctx, id, etag); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			return fmt.Errorf("delete content %s: %w", id, err)
		}
		s.invalidate(ctx, id, cur.CategoryID)
		cur.UpdatedAt = s.now().UTC()
		_, err = s.pub.Emit(ctx, domain.ContentDeleted, id, cur.Version+1, cur.Payload())
		return err
	}
	return fmt.Errorf("%w: content %s", domain.ErrConcurrencyConflict, id)
}

// Engagement is a view, like or share of a content item.
type Engagement struct {
	Kind            string  `json:"kind"`
	UserID          string  `json:"userId"`
	UserName        string  `json:"userName,omitempty"`
	Device          string  `json:"device,omitempty"`
	Country         string  `json:"country,omitempty"`
	Referrer        string  `json:"referrer,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

var engagementTypes = map[string]string{
	"view":  domain.ContentViewed,
	"like":  domain.ContentLiked,
	"share": domain.ContentShared,
}

// Engage publishes an engagement event for content id. Each engagement is
// its own aggregate so redelivery is deduplicated without ordering it
// against other engagements.
func (s *Service) Engage(ctx context.Context, id string, e Engagement) error {
	eventType, ok := engagementTypes[e.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown engagement kind %q", errBadRequest, e.Kind)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.pub.Emit(ctx, eventType, uuid.NewString(), 1, domain.EngagementPayload{
		UserID:          e.UserID,
		UserName:        e.UserName,
		ContentID:       c.ID,
		AuthorID:        c.AuthorID,
		CategoryID:      c.CategoryID,
		Device:          e.Device,
		Country:         e.Country,
		Referrer:        e.Referrer,
		DurationSeconds: e.DurationSeconds,
	})
	return err
}

var errBadRequest = errors.New("bad request")
