// Package category owns the category hierarchy and the per-category
// content counters derived from content events.
package category

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/cache"
	"vlog-platform/internal/config"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/readmodel"
)

const maxWriteAttempts = 5

type Store interface {
	InsertCategory(ctx context.Context, c domain.Category) (string, error)
	GetCategory(ctx context.Context, id string) (domain.Category, string, error)
	ReplaceCategory(ctx context.Context, c domain.Category, etag string) (string, error)
	DeleteCategory(ctx context.Context, id, etag string) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListMembers(ctx context.Context, categoryID string) ([]string, error)
	SetMembership(ctx context.Context, categoryID, contentID string, member bool, version int64) (bool, error)
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

var (
	keyAll             = cache.Shape("categories", "all")
	keyAllWithInactive = cache.Shape("categories", "all", "with-inactive")
	keyTree            = cache.Shape("categories", "tree")
)

func categoryKey(id string) string { return cache.Key("category", id) }
func contentsKey(id string) string { return cache.Shape("category", id, "contents") }

// invalidate drops every cached shape that includes the given categories.
func (s *Service) invalidate(ctx context.Context, ids ...string) {
	keys := []string{keyAll, keyAllWithInactive, keyTree}
	for _, id := range ids {
		if id != "" {
			keys = append(keys, categoryKey(id), contentsKey(id))
		}
	}
	s.cache.InvalidateLogged(ctx, keys...)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// checkParent rejects a parent that is missing or would make id its own
// ancestor.
func (s *Service) checkParent(ctx context.Context, id, parentID string) error {
	if parentID == "" {
		return nil
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, c := range cats {
		if c.ID == parentID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("parent category %s: %w", parentID, domain.ErrNotFound)
	}
	return readmodel.CheckReparent(cats, id, parentID)
}

func (s *Service) Create(ctx context.Context, c domain.Category) (domain.Category, error) {
	c.ID = uuid.NewString()
	if err := s.checkParent(ctx, c.ID, c.ParentID); err != nil {
		return domain.Category{}, err
	}
	if c.Slug == "" {
		c.Slug = slugify(c.Name)
	}
	c.ContentCount = 0
	c.Version = 1
	c.UpdatedAt = s.now().UTC()
	if _, err := s.store.InsertCategory(ctx, c); err != nil {
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}
	s.invalidate(ctx, c.ID, c.ParentID)
	_, err := s.pub.Emit(ctx, domain.CategoryCreated, c.ID, c.Version, c.Payload())
	return c, err
}

func (s *Service) Get(ctx context.Context, id string) (domain.Category, error) {
	return cache.ReadThrough(ctx, s.cache, categoryKey(id), s.ttl.EntityTTL, func(ctx context.Context) (domain.Category, error) {
		c, _, err := s.store.GetCategory(ctx, id)
		return c, err
	})
}

func (s *Service) List(ctx context.Context, includeInactive bool) ([]domain.Category, error) {
	key := keyAll
	if includeInactive {
		key = keyAllWithInactive
	}
	return cache.ReadThrough(ctx, s.cache, key, s.ttl.ListTTL, func(ctx context.Context) ([]domain.Category, error) {
		cats, err := s.store.ListCategories(ctx)
		if err != nil || includeInactive {
			return cats, err
		}
		active := make([]domain.Category, 0, len(cats))
		for _, c := range cats {
			if c.IsActive {
				active = append(active, c)
			}
		}
		return active, nil
	})
}

// Tree returns the active hierarchy. The whole forest is cached under one
// key so readers see either the previous or the rebuilt tree.
func (s *Service) Tree(ctx context.Context) ([]*readmodel.TreeNode, error) {
	return cache.ReadThrough(ctx, s.cache, keyTree, s.ttl.ListTTL, func(ctx context.Context) ([]*readmodel.TreeNode, error) {
		cats, err := s.store.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		roots, orphans, err := readmodel.BuildTree(cats)
		if err != nil {
			return nil, fmt.Errorf("build category tree: %v", err)
		}
		if len(orphans) > 0 {
			s.logger.WithField("orphans", orphans).Warn("categories with missing or inactive parent left out of tree")
		}
		return roots, nil
	})
}

// Contents lists the content ids counted in a category.
func (s *Service) Contents(ctx context.Context, id string) ([]string, error) {
	return cache.ReadThrough(ctx, s.cache, contentsKey(id), s.ttl.ListTTL, func(ctx context.Context) ([]string, error) {
		if _, _, err := s.store.GetCategory(ctx, id); err != nil {
			return nil, err
		}
		return s.store.ListMembers(ctx, id)
	})
}

func applyPatch(c *domain.Category, p domain.CategoryPatch) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Slug != nil {
		c.Slug = *p.Slug
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.ParentID != nil {
		c.ParentID = *p.ParentID
	}
	if p.Order != nil {
		c.Order = *p.Order
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

// Update applies p. A parent change that would introduce a cycle fails with
// domain.ErrCycle before anything is written.
func (s *Service) Update(ctx context.Context, id string, p domain.CategoryPatch) (domain.Category, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, etag, err := s.store.GetCategory(ctx, id)
		if err != nil {
			return domain.Category{}, err
		}
		next := cur
		applyPatch(&next, p)
		if next.ParentID != cur.ParentID {
			if err := s.checkParent(ctx, id, next.ParentID); err != nil {
				return domain.Category{}, err
			}
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now().UTC()
		if _, err := s.store.ReplaceCategory(ctx, next, etag); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			return domain.Category{}, fmt.Errorf("replace category %s: %w", id, err)
		}
		s.invalidate(ctx, id, cur.ParentID, next.ParentID)
		_, err = s.pub.Emit(ctx, domain.CategoryUpdated, id, next.Version, next.Payload())
		return next, err
	}
	return domain.Category{}, fmt.Errorf("%w: category %s", domain.ErrConcurrencyConflict, id)
}

// Delete removes the category. Children keep their parent id and drop out
// of the tree as orphans until re-parented.
func (s *Service) Delete(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, etag, err := s.store.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.DeleteCategory(ctx, id, etag); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			return fmt.Errorf("delete category %s: %w", id, err)
		}
		s.invalidate(ctx, id, cur.ParentID)
		cur.UpdatedAt = s.now().UTC()
		_, err = s.pub.Emit(ctx, domain.CategoryDeleted, id, cur.Version+1, cur.Payload())
		return err
	}
	return fmt.Errorf("%w: category %s", domain.ErrConcurrencyConflict, id)
}
