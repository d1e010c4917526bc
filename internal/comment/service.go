// Package comment owns comments on content items.
package comment

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
	"vlog-platform/internal/server"
)

const maxWriteAttempts = 5

type Store interface {
	InsertComment(ctx context.Context, c domain.Comment) error
	GetComment(ctx context.Context, contentID, id string) (domain.Comment, string, error)
	ReplaceComment(ctx context.Context, c domain.Comment, etag string) (string, error)
	ListComments(ctx context.Context, contentID string) ([]domain.Comment, error)
	SoftDeleteComments(ctx context.Context, contentID string) (int, error)
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

// listPattern matches every cached page of a content item's comments.
func listPattern(contentID string) string { return cache.Pattern("comments", "content", contentID) }

func listKey(contentID string, p server.Page) string {
	return cache.Shape("comments", append([]string{"content", contentID}, p.Key()...)...)
}

// repliesPattern matches every cached page of a comment's replies.
func repliesPattern(parentID string) string { return cache.Pattern("comments", "parent", parentID) }

func repliesKey(parentID string, p server.Page) string {
	return cache.Shape("comments", append([]string{"parent", parentID}, p.Key()...)...)
}

// invalidate drops the content's comment pages and, for a reply, the
// parent's reply pages.
func (s *Service) invalidate(ctx context.Context, c domain.Comment) {
	keys := []string{listPattern(c.ContentID)}
	if c.ParentID != "" {
		keys = append(keys, repliesPattern(c.ParentID))
	}
	s.cache.InvalidateLogged(ctx, keys...)
}

// NewComment is a comment as submitted by a caller.
type NewComment struct {
	ContentID       string
	ParentID        string
	AuthorID        string
	AuthorName      string
	ContentAuthorID string
	Body            string
	Mentions        []string
}

// Create stores a comment or reply and publishes comment-created or
// comment-replied, plus one user-mentioned per distinct mentioned user.
func (s *Service) Create(ctx context.Context, in NewComment) (domain.Comment, error) {
	c := domain.Comment{
		ID:              uuid.NewString(),
		ContentID:       in.ContentID,
		ParentID:        in.ParentID,
		AuthorID:        in.AuthorID,
		AuthorName:      in.AuthorName,
		ContentAuthorID: in.ContentAuthorID,
		Body:            in.Body,
		CreatedAt:       s.now().UTC(),
		Version:         1,
	}
	c.UpdatedAt = c.CreatedAt
	eventType := domain.CommentCreated
	if in.ParentID != "" {
		parent, _, err := s.store.GetComment(ctx, in.ContentID, in.ParentID)
		if err != nil {
			return domain.Comment{}, fmt.Errorf("parent comment: %w", err)
		}
		if parent.Deleted {
			return domain.Comment{}, fmt.Errorf("parent comment %s: %w", in.ParentID, domain.ErrNotFound)
		}
		c.ParentAuthorID = parent.AuthorID
		eventType = domain.CommentReplied
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	s.invalidate(ctx, c)

	var errs []error
	if _, err := s.pub.Emit(ctx, eventType, c.ID, c.Version, c.Payload()); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]bool{c.AuthorID: true}
	for _, uid := range in.Mentions {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		_, err := s.pub.Emit(ctx, domain.UserMentioned, c.ID+":"+uid, 1, domain.EngagementPayload{
			UserID:          c.AuthorID,
			UserName:        c.AuthorName,
			ContentID:       c.ContentID,
			CommentID:       c.ID,
			MentionedUserID: uid,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return c, errors.Join(errs...)
}

// List returns one page of live top-level comments for a content item.
func (s *Service) List(ctx context.Context, contentID string, p server.Page) (server.List[domain.Comment], error) {
	return cache.ReadThrough(ctx, s.cache, listKey(contentID, p), s.ttl.ListTTL, func(ctx context.Context) (server.List[domain.Comment], error) {
		return s.page(ctx, contentID, "", p)
	})
}

// Replies returns one page of live replies to parentID.
func (s *Service) Replies(ctx context.Context, contentID, parentID string, p server.Page) (server.List[domain.Comment], error) {
	return cache.ReadThrough(ctx, s.cache, repliesKey(parentID, p), s.ttl.ListTTL, func(ctx context.Context) (server.List[domain.Comment], error) {
		return s.page(ctx, contentID, parentID, p)
	})
}

func (s *Service) page(ctx context.Context, contentID, parentID string, p server.Page) (server.List[domain.Comment], error) {
	all, err := s.store.ListComments(ctx, contentID)
	if err != nil {
		return server.List[domain.Comment]{}, err
	}
	out := make([]domain.Comment, 0, len(all))
	for _, c := range all {
		if c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return server.Paginate(out, p), nil
}

// Update replaces the body of a live comment owned by authorID and
// publishes comment-updated.
func (s *Service) Update(ctx context.Context, contentID, id, authorID, body string) (domain.Comment, error) {
	return s.modify(ctx, contentID, id, authorID, domain.CommentUpdated, func(c *domain.Comment) {
		c.Body = body
		c.Edited = true
	})
}

// Delete soft deletes a live comment owned by authorID and publishes
// comment-deleted. Its replies stay.
func (s *Service) Delete(ctx context.Context, contentID, id, authorID string) (domain.Comment, error) {
	return s.modify(ctx, contentID, id, authorID, domain.CommentDeleted, func(c *domain.Comment) {
		c.Deleted = true
	})
}

func (s *Service) modify(ctx context.Context, contentID, id, authorID, eventType string, change func(*domain.Comment)) (domain.Comment, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, etag, err := s.store.GetComment(ctx, contentID, id)
		if err != nil {
			return domain.Comment{}, fmt.Errorf("comment %s: %w", id, err)
		}
		if cur.Deleted {
			return domain.Comment{}, fmt.Errorf("comment %s: %w", id, domain.ErrNotFound)
		}
		if cur.AuthorID != authorID {
			return domain.Comment{}, fmt.Errorf("comment %s: %w", id, domain.ErrForbidden)
		}
		next := cur
		change(&next)
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now().UTC()
		if _, err := s.store.ReplaceComment(ctx, next, etag); err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			return domain.Comment{}, fmt.Errorf("replace comment %s: %w", id, err)
		}
		s.invalidate(ctx, next)
		_, err = s.pub.Emit(ctx, eventType, id, next.Version, next.Payload())
		return next, err
	}
	return domain.Comment{}, fmt.Errorf("%w: comment %s", domain.ErrConcurrencyConflict, id)
}
