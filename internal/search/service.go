// Package search maintains the search projection of content, categories
// and users and answers simple text queries over it.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/readmodel"
)

type Store interface {
	readmodel.Store
	List(ctx context.Context, sourceType string) ([]readmodel.Record, error)
}

type Publisher interface {
	Emit(ctx context.Context, eventType, aggregateID string, version int64, payload any) (domain.Event, error)
}

// shape names the source type of a projected event and the payload fields
// copied into the record.
type shape struct {
	SourceType string
	Fields     []string
}

var (
	contentShape  = shape{"content", []string{"title", "description", "tags", "authorId", "categoryId", "status", "visibility", "publishedAt"}}
	categoryShape = shape{"category", []string{"name", "slug", "description", "parentId", "isActive"}}
	userShape     = shape{"user", []string{"username", "fullName"}}
)

// Projections maps every projected event type to its shape.
var Projections = map[string]shape{
	domain.ContentCreated:  contentShape,
	domain.ContentUpdated:  contentShape,
	domain.ContentDeleted:  contentShape,
	domain.CategoryCreated: categoryShape,
	domain.CategoryUpdated: categoryShape,
	domain.CategoryDeleted: categoryShape,
	domain.UserCreated:     userShape,
	domain.UserUpdated:     userShape,
	domain.UserDeleted:     userShape,
}

// ErrUnknownType is returned for a query restricted to an unsupported type.
var ErrUnknownType = errors.New("unknown search type")

// SourceTypes lists the searchable source types.
var SourceTypes = []string{contentShape.SourceType, categoryShape.SourceType, userShape.SourceType}

const (
	defaultRetention = 7 * 24 * time.Hour
	sweepInterval    = time.Hour
)

type Service struct {
	store     Store
	projector *readmodel.Projector
	pub       Publisher
	retention time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// New builds the service. pub may be nil, in which case searches are not
// reported as engagement events. Tombstones of deleted sources are kept for
// retention, which should match the consumer's dedup retention.
func New(store Store, pub Publisher, retention time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Service{
		store:     store,
		projector: readmodel.NewProjector(store, logger),
		pub:       pub,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps expired tombstones until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Warn("tombstone sweep failed")
			}
		}
	}
}

// Sweep removes tombstones older than the retention window.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	total := 0
	for _, t := range SourceTypes {
		recs, err := s.store.List(ctx, t)
		if err != nil {
			return total, err
		}
		n, err := s.projector.Prune(ctx, recs, cutoff)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.WithField("pruned", total).Info("tombstones swept")
	}
	return total, nil
}

func (s *Service) Subscribe(d *consumer.Dispatch) error {
	types := make([]string, 0, len(Projections))
	for t := range Projections {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if err := d.On(t, s.onEvent); err != nil {
			return err
		}
	}
	return nil
}

// fields extracts the shape's fields from payload and derives the common
// title.
func (sh shape) fields(payload json.RawMessage) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(sh.Fields)+1)
	for _, f := range sh.Fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	for _, f := range []string{"title", "name", "username"} {
		if v, ok := data[f].(string); ok && v != "" {
			out["title"] = v
			break
		}
	}
	return out, nil
}

func (s *Service) onEvent(ctx context.Context, ev domain.Event) error {
	sh, ok := Projections[ev.Type]
	if !ok {
		return nil
	}
	op, ok := readmodel.OpFor(ev.Type)
	if !ok {
		return fmt.Errorf("no lifecycle op for %s", ev.Type)
	}
	change := readmodel.Change{
		Op:         op,
		SourceType: sh.SourceType,
		SourceID:   ev.AggregateID,
		Version:    ev.Version,
		At:         ev.ProducedAt,
	}
	if op != readmodel.OpDeleted {
		fields, err := sh.fields(ev.Payload)
		if err != nil {
			return fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		change.Fields = fields
	}
	return s.projector.Apply(ctx, change)
}

// Hit is one search result.
type Hit struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Fields map[string]any `json:"fields"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Type   string
	UserID string
}

// Search matches q case-insensitively against every text field of the
// projection. Content that is not public is never returned.
func (s *Service) Search(ctx context.Context, q Query) ([]Hit, error) {
	types := SourceTypes
	if q.Type != "" {
		if !slices.Contains(SourceTypes, q.Type) {
			return nil, fmt.Errorf("%w %q", ErrUnknownType, q.Type)
		}
		types = []string{q.Type}
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var recs []readmodel.Record
	for _, t := range types {
		rs, err := s.store.List(ctx, t)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rs...)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].UpdatedAt.After(recs[j].UpdatedAt) })

	hits := []Hit{}
	for _, r := range recs {
		if r.Deleted {
			continue
		}
		if r.SourceType == contentShape.SourceType {
			if v, _ := r.Fields["visibility"].(string); v != "" && v != "public" {
				continue
			}
		}
		if needle != "" && !matches(r.Fields, needle) {
			continue
		}
		title, _ := r.Fields["title"].(string)
		hits = append(hits, Hit{Type: r.SourceType, ID: r.SourceID, Title: title, Fields: r.Fields})
	}

	if q.UserID != "" && needle != "" && s.pub != nil {
		_, err := s.pub.Emit(ctx, domain.SearchPerformed, uuid.NewString(), 1, domain.EngagementPayload{
			UserID:      q.UserID,
			SearchQuery: q.Text,
		})
		if err != nil {
			s.logger.WithError(err).Warn("search-performed not published")
		}
	}
	return hits, nil
}

func matches(fields map[string]any, needle string) bool {
	for _, v := range fields {
		switch x := v.(type) {
		case string:
			if strings.Contains(strings.ToLower(x), needle) {
				return true
			}
		case []any:
			for _, e := range x {
				if s, ok := e.(string); ok && strings.Contains(strings.ToLower(s), needle) {
					return true
				}
			}
		}
	}
	return false
}
