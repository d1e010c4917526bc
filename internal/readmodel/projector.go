package readmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/domain"
)

// Record is a derived row keyed by its source entity. A deleted source
// leaves a tombstone holding the delete version so older changes stay
// rejected.
type Record struct {
	SourceType string         `json:"sourceType"`
	SourceID   string         `json:"sourceId"`
	Version    int64          `json:"version"`
	Fields     map[string]any `json:"fields"`
	Deleted    bool           `json:"deleted,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	ETag       string         `json:"-"`
}

// Store persists read-model records. Get returns nil for a missing record.
// Save inserts when ETag is empty and otherwise replaces only if the stored
// ETag still matches, failing with domain.ErrConcurrencyConflict.
type Store interface {
	Get(ctx context.Context, sourceType, sourceID string) (*Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, sourceType, sourceID, etag string) error
}

type Op int

const (
	OpCreated Op = iota + 1
	OpUpdated
	OpDeleted
)

// OpFor classifies an event type by its lifecycle suffix.
func OpFor(eventType string) (Op, bool) {
	switch {
	case strings.HasSuffix(eventType, "-created"):
		return OpCreated, true
	case strings.HasSuffix(eventType, "-updated"):
		return OpUpdated, true
	case strings.HasSuffix(eventType, "-deleted"):
		return OpDeleted, true
	default:
		return 0, false
	}
}

// Change is one lifecycle transition of a source entity.
type Change struct {
	Op         Op
	SourceType string
	SourceID   string
	Version    int64
	Fields     map[string]any
	At         time.Time
}

// Projector applies created/updated/deleted changes so that applying the
// same change twice leaves the store unchanged.
type Projector struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

func NewProjector(store Store, logger *log.Logger) *Projector {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Projector{store: store, logger: logger, now: time.Now}
}

func (p *Projector) Apply(ctx context.Context, c Change) error {
	if c.SourceType == "" || c.SourceID == "" {
		return errors.New("change is missing source type or id")
	}
	switch c.Op {
	case OpCreated:
		return p.upsert(ctx, c, false)
	case OpUpdated:
		return p.upsert(ctx, c, true)
	case OpDeleted:
		return p.delete(ctx, c)
	default:
		return fmt.Errorf("unknown change op %d", c.Op)
	}
}

func (p *Projector) fields(c Change) log.Fields {
	return log.Fields{"source_type": c.SourceType, "source_id": c.SourceID, "version": c.Version}
}

func (p *Projector) upsert(ctx context.Context, c Change, merge bool) error {
	for {
		cur, err := p.store.Get(ctx, c.SourceType, c.SourceID)
		if err != nil {
			return err
		}
		next := Record{
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Version:    c.Version,
			Fields:     make(map[string]any, len(c.Fields)),
			UpdatedAt:  c.At.UTC(),
		}
		if cur != nil {
			if c.Version <= cur.Version {
				p.logger.WithFields(p.fields(c)).WithField("current", cur.Version).Debug("stale change ignored")
				return nil
			}
			if cur.Deleted {
				p.logger.WithFields(p.fields(c)).WithField("deleted_at", cur.Version).Info("change after delete, recreating")
			} else if merge {
				for k, v := range cur.Fields {
					next.Fields[k] = v
				}
			}
			next.ETag = cur.ETag
		} else if merge {
			p.logger.WithFields(p.fields(c)).Info("update for missing record, inserting")
		}
		for k, v := range c.Fields {
			next.Fields[k] = v
		}

		err = p.store.Save(ctx, next)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			continue
		}
		return err
	}
}

func (p *Projector) delete(ctx context.Context, c Change) error {
	for {
		cur, err := p.store.Get(ctx, c.SourceType, c.SourceID)
		if err != nil {
			return err
		}
		tomb := Record{
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Version:    c.Version,
			Fields:     map[string]any{},
			Deleted:    true,
			UpdatedAt:  p.now().UTC(),
		}
		switch {
		case cur == nil:
			p.logger.WithFields(p.fields(c)).Info("delete for missing record, keeping tombstone")
		case cur.Deleted && c.Version <= cur.Version:
			p.logger.WithFields(p.fields(c)).Debug("already deleted")
			return nil
		case c.Version < cur.Version:
			p.logger.WithFields(p.fields(c)).WithField("current", cur.Version).Debug("stale delete ignored")
			return nil
		default:
			tomb.ETag = cur.ETag
		}
		err = p.store.Save(ctx, tomb)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			continue
		}
		return err
	}
}

// Prune removes tombstones written before cutoff and reports how many
// went. A tombstone that changed since it was read is kept.
func (p *Projector) Prune(ctx context.Context, recs []Record, cutoff time.Time) (int, error) {
	n := 0
	for _, r := range recs {
		if !r.Deleted || !r.UpdatedAt.Before(cutoff) {
			continue
		}
		err := p.store.Delete(ctx, r.SourceType, r.SourceID, r.ETag)
		switch {
		case err == nil:
			n++
		case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrNotFound):
		default:
			return n, fmt.Errorf("prune %s/%s: %w", r.SourceType, r.SourceID, err)
		}
	}
	return n, nil
}
