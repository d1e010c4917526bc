package readmodel

import (
	"context"
	"reflect"
	"strconv"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/domain"
)

type memStore struct {
	rows      map[string]Record
	etag      int
	conflicts int
	deletes   int
}

func (m *memStore) key(t, id string) string { return t + "/" + id }

func (m *memStore) Get(_ context.Context, sourceType, sourceID string) (*Record, error) {
	r, ok := m.rows[m.key(sourceType, sourceID)]
	if !ok {
		return nil, nil
	}
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return &r, nil
}

func (m *memStore) Save(_ context.Context, rec Record) error {
	if m.rows == nil {
		m.rows = map[string]Record{}
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrConcurrencyConflict
	}
	k := m.key(rec.SourceType, rec.SourceID)
	cur, exists := m.rows[k]
	if rec.ETag == "" && exists {
		return domain.ErrConcurrencyConflict
	}
	if rec.ETag != "" && (!exists || cur.ETag != rec.ETag) {
		return domain.ErrConcurrencyConflict
	}
	m.etag++
	rec.ETag = strconv.Itoa(m.etag)
	m.rows[k] = rec
	return nil
}

func (m *memStore) Delete(_ context.Context, sourceType, sourceID, etag string) error {
	k := m.key(sourceType, sourceID)
	cur, ok := m.rows[k]
	if !ok {
		return domain.ErrNotFound
	}
	if etag != "" && cur.ETag != etag {
		return domain.ErrConcurrencyConflict
	}
	delete(m.rows, k)
	m.deletes++
	return nil
}

func (m *memStore) snapshot() map[string]Record {
	out := make(map[string]Record, len(m.rows))
	for k, v := range m.rows {
		v.ETag = ""
		out[k] = v
	}
	return out
}

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func change(op Op, id string, version int64, fields map[string]any) Change {
	return Change{Op: op, SourceType: "content", SourceID: id, Version: version, Fields: fields, At: at}
}

func TestOpFor(t *testing.T) {
	tests := []struct {
		eventType string
		want      Op
		ok        bool
	}{
		{domain.ContentCreated, OpCreated, true},
		{domain.CategoryUpdated, OpUpdated, true},
		{domain.UserDeleted, OpDeleted, true},
		{domain.ContentLiked, 0, false},
	}
	for _, tt := range tests {
		got, ok := OpFor(tt.eventType)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("OpFor(%s) = %v,%v want %v,%v", tt.eventType, got, ok, tt.want, tt.ok)
		}
	}
}

func TestProjectorApplyingTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	changes := []Change{
		change(OpCreated, "c1", 1, map[string]any{"title": "Intro", "authorId": "u1"}),
		change(OpUpdated, "c1", 2, map[string]any{"title": "Intro v2"}),
	}

	once := &memStore{}
	p := NewProjector(once, log.New())
	for _, c := range changes {
		if err := p.Apply(ctx, c); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	twice := &memStore{}
	p = NewProjector(twice, log.New())
	for _, c := range changes {
		for i := 0; i < 2; i++ {
			if err := p.Apply(ctx, c); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
	}

	if !reflect.DeepEqual(once.snapshot(), twice.snapshot()) {
		t.Fatalf("state differs:\n%#v\n%#v", once.snapshot(), twice.snapshot())
	}
	got := twice.rows["content/c1"]
	if got.Version != 2 || got.Fields["title"] != "Intro v2" || got.Fields["authorId"] != "u1" {
		t.Fatalf("unexpected merged record: %#v", got)
	}
}

func TestProjectorIgnoresOlderVersion(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	p := NewProjector(st, log.New())
	_ = p.Apply(ctx, change(OpCreated, "c1", 3, map[string]any{"title": "new"}))
	if err := p.Apply(ctx, change(OpUpdated, "c1", 2, map[string]any{"title": "old"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if st.rows["content/c1"].Fields["title"] != "new" {
		t.Fatalf("older update overwrote newer state")
	}
}

func TestProjectorUpdateForMissingRecordUpserts(t *testing.T) {
	st := &memStore{}
	p := NewProjector(st, log.New())
	if err := p.Apply(context.Background(), change(OpUpdated, "c7", 4, map[string]any{"title": "drifted"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, ok := st.rows["content/c7"]
	if !ok || got.Version != 4 || got.Fields["title"] != "drifted" {
		t.Fatalf("expected self-healing upsert, got %#v", got)
	}
}

func TestProjectorDeleteTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	p := NewProjector(st, log.New())
	_ = p.Apply(ctx, change(OpCreated, "c1", 1, map[string]any{"title": "x"}))

	if err := p.Apply(ctx, change(OpDeleted, "c1", 2, nil)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	first := st.rows["content/c1"]
	if err := p.Apply(ctx, change(OpDeleted, "c1", 2, nil)); err != nil {
		t.Fatalf("redelivered delete: %v", err)
	}
	got := st.rows["content/c1"]
	if !got.Deleted || got.Version != 2 || len(got.Fields) != 0 {
		t.Fatalf("expected tombstone at v2, got %#v", got)
	}
	if got.ETag != first.ETag {
		t.Fatalf("second delete rewrote the tombstone")
	}
}

func TestProjectorStaleUpdateAfterDeleteStaysDeleted(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	p := NewProjector(st, log.New())
	steps := []Change{
		change(OpCreated, "c1", 1, map[string]any{"title": "real"}),
		change(OpDeleted, "c1", 3, nil),
		change(OpUpdated, "c1", 2, map[string]any{"title": "ghost"}),
		change(OpCreated, "c1", 1, map[string]any{"title": "ghost"}),
	}
	for _, c := range steps {
		if err := p.Apply(ctx, c); err != nil {
			t.Fatalf("apply v%d: %v", c.Version, err)
		}
	}
	got := st.rows["content/c1"]
	if !got.Deleted || got.Version != 3 || got.Fields["title"] != nil {
		t.Fatalf("deleted record came back: %#v", got)
	}
}

func TestProjectorDeleteBeforeCreateKeepsTombstone(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	p := NewProjector(st, log.New())
	if err := p.Apply(ctx, change(OpDeleted, "c2", 2, nil)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := p.Apply(ctx, change(OpCreated, "c2", 1, map[string]any{"title": "late"})); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := st.rows["content/c2"]; !got.Deleted || got.Version != 2 {
		t.Fatalf("late create resurrected record: %#v", got)
	}

	if err := p.Apply(ctx, change(OpUpdated, "c2", 4, map[string]any{"title": "restored"})); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := st.rows["content/c2"]; got.Deleted || got.Version != 4 || got.Fields["title"] != "restored" {
		t.Fatalf("newer change should recreate the record, got %#v", got)
	}
}

func TestProjectorPruneDropsOnlyOldTombstones(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	p := NewProjector(st, log.New())
	clock := at
	p.now = func() time.Time { return clock }

	_ = p.Apply(ctx, change(OpCreated, "live", 1, map[string]any{"title": "x"}))
	_ = p.Apply(ctx, change(OpDeleted, "old", 2, nil))
	clock = at.Add(48 * time.Hour)
	_ = p.Apply(ctx, change(OpDeleted, "new", 2, nil))

	recs := make([]Record, 0, len(st.rows))
	for _, r := range st.rows {
		recs = append(recs, r)
	}
	n, err := p.Prune(ctx, recs, at.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned, got %d %v", n, err)
	}
	if _, ok := st.rows["content/old"]; ok {
		t.Fatalf("old tombstone should be gone")
	}
	if _, ok := st.rows["content/new"]; !ok {
		t.Fatalf("recent tombstone must stay")
	}
	if _, ok := st.rows["content/live"]; !ok {
		t.Fatalf("live record must stay")
	}
}

func TestProjectorRetriesOnConflict(t *testing.T) {
	st := &memStore{conflicts: 2}
	p := NewProjector(st, log.New())
	if err := p.Apply(context.Background(), change(OpCreated, "c1", 1, map[string]any{"title": "x"})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := st.rows["content/c1"]; !ok {
		t.Fatalf("expected record after conflicts resolved")
	}
}

func TestProjectorRejectsIncompleteChange(t *testing.T) {
	p := NewProjector(&memStore{}, log.New())
	if err := p.Apply(context.Background(), Change{Op: OpCreated, SourceType: "content"}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := p.Apply(context.Background(), Change{Op: Op(9), SourceType: "content", SourceID: "x"}); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}
