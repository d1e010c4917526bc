package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/cache"
	"vlog-platform/internal/config"
	"vlog-platform/internal/consumer"
	"vlog-platform/internal/domain"
	"vlog-platform/internal/storage"
)

type memStore struct {
	mu        sync.Mutex
	items     map[string]domain.Content
	etags     map[string]int
	conflicts int
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{items: map[string]domain.Content{}, etags: map[string]int{}}
}

func (m *memStore) InsertContent(_ context.Context, c domain.Content) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return "", m.insertErr
	}
	if _, ok := m.items[c.ID]; ok {
		return "", domain.ErrConcurrencyConflict
	}
	m.items[c.ID] = c
	m.etags[c.ID] = 1
	return "1", nil
}

func (m *memStore) GetContent(_ context.Context, id string) (domain.Content, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return domain.Content{}, "", fmt.Errorf("content %s: %w", id, domain.ErrNotFound)
	}
	return c, fmt.Sprint(m.etags[id]), nil
}

func (m *memStore) ReplaceContent(_ context.Context, c domain.Content, etag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		m.etags[c.ID]++
		return "", domain.ErrConcurrencyConflict
	}
	if fmt.Sprint(m.etags[c.ID]) != etag {
		return "", domain.ErrConcurrencyConflict
	}
	m.items[c.ID] = c
	m.etags[c.ID]++
	return fmt.Sprint(m.etags[c.ID]), nil
}

func (m *memStore) DeleteContent(_ context.Context, id, etag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return domain.ErrNotFound
	}
	if fmt.Sprint(m.etags[id]) != etag {
		return domain.ErrConcurrencyConflict
	}
	delete(m.items, id)
	return nil
}

func (m *memStore) ListContents(_ context.Context, f storage.ContentFilter) ([]domain.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Content{}
	for _, c := range m.items {
		if f.CategoryID != "" && c.CategoryID != f.CategoryID {
			continue
		}
		if f.AuthorID != "" && c.AuthorID != f.AuthorID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type emitted struct {
	Type        string
	AggregateID string
	Version     int64
	Payload     any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (p *fakePublisher) Emit(_ context.Context, eventType, aggregateID string, version int64, payload any) (domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, emitted{eventType, aggregateID, version, payload})
	return domain.Event{Type: eventType, AggregateID: aggregateID, Version: version}, p.err
}

type fixture struct {
	svc   *Service
	store *memStore
	pub   *fakePublisher
	mr    *miniredis.Miniredis
	e     *echo.Echo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	pub := &fakePublisher{}
	svc := New(store, cache.New(client, log.New()), pub, config.Cache{EntityTTL: time.Hour, ListTTL: time.Minute}, log.New())
	e := echo.New()
	svc.Register(e)
	return &fixture{svc: svc, store: store, pub: pub, mr: mr, e: e}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

type mutation struct {
	Data        domain.Content `json:"data"`
	SyncDelayed bool           `json:"syncDelayed"`
}

func decodeMutation(t *testing.T, rec *httptest.ResponseRecorder) mutation {
	t.Helper()
	var m mutation
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestCreateInvalidatesListAndPublishes(t *testing.T) {
	f := newFixture(t)
	f.mr.Set("content:category:cat1", "stale")

	rec := f.do(http.MethodPost, "/api/contents", `{"title":"Intro","authorId":"u1","categoryId":"cat1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeMutation(t, rec)
	if out.SyncDelayed || out.Data.ID == "" || out.Data.Version != 1 {
		t.Fatalf("unexpected response %+v", out)
	}
	if f.mr.Exists("content:category:cat1") {
		t.Fatalf("expected category list to be invalidated")
	}
	if len(f.pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(f.pub.events))
	}
	ev := f.pub.events[0]
	if ev.Type != domain.ContentCreated || ev.AggregateID != out.Data.ID || ev.Version != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if p := ev.Payload.(domain.ContentPayload); p.AuthorID != "u1" || p.CategoryID != "cat1" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestCreateReportsDelayedSync(t *testing.T) {
	f := newFixture(t)
	f.pub.err = fmt.Errorf("%w: bus down", domain.ErrDegradedSync)

	rec := f.do(http.MethodPost, "/api/contents", `{"title":"Intro","authorId":"u1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	out := decodeMutation(t, rec)
	if !out.SyncDelayed {
		t.Fatalf("expected syncDelayed")
	}
	if _, _, err := f.store.GetContent(context.Background(), out.Data.ID); err != nil {
		t.Fatalf("write should stay committed: %v", err)
	}
}

func TestCreateStoreFailureDoesNotPublish(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = errors.New("table down")

	rec := f.do(http.MethodPost, "/api/contents", `{"title":"Intro","authorId":"u1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(f.pub.events) != 0 {
		t.Fatalf("failed write must not publish")
	}
}

func TestCreateRejectsBadBody(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/contents", `{"title":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/contents", `{"title":"x","authorId":"u","bogus":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestUpdateMovesCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.Create(ctx, domain.Content{Title: "Intro", AuthorID: "u1", CategoryID: "cat1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.mr.Set("content:category:cat1", "stale")
	f.mr.Set("content:category:cat2", "stale")
	f.mr.Set("content:"+c.ID, "stale")
	f.store.conflicts = 1

	rec := f.do(http.MethodPatch, "/api/contents/"+c.ID, `{"categoryId":"cat2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, key := range []string{"content:category:cat1", "content:category:cat2", "content:" + c.ID} {
		if f.mr.Exists(key) {
			t.Fatalf("expected %s to be invalidated", key)
		}
	}
	ev := f.pub.events[len(f.pub.events)-1]
	if ev.Type != domain.ContentUpdated || ev.Version != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	p := ev.Payload.(domain.ContentPayload)
	if p.CategoryID != "cat2" || p.PreviousCategoryID != "cat1" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPatch, "/api/contents/nope", `{"title":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.svc.Create(ctx, domain.Content{Title: "Intro", AuthorID: "u1"})

	if rec := f.do(http.MethodGet, "/api/contents/"+c.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f.store.items[c.ID] = domain.Content{ID: c.ID, Title: "changed behind the cache"}

	got, err := f.svc.Get(ctx, c.ID)
	if err != nil || got.Title != "Intro" {
		t.Fatalf("expected cached title, got %+v %v", got, err)
	}
	if rec := f.do(http.MethodGet, "/api/contents/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeletePublishesNextVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := f.svc.Create(ctx, domain.Content{Title: "Intro", AuthorID: "u1", CategoryID: "cat1"})

	if rec := f.do(http.MethodDelete, "/api/contents/"+c.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	ev := f.pub.events[len(f.pub.events)-1]
	if ev.Type != domain.ContentDeleted || ev.Version != 2 || ev.Payload.(domain.ContentPayload).CategoryID != "cat1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, _, err := f.store.GetContent(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected content to be gone, got %v", err)
	}
}

func TestEngageLikeCarriesAuthor(t *testing.T) {
	f := newFixture(t)
	c, _ := f.svc.Create(context.Background(), domain.Content{Title: "Intro", AuthorID: "author"})

	rec := f.do(http.MethodPost, "/api/contents/"+c.ID+"/engagements", `{"kind":"like","userId":"fan"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	ev := f.pub.events[len(f.pub.events)-1]
	p := ev.Payload.(domain.EngagementPayload)
	if ev.Type != domain.ContentLiked || p.AuthorID != "author" || p.UserID != "fan" || p.ContentID != c.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
	if rec := f.do(http.MethodPost, "/api/contents/"+c.ID+"/engagements", `{"kind":"poke","userId":"fan"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rec.Code)
	}
}

func TestCategoryEventsPurgeCategoryList(t *testing.T) {
	f := newFixture(t)
	d := consumer.NewDispatch()
	if err := f.svc.Subscribe(d); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f.mr.Set("content:category:cat1", "stale")

	h, ok := d.Lookup(domain.TopicCategory, domain.CategoryDeleted)
	if !ok {
		t.Fatalf("expected category-deleted route")
	}
	if err := h(context.Background(), domain.Event{Topic: domain.TopicCategory, Type: domain.CategoryDeleted, AggregateID: "cat1", Version: 3}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.mr.Exists("content:category:cat1") {
		t.Fatalf("expected list to be purged")
	}
}
