package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"vlog-platform/internal/domain"
)

const contentPartition = "content"

type contentEntity struct {
	entity
	Title           string    `json:"Title"`
	Description     string    `json:"Description"`
	Body            string    `json:"Body"`
	Tags            string    `json:"Tags"`
	AuthorID        string    `json:"AuthorId"`
	CategoryID      string    `json:"CategoryId"`
	Status          string    `json:"Status"`
	Visibility      string    `json:"Visibility"`
	PublishedAt     time.Time `json:"PublishedAt"`
	PublishedAtType string    `json:"PublishedAt@odata.type"`
	UpdatedAt       time.Time `json:"UpdatedAt"`
	UpdatedAtType   string    `json:"UpdatedAt@odata.type"`
	Version         int64     `json:"Version,string"`
	VersionType     string    `json:"Version@odata.type"`
}

func toContentEntity(c domain.Content) contentEntity {
	tags, _ := json.Marshal(c.Tags)
	return contentEntity{
		entity:          entity{PartitionKey: contentPartition, RowKey: c.ID},
		Title:           c.Title,
		Description:     c.Description,
		Body:            c.Body,
		Tags:            string(tags),
		AuthorID:        c.AuthorID,
		CategoryID:      c.CategoryID,
		Status:          c.Status,
		Visibility:      c.Visibility,
		PublishedAt:     c.PublishedAt.UTC(),
		PublishedAtType: EdmDateTime,
		UpdatedAt:       c.UpdatedAt.UTC(),
		UpdatedAtType:   EdmDateTime,
		Version:         c.Version,
		VersionType:     EdmInt64,
	}
}

func (e contentEntity) content() domain.Content {
	var tags []string
	if e.Tags != "" {
		_ = json.Unmarshal([]byte(e.Tags), &tags)
	}
	return domain.Content{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Body:        e.Body,
		Tags:        tags,
		AuthorID:    e.AuthorID,
		CategoryID:  e.CategoryID,
		Status:      e.Status,
		Visibility:  e.Visibility,
		PublishedAt: e.PublishedAt,
		UpdatedAt:   e.UpdatedAt,
		Version:     e.Version,
	}
}

// InsertContent adds a new content row. An existing id is reported as
// domain.ErrConcurrencyConflict.
func (s *Storage) InsertContent(ctx context.Context, c domain.Content) (string, error) {
	return addEntity(ctx, s.contents, toContentEntity(c))
}

// GetContent returns the content and its ETag.
func (s *Storage) GetContent(ctx context.Context, id string) (domain.Content, string, error) {
	var ent contentEntity
	etag, err := getEntity(ctx, s.contents, contentPartition, id, &ent)
	if err != nil {
		return domain.Content{}, "", err
	}
	return ent.content(), etag, nil
}

// ReplaceContent overwrites the row if etag still matches.
func (s *Storage) ReplaceContent(ctx context.Context, c domain.Content, etag string) (string, error) {
	return replaceEntity(ctx, s.contents, toContentEntity(c), etag, aztables.UpdateModeReplace)
}

func (s *Storage) DeleteContent(ctx context.Context, id, etag string) error {
	return deleteEntity(ctx, s.contents, contentPartition, id, etag)
}

// ContentFilter narrows ListContents. Empty fields match everything.
type ContentFilter struct {
	CategoryID string
	AuthorID   string
}

func (f ContentFilter) odata() string {
	filter := eq("PartitionKey", contentPartition)
	if f.CategoryID != "" {
		filter = and(filter, eq("CategoryId", f.CategoryID))
	}
	if f.AuthorID != "" {
		filter = and(filter, eq("AuthorId", f.AuthorID))
	}
	return filter
}

func (s *Storage) ListContents(ctx context.Context, f ContentFilter) ([]domain.Content, error) {
	out := []domain.Content{}
	err := list(ctx, s.contents, f.odata(), func(raw []byte) error {
		var ent contentEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, ent.content())
		return nil
	})
	return out, err
}
