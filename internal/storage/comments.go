package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"vlog-platform/internal/domain"
)

type commentEntity struct {
	entity
	ParentID        string    `json:"ParentId"`
	AuthorID        string    `json:"AuthorId"`
	AuthorName      string    `json:"AuthorName"`
	ContentAuthorID string    `json:"ContentAuthorId"`
	ParentAuthorID  string    `json:"ParentAuthorId"`
	Body            string    `json:"Body"`
	Edited          bool      `json:"Edited"`
	EditedType      string    `json:"Edited@odata.type"`
	Deleted         bool      `json:"Deleted"`
	DeletedType     string    `json:"Deleted@odata.type"`
	CreatedAt       time.Time `json:"CreatedAt"`
	CreatedAtType   string    `json:"CreatedAt@odata.type"`
	UpdatedAt       time.Time `json:"UpdatedAt"`
	UpdatedAtType   string    `json:"UpdatedAt@odata.type"`
	Version         int64     `json:"Version,string"`
	VersionType     string    `json:"Version@odata.type"`
}

func toCommentEntity(c domain.Comment) commentEntity {
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = c.CreatedAt
	}
	return commentEntity{
		entity:          entity{PartitionKey: c.ContentID, RowKey: c.ID},
		ParentID:        c.ParentID,
		AuthorID:        c.AuthorID,
		AuthorName:      c.AuthorName,
		ContentAuthorID: c.ContentAuthorID,
		ParentAuthorID:  c.ParentAuthorID,
		Body:            c.Body,
		Edited:          c.Edited,
		EditedType:      EdmBoolean,
		Deleted:         c.Deleted,
		DeletedType:     EdmBoolean,
		CreatedAt:       c.CreatedAt.UTC(),
		CreatedAtType:   EdmDateTime,
		UpdatedAt:       updated.UTC(),
		UpdatedAtType:   EdmDateTime,
		Version:         c.Version,
		VersionType:     EdmInt64,
	}
}

func (e commentEntity) comment() domain.Comment {
	return domain.Comment{
		ID:              e.RowKey,
		ContentID:       e.PartitionKey,
		ParentID:        e.ParentID,
		AuthorID:        e.AuthorID,
		AuthorName:      e.AuthorName,
		ContentAuthorID: e.ContentAuthorID,
		ParentAuthorID:  e.ParentAuthorID,
		Body:            e.Body,
		Edited:          e.Edited,
		Deleted:         e.Deleted,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		Version:         e.Version,
	}
}

func (s *Storage) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := addEntity(ctx, s.comments, toCommentEntity(c))
	return err
}

func (s *Storage) GetComment(ctx context.Context, contentID, id string) (domain.Comment, string, error) {
	var ent commentEntity
	etag, err := getEntity(ctx, s.comments, contentID, id, &ent)
	if err != nil {
		return domain.Comment{}, "", err
	}
	return ent.comment(), etag, nil
}

// ReplaceComment overwrites a comment if etag still matches.
func (s *Storage) ReplaceComment(ctx context.Context, c domain.Comment, etag string) (string, error) {
	return replaceEntity(ctx, s.comments, toCommentEntity(c), etag, aztables.UpdateModeReplace)
}

// ListComments returns live comments of a content item, oldest first.
func (s *Storage) ListComments(ctx context.Context, contentID string) ([]domain.Comment, error) {
	out := []domain.Comment{}
	err := list(ctx, s.comments, eq("PartitionKey", contentID), func(raw []byte) error {
		var ent commentEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		if !ent.Deleted {
			out = append(out, ent.comment())
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

type commentTombstone struct {
	entity
	Deleted     bool   `json:"Deleted"`
	DeletedType string `json:"Deleted@odata.type"`
}

// SoftDeleteComments marks every comment of contentID deleted and returns
// how many rows changed. Already deleted rows are left alone.
func (s *Storage) SoftDeleteComments(ctx context.Context, contentID string) (int, error) {
	var ids []string
	err := list(ctx, s.comments, and(eq("PartitionKey", contentID), "Deleted eq false"), func(raw []byte) error {
		var ent commentEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		ids = append(ids, ent.RowKey)
		return nil
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		tomb := commentTombstone{entity: entity{PartitionKey: contentID, RowKey: id}, Deleted: true, DeletedType: EdmBoolean}
		if _, err := replaceEntity(ctx, s.comments, tomb, "", aztables.UpdateModeMerge); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
