package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"vlog-platform/internal/domain"
)

const (
	categoryRow     = "category"
	memberRowPrefix = "member:"
	memberRowEnd    = "member;" // sorts directly after every member row

	maxMembershipAttempts = 10
)

type categoryEntity struct {
	entity
	Name             string    `json:"Name"`
	Slug             string    `json:"Slug"`
	Description      string    `json:"Description"`
	ParentID         string    `json:"ParentId"`
	Order            int       `json:"Order"`
	OrderType        string    `json:"Order@odata.type"`
	IsActive         bool      `json:"IsActive"`
	IsActiveType     string    `json:"IsActive@odata.type"`
	ContentCount     int64     `json:"ContentCount,string"`
	ContentCountType string    `json:"ContentCount@odata.type"`
	UpdatedAt        time.Time `json:"UpdatedAt"`
	UpdatedAtType    string    `json:"UpdatedAt@odata.type"`
	Version          int64     `json:"Version,string"`
	VersionType      string    `json:"Version@odata.type"`
}

func toCategoryEntity(c domain.Category) categoryEntity {
	return categoryEntity{
		entity:           entity{PartitionKey: c.ID, RowKey: categoryRow},
		Name:             c.Name,
		Slug:             c.Slug,
		Description:      c.Description,
		ParentID:         c.ParentID,
		Order:            c.Order,
		OrderType:        EdmInt32,
		IsActive:         c.IsActive,
		IsActiveType:     EdmBoolean,
		ContentCount:     c.ContentCount,
		ContentCountType: EdmInt64,
		UpdatedAt:        c.UpdatedAt.UTC(),
		UpdatedAtType:    EdmDateTime,
		Version:          c.Version,
		VersionType:      EdmInt64,
	}
}

func (e categoryEntity) category() domain.Category {
	return domain.Category{
		ID:           e.PartitionKey,
		Name:         e.Name,
		Slug:         e.Slug,
		Description:  e.Description,
		ParentID:     e.ParentID,
		Order:        e.Order,
		IsActive:     e.IsActive,
		ContentCount: e.ContentCount,
		UpdatedAt:    e.UpdatedAt,
		Version:      e.Version,
	}
}

// countUpdate merges only the counter so concurrent field edits are kept.
type countUpdate struct {
	entity
	ContentCount     int64  `json:"ContentCount,string"`
	ContentCountType string `json:"ContentCount@odata.type"`
}

// memberEntity marks whether a content item currently belongs to the
// category and the content version that decided it.
type memberEntity struct {
	entity
	Member      bool   `json:"Member"`
	MemberType  string `json:"Member@odata.type"`
	Version     int64  `json:"Version,string"`
	VersionType string `json:"Version@odata.type"`
}

func memberRow(contentID string) string { return memberRowPrefix + contentID }

func (s *Storage) InsertCategory(ctx context.Context, c domain.Category) (string, error) {
	return addEntity(ctx, s.categories, toCategoryEntity(c))
}

func (s *Storage) GetCategory(ctx context.Context, id string) (domain.Category, string, error) {
	var ent categoryEntity
	etag, err := getEntity(ctx, s.categories, id, categoryRow, &ent)
	if err != nil {
		return domain.Category{}, "", err
	}
	return ent.category(), etag, nil
}

// ReplaceCategory overwrites category fields if etag still matches. The
// stored ContentCount is carried by c, which the caller read with etag.
func (s *Storage) ReplaceCategory(ctx context.Context, c domain.Category, etag string) (string, error) {
	return replaceEntity(ctx, s.categories, toCategoryEntity(c), etag, aztables.UpdateModeReplace)
}

// DeleteCategory removes the category row. Membership markers stay so a
// late event for the same pair cannot be applied twice.
func (s *Storage) DeleteCategory(ctx context.Context, id, etag string) error {
	return deleteEntity(ctx, s.categories, id, categoryRow, etag)
}

func (s *Storage) ListCategories(ctx context.Context) ([]domain.Category, error) {
	out := []domain.Category{}
	err := list(ctx, s.categories, eq("RowKey", categoryRow), func(raw []byte) error {
		var ent categoryEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, ent.category())
		return nil
	})
	return out, err
}

// ListMembers returns the ids of content currently counted in categoryID.
func (s *Storage) ListMembers(ctx context.Context, categoryID string) ([]string, error) {
	filter := and(
		eq("PartitionKey", categoryID),
		fmt.Sprintf("RowKey ge '%s' and RowKey lt '%s'", memberRowPrefix, memberRowEnd),
		"Member eq true",
	)
	out := []string{}
	err := list(ctx, s.categories, filter, func(raw []byte) error {
		var ent memberEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, strings.TrimPrefix(ent.RowKey, memberRowPrefix))
		return nil
	})
	return out, err
}

// membershipDelta decides the counter change for moving a marker from cur
// to member at version. ok is false when the marker is already at or past
// version.
func membershipDelta(cur *memberEntity, member bool, version int64) (delta int64, ok bool) {
	if cur != nil && cur.Version >= version {
		return 0, false
	}
	was := cur != nil && cur.Member
	switch {
	case member && !was:
		return 1, true
	case !member && was:
		return -1, true
	default:
		return 0, true
	}
}

// SetMembership records that contentID is (or is no longer) in categoryID as
// of version and adjusts ContentCount when membership flips. Marker and
// counter are written in one entity group transaction guarded by ETags, so
// a redelivered or older event changes nothing. It reports whether the
// counter moved.
func (s *Storage) SetMembership(ctx context.Context, categoryID, contentID string, member bool, version int64) (bool, error) {
	for attempt := 0; attempt < maxMembershipAttempts; attempt++ {
		cat, catETag, err := s.GetCategory(ctx, categoryID)
		if err != nil {
			return false, err
		}
		var cur *memberEntity
		var marker memberEntity
		markerETag, err := getEntity(ctx, s.categories, categoryID, memberRow(contentID), &marker)
		switch {
		case err == nil:
			cur = &marker
		case !errors.Is(err, domain.ErrNotFound):
			return false, err
		}

		delta, ok := membershipDelta(cur, member, version)
		if !ok {
			return false, nil
		}

		next := memberEntity{
			entity:      entity{PartitionKey: categoryID, RowKey: memberRow(contentID)},
			Member:      member,
			MemberType:  EdmBoolean,
			Version:     version,
			VersionType: EdmInt64,
		}
		markerPayload, err := json.Marshal(next)
		if err != nil {
			return false, err
		}
		actions := []aztables.TransactionAction{}
		if cur == nil {
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeAdd, Entity: markerPayload})
		} else {
			et := azcore.ETag(markerETag)
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: markerPayload, IfMatch: &et})
		}
		if delta != 0 {
			count := cat.ContentCount + delta
			if count < 0 {
				count = 0
			}
			payload, err := json.Marshal(countUpdate{
				entity:           entity{PartitionKey: categoryID, RowKey: categoryRow},
				ContentCount:     count,
				ContentCountType: EdmInt64,
			})
			if err != nil {
				return false, err
			}
			et := azcore.ETag(catETag)
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateMerge, Entity: payload, IfMatch: &et})
		}

		if _, err := s.categories.SubmitTransaction(ctx, actions, nil); err != nil {
			if mapped := mapErr(err); errors.Is(mapped, domain.ErrConcurrencyConflict) || isTransactionConflict(err) {
				continue
			}
			return false, fmt.Errorf("membership transaction %s/%s: %w", categoryID, contentID, mapErr(err))
		}
		return delta != 0, nil
	}
	return false, fmt.Errorf("%w: membership %s/%s after %d attempts", domain.ErrConcurrencyConflict, categoryID, contentID, maxMembershipAttempts)
}

func isTransactionConflict(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	switch respErr.ErrorCode {
	case string(aztables.EntityAlreadyExists), string(aztables.UpdateConditionNotSatisfied):
		return true
	}
	return strings.Contains(respErr.Error(), "UpdateConditionNotSatisfied")
}
