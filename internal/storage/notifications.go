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

type notificationEntity struct {
	entity
	SenderID      string    `json:"SenderId"`
	Kind          string    `json:"Kind"`
	Message       string    `json:"Message"`
	RefType       string    `json:"RefType"`
	RefID         string    `json:"RefId"`
	Read          bool      `json:"Read"`
	ReadType      string    `json:"Read@odata.type"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

func toNotificationEntity(n domain.Notification) notificationEntity {
	return notificationEntity{
		entity:        entity{PartitionKey: n.RecipientID, RowKey: n.ID},
		SenderID:      n.SenderID,
		Kind:          n.Kind,
		Message:       n.Message,
		RefType:       n.RefType,
		RefID:         n.RefID,
		Read:          n.Read,
		ReadType:      EdmBoolean,
		CreatedAt:     n.CreatedAt.UTC(),
		CreatedAtType: EdmDateTime,
	}
}

func (e notificationEntity) notification() domain.Notification {
	return domain.Notification{
		ID:          e.RowKey,
		RecipientID: e.PartitionKey,
		SenderID:    e.SenderID,
		Kind:        e.Kind,
		Message:     e.Message,
		RefType:     e.RefType,
		RefID:       e.RefID,
		Read:        e.Read,
		CreatedAt:   e.CreatedAt,
	}
}

// PutNotification writes n unless a row with the same id already exists,
// so redelivery keeps the recipient's read flag.
func (s *Storage) PutNotification(ctx context.Context, n domain.Notification) (bool, error) {
	if _, err := addEntity(ctx, s.notifications, toNotificationEntity(n)); err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListNotifications returns a recipient's notifications, newest first.
func (s *Storage) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.Notification, error) {
	filter := eq("PartitionKey", recipientID)
	if unreadOnly {
		filter = and(filter, "Read eq false")
	}
	out := []domain.Notification{}
	err := list(ctx, s.notifications, filter, func(raw []byte) error {
		var ent notificationEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		out = append(out, ent.notification())
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

type readUpdate struct {
	entity
	Read     bool   `json:"Read"`
	ReadType string `json:"Read@odata.type"`
}

// MarkNotificationsRead flags the given ids read. Unknown ids are skipped.
func (s *Storage) MarkNotificationsRead(ctx context.Context, recipientID string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		upd := readUpdate{entity: entity{PartitionKey: recipientID, RowKey: id}, Read: true, ReadType: EdmBoolean}
		if _, err := replaceEntity(ctx, s.notifications, upd, "", aztables.UpdateModeMerge); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Storage) DeleteNotifications(ctx context.Context, recipientID string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if err := deleteEntity(ctx, s.notifications, recipientID, id, ""); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
