package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"vlog-platform/internal/domain"
	"vlog-platform/internal/readmodel"
)

type projectionEntity struct {
	entity
	Fields        string    `json:"Fields"`
	Deleted       bool      `json:"Deleted"`
	DeletedType   string    `json:"Deleted@odata.type"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
	Version       int64     `json:"Version,string"`
	VersionType   string    `json:"Version@odata.type"`
}

func toProjectionEntity(r readmodel.Record) (projectionEntity, error) {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return projectionEntity{}, fmt.Errorf("encode fields of %s/%s: %w", r.SourceType, r.SourceID, err)
	}
	return projectionEntity{
		entity:        entity{PartitionKey: r.SourceType, RowKey: r.SourceID},
		Fields:        string(fields),
		Deleted:       r.Deleted,
		DeletedType:   EdmBoolean,
		UpdatedAt:     r.UpdatedAt.UTC(),
		UpdatedAtType: EdmDateTime,
		Version:       r.Version,
		VersionType:   EdmInt64,
	}, nil
}

func (e projectionEntity) record(etag string) (readmodel.Record, error) {
	fields := map[string]any{}
	if e.Fields != "" {
		if err := json.Unmarshal([]byte(e.Fields), &fields); err != nil {
			return readmodel.Record{}, fmt.Errorf("decode fields of %s/%s: %w", e.PartitionKey, e.RowKey, err)
		}
	}
	return readmodel.Record{
		SourceType: e.PartitionKey,
		SourceID:   e.RowKey,
		Version:    e.Version,
		Fields:     fields,
		Deleted:    e.Deleted,
		UpdatedAt:  e.UpdatedAt,
		ETag:       etag,
	}, nil
}

// Projections is the readmodel.Store backed by the projections table.
type Projections struct {
	client *aztables.Client
}

func (s *Storage) Projections() *Projections {
	return &Projections{client: s.projections}
}

func (p *Projections) Get(ctx context.Context, sourceType, sourceID string) (*readmodel.Record, error) {
	var ent projectionEntity
	etag, err := getEntity(ctx, p.client, sourceType, sourceID, &ent)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := ent.record(etag)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Projections) Save(ctx context.Context, rec readmodel.Record) error {
	ent, err := toProjectionEntity(rec)
	if err != nil {
		return err
	}
	if rec.ETag == "" {
		_, err = addEntity(ctx, p.client, ent)
		return err
	}
	_, err = replaceEntity(ctx, p.client, ent, rec.ETag, aztables.UpdateModeReplace)
	return err
}

func (p *Projections) Delete(ctx context.Context, sourceType, sourceID, etag string) error {
	return deleteEntity(ctx, p.client, sourceType, sourceID, etag)
}

// listedProjection is a listed row with the ETag the service returns
// alongside each entity.
type listedProjection struct {
	projectionEntity
	ETag string `json:"odata.etag"`
}

// List returns every record of sourceType, or of all types when empty,
// tombstones included.
func (p *Projections) List(ctx context.Context, sourceType string) ([]readmodel.Record, error) {
	filter := ""
	if sourceType != "" {
		filter = eq("PartitionKey", sourceType)
	}
	out := []readmodel.Record{}
	err := list(ctx, p.client, filter, func(raw []byte) error {
		var ent listedProjection
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		rec, err := ent.record(ent.ETag)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
