package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"vlog-platform/internal/config"
	"vlog-platform/internal/domain"
)

const (
	EdmInt32    = "Edm.Int32"
	EdmInt64    = "Edm.Int64"
	EdmBoolean  = "Edm.Boolean"
	EdmDateTime = "Edm.DateTime"
	EdmDouble   = "Edm.Double"
)

// Storage wraps the Azure Tables clients backing every primary store and
// projection.
type Storage struct {
	contents      *aztables.Client
	categories    *aztables.Client
	comments      *aztables.Client
	notifications *aztables.Client
	projections   *aztables.Client
	analytics     *aztables.Client
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates table clients from the storage connection string.
func New(connStr string, tables config.Tables) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &Storage{
		contents:      svc.NewClient(tables.Contents),
		categories:    svc.NewClient(tables.Categories),
		comments:      svc.NewClient(tables.Comments),
		notifications: svc.NewClient(tables.Notifications),
		projections:   svc.NewClient(tables.Projections),
		analytics:     svc.NewClient(tables.Analytics),
	}, nil
}

// CreateTables creates every named table, ignoring ones that exist.
func CreateTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return fmt.Errorf("create table %s: %w", name, err)
			}
		}
	}
	return nil
}

// mapErr turns Azure status codes into domain errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
	}
	return err
}

// eq builds an OData equality filter with the value quoted.
func eq(field, value string) string {
	return field + " eq '" + strings.ReplaceAll(value, "'", "''") + "'"
}

func and(filters ...string) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " and ")
}

// entity carries the table keys without the service-managed Timestamp.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

func getEntity(ctx context.Context, c *aztables.Client, pk, rk string, v any) (string, error) {
	resp, err := c.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return "", mapErr(err)
	}
	if err := json.Unmarshal(resp.Value, v); err != nil {
		return "", fmt.Errorf("decode %s/%s: %w", pk, rk, err)
	}
	return string(resp.ETag), nil
}

func addEntity(ctx context.Context, c *aztables.Client, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	resp, err := c.AddEntity(ctx, payload, nil)
	if err != nil {
		return "", mapErr(err)
	}
	return string(resp.ETag), nil
}

func upsertEntity(ctx context.Context, c *aztables.Client, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return mapErr(err)
}

// replaceEntity replaces v when the stored ETag still equals etag. An empty
// etag matches any version.
func replaceEntity(ctx context.Context, c *aztables.Client, v any, etag string, mode aztables.UpdateMode) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	match := azcore.ETagAny
	if etag != "" {
		match = azcore.ETag(etag)
	}
	resp, err := c.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &match, UpdateMode: mode})
	if err != nil {
		return "", mapErr(err)
	}
	return string(resp.ETag), nil
}

func deleteEntity(ctx context.Context, c *aztables.Client, pk, rk, etag string) error {
	match := azcore.ETagAny
	if etag != "" {
		match = azcore.ETag(etag)
	}
	_, err := c.DeleteEntity(ctx, pk, rk, &aztables.DeleteEntityOptions{IfMatch: &match})
	return mapErr(err)
}

// list pages through every entity matching filter and hands each raw entity
// to fn.
func list(ctx context.Context, c *aztables.Client, filter string, fn func([]byte) error) error {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := c.NewListEntitiesPager(opts)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return mapErr(err)
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}
