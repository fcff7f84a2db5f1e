package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/google/uuid"
)

// listPage is the upstream listing envelope.
type listPage struct {
	Data       []map[string]any `json:"data"`
	HasMore    *bool            `json:"has_more"`
	NextCursor string           `json:"next_cursor"`
	Total      *int64           `json:"total"`
}

// parentKeys maps each type to the attribute carrying its parent's external id.
var parentKeys = map[catalogsync.EntityType]string{
	catalogsync.EntityTypeProduct: "brand_id",
	catalogsync.EntityTypeSKU:     "product_id",
	catalogsync.EntityTypeImage:   "product_id",
	catalogsync.EntityTypeStock:   "sku_id",
}

// CatalogPaginator walks the upstream listing endpoints page by page.
type CatalogPaginator struct {
	client   *CatalogClient
	pageSize int
}

var _ catalogsync.CatalogSource = (*CatalogPaginator)(nil)

// NewCatalogPaginator creates a paginator over the client
func NewCatalogPaginator(client *CatalogClient) *CatalogPaginator {
	return &CatalogPaginator{
		client:   client,
		pageSize: client.config.PageSize,
	}
}

// Count asks the upstream for the total of a type. It returns -1 if the
// upstream does not report one.
func (p *CatalogPaginator) Count(ctx context.Context, tenantID uuid.UUID, entityType catalogsync.EntityType) (int64, error) {
	page, err := p.fetchPage(ctx, tenantID, entityType, 1, 1, "")
	if err != nil {
		return 0, err
	}
	if page.Total == nil {
		return -1, nil
	}
	return *page.Total, nil
}

// ListAll returns a lazy sequence over every entity of a type. Pages are
// fetched as the consumer advances. A page that cannot be fetched yields a
// single error and ends the sequence; no further pages are requested.
func (p *CatalogPaginator) ListAll(ctx context.Context, tenantID uuid.UUID, entityType catalogsync.EntityType) iter.Seq2[catalogsync.ExternalEntity, error] {
	return func(yield func(catalogsync.ExternalEntity, error) bool) {
		pageNum := 1
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(catalogsync.ExternalEntity{}, err)
				return
			}

			page, err := p.fetchPage(ctx, tenantID, entityType, pageNum, p.pageSize, cursor)
			if err != nil {
				yield(catalogsync.ExternalEntity{}, err)
				return
			}

			for _, item := range page.Data {
				if !yield(toExternalEntity(entityType, item), nil) {
					return
				}
			}

			if !hasMore(page, p.pageSize) {
				return
			}
			pageNum++
			cursor = page.NextCursor
		}
	}
}

func (p *CatalogPaginator) fetchPage(ctx context.Context, tenantID uuid.UUID, entityType catalogsync.EntityType, pageNum, pageSize int, cursor string) (*listPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(pageNum))
	query.Set("page_size", strconv.Itoa(pageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if tenantID != uuid.Nil {
		query.Set("tenant_id", tenantID.String())
	}

	body, err := p.client.Fetch(ctx, entityType.Resource(), query)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var page listPage
	if err := dec.Decode(&page); err != nil {
		return nil, &catalogsync.FetchError{
			Kind: catalogsync.FetchErrorPermanent,
			Path: entityType.Resource(),
			Err:  fmt.Errorf("%w: %v", catalogsync.ErrInvalidPayload, err),
		}
	}
	return &page, nil
}

func hasMore(page *listPage, pageSize int) bool {
	if len(page.Data) == 0 {
		return false
	}
	if page.HasMore != nil {
		return *page.HasMore
	}
	return len(page.Data) >= pageSize
}

// toExternalEntity lifts the identifying fields out of a raw item. Items
// without an id keep an empty ExternalID and are rejected downstream.
func toExternalEntity(entityType catalogsync.EntityType, item map[string]any) catalogsync.ExternalEntity {
	e := catalogsync.ExternalEntity{
		EntityType: entityType,
		ExternalID: stringField(item["id"]),
		Attributes: make(map[string]any, len(item)),
	}
	for k, v := range item {
		switch k {
		case "id":
		case "updated_at":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					e.LastModified = t.UTC()
				}
			}
		default:
			e.Attributes[k] = v
		}
	}
	if key, ok := parentKeys[entityType]; ok {
		e.ParentExternalID = stringField(item[key])
		delete(e.Attributes, key)
	}
	return e
}

func stringField(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
