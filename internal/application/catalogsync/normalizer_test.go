package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// mapLookup resolves parents from a fixed map keyed by "type/externalID".
func mapLookup(known map[string]uuid.UUID) catalogsync.ParentLookup {
	return func(_ context.Context, t catalogsync.EntityType, id string) (uuid.UUID, error) {
		if v, ok := known[string(t)+"/"+id]; ok {
			return v, nil
		}
		return uuid.Nil, catalogsync.ErrParentNotFound
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer()
	ctx := context.Background()
	tenantID := uuid.New()
	brandID := uuid.New()
	categoryID := uuid.New()
	lookup := mapLookup(map[string]uuid.UUID{
		"brand/B1":    brandID,
		"category/C1": categoryID,
	})

	t.Run("brand", func(t *testing.T) {
		modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		rec, warnings, err := n.Normalize(ctx, tenantID, catalogsync.ExternalEntity{
			EntityType:   catalogsync.EntityTypeBrand,
			ExternalID:   "B1",
			LastModified: modified,
			Attributes:   map[string]any{"name": "  Acme ", "logo_url": "https://x/logo.png"},
		}, lookup)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, tenantID, rec.TenantID)
		assert.Nil(t, rec.ParentID)
		assert.Equal(t, &catalogsync.BrandAttributes{Name: "Acme", LogoURL: "https://x/logo.png"}, rec.Attributes)
		require.NotNil(t, rec.SourceUpdatedAt)
		assert.True(t, modified.Equal(*rec.SourceUpdatedAt))
		assert.Len(t, rec.ContentHash, 64)
	})

	t.Run("product resolves brand and category", func(t *testing.T) {
		rec, warnings, err := n.Normalize(ctx, tenantID, catalogsync.ExternalEntity{
			EntityType:       catalogsync.EntityTypeProduct,
			ExternalID:       "P1",
			ParentExternalID: "B1",
			Attributes: map[string]any{
				"title":       "Runner",
				"price":       json.Number("129.50"),
				"status":      "on_sale",
				"category_id": "C1",
			},
		}, lookup)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.NotNil(t, rec.ParentID)
		assert.Equal(t, brandID, *rec.ParentID)
		require.NotNil(t, rec.CategoryID)
		assert.Equal(t, categoryID, *rec.CategoryID)

		attrs := rec.Attributes.(*catalogsync.ProductAttributes)
		assert.Equal(t, catalogsync.ProductStatusActive, attrs.Status)
		assert.True(t, decimal.RequireFromString("129.50").Equal(attrs.Price))
	})

	t.Run("unknown category is dropped with a warning", func(t *testing.T) {
		rec, warnings, err := n.Normalize(ctx, tenantID, catalogsync.ExternalEntity{
			EntityType:       catalogsync.EntityTypeProduct,
			ExternalID:       "P2",
			ParentExternalID: "B1",
			Attributes:       map[string]any{"title": "Runner", "category_id": "C404"},
		}, lookup)
		require.NoError(t, err)
		assert.Nil(t, rec.CategoryID)
		require.Len(t, warnings, 1)
		assert.Equal(t, "category_id", warnings[0].Field)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, _, err := n.Normalize(ctx, tenantID, catalogsync.ExternalEntity{
			EntityType:       catalogsync.EntityTypeProduct,
			ExternalID:       "P3",
			ParentExternalID: "B404",
			Attributes:       map[string]any{"title": "Runner"},
		}, lookup)
		var missing *catalogsync.MissingDependencyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, catalogsync.EntityTypeBrand, missing.ParentType)
		assert.Equal(t, "B404", missing.ParentExternalID)
		assert.ErrorIs(t, err, catalogsync.ErrMissingDependency)
	})

	t.Run("lookup failure is not a missing dependency", func(t *testing.T) {
		broken := func(context.Context, catalogsync.EntityType, string) (uuid.UUID, error) {
			return uuid.Nil, errors.New("connection reset")
		}
		_, _, err := n.Normalize(ctx, tenantID, catalogsync.ExternalEntity{
			EntityType:       catalogsync.EntityTypeSKU,
			ExternalID:       "S1",
			ParentExternalID: "P1",
			Attributes:       map[string]any{"code": "S1"},
		}, broken)
		require.Error(t, err)
		assert.NotErrorIs(t, err, catalogsync.ErrMissingDependency)
	})

	t.Run("tombstone", func(t *testing.T) {
		_, _, err := n.Normalize(ctx, tenantID, catalogsync.ExternalEntity{
			EntityType: catalogsync.EntityTypeBrand,
			ExternalID: "B9",
			Attributes: map[string]any{"name": "Old", "deleted": true},
		}, lookup)
		assert.ErrorIs(t, err, ErrTombstone)
	})
}

func TestNormalizer_ValidationErrors(t *testing.T) {
	n := NewNormalizer()
	lookup := mapLookup(map[string]uuid.UUID{"product/P1": uuid.New()})

	tests := []struct {
		name      string
		entity    catalogsync.ExternalEntity
		wantField string
	}{
		{
			name:      "missing id",
			entity:    catalogsync.ExternalEntity{EntityType: catalogsync.EntityTypeBrand, Attributes: map[string]any{"name": "x"}},
			wantField: "id",
		},
		{
			name:      "missing brand name",
			entity:    catalogsync.ExternalEntity{EntityType: catalogsync.EntityTypeBrand, ExternalID: "B1", Attributes: map[string]any{}},
			wantField: "name",
		},
		{
			name: "missing parent reference",
			entity: catalogsync.ExternalEntity{
				EntityType: catalogsync.EntityTypeSKU, ExternalID: "S1", Attributes: map[string]any{"code": "S1"},
			},
			wantField: "product_id",
		},
		{
			name: "image url must be absolute",
			entity: catalogsync.ExternalEntity{
				EntityType: catalogsync.EntityTypeImage, ExternalID: "I1", ParentExternalID: "P1",
				Attributes: map[string]any{"url": "not a url"},
			},
			wantField: "url",
		},
		{
			name: "stock needs a warehouse",
			entity: catalogsync.ExternalEntity{
				EntityType: catalogsync.EntityTypeStock, ExternalID: "ST1", ParentExternalID: "S1",
				Attributes: map[string]any{"quantity": 3},
			},
			wantField: "warehouse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := n.Normalize(context.Background(), uuid.New(), tt.entity, lookup)
			var verr *catalogsync.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.ErrorIs(t, err, catalogsync.ErrValidation)
		})
	}
}

func TestNormalizer_Coercion(t *testing.T) {
	n := NewNormalizer()
	skuID := uuid.New()
	lookup := mapLookup(map[string]uuid.UUID{"sku/S1": skuID, "brand/B1": uuid.New()})

	t.Run("invalid optional numbers default to zero", func(t *testing.T) {
		rec, warnings, err := n.Normalize(context.Background(), uuid.New(), catalogsync.ExternalEntity{
			EntityType:       catalogsync.EntityTypeStock,
			ExternalID:       "ST1",
			ParentExternalID: "S1",
			Attributes:       map[string]any{"warehouse": "WH", "quantity": json.Number("-4"), "reserved": "lots"},
		}, lookup)
		require.NoError(t, err)
		attrs := rec.Attributes.(*catalogsync.StockAttributes)
		assert.Zero(t, attrs.Quantity)
		assert.Zero(t, attrs.Reserved)
		assert.Len(t, warnings, 2)
	})

	t.Run("product status", func(t *testing.T) {
		tests := []struct {
			raw      any
			want     catalogsync.ProductStatus
			warnings int
		}{
			{nil, catalogsync.ProductStatusActive, 0},
			{"ACTIVE", catalogsync.ProductStatusActive, 0},
			{"unpublished", catalogsync.ProductStatusDraft, 0},
			{"discontinued", catalogsync.ProductStatusArchived, 0},
			{"weird", catalogsync.ProductStatusDraft, 1},
		}
		for _, tt := range tests {
			attrs := map[string]any{"title": "T"}
			if tt.raw != nil {
				attrs["status"] = tt.raw
			}
			rec, warnings, err := n.Normalize(context.Background(), uuid.New(), catalogsync.ExternalEntity{
				EntityType:       catalogsync.EntityTypeProduct,
				ExternalID:       "P1",
				ParentExternalID: "B1",
				Attributes:       attrs,
			}, lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Attributes.(*catalogsync.ProductAttributes).Status, "raw=%v", tt.raw)
			assert.Len(t, warnings, tt.warnings, "raw=%v", tt.raw)
		}
	})

	t.Run("hash ignores internal ids", func(t *testing.T) {
		e := catalogsync.ExternalEntity{
			EntityType:       catalogsync.EntityTypeStock,
			ExternalID:       "ST1",
			ParentExternalID: "S1",
			Attributes:       map[string]any{"warehouse": "WH", "quantity": 5},
		}
		a, _, err := n.Normalize(context.Background(), uuid.New(), e, lookup)
		require.NoError(t, err)
		other := mapLookup(map[string]uuid.UUID{"sku/S1": uuid.New()})
		b, _, err := n.Normalize(context.Background(), uuid.New(), e, other)
		require.NoError(t, err)
		assert.Equal(t, a.ContentHash, b.ContentHash)

		e.Attributes = map[string]any{"warehouse": "WH", "quantity": 6}
		c, _, err := n.Normalize(context.Background(), uuid.New(), e, lookup)
		require.NoError(t, err)
		assert.NotEqual(t, a.ContentHash, c.ContentHash)
	})
}
