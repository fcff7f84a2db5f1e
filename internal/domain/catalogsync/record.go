package catalogsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExternalEntity is one record as returned by the upstream listing API.
// It is immutable once fetched.
type ExternalEntity struct {
	EntityType       EntityType
	ExternalID       string
	ParentExternalID string
	LastModified     time.Time
	Attributes       map[string]any
}

// Attributes is the typed, entity-specific part of a canonical record.
type Attributes interface {
	EntityType() EntityType
}

// BrandAttributes are the normalized fields of a brand.
type BrandAttributes struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url"`
}

func (BrandAttributes) EntityType() EntityType { return EntityTypeBrand }

// CategoryAttributes are the normalized fields of a category.
// ParentCategory is stored as the external id only.
type CategoryAttributes struct {
	Name           string `json:"name" validate:"required"`
	Slug           string `json:"slug"`
	ParentCategory string `json:"parent_category"`
	SortOrder      int    `json:"sort_order"`
}

func (CategoryAttributes) EntityType() EntityType { return EntityTypeCategory }

// ProductStatus is the normalized lifecycle state of a product.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// ProductAttributes are the normalized fields of a product.
type ProductAttributes struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Status      ProductStatus   `json:"status" validate:"oneof=active draft archived"`
	Price       decimal.Decimal `json:"price"`
	CategoryRef string          `json:"category_ref"`
}

func (ProductAttributes) EntityType() EntityType { return EntityTypeProduct }

// SKUAttributes are the normalized fields of a SKU.
type SKUAttributes struct {
	Code    string          `json:"code" validate:"required"`
	Title   string          `json:"title"`
	Price   decimal.Decimal `json:"price"`
	Barcode string          `json:"barcode"`
	Weight  decimal.Decimal `json:"weight"`
}

func (SKUAttributes) EntityType() EntityType { return EntityTypeSKU }

// ImageAttributes are the normalized fields of a product image.
type ImageAttributes struct {
	URL      string `json:"url" validate:"required,url"`
	Alt      string `json:"alt"`
	Position int    `json:"position"`
}

func (ImageAttributes) EntityType() EntityType { return EntityTypeImage }

// StockAttributes are the normalized fields of a stock level.
type StockAttributes struct {
	Warehouse string `json:"warehouse" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gte=0"`
	Reserved  int64  `json:"reserved" validate:"gte=0"`
}

func (StockAttributes) EntityType() EntityType { return EntityTypeStock }

// CanonicalRecord is the internal representation of one entity after normalization.
type CanonicalRecord struct {
	TenantID         uuid.UUID
	EntityType       EntityType
	ExternalID       string
	ParentExternalID string
	// ParentID is the internal id of the resolved parent, nil for root types.
	ParentID *uuid.UUID
	// CategoryID is an optional secondary reference used by products.
	CategoryID      *uuid.UUID
	Attributes      Attributes
	ContentHash     string
	SourceUpdatedAt *time.Time
}

type hashInput struct {
	Type       EntityType `json:"t"`
	Parent     string     `json:"p"`
	ParentID   string     `json:"pid,omitempty"`
	Category   string     `json:"c,omitempty"`
	Attributes Attributes `json:"a"`
}

// ComputeContentHash returns the hex SHA-256 of the record's content and its
// resolved references. Timestamps are excluded. A re-created parent gets a new
// internal id, which moves the hash so the child row is re-pointed.
func ComputeContentHash(r *CanonicalRecord) (string, error) {
	in := hashInput{
		Type:       r.EntityType,
		Parent:     r.ParentExternalID,
		Attributes: r.Attributes,
	}
	if r.ParentID != nil {
		in.ParentID = r.ParentID.String()
	}
	if r.CategoryID != nil {
		in.Category = r.CategoryID.String()
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
