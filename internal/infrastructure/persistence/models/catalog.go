package models

import (
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CatalogBaseModel holds the columns shared by every synced catalog table.
// (tenant_id, external_id) is the natural key the writer upserts on.
type CatalogBaseModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
	TenantID         uuid.UUID  `gorm:"type:uuid;not null;index:,unique,composite:natural_key,priority:1"`
	ExternalID       string     `gorm:"type:varchar(128);not null;index:,unique,composite:natural_key,priority:2"`
	ParentID         *uuid.UUID `gorm:"type:uuid;index"`
	ParentExternalID string     `gorm:"type:varchar(128)"`
	ContentHash      string     `gorm:"type:varchar(64);not null"`
	SourceUpdatedAt  *time.Time
}

// BeforeCreate assigns a primary key when none was set
func (m *CatalogBaseModel) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Base returns the shared columns
func (m *CatalogBaseModel) Base() *CatalogBaseModel {
	return m
}

// CatalogRow is implemented by every catalog table model.
type CatalogRow interface {
	TableName() string
	Base() *CatalogBaseModel
}

// BrandModel is the persistence model for a synced brand
type BrandModel struct {
	CatalogBaseModel
	Name        string `gorm:"type:varchar(200);not null"`
	Description string `gorm:"type:text"`
	LogoURL     string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (BrandModel) TableName() string { return "catalog_brands" }

// CategoryModel is the persistence model for a synced category
type CategoryModel struct {
	CatalogBaseModel
	Name                     string `gorm:"type:varchar(200);not null"`
	Slug                     string `gorm:"type:varchar(200)"`
	ParentCategoryExternalID string `gorm:"type:varchar(128)"`
	SortOrder                int    `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (CategoryModel) TableName() string { return "catalog_categories" }

// ProductModel is the persistence model for a synced product. ParentID is the brand.
type ProductModel struct {
	CatalogBaseModel
	Title       string                    `gorm:"type:varchar(300);not null"`
	Description string                    `gorm:"type:text"`
	Status      catalogsync.ProductStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Price       decimal.Decimal           `gorm:"type:decimal(18,4);not null;default:0"`
	CategoryID  *uuid.UUID                `gorm:"type:uuid;index"`
	CategoryRef string                    `gorm:"type:varchar(128)"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string { return "catalog_products" }

// SKUModel is the persistence model for a synced SKU. ParentID is the product.
type SKUModel struct {
	CatalogBaseModel
	Code    string          `gorm:"type:varchar(100);not null"`
	Title   string          `gorm:"type:varchar(300)"`
	Price   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Barcode string          `gorm:"type:varchar(50)"`
	Weight  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
}

// TableName returns the table name for GORM
func (SKUModel) TableName() string { return "catalog_skus" }

// ImageModel is the persistence model for a synced product image. ParentID is the product.
type ImageModel struct {
	CatalogBaseModel
	URL      string `gorm:"type:varchar(1000);not null"`
	Alt      string `gorm:"type:varchar(300)"`
	Position int    `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (ImageModel) TableName() string { return "catalog_images" }

// StockModel is the persistence model for a synced stock level. ParentID is the SKU.
type StockModel struct {
	CatalogBaseModel
	Warehouse string `gorm:"type:varchar(100);not null"`
	Quantity  int64  `gorm:"not null;default:0"`
	Reserved  int64  `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (StockModel) TableName() string { return "catalog_stock" }

// CatalogModels lists every catalog table model in cascade order.
func CatalogModels() []any {
	return []any{
		&BrandModel{},
		&CategoryModel{},
		&ProductModel{},
		&SKUModel{},
		&ImageModel{},
		&StockModel{},
	}
}

// NewCatalogRow returns an empty model for the entity type.
func NewCatalogRow(t catalogsync.EntityType) (CatalogRow, error) {
	switch t {
	case catalogsync.EntityTypeBrand:
		return &BrandModel{}, nil
	case catalogsync.EntityTypeCategory:
		return &CategoryModel{}, nil
	case catalogsync.EntityTypeProduct:
		return &ProductModel{}, nil
	case catalogsync.EntityTypeSKU:
		return &SKUModel{}, nil
	case catalogsync.EntityTypeImage:
		return &ImageModel{}, nil
	case catalogsync.EntityTypeStock:
		return &StockModel{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", catalogsync.ErrInvalidEntityType, t)
	}
}

// TableFor returns the table name of an entity type.
func TableFor(t catalogsync.EntityType) (string, error) {
	row, err := NewCatalogRow(t)
	if err != nil {
		return "", err
	}
	return row.TableName(), nil
}

// FromCanonicalRecord maps a canonical record onto its table model.
func FromCanonicalRecord(r *catalogsync.CanonicalRecord) (CatalogRow, error) {
	base := CatalogBaseModel{
		TenantID:         r.TenantID,
		ExternalID:       r.ExternalID,
		ParentID:         r.ParentID,
		ParentExternalID: r.ParentExternalID,
		ContentHash:      r.ContentHash,
		SourceUpdatedAt:  r.SourceUpdatedAt,
	}

	switch a := r.Attributes.(type) {
	case *catalogsync.BrandAttributes:
		return &BrandModel{CatalogBaseModel: base, Name: a.Name, Description: a.Description, LogoURL: a.LogoURL}, nil
	case *catalogsync.CategoryAttributes:
		return &CategoryModel{
			CatalogBaseModel:         base,
			Name:                     a.Name,
			Slug:                     a.Slug,
			ParentCategoryExternalID: a.ParentCategory,
			SortOrder:                a.SortOrder,
		}, nil
	case *catalogsync.ProductAttributes:
		return &ProductModel{
			CatalogBaseModel: base,
			Title:            a.Title,
			Description:      a.Description,
			Status:           a.Status,
			Price:            a.Price,
			CategoryID:       r.CategoryID,
			CategoryRef:      a.CategoryRef,
		}, nil
	case *catalogsync.SKUAttributes:
		return &SKUModel{
			CatalogBaseModel: base,
			Code:             a.Code,
			Title:            a.Title,
			Price:            a.Price,
			Barcode:          a.Barcode,
			Weight:           a.Weight,
		}, nil
	case *catalogsync.ImageAttributes:
		return &ImageModel{CatalogBaseModel: base, URL: a.URL, Alt: a.Alt, Position: a.Position}, nil
	case *catalogsync.StockAttributes:
		return &StockModel{CatalogBaseModel: base, Warehouse: a.Warehouse, Quantity: a.Quantity, Reserved: a.Reserved}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported attributes %T for %s", catalogsync.ErrInvalidEntityType, r.Attributes, r.EntityType)
	}
}
