package persistence

import (
	"context"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCatalogStats counts rows per catalog table.
type GormCatalogStats struct {
	db *gorm.DB
}

var _ catalogsync.CatalogStats = (*GormCatalogStats)(nil)

// NewGormCatalogStats creates a stats reader
func NewGormCatalogStats(db *gorm.DB) *GormCatalogStats {
	return &GormCatalogStats{db: db}
}

// TableStats returns row totals for every entity type in cascade order. A nil
// tenant counts across all tenants.
func (s *GormCatalogStats) TableStats(ctx context.Context, tenantID *uuid.UUID) ([]catalogsync.TableStats, error) {
	stages := catalogsync.StageOrder()
	out := make([]catalogsync.TableStats, 0, len(stages))
	for _, t := range stages {
		table, err := models.TableFor(t)
		if err != nil {
			return nil, err
		}

		stats := catalogsync.TableStats{EntityType: t}
		if err := s.scoped(ctx, table, tenantID).Count(&stats.Rows).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		if _, hasParent := t.ParentType(); hasParent {
			err := s.scoped(ctx, table, tenantID).Where("parent_id IS NULL").Count(&stats.WithoutParent).Error
			if err != nil {
				return nil, fmt.Errorf("count orphans in %s: %w", table, err)
			}
		}
		out = append(out, stats)
	}
	return out, nil
}

func (s *GormCatalogStats) scoped(ctx context.Context, table string, tenantID *uuid.UUID) *gorm.DB {
	q := s.db.WithContext(ctx).Table(table)
	if tenantID != nil {
		q = q.Where("tenant_id = ?", *tenantID)
	}
	return q
}
