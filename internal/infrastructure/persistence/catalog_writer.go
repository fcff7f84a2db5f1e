package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCatalogWriter upserts canonical records keyed on (tenant_id, external_id).
// A concurrent insert of the same key makes the loser's insert fail with a
// unique violation; the loser then takes the update path exactly once.
type GormCatalogWriter struct {
	db *gorm.DB
}

var _ catalogsync.RecordWriter = (*GormCatalogWriter)(nil)

// NewGormCatalogWriter creates a new catalog writer. The DB must be opened
// with TranslateError so unique violations arrive as gorm.ErrDuplicatedKey.
func NewGormCatalogWriter(db *gorm.DB) *GormCatalogWriter {
	return &GormCatalogWriter{db: db}
}

type existingRow struct {
	ID          uuid.UUID
	ContentHash string
}

// Write inserts the record, updates it when its content hash differs from
// the stored one, or leaves it untouched.
func (w *GormCatalogWriter) Write(ctx context.Context, record *catalogsync.CanonicalRecord) (catalogsync.OutcomeKind, error) {
	row, err := models.FromCanonicalRecord(record)
	if err != nil {
		return catalogsync.OutcomeFailed, err
	}

	existing, err := w.find(ctx, row)
	if err != nil {
		return catalogsync.OutcomeFailed, err
	}
	if existing != nil {
		return w.update(ctx, row, existing)
	}

	err = w.db.WithContext(ctx).Create(row).Error
	if err == nil {
		return catalogsync.OutcomeInserted, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return catalogsync.OutcomeFailed, fmt.Errorf("insert %s %q: %w", record.EntityType, record.ExternalID, err)
	}

	// Lost the insert race; the winner's row is now visible.
	existing, err = w.find(ctx, row)
	if err == nil && existing == nil {
		err = gorm.ErrRecordNotFound
	}
	if err != nil {
		return catalogsync.OutcomeFailed, &catalogsync.WriteConflictError{
			EntityType: record.EntityType,
			ExternalID: record.ExternalID,
			Err:        err,
		}
	}
	kind, err := w.update(ctx, row, existing)
	if err != nil {
		return catalogsync.OutcomeFailed, &catalogsync.WriteConflictError{
			EntityType: record.EntityType,
			ExternalID: record.ExternalID,
			Err:        err,
		}
	}
	return kind, nil
}

func (w *GormCatalogWriter) find(ctx context.Context, row models.CatalogRow) (*existingRow, error) {
	base := row.Base()
	var existing existingRow
	err := w.db.WithContext(ctx).
		Table(row.TableName()).
		Select("id", "content_hash").
		Where("tenant_id = ? AND external_id = ?", base.TenantID, base.ExternalID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %q: %w", row.TableName(), base.ExternalID, err)
	}
	return &existing, nil
}

func (w *GormCatalogWriter) update(ctx context.Context, row models.CatalogRow, existing *existingRow) (catalogsync.OutcomeKind, error) {
	base := row.Base()
	if existing.ContentHash == base.ContentHash {
		return catalogsync.OutcomeUnchanged, nil
	}

	base.ID = existing.ID
	err := w.db.WithContext(ctx).
		Model(row).
		Select("*").
		Omit("id", "tenant_id", "external_id", "created_at").
		Updates(row).Error
	if err != nil {
		return catalogsync.OutcomeFailed, fmt.Errorf("update %s %q: %w", row.TableName(), base.ExternalID, err)
	}
	return catalogsync.OutcomeUpdated, nil
}
