package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/erp/catalogsync/internal/infrastructure/config"
)

// newMockDatabase creates a Database instance with a mocked SQL connection
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return &Database{DB: gormDB}, mock, mockDB
}

func TestNewDatabase_SQLite(t *testing.T) {
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AutoMigrate())
	assert.True(t, db.DB.Migrator().HasTable("catalog_brands"))
	assert.True(t, db.DB.Migrator().HasTable("catalog_stock"))
	assert.NoError(t, db.Ping(context.Background()))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MaxOpenConnections)
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(&config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDatabase_WithTenant(t *testing.T) {
	t.Run("returns scoped GORM DB with tenant filter", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		tenantID := "tenant-123"

		type TestModel struct {
			ID       uint
			TenantID string
			Name     string
		}

		mock.ExpectQuery(`SELECT \* FROM "test_models" WHERE tenant_id = \$1`).
			WithArgs(tenantID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}).
				AddRow(1, tenantID, "Test Item"))

		var results []TestModel
		err := db.WithTenant(tenantID).Find(&results).Error
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, tenantID, results[0].TenantID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("panics on empty tenant", func(t *testing.T) {
		db := &Database{}
		assert.Panics(t, func() { db.WithTenant("") })
	})
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := newMockDatabase(t)
	mock.ExpectClose()
	require.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
