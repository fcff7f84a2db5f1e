// Package integration runs the sync pipeline against real PostgreSQL and
// Redis instances started with testcontainers. The tests are skipped in
// -short mode.
package integration

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormlogger "gorm.io/gorm/logger"

	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/infrastructure/migration"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
)

const (
	testDBName     = "catalog_test"
	testDBUser     = "postgres"
	testDBPassword = "catalog123"
)

var (
	sharedMu        sync.Mutex
	sharedContainer *tcpostgres.PostgresContainer
	sharedConfig    config.DatabaseConfig
)

func skipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestDatabase connects to the shared PostgreSQL container, migrated to
// the latest version, and truncates the catalog tables. Tests using it must
// not run in parallel.
func NewTestDatabase(t *testing.T) *persistence.Database {
	t.Helper()
	skipIfShort(t)

	cfg := sharedDatabase(t)

	gormLevel := gormlogger.Silent
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormLevel = gormlogger.Info
	}
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg, logger.NewGormLogger(zaptest.NewLogger(t), gormLevel))
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	truncateCatalog(t, db)
	return db
}

func sharedDatabase(t *testing.T) config.DatabaseConfig {
	t.Helper()
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedContainer != nil {
		return sharedConfig
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(testDBName),
		tcpostgres.WithUsername(testDBUser),
		tcpostgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Driver:          "postgres",
		Host:            host,
		Port:            port.Int(),
		User:            testDBUser,
		Password:        testDBPassword,
		DBName:          testDBName,
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 5,
	}

	migrateUp(t, cfg)

	sharedContainer = container
	sharedConfig = cfg
	return cfg
}

// migrateUp applies the embedded migrations, the same ones cmd/migrate runs.
func migrateUp(t *testing.T, cfg config.DatabaseConfig) {
	t.Helper()
	db, err := persistence.NewDatabase(&cfg)
	require.NoError(t, err)
	defer db.Close()

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)

	m, err := migration.NewMigrator(sqlDB, migration.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, m.Up(), "Failed to run migrations")

	version, dirty, err := m.Version()
	require.NoError(t, err)
	require.False(t, dirty)
	require.NotZero(t, version)
}

func truncateCatalog(t *testing.T, db *persistence.Database) {
	t.Helper()
	tables := []string{
		"catalog_stock", "catalog_images", "catalog_skus",
		"catalog_products", "catalog_categories", "catalog_brands",
	}
	// one statement, since the child tables reference their parents
	require.NoError(t, db.DB.Exec("TRUNCATE TABLE "+strings.Join(tables, ", ")).Error)
}

// terminateShared stops the shared container; called from TestMain.
func terminateShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedContainer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sharedContainer.Terminate(ctx)
	sharedContainer = nil
}
