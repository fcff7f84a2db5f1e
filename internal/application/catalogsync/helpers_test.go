package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/cache"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/erp/catalogsync/internal/infrastructure/persistence"
)

// fakeSource serves fixed entity lists and records the order stages asked for them.
type fakeSource struct {
	mu    sync.Mutex
	items map[catalogsync.EntityType][]catalogsync.ExternalEntity
	// failAfter yields an error once this many items of a type were served.
	failAfter    map[catalogsync.EntityType]int
	unknownTotal bool
	calls        []catalogsync.EntityType
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items:     make(map[catalogsync.EntityType][]catalogsync.ExternalEntity),
		failAfter: make(map[catalogsync.EntityType]int),
	}
}

func (s *fakeSource) set(t catalogsync.EntityType, items ...catalogsync.ExternalEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t] = items
}

func (s *fakeSource) callOrder() []catalogsync.EntityType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalogsync.EntityType(nil), s.calls...)
}

func (s *fakeSource) Count(_ context.Context, _ uuid.UUID, t catalogsync.EntityType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unknownTotal {
		return -1, nil
	}
	return int64(len(s.items[t])), nil
}

func (s *fakeSource) ListAll(ctx context.Context, _ uuid.UUID, t catalogsync.EntityType) iter.Seq2[catalogsync.ExternalEntity, error] {
	s.mu.Lock()
	s.calls = append(s.calls, t)
	items := append([]catalogsync.ExternalEntity(nil), s.items[t]...)
	failAfter, fail := s.failAfter[t]
	s.mu.Unlock()

	return func(yield func(catalogsync.ExternalEntity, error) bool) {
		for i, e := range items {
			if fail && i == failAfter {
				yield(catalogsync.ExternalEntity{}, &catalogsync.FetchError{
					Kind: catalogsync.FetchErrorTransient, Path: "/" + t.Resource(), StatusCode: 503, Attempts: 4,
				})
				return
			}
			if err := ctx.Err(); err != nil {
				yield(catalogsync.ExternalEntity{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// countingWriter tracks how many writes run at once.
type countingWriter struct {
	next    catalogsync.RecordWriter
	delay   time.Duration
	current atomic.Int64
	peak    atomic.Int64
	writes  atomic.Int64
}

func (w *countingWriter) Write(ctx context.Context, r *catalogsync.CanonicalRecord) (catalogsync.OutcomeKind, error) {
	n := w.current.Add(1)
	defer w.current.Add(-1)
	for {
		p := w.peak.Load()
		if n <= p || w.peak.CompareAndSwap(p, n) {
			break
		}
	}
	w.writes.Add(1)
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	return w.next.Write(ctx, r)
}

// deadlineStore refuses updates whose context is already done, the way a
// networked store does.
type deadlineStore struct {
	catalogsync.JobStore
}

func (s deadlineStore) Update(ctx context.Context, id uuid.UUID, fn func(*catalogsync.ImportJob) error) (*catalogsync.ImportJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.JobStore.Update(ctx, id, fn)
}

type harness struct {
	db           *gorm.DB
	source       *fakeSource
	writer       catalogsync.RecordWriter
	store        *cache.InMemoryJobStore
	tracker      *Tracker
	controller   *Controller
	orchestrator *Orchestrator
	tenantID     uuid.UUID
}

type harnessOpts struct {
	workers     int
	chunkSize   int
	threshold   float64
	itemTimeout time.Duration
	wrap        func(catalogsync.RecordWriter) catalogsync.RecordWriter
	wrapStore   func(catalogsync.JobStore) catalogsync.JobStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.workers == 0 {
		opts.workers = 4
	}
	if opts.chunkSize == 0 {
		opts.chunkSize = 25
	}
	if opts.threshold == 0 {
		opts.threshold = DefaultFailureThreshold
	}
	if opts.itemTimeout == 0 {
		opts.itemTimeout = 5 * time.Second
	}

	database, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "catalog.db") + "?_busy_timeout=5000",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate())
	t.Cleanup(func() { _ = database.Close() })

	var writer catalogsync.RecordWriter = persistence.NewGormCatalogWriter(database.DB)
	if opts.wrap != nil {
		writer = opts.wrap(writer)
	}

	store := cache.NewInMemoryJobStore(0)
	t.Cleanup(func() { _ = store.Close() })

	var jobs catalogsync.JobStore = store
	if opts.wrapStore != nil {
		jobs = opts.wrapStore(jobs)
	}

	log := zaptest.NewLogger(t)
	tracker := NewTracker(jobs, catalogsync.DefaultMaxRecentErrors, log)
	controller, err := NewController(opts.workers, opts.itemTimeout)
	require.NoError(t, err)

	source := newFakeSource()
	orch := NewOrchestrator(
		source,
		NewNormalizer(),
		writer,
		persistence.NewParentResolver(database.DB, persistence.WithBatchWait(time.Millisecond)),
		controller,
		tracker,
		OrchestratorConfig{ChunkSize: opts.chunkSize, FailureThreshold: opts.threshold},
		WithOrchestratorLogger(log),
	)

	return &harness{
		db:           database.DB,
		source:       source,
		writer:       writer,
		store:        store,
		tracker:      tracker,
		controller:   controller,
		orchestrator: orch,
		tenantID:     uuid.New(),
	}
}

func (h *harness) runStage(t *testing.T, entityType catalogsync.EntityType) *catalogsync.ImportJob {
	t.Helper()
	job, err := catalogsync.NewStageJob(h.tenantID, entityType, nil)
	require.NoError(t, err)
	require.NoError(t, h.tracker.Create(context.Background(), job))
	final, err := h.orchestrator.RunStage(context.Background(), job)
	require.NoError(t, err)
	return final
}

func (h *harness) runCascade(t *testing.T, force bool) *catalogsync.ImportJob {
	t.Helper()
	job, err := catalogsync.NewCascadeJob(h.tenantID, catalogsync.EntityTypeBrand, force)
	require.NoError(t, err)
	require.NoError(t, h.tracker.Create(context.Background(), job))
	final, err := h.orchestrator.RunCascade(context.Background(), job)
	require.NoError(t, err)
	return final
}

func (h *harness) rows(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Table(table).Where("tenant_id = ?", h.tenantID).Count(&n).Error)
	return n
}

func brand(id, name string) catalogsync.ExternalEntity {
	return catalogsync.ExternalEntity{
		EntityType: catalogsync.EntityTypeBrand,
		ExternalID: id,
		Attributes: map[string]any{"name": name},
	}
}

func category(id, name string) catalogsync.ExternalEntity {
	return catalogsync.ExternalEntity{
		EntityType: catalogsync.EntityTypeCategory,
		ExternalID: id,
		Attributes: map[string]any{"name": name},
	}
}

func product(id, brandID, title string) catalogsync.ExternalEntity {
	return catalogsync.ExternalEntity{
		EntityType:       catalogsync.EntityTypeProduct,
		ExternalID:       id,
		ParentExternalID: brandID,
		Attributes:       map[string]any{"title": title, "price": "19.90"},
	}
}

func sku(id, productID string) catalogsync.ExternalEntity {
	return catalogsync.ExternalEntity{
		EntityType:       catalogsync.EntityTypeSKU,
		ExternalID:       id,
		ParentExternalID: productID,
		Attributes:       map[string]any{"code": "CODE-" + id},
	}
}

func image(id, productID string) catalogsync.ExternalEntity {
	return catalogsync.ExternalEntity{
		EntityType:       catalogsync.EntityTypeImage,
		ExternalID:       id,
		ParentExternalID: productID,
		Attributes:       map[string]any{"url": "https://cdn.example.com/" + id + ".jpg"},
	}
}

func stock(id, skuID string, qty int) catalogsync.ExternalEntity {
	return catalogsync.ExternalEntity{
		EntityType:       catalogsync.EntityTypeStock,
		ExternalID:       id,
		ParentExternalID: skuID,
		Attributes:       map[string]any{"warehouse": "WH-1", "quantity": qty},
	}
}

// seedCatalog fills the source with a small consistent catalog:
// 2 brands, 1 category, 4 products, 8 skus, 4 images, 8 stock rows.
func seedCatalog(s *fakeSource) {
	s.set(catalogsync.EntityTypeBrand, brand("B1", "Acme"), brand("B2", "Globex"))
	s.set(catalogsync.EntityTypeCategory, category("C1", "Shoes"))

	var products, skus, images, stocks []catalogsync.ExternalEntity
	for i := range 4 {
		pid := fmt.Sprintf("P%d", i+1)
		products = append(products, product(pid, []string{"B1", "B2"}[i%2], "Product "+pid))
		images = append(images, image("I-"+pid, pid))
		for j := range 2 {
			sid := fmt.Sprintf("%s-S%d", pid, j+1)
			skus = append(skus, sku(sid, pid))
			stocks = append(stocks, stock("ST-"+sid, sid, 10*(j+1)))
		}
	}
	s.set(catalogsync.EntityTypeProduct, products...)
	s.set(catalogsync.EntityTypeSKU, skus...)
	s.set(catalogsync.EntityTypeImage, images...)
	s.set(catalogsync.EntityTypeStock, stocks...)
}

var errBoom = errors.New("boom")
