package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TenantProvider provides the tenants whose catalogs are synced periodically
type TenantProvider interface {
	GetAllActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StaticTenantProvider serves a fixed tenant list from configuration
type StaticTenantProvider struct {
	ids []uuid.UUID
}

// NewStaticTenantProvider parses configured tenant ids
func NewStaticTenantProvider(raw []string) (*StaticTenantProvider, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant id %q: %v", ErrInvalidConfig, s, err)
		}
		ids = append(ids, id)
	}
	return &StaticTenantProvider{ids: ids}, nil
}

// GetAllActiveTenantIDs returns the configured tenants
func (p *StaticTenantProvider) GetAllActiveTenantIDs(context.Context) ([]uuid.UUID, error) {
	return append([]uuid.UUID(nil), p.ids...), nil
}

// CronTriggerConfig holds configuration for the periodic trigger
type CronTriggerConfig struct {
	// Interval between two full cascades for every tenant
	Interval time.Duration
	// RunOnStart triggers a round immediately instead of waiting one interval
	RunOnStart bool
}

// DefaultCronTriggerConfig returns default trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		Interval: 6 * time.Hour,
	}
}

// CronTrigger submits a cascade for every tenant on a fixed interval
type CronTrigger struct {
	config         CronTriggerConfig
	scheduler      *Scheduler
	tenantProvider TenantProvider
	logger         *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRunAt time.Time
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(
	config CronTriggerConfig,
	scheduler *Scheduler,
	tenantProvider TenantProvider,
	logger *zap.Logger,
) *CronTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultCronTriggerConfig().Interval
	}
	return &CronTrigger{
		config:         config,
		scheduler:      scheduler,
		tenantProvider: tenantProvider,
		logger:         logger,
	}
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Cascade trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Bool("run_on_start", c.config.RunOnStart),
	)
	return nil
}

// Stop stops the cron trigger
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cascade trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRunAt returns when the trigger last submitted a round
func (c *CronTrigger) LastRunAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRunAt
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.Trigger(ctx)
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Trigger(ctx)
		}
	}
}

// Trigger submits one cascade per active tenant. It returns the number submitted.
func (c *CronTrigger) Trigger(ctx context.Context) int {
	tenantIDs, err := c.tenantProvider.GetAllActiveTenantIDs(ctx)
	if err != nil {
		c.logger.Error("Failed to get tenant IDs for scheduled sync", zap.Error(err))
		return 0
	}

	c.mu.Lock()
	c.lastRunAt = time.Now()
	c.mu.Unlock()

	submitted := 0
	for _, tenantID := range tenantIDs {
		if err := c.scheduler.ScheduleTenant(tenantID, false); err != nil {
			c.logger.Error("Failed to schedule cascade for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		submitted++
	}

	c.logger.Info("Scheduled catalog cascades",
		zap.Int("tenant_count", len(tenantIDs)),
		zap.Int("submitted", submitted),
	)
	return submitted
}
