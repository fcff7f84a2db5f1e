package catalogsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// EntityType Tests
// ---------------------------------------------------------------------------

func TestEntityType_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		t        EntityType
		expected bool
	}{
		{"brand", EntityTypeBrand, true},
		{"category", EntityTypeCategory, true},
		{"product", EntityTypeProduct, true},
		{"sku", EntityTypeSKU, true},
		{"image", EntityTypeImage, true},
		{"stock", EntityTypeStock, true},
		{"unknown", EntityType("variant"), false},
		{"empty", EntityType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.t.IsValid())
		})
	}
}

func TestEntityType_ParentTypePrecedesChild(t *testing.T) {
	for _, et := range StageOrder() {
		parent, ok := et.ParentType()
		if !ok {
			continue
		}
		assert.Less(t, parent.StageIndex(), et.StageIndex(), "%s must run after %s", et, parent)
	}
}

func TestParseEntityType(t *testing.T) {
	et, ok := ParseEntityType(" SKU ")
	assert.True(t, ok)
	assert.Equal(t, EntityTypeSKU, et)

	_, ok = ParseEntityType("all")
	assert.False(t, ok)
}

func TestStagesFrom(t *testing.T) {
	assert.Equal(t, []EntityType{EntityTypeSKU, EntityTypeImage, EntityTypeStock}, StagesFrom(EntityTypeSKU))
	assert.Len(t, StagesFrom(EntityTypeBrand), 6)
	assert.Nil(t, StagesFrom(EntityType("nope")))
}

// ---------------------------------------------------------------------------
// ImportJob Tests
// ---------------------------------------------------------------------------

func TestImportJob_StateMachine(t *testing.T) {
	job, err := NewStageJob(uuid.New(), EntityTypeBrand, nil)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)

	err = job.Complete("")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, job.Start())
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	assert.ErrorIs(t, job.Start(), ErrInvalidTransition)

	require.NoError(t, job.Complete(""))
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.FinishedAt)

	assert.ErrorIs(t, job.Fail("late"), ErrInvalidTransition)
	assert.ErrorIs(t, job.Cancel(), ErrInvalidTransition)
}

func TestImportJob_FailKeepsCounters(t *testing.T) {
	job, err := NewStageJob(uuid.New(), EntityTypeProduct, nil)
	require.NoError(t, err)
	require.NoError(t, job.Start())
	job.SetTotal(10)
	job.Record(Inserted(EntityTypeProduct, "p1"))
	job.Record(Updated(EntityTypeProduct, "p2"))

	require.NoError(t, job.Fail("store unreachable"))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, int64(2), job.CompletedItems)
	assert.Equal(t, int64(10), job.TotalItems)
	assert.Equal(t, "store unreachable", job.FailureReason)
}

func TestNewStageJob_InvalidType(t *testing.T) {
	_, err := NewStageJob(uuid.New(), EntityType("bogus"), nil)
	assert.Error(t, err)
}

func TestImportJob_Record(t *testing.T) {
	job, _ := NewStageJob(uuid.New(), EntityTypeSKU, nil)
	job.SetTotal(5)

	job.Record(Inserted(EntityTypeSKU, "a"))
	job.Record(Updated(EntityTypeSKU, "b"))
	job.Record(Unchanged(EntityTypeSKU, "c"))
	job.Record(Skipped(EntityTypeSKU, "d", "deleted upstream"))
	job.Record(Failed(EntityTypeSKU, "e", &MissingDependencyError{
		EntityType: EntityTypeSKU, ExternalID: "e", ParentType: EntityTypeProduct, ParentExternalID: "p9",
	}))

	assert.Equal(t, int64(5), job.CompletedItems)
	assert.Equal(t, int64(1), job.Inserted)
	assert.Equal(t, int64(1), job.Updated)
	assert.Equal(t, int64(1), job.Unchanged)
	assert.Equal(t, int64(1), job.Skipped)
	assert.Equal(t, int64(1), job.Failed)
	assert.Equal(t, int64(1), job.MissingParent)
	assert.Equal(t, int64(3), job.Succeeded())
	assert.Equal(t, int64(1), job.ErrorCount)
	require.Len(t, job.RecentErrors, 1)
	assert.Contains(t, job.RecentErrors[0], "missing parent")
	assert.InDelta(t, 0.2, job.FailureRatio(), 0.0001)
}

func TestImportJob_StageSummaries(t *testing.T) {
	cascade, err := NewCascadeJob(uuid.New(), EntityTypeBrand, false)
	require.NoError(t, err)
	stage, err := NewStageJob(cascade.TenantID, EntityTypeBrand, &cascade.ID)
	require.NoError(t, err)

	cascade.BeginStage(stage)
	require.Len(t, cascade.Stages, 1)
	assert.Equal(t, JobStatusRunning, cascade.Stages[0].Status)

	cascade.RecordStage(stage.ID, Inserted(EntityTypeBrand, "a"))
	cascade.RecordStage(stage.ID, Failed(EntityTypeBrand, "b", ErrValidation))
	cascade.RecordStage(stage.ID, Skipped(EntityTypeBrand, "c", "deleted upstream"))
	assert.Equal(t, int64(3), cascade.CompletedItems)
	assert.Equal(t, int64(1), cascade.Stages[0].Succeeded)
	assert.Equal(t, int64(1), cascade.Stages[0].Failed)
	assert.Equal(t, int64(1), cascade.ErrorCount)

	stage.Inserted, stage.Failed = 1, 1
	stage.Status = JobStatusCompleted
	stage.Warning = "1 of 3 items failed"
	cascade.FinishStage(stage)
	require.Len(t, cascade.Stages, 1)
	assert.Equal(t, JobStatusCompleted, cascade.Stages[0].Status)
	assert.Equal(t, "1 of 3 items failed", cascade.Stages[0].Warning)
	assert.Equal(t, int64(3), cascade.CompletedItems, "finishing a stage does not fold counters twice")
}

func TestImportJob_CompletedNeverExceedsTotal(t *testing.T) {
	job, _ := NewStageJob(uuid.New(), EntityTypeBrand, nil)
	job.SetTotal(1)
	job.Record(Inserted(EntityTypeBrand, "a"))
	job.Record(Inserted(EntityTypeBrand, "b"))

	assert.Equal(t, int64(2), job.CompletedItems)
	assert.GreaterOrEqual(t, job.TotalItems, job.CompletedItems)

	job.SetTotal(0)
	assert.Equal(t, int64(2), job.TotalItems)
}

func TestImportJob_ErrorCap(t *testing.T) {
	job, _ := NewStageJob(uuid.New(), EntityTypeBrand, nil)
	for i := 0; i < 120; i++ {
		job.Record(Failed(EntityTypeBrand, fmt.Sprintf("b%d", i), errors.New("boom")))
	}

	assert.Equal(t, int64(120), job.ErrorCount)
	require.Len(t, job.RecentErrors, DefaultMaxRecentErrors)
	assert.Contains(t, job.RecentErrors[0], "b70")
	assert.Contains(t, job.RecentErrors[DefaultMaxRecentErrors-1], "b119")
}

func TestImportJob_Clone(t *testing.T) {
	job, _ := NewStageJob(uuid.New(), EntityTypeBrand, nil)
	job.AddError("first")

	c := job.Clone()
	job.AddError("second")
	c.RecentErrors[0] = "changed"

	assert.Equal(t, []string{"first", "second"}, job.RecentErrors)
	assert.Len(t, c.RecentErrors, 1)
}

// ---------------------------------------------------------------------------
// Error Tests
// ---------------------------------------------------------------------------

func TestFetchError_Is(t *testing.T) {
	transient := &FetchError{Kind: FetchErrorTransient, Path: "/brands", StatusCode: 503, Attempts: 4}
	permanent := &FetchError{Kind: FetchErrorPermanent, Path: "/brands", StatusCode: 404, Attempts: 1}

	assert.ErrorIs(t, transient, ErrTransientFetch)
	assert.NotErrorIs(t, transient, ErrPermanentFetch)
	assert.ErrorIs(t, permanent, ErrPermanentFetch)
	assert.True(t, transient.IsTransient())
	assert.Contains(t, transient.Error(), "after 4 attempts")

	wrapped := fmt.Errorf("page 3: %w", permanent)
	var fe *FetchError
	require.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, 404, fe.StatusCode)
}

func TestItemErrors_Is(t *testing.T) {
	md := &MissingDependencyError{EntityType: EntityTypeSKU, ExternalID: "s1", ParentType: EntityTypeProduct, ParentExternalID: "p1"}
	assert.ErrorIs(t, md, ErrMissingDependency)
	assert.Contains(t, md.Error(), `product "p1"`)

	ve := &ValidationError{EntityType: EntityTypeBrand, ExternalID: "b1", Field: "name", Reason: "required"}
	assert.ErrorIs(t, ve, ErrValidation)

	wc := &WriteConflictError{EntityType: EntityTypeBrand, ExternalID: "b1", Err: errors.New("duplicate key")}
	assert.ErrorIs(t, wc, ErrWriteConflict)
}

func TestComputeContentHash(t *testing.T) {
	rec := &CanonicalRecord{
		EntityType:       EntityTypeProduct,
		ExternalID:       "P1",
		ParentExternalID: "B1",
		Attributes:       ProductAttributes{Title: "Shirt", Status: ProductStatusActive},
	}
	h1, err := ComputeContentHash(rec)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	again, err := ComputeContentHash(rec)
	require.NoError(t, err)
	assert.Equal(t, h1, again)

	rec.ParentID = ptrUUID(uuid.New())
	h2, _ := ComputeContentHash(rec)
	assert.NotEqual(t, h1, h2, "a re-created parent must move the hash")

	rec.ParentID = ptrUUID(uuid.New())
	h3, _ := ComputeContentHash(rec)
	assert.NotEqual(t, h2, h3)

	rec.Attributes = ProductAttributes{Title: "Shirt v2", Status: ProductStatusActive}
	h4, _ := ComputeContentHash(rec)
	assert.NotEqual(t, h3, h4)
}

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }
