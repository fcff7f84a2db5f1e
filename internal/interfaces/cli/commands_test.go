package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := RootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	id := uuid.New()
	srv, _ := fakeAPI(t, http.StatusOK, dto.SyncJobResponse{
		JobID:          id,
		Kind:           "stage",
		EntityType:     "product",
		Status:         "completed",
		TotalItems:     10,
		CompletedItems: 10,
		Inserted:       8,
		Failed:         2,
		ErrorCount:     2,
		RecentErrors:   []string{"p-9: missing dependency brand b-1", "p-10: invalid price"},
		Warning:        "2 of 10 items failed",
	})

	out, err := runCLI(t, "--server", srv.URL, "status", id.String())
	require.NoError(t, err)

	assert.Contains(t, out, id.String())
	assert.Contains(t, out, "10/10")
	assert.Contains(t, out, "inserted=8")
	assert.Contains(t, out, "2 of 10 items failed")
	assert.Contains(t, out, "missing dependency brand b-1")
}

func TestListCommand(t *testing.T) {
	t.Run("prints a table", func(t *testing.T) {
		srv, seen := fakeAPI(t, http.StatusOK, []dto.SyncJobResponse{
			{JobID: uuid.New(), Kind: "stage", EntityType: "sku", Status: "running", CompletedItems: 3},
		})

		out, err := runCLI(t, "--server", srv.URL, "--tenant", testTenant, "list", "--kind", "stage")
		require.NoError(t, err)

		assert.Contains(t, out, "ENTITY")
		assert.Contains(t, out, "sku")
		assert.Equal(t, "kind=stage", seen.all()[0].query)
		assert.Equal(t, testTenant, seen.all()[0].tenant)
	})

	t.Run("empty", func(t *testing.T) {
		srv, _ := fakeAPI(t, http.StatusOK, []dto.SyncJobResponse{})
		out, err := runCLI(t, "--server", srv.URL, "list")
		require.NoError(t, err)
		assert.Contains(t, out, "No jobs")
	})
}

func TestStartCommand_Wait(t *testing.T) {
	id := uuid.New()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(dto.NewSuccessResponse(dto.StartSyncResponse{
				JobID: id, Kind: "cascade", EntityType: "all", Status: "pending",
			}))
			return
		}
		job := dto.SyncJobResponse{JobID: id, Kind: "cascade", EntityType: "all", Status: "running"}
		if polls.Add(1) >= 3 {
			job.Status = "failed"
			job.FailureReason = "stage product failed"
		}
		_ = json.NewEncoder(w).Encode(dto.NewSuccessResponse(job))
	}))
	defer srv.Close()

	out, err := runCLI(t, "--server", srv.URL, "start", "all", "--wait", "--interval", "10ms")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage product failed")
	assert.Contains(t, out, "Started all cascade job "+id.String())
	assert.Equal(t, 1, strings.Count(out, "  running"))
	assert.EqualValues(t, 3, polls.Load())
}

func TestStartCommand_Conflict(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusConflict, dto.ErrCodeSyncRunning)
	_, err := runCLI(t, "--server", srv.URL, "start", "all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), dto.ErrCodeSyncRunning)
}

func TestStartCommand_RequiresTarget(t *testing.T) {
	_, err := runCLI(t, "start")
	assert.Error(t, err)
}
