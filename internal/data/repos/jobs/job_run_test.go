package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()

	newJob := func(status string, created time.Time) *types.JobRun {
		return &types.JobRun{
			ID:         uuid.New(),
			Owner:      "user-1",
			JobType:    "analysis_compile",
			EntityType: "analysis",
			EntityID:   uuid.NewString(),
			Status:     status,
			Stage:      status,
			Payload:    datatypes.JSON([]byte("{}")),
			Result:     datatypes.JSON([]byte("{}")),
			CreatedAt:  created,
			UpdatedAt:  created,
		}
	}

	queued := newJob(types.JobStatusQueued, now.Add(-3*time.Hour))
	failed := newJob(types.JobStatusFailed, now.Add(-2*time.Hour))
	failed.LastErrorAt = testutil.PtrTime(now.Add(-2 * time.Hour))
	staleRunning := newJob(types.JobStatusRunning, now.Add(-1*time.Hour))
	staleRunning.HeartbeatAt = testutil.PtrTime(now.Add(-10 * time.Hour))
	done := newJob(types.JobStatusSucceeded, now.Add(-4*time.Hour))

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning, done})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("Create: want=%d got=%d", 4, len(created))
	}

	if _, found, err := repo.GetByID(dbc, uuid.New()); err != nil || found {
		t.Fatalf("GetByID missing: found=%v err=%v", found, err)
	}

	// ClaimNextRunnable walks the runnable set in created_at ASC order.
	for i, want := range []uuid.UUID{queued.ID, failed.ID, staleRunning.ID} {
		claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i+1, err)
		}
		if claim == nil || claim.ID != want {
			t.Fatalf("ClaimNextRunnable #%d: want=%v got=%v", i+1, want, claim)
		}
		if claim.Status != types.JobStatusRunning {
			t.Fatalf("ClaimNextRunnable #%d status: want=%q got=%q", i+1, types.JobStatusRunning, claim.Status)
		}
	}
	claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #4: %v", err)
	}
	if claim != nil {
		t.Fatalf("ClaimNextRunnable #4: want nil got %v", claim.ID)
	}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{types.JobStatusCanceled}, map[string]interface{}{"progress": 50})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus: ok=%v err=%v", ok, err)
	}
	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"status": types.JobStatusCanceled}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{types.JobStatusCanceled}, map[string]interface{}{"progress": 90})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus canceled: %v", err)
	}
	if ok {
		t.Fatalf("UpdateFieldsUnlessStatus: canceled job must not be updated")
	}
	got, found, err := repo.GetByID(dbc, queued.ID)
	if err != nil || !found {
		t.Fatalf("GetByID: found=%v err=%v", found, err)
	}
	if got.Progress != 50 {
		t.Fatalf("progress: want=%d got=%d", 50, got.Progress)
	}

	// failed was claimed above and is running now; done stays untouched.
	if err := repo.Heartbeat(dbc, failed.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := repo.Heartbeat(dbc, done.ID); err != nil {
		t.Fatalf("Heartbeat done: %v", err)
	}
	beat, _, _ := repo.GetByID(dbc, failed.ID)
	if beat.HeartbeatAt == nil {
		t.Fatalf("Heartbeat: heartbeat_at not set on running job")
	}
	idle, _, _ := repo.GetByID(dbc, done.ID)
	if idle.HeartbeatAt != nil {
		t.Fatalf("Heartbeat: finished job must not be touched")
	}

	older := newJob(types.JobStatusQueued, now.Add(-5*time.Hour))
	newer := newJob(types.JobStatusQueued, now.Add(-30*time.Minute))
	newer.EntityID = older.EntityID
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer}); err != nil {
		t.Fatalf("seed latest: %v", err)
	}
	latest, found, err := repo.LatestForEntity(dbc, "analysis", older.EntityID, "analysis_compile")
	if err != nil || !found {
		t.Fatalf("LatestForEntity: found=%v err=%v", found, err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("LatestForEntity: want=%v got=%v", newer.ID, latest.ID)
	}
}
