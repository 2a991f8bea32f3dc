package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"trancheflow/internal/model"
)

func sampleProject(id string, created time.Time) *model.Project {
	return &model.Project{
		ID:        id,
		Title:     "Well " + id,
		CreatedAt: created,
		Milestones: []model.Milestone{{
			ID:            id + "-m1",
			Title:         "Drill",
			TrancheAmount: 1000,
			Deadline:      created.Add(24 * time.Hour),
			Status:        model.StatusLocked,
		}},
		AuditLog: []model.AuditEntry{{
			ID:             id + "-a1",
			Actor:          model.RoleDonor,
			Action:         model.ActionProjectCreated,
			MilestoneTitle: model.ProjectLevelTitle,
			MilestoneIndex: model.ProjectLevelIndex,
			Timestamp:      created,
		}},
	}
}

func exerciseStore(t *testing.T, s ProjectStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("Get(missing) err=%v, want ErrProjectNotFound", err)
	}

	p2 := sampleProject("p2", base.Add(time.Hour))
	p1 := sampleProject("p1", base)
	if err := s.Put(ctx, p2); err != nil {
		t.Fatalf("Put(p2) err=%v", err)
	}
	if err := s.Put(ctx, p1); err != nil {
		t.Fatalf("Put(p1) err=%v", err)
	}

	got, err := s.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get(p1) err=%v", err)
	}
	if got.Title != "Well p1" || len(got.Milestones) != 1 || len(got.AuditLog) != 1 {
		t.Fatalf("Get(p1) = %+v", got)
	}

	// 修改返回值不能影响存储
	got.Milestones[0].Status = model.StatusReleased
	again, _ := s.Get(ctx, "p1")
	if again.Milestones[0].Status != model.StatusLocked {
		t.Fatalf("store shares state with caller")
	}

	// upsert 幂等
	got.Milestones[0].Status = model.StatusEvidenceSubmitted
	got.AuditLog = append(got.AuditLog, model.AuditEntry{ID: "p1-a2", Action: model.ActionEvidenceSubmitted})
	if err := s.Put(ctx, got); err != nil {
		t.Fatalf("Put(update) err=%v", err)
	}
	if err := s.Put(ctx, got); err != nil {
		t.Fatalf("Put(repeat) err=%v", err)
	}
	again, _ = s.Get(ctx, "p1")
	if again.Milestones[0].Status != model.StatusEvidenceSubmitted || len(again.AuditLog) != 2 {
		t.Fatalf("update not persisted: %+v", again)
	}

	shrunk := again.Clone()
	shrunk.AuditLog = shrunk.AuditLog[:1]
	if err := s.Put(ctx, shrunk); !errors.Is(err, ErrAuditLogShrunk) {
		t.Fatalf("Put(shrunk) err=%v, want ErrAuditLogShrunk", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() err=%v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListAll() len=%d", len(all))
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)

	all, _ := s.ListAll(context.Background())
	if all[0].ID != "p1" || all[1].ID != "p2" {
		t.Fatalf("expected creation order, got %s, %s", all[0].ID, all[1].ID)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "projects.json")
	s, err := NewFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileStore() err=%v", err)
	}
	exerciseStore(t, s)

	// 重新打开后数据仍在，顺序为写入顺序
	reopened, err := NewFileStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen err=%v", err)
	}
	all, err := reopened.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() err=%v", err)
	}
	if len(all) != 2 || all[0].ID != "p2" {
		t.Fatalf("unexpected persisted projects: %d", len(all))
	}
	if err := reopened.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() err=%v", err)
	}
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	if _, err := NewFileStore("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestNewEntries(t *testing.T) {
	log := []model.AuditEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	fresh, err := newEntries(log, 1)
	if err != nil || len(fresh) != 2 || fresh[0].ID != "b" {
		t.Fatalf("newEntries(1) = %v, %v", fresh, err)
	}
	fresh, err = newEntries(log, 3)
	if err != nil || len(fresh) != 0 {
		t.Fatalf("newEntries(3) = %v, %v", fresh, err)
	}
	if _, err := newEntries(log, 4); !errors.Is(err, ErrAuditLogShrunk) {
		t.Fatalf("newEntries(4) err=%v", err)
	}
}

func TestNewMilestoneEvent(t *testing.T) {
	p := sampleProject("p1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	p.Milestones[0].Status = model.StatusReleased
	entry := model.AuditEntry{
		ID:             "a9",
		Actor:          model.RoleDonor,
		Action:         model.ActionFundsReleased,
		MilestoneTitle: "Drill",
		MilestoneIndex: 0,
		Detail:         "$1,000 released to contractor",
	}

	ev := NewMilestoneEvent(p, entry, "trace-1")
	if ev.MilestoneID != "p1-m1" || ev.Status != "RELEASED" || ev.Amount != 1000 {
		t.Fatalf("milestone fields not filled: %+v", ev)
	}
	if ev.Action != "FUNDS_RELEASED" || ev.TraceID != "trace-1" || ev.EventID != "a9" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	projectLevel := NewMilestoneEvent(p, p.AuditLog[0], "")
	if projectLevel.MilestoneID != "" || projectLevel.MilestoneIndex != -1 {
		t.Fatalf("project-level event should carry no milestone: %+v", projectLevel)
	}
}
