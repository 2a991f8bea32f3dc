package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trancheflow/internal/handler"
	"trancheflow/internal/model"
	"trancheflow/internal/repository"
	"trancheflow/internal/service/escrow"
	"trancheflow/pkg/outbox"
)

type fakeReplayer struct {
	replayed []int64
}

func (f *fakeReplayer) ReplayEvent(ctx context.Context, eventID int64) error {
	if eventID == 404 {
		return outbox.ErrEventNotFound
	}
	f.replayed = append(f.replayed, eventID)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	return 3, nil
}

type testServer struct {
	router *Router
	now    time.Time
	ready  error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	svc := escrow.NewService(repository.NewMemoryStore(), logger,
		escrow.WithClock(func() time.Time { return ts.now }),
	)
	checks := []ReadinessCheck{{
		Name:  "store",
		Check: func(ctx context.Context) error { return ts.ready },
	}}
	ts.router = NewRouter(
		handler.NewProjectHandler(svc, logger),
		handler.NewJudgeHandler(svc, logger),
		handler.NewAdminHandler(&fakeReplayer{}, logger),
		checks,
		logger,
	)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(ActorRoleHeader, role)
	}
	w := httptest.NewRecorder()
	ts.router.Engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func (ts *testServer) createProject(t *testing.T) *model.Project {
	t.Helper()
	return ts.createProjectAs(t, "Donor")
}

func (ts *testServer) createProjectAs(t *testing.T, role string) *model.Project {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/projects", role, map[string]any{
		"title":          "Clinic",
		"description":    "Rural clinic",
		"donorName":      "Fund",
		"contractorName": "Builder",
		"milestones": []map[string]any{{
			"title":         "Walls",
			"trancheAmount": 2500,
			"deadline":      ts.now.Add(48 * time.Hour).Format(time.RFC3339),
			"conditions": []map[string]any{{
				"description":      "Walls are standing",
				"verificationType": "image",
			}},
		}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	return decode[*model.Project](t, w)
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/health"} {
		if w := ts.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, w.Code)
		}
		if w := ts.do(t, http.MethodHead, path, "", nil); w.Code != http.StatusOK {
			t.Fatalf("HEAD %s status=%d", path, w.Code)
		}
	}

	if w := ts.do(t, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", w.Code)
	}

	ts.ready = errors.New("connection refused")
	w := ts.do(t, http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("readyz status=%d, want 500", w.Code)
	}
	if body := decode[map[string]string](t, w); body["status"] != "store_not_ready" {
		t.Fatalf("readyz status=%q", body["status"])
	}
}

func TestAnyRoleCanCreateProject(t *testing.T) {
	ts := newTestServer(t)
	for _, role := range []string{"", "Donor", "Contractor", "Auditor"} {
		p := ts.createProjectAs(t, role)
		if p.Milestones[0].Status != model.StatusLocked {
			t.Fatalf("role %q: status=%s", role, p.Milestones[0].Status)
		}
		if got := p.AuditLog[0]; got.Action != model.ActionProjectCreated || got.Actor != model.RoleDonor {
			t.Fatalf("role %q: audit=%+v", role, got)
		}
	}
}

func TestMilestoneLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)
	base := "/api/projects/" + p.ID + "/milestones/" + p.Milestones[0].ID

	w := ts.do(t, http.MethodPost, base+"/evidence", "Contractor", map[string]string{
		"url":  "https://example.org/walls.jpg",
		"note": "done",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("evidence status=%d body=%s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, base+"/review", "Auditor", map[string]string{"decision": "APPROVE"})
	if w.Code != http.StatusOK {
		t.Fatalf("review status=%d body=%s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, base+"/release", "Donor", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("release status=%d body=%s", w.Code, w.Body.String())
	}
	got := decode[*model.Project](t, w)
	if got.Milestones[0].Status != model.StatusReleased {
		t.Fatalf("status=%s, want RELEASED", got.Milestones[0].Status)
	}

	w = ts.do(t, http.MethodGet, "/api/projects/"+p.ID+"/audit", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit status=%d", w.Code)
	}
	audit := decode[struct {
		Entries []struct {
			Action string `json:"action"`
			Label  string `json:"label"`
		} `json:"entries"`
	}](t, w)
	if len(audit.Entries) != 4 {
		t.Fatalf("audit entries=%d, want 4", len(audit.Entries))
	}
	if audit.Entries[0].Action != "FUNDS_RELEASED" || audit.Entries[0].Label != "Funds released" {
		t.Fatalf("most recent entry=%+v", audit.Entries[0])
	}

	w = ts.do(t, http.MethodGet, "/api/projects", "", nil)
	if list := decode[[]*model.Project](t, w); len(list) != 1 {
		t.Fatalf("list len=%d, want 1", len(list))
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)
	base := "/api/projects/" + p.ID + "/milestones/" + p.Milestones[0].ID

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		body   any
		status int
		kind   string
	}{
		{"unknown project", http.MethodGet, "/api/projects/missing", "", nil, http.StatusNotFound, "NOT_FOUND"},
		{"unknown milestone", http.MethodPost, "/api/projects/" + p.ID + "/milestones/nope/release", "", nil, http.StatusNotFound, "NOT_FOUND"},
		{"release while locked", http.MethodPost, base + "/release", "Donor", nil, http.StatusConflict, "INVALID_STATE"},
		{"wrong role", http.MethodPost, base + "/release", "Contractor", nil, http.StatusForbidden, "FORBIDDEN"},
		{"evidence without url", http.MethodPost, base + "/evidence", "", map[string]string{"note": "x"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown role header", http.MethodGet, "/api/projects", "Treasurer", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"blank project", http.MethodPost, "/api/projects", "", map[string]any{"title": ""}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad template kind", http.MethodGet, base + "/escrow-template?kind=refund", "", nil, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.role, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status=%d, want %d (body=%s)", w.Code, tt.status, w.Body.String())
			}
			body := decode[map[string]string](t, w)
			if body["kind"] != tt.kind {
				t.Fatalf("kind=%q, want %q", body["kind"], tt.kind)
			}
			if body["error"] == "" {
				t.Fatalf("missing error message")
			}
		})
	}
}

func TestRejectWithoutCommentKeepsSubmitted(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)
	base := "/api/projects/" + p.ID + "/milestones/" + p.Milestones[0].ID

	ts.do(t, http.MethodPost, base+"/evidence", "", map[string]string{"url": "https://example.org/a.jpg"})

	w := ts.do(t, http.MethodPost, base+"/review", "", map[string]string{"decision": "REJECT", "comment": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/projects/"+p.ID, "", nil)
	got := decode[*model.Project](t, w)
	if got.Milestones[0].Status != model.StatusEvidenceSubmitted {
		t.Fatalf("status=%s, want EVIDENCE_SUBMITTED", got.Milestones[0].Status)
	}
}

func TestExpiredMilestoneReturnOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)
	base := "/api/projects/" + p.ID + "/milestones/" + p.Milestones[0].ID

	ts.now = ts.now.Add(72 * time.Hour)

	w := ts.do(t, http.MethodGet, "/api/projects/"+p.ID, "", nil)
	if got := decode[*model.Project](t, w); got.Milestones[0].Status != model.StatusExpired {
		t.Fatalf("status=%s, want EXPIRED", got.Milestones[0].Status)
	}

	w = ts.do(t, http.MethodPost, base+"/return", "Donor", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("return status=%d body=%s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, base+"/escrow-template?kind=cancel", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("template status=%d", w.Code)
	}
	if tx := decode[map[string]any](t, w); tx["TransactionType"] != "EscrowCancel" {
		t.Fatalf("TransactionType=%v", tx["TransactionType"])
	}
}

func TestVerifyCondition(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/verify-condition", "", map[string]string{"conditionDescription": " "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank description status=%d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/verify-condition", "", map[string]string{"conditionDescription": "Roof installed"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	v := decode[struct {
		Verified bool   `json:"verified"`
		Note     string `json:"note"`
	}](t, w)
	if v.Verified {
		t.Fatalf("verified without image")
	}

	w = ts.do(t, http.MethodPost, "/api/verify-condition", "", map[string]string{
		"conditionDescription": "Roof installed",
		"imageUrl":             "https://example.org/roof.jpg",
	})
	v = decode[struct {
		Verified bool   `json:"verified"`
		Note     string `json:"note"`
	}](t, w)
	if !v.Verified || !strings.HasPrefix(v.Note, "[Demo] ") {
		t.Fatalf("stub verdict=%+v", v)
	}
}

func TestMilestoneVerdicts(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createProject(t)
	base := "/api/projects/" + p.ID + "/milestones/" + p.Milestones[0].ID

	ts.do(t, http.MethodPost, base+"/evidence", "", map[string]string{"url": "https://example.org/walls.jpg"})

	w := ts.do(t, http.MethodGet, base+"/verdicts", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decode[struct {
		Verdicts []escrow.ConditionVerdict `json:"verdicts"`
	}](t, w)
	if len(body.Verdicts) != 1 || !body.Verdicts[0].Verified {
		t.Fatalf("verdicts=%+v", body.Verdicts)
	}
}

func TestOutboxReplayRoutes(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/api/admin/outbox/replay?id=7", "", nil); w.Code != http.StatusOK {
		t.Fatalf("replay status=%d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/admin/outbox/replay?id=404", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing event status=%d, want 404", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/admin/outbox/replay?id=abc", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d, want 400", w.Code)
	}

	w := ts.do(t, http.MethodPost, "/api/admin/outbox/replay-failed", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay-failed status=%d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["success_count"] != float64(3) {
		t.Fatalf("success_count=%v", body["success_count"])
	}
}
