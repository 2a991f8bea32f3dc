package escrow

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"trancheflow/internal/model"
)

func TestRenderTemplate(t *testing.T) {
	deadline := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m := &model.Milestone{ID: "abcdef123456", Title: "Roof", TrancheAmount: 1250.5, Deadline: deadline}

	create, err := renderTemplate("p1", m, TemplateCreate)
	if err != nil {
		t.Fatalf("create err=%v", err)
	}
	if create.TransactionType != "EscrowCreate" || create.Amount != "1250500000" {
		t.Fatalf("create = %+v", create)
	}
	if create.FinishAfter != deadline.Unix() || create.CancelAfter != deadline.Unix()+30*86400 {
		t.Fatalf("create times = %d %d", create.FinishAfter, create.CancelAfter)
	}
	if create.Condition != "CRYPTO_CONDITION_FOR_ABCDEF12" {
		t.Fatalf("condition = %s", create.Condition)
	}
	raw, _ := hex.DecodeString(create.Memos[0].Memo.MemoData)
	if string(raw) != `{"projectId":"p1","milestoneId":"abcdef123456","title":"Roof"}` {
		t.Fatalf("memo = %s", raw)
	}

	finish, err := renderTemplate("p1", m, TemplateFinish)
	if err != nil {
		t.Fatalf("finish err=%v", err)
	}
	raw, _ = hex.DecodeString(finish.Memos[0].Memo.MemoData)
	var memo map[string]string
	_ = json.Unmarshal(raw, &memo)
	if memo["approvedAt"] != "pending" || finish.OfferSequence == nil {
		t.Fatalf("finish = %+v memo=%v", finish, memo)
	}

	cancel, err := renderTemplate("p1", m, TemplateCancel)
	if err != nil || cancel.TransactionType != "EscrowCancel" || cancel.Condition != "" {
		t.Fatalf("cancel = %+v err=%v", cancel, err)
	}

	if _, err := renderTemplate("p1", m, "refund"); !errorsIsInvalidInput(err) {
		t.Fatalf("unknown kind err=%v", err)
	}
}

func TestTemplateAmountIsWholeDrops(t *testing.T) {
	deadline := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := map[float64]string{
		0.07:     "70000",
		1.1:      "1100000",
		0.000001: "1",
		19.99:    "19990000",
		3:        "3000000",
	}
	for xrp, want := range tests {
		m := &model.Milestone{ID: "m1", Title: "Roof", TrancheAmount: xrp, Deadline: deadline}
		tx, err := renderTemplate("p1", m, TemplateCreate)
		if err != nil {
			t.Fatalf("renderTemplate(%v) err=%v", xrp, err)
		}
		if tx.Amount != want {
			t.Fatalf("amount for %v = %s, want %s", xrp, tx.Amount, want)
		}
	}
}

func errorsIsInvalidInput(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindInvalidInput
}

func TestEscrowTemplate(t *testing.T) {
	f := newFixture(t)
	p := f.createProject(t, f.clock.Now().Add(24*time.Hour))

	tx, err := f.svc.EscrowTemplate(context.Background(), p.ID, p.Milestones[0].ID, TemplateCreate)
	if err != nil {
		t.Fatalf("EscrowTemplate() err=%v", err)
	}
	if tx.Amount != "1000000000" {
		t.Fatalf("amount = %s", tx.Amount)
	}
}
