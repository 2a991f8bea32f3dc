package escrow

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"trancheflow/internal/model"
)

// 链上托管模板只作技术参考，账户地址为占位符
const (
	donorWallet      = "DONOR_WALLET_ADDRESS"
	contractorWallet = "CONTRACTOR_WALLET_ADDRESS"
	dropsPerXRP      = 1_000_000
	cancelGrace      = 30 * 24 * time.Hour
)

type TemplateKind string

const (
	TemplateCreate TemplateKind = "create"
	TemplateFinish TemplateKind = "finish"
	TemplateCancel TemplateKind = "cancel"
)

type Memo struct {
	MemoData string `json:"MemoData"`
	MemoType string `json:"MemoType"`
}

type MemoWrapper struct {
	Memo Memo `json:"Memo"`
}

// EscrowTransaction XRPL EscrowCreate / EscrowFinish / EscrowCancel 模板
type EscrowTransaction struct {
	TransactionType string        `json:"TransactionType"`
	Account         string        `json:"Account"`
	Destination     string        `json:"Destination,omitempty"`
	Owner           string        `json:"Owner,omitempty"`
	Amount          string        `json:"Amount,omitempty"`
	FinishAfter     int64         `json:"FinishAfter,omitempty"`
	CancelAfter     int64         `json:"CancelAfter,omitempty"`
	OfferSequence   *int          `json:"OfferSequence,omitempty"`
	Condition       string        `json:"Condition,omitempty"`
	Fulfillment     string        `json:"Fulfillment,omitempty"`
	Memos           []MemoWrapper `json:"Memos"`
}

// EscrowTemplate 读取项目（含过期扫描）并渲染指定类型的模板
func (s *Service) EscrowTemplate(ctx context.Context, projectID, milestoneID string, kind TemplateKind) (*EscrowTransaction, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	idx := p.MilestoneIndex(milestoneID)
	if idx < 0 {
		return nil, newError(KindNotFound, "Milestone not found")
	}
	return renderTemplate(p.ID, &p.Milestones[idx], kind)
}

func renderTemplate(projectID string, m *model.Milestone, kind TemplateKind) (*EscrowTransaction, error) {
	switch kind {
	case TemplateCreate:
		deadline := m.Deadline.Unix()
		return &EscrowTransaction{
			TransactionType: "EscrowCreate",
			Account:         donorWallet,
			Destination:     contractorWallet,
			Amount:          strconv.FormatInt(toDrops(m.TrancheAmount), 10),
			FinishAfter:     deadline,
			CancelAfter:     deadline + int64(cancelGrace/time.Second),
			Condition:       "CRYPTO_CONDITION_FOR_" + shortID(m.ID),
			Memos: jsonMemo(struct {
				ProjectID   string `json:"projectId"`
				MilestoneID string `json:"milestoneId"`
				Title       string `json:"title"`
			}{projectID, m.ID, m.Title}),
		}, nil
	case TemplateFinish:
		approvedAt := "pending"
		if m.ApprovedAt != nil {
			approvedAt = m.ApprovedAt.UTC().Format(time.RFC3339Nano)
		}
		seq := 0
		return &EscrowTransaction{
			TransactionType: "EscrowFinish",
			Account:         donorWallet,
			Owner:           donorWallet,
			OfferSequence:   &seq,
			Condition:       "CRYPTO_CONDITION_FOR_" + shortID(m.ID),
			Fulfillment:     "FULFILLMENT_REVEALED_AFTER_AUDITOR_APPROVAL_" + shortID(m.ID),
			Memos: jsonMemo(struct {
				Action      string `json:"action"`
				MilestoneID string `json:"milestoneId"`
				ApprovedAt  string `json:"approvedAt"`
			}{"release", m.ID, approvedAt}),
		}, nil
	case TemplateCancel:
		seq := 0
		return &EscrowTransaction{
			TransactionType: "EscrowCancel",
			Account:         donorWallet,
			Owner:           donorWallet,
			OfferSequence:   &seq,
			Memos: jsonMemo(struct {
				Action      string `json:"action"`
				MilestoneID string `json:"milestoneId"`
				Reason      string `json:"reason"`
			}{"cancel", m.ID, "deadline_expired"}),
		}, nil
	}
	return nil, newError(KindInvalidInput, "kind must be create, finish or cancel")
}

func shortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

func jsonMemo(v any) []MemoWrapper {
	data, _ := json.Marshal(v)
	return []MemoWrapper{{Memo: Memo{
		MemoData: hex.EncodeToString(data),
		MemoType: hex.EncodeToString([]byte("application/json")),
	}}}
}

// toDrops 换算为整数 drops，四舍五入消除浮点误差
func toDrops(xrp float64) int64 {
	return int64(math.Round(xrp * dropsPerXRP))
}
