package escrow

import (
	"fmt"
	"strings"
	"time"

	"trancheflow/internal/model"
	"trancheflow/pkg/rbac"
)

// Transition 里程碑状态机的五种迁移（审核拆成 Approve/Reject）
type Transition int

const (
	TransitionSubmitEvidence Transition = iota
	TransitionApprove
	TransitionReject
	TransitionRelease
	TransitionReturn
	TransitionExpire
)

// AllTransitions 全部迁移，用于穷举测试
var AllTransitions = []Transition{
	TransitionSubmitEvidence,
	TransitionApprove,
	TransitionReject,
	TransitionRelease,
	TransitionReturn,
	TransitionExpire,
}

func (t Transition) String() string {
	if r, ok := transitions[t]; ok {
		return r.name
	}
	return fmt.Sprintf("Transition(%d)", int(t))
}

// transitionInput 调用方提供的迁移参数
type transitionInput struct {
	evidence *model.Evidence
	comment  string
}

type rule struct {
	name string
	// 允许调用的角色，空表示仅系统内部（过期扫描）
	role       model.Role
	permission string
	// 审计条目中记录的执行者
	actor  model.Role
	action model.AuditAction
	from   []model.MilestoneStatus
	// to 为空表示状态不变
	to model.MilestoneStatus
	// 状态不满足时的提示
	stateMessage  string
	needsEvidence bool
	validate      func(in transitionInput) error
	apply         func(m *model.Milestone, in transitionInput, now time.Time)
	detail        func(m *model.Milestone, in transitionInput) string
}

var transitions = map[Transition]rule{
	TransitionSubmitEvidence: {
		name:         "submit_evidence",
		role:         model.RoleContractor,
		permission:   rbac.PermissionSubmitEvidence,
		actor:        model.RoleContractor,
		action:       model.ActionEvidenceSubmitted,
		from:         []model.MilestoneStatus{model.StatusLocked, model.StatusRejected},
		to:           model.StatusEvidenceSubmitted,
		stateMessage: "Evidence can only be submitted for LOCKED or REJECTED milestones",
		validate: func(in transitionInput) error {
			if in.evidence == nil || strings.TrimSpace(in.evidence.URL) == "" {
				return newError(KindInvalidInput, "Evidence URL is required")
			}
			return nil
		},
		apply: func(m *model.Milestone, in transitionInput, now time.Time) {
			ev := *in.evidence
			m.Evidence = &ev
			m.AuditorComment = nil
		},
		detail: func(m *model.Milestone, in transitionInput) string {
			note := in.evidence.Note
			if note == "" {
				note = "(none)"
			}
			return fmt.Sprintf("URL: %s | Note: %s", in.evidence.URL, note)
		},
	},
	TransitionApprove: {
		name:          "approve",
		role:          model.RoleAuditor,
		permission:    rbac.PermissionReviewEvidence,
		actor:         model.RoleAuditor,
		action:        model.ActionMilestoneApproved,
		from:          []model.MilestoneStatus{model.StatusEvidenceSubmitted},
		to:            model.StatusApproved,
		stateMessage:  "Only milestones with submitted evidence can be reviewed",
		needsEvidence: true,
		apply: func(m *model.Milestone, in transitionInput, now time.Time) {
			t := now
			c := in.comment
			m.ApprovedAt = &t
			m.AuditorComment = &c
		},
		detail: func(m *model.Milestone, in transitionInput) string {
			if in.comment == "" {
				return "Approved without comment"
			}
			return `Approved with comment: "` + in.comment + `"`
		},
	},
	TransitionReject: {
		name:          "reject",
		role:          model.RoleAuditor,
		permission:    rbac.PermissionReviewEvidence,
		actor:         model.RoleAuditor,
		action:        model.ActionMilestoneRejected,
		from:          []model.MilestoneStatus{model.StatusEvidenceSubmitted},
		to:            model.StatusRejected,
		stateMessage:  "Only milestones with submitted evidence can be reviewed",
		needsEvidence: true,
		validate: func(in transitionInput) error {
			if strings.TrimSpace(in.comment) == "" {
				return newError(KindInvalidInput, "Rejection requires a comment")
			}
			return nil
		},
		apply: func(m *model.Milestone, in transitionInput, now time.Time) {
			c := in.comment
			m.AuditorComment = &c
		},
		detail: func(m *model.Milestone, in transitionInput) string {
			return `Rejected: "` + in.comment + `"`
		},
	},
	TransitionRelease: {
		name:         "release",
		role:         model.RoleDonor,
		permission:   rbac.PermissionReleaseFunds,
		actor:        model.RoleDonor,
		action:       model.ActionFundsReleased,
		from:         []model.MilestoneStatus{model.StatusApproved},
		to:           model.StatusReleased,
		stateMessage: "Funds can only be released for APPROVED milestones",
		apply: func(m *model.Milestone, in transitionInput, now time.Time) {
			t := now
			m.ReleasedAt = &t
		},
		detail: func(m *model.Milestone, in transitionInput) string {
			return formatAmount(m.TrancheAmount) + " released to contractor"
		},
	},
	TransitionReturn: {
		name:         "return",
		role:         model.RoleDonor,
		permission:   rbac.PermissionReturnFunds,
		actor:        model.RoleDonor,
		action:       model.ActionFundsReturned,
		from:         []model.MilestoneStatus{model.StatusExpired},
		stateMessage: "Funds can only be returned for EXPIRED milestones",
		detail: func(m *model.Milestone, in transitionInput) string {
			return formatAmount(m.TrancheAmount) + " returned to donor (deadline expired)"
		},
	},
	TransitionExpire: {
		name:   "expire",
		actor:  model.RoleDonor,
		action: model.ActionMilestoneExpired,
		from: []model.MilestoneStatus{
			model.StatusLocked,
			model.StatusEvidenceSubmitted,
			model.StatusApproved,
			model.StatusRejected,
		},
		to:           model.StatusExpired,
		stateMessage: "Only open milestones can expire",
		detail: func(m *model.Milestone, in transitionInput) string {
			return "Deadline passed without release"
		},
	},
}

// Allowed 迁移 t 能否从状态 s 发生
func Allowed(t Transition, s model.MilestoneStatus) bool {
	r, ok := transitions[t]
	if !ok {
		return false
	}
	for _, from := range r.from {
		if from == s {
			return true
		}
	}
	return false
}

// authorize 空角色视为迁移指定的角色
func authorize(t Transition, actor model.Role) error {
	r := transitions[t]
	if r.role == "" {
		return newError(KindForbidden, "%s is not caller-invocable", r.name)
	}
	if err := rbac.CheckPermission(string(actor), r.permission); err != nil {
		return &Error{Kind: KindForbidden, Message: err.Error()}
	}
	return nil
}

// checkPreconditions 依次检查状态和证据
func checkPreconditions(t Transition, m *model.Milestone) error {
	r, ok := transitions[t]
	if !ok {
		return newError(KindInvalidInput, "unknown transition %d", int(t))
	}
	if !Allowed(t, m.Status) {
		return newError(KindInvalidState, "%s", r.stateMessage)
	}
	if r.needsEvidence && m.Evidence == nil {
		return newError(KindMissingEvidence, "No evidence to review")
	}
	return nil
}

// fire 校验并执行迁移，失败时项目保持不变；成功时追加一条审计条目
func fire(p *model.Project, idx int, t Transition, in transitionInput, now time.Time, newID func() string) (model.AuditEntry, error) {
	m := &p.Milestones[idx]
	if err := checkPreconditions(t, m); err != nil {
		return model.AuditEntry{}, err
	}
	r := transitions[t]
	if r.validate != nil {
		if err := r.validate(in); err != nil {
			return model.AuditEntry{}, err
		}
	}

	if r.apply != nil {
		r.apply(m, in, now)
	}
	if r.to != "" {
		m.Status = r.to
	}

	entry := model.AuditEntry{
		ID:             newID(),
		Actor:          r.actor,
		Action:         r.action,
		MilestoneTitle: m.Title,
		MilestoneIndex: idx,
		Timestamp:      now,
		Detail:         r.detail(m, in),
	}
	p.AuditLog = append(p.AuditLog, entry)
	return entry, nil
}
