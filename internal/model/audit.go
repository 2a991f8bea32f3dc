package model

import (
	"strings"
	"time"
)

type AuditAction string

const (
	ActionProjectCreated    AuditAction = "PROJECT_CREATED"
	ActionEvidenceSubmitted AuditAction = "EVIDENCE_SUBMITTED"
	ActionMilestoneApproved AuditAction = "MILESTONE_APPROVED"
	ActionMilestoneRejected AuditAction = "MILESTONE_REJECTED"
	ActionFundsReleased     AuditAction = "FUNDS_RELEASED"
	ActionFundsReturned     AuditAction = "FUNDS_RETURNED"
	ActionMilestoneExpired  AuditAction = "MILESTONE_EXPIRED"
)

var actionLabels = map[AuditAction]string{
	ActionProjectCreated:    "Project created",
	ActionEvidenceSubmitted: "Evidence submitted",
	ActionMilestoneApproved: "Milestone approved",
	ActionMilestoneRejected: "Evidence rejected",
	ActionFundsReleased:     "Funds released",
	ActionFundsReturned:     "Funds returned",
	ActionMilestoneExpired:  "Milestone expired",
}

// Label 审计动作的展示名称，未知动作原样返回
func (a AuditAction) Label() string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// RoutingKey MQ 路由键，例如 FUNDS_RELEASED -> milestone.funds_released
func (a AuditAction) RoutingKey() string {
	if a == ActionProjectCreated {
		return "project.created"
	}
	return "milestone." + strings.ToLower(string(a))
}

// 项目级审计条目使用的里程碑快照
const (
	ProjectLevelTitle = "—"
	ProjectLevelIndex = -1
)

type AuditEntry struct {
	ID             string      `json:"id"`
	Actor          Role        `json:"actor"`
	Action         AuditAction `json:"action"`
	MilestoneTitle string      `json:"milestoneTitle"`
	MilestoneIndex int         `json:"milestoneIndex"`
	Timestamp      time.Time   `json:"timestamp"`
	Detail         string      `json:"detail,omitempty"`
}

// RecentFirst 返回按时间倒序的副本，存储顺序保持不变
func RecentFirst(entries []AuditEntry) []AuditEntry {
	out := make([]AuditEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
