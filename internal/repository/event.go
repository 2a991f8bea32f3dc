package repository

import (
	contractsmq "trancheflow/contracts/mq"
	"trancheflow/internal/model"
)

// AggregateType outbox 中项目事件的聚合类型
const AggregateType = "project"

// NewMilestoneEvent 把一条审计条目转成 MQ 事件
func NewMilestoneEvent(p *model.Project, e model.AuditEntry, traceID string) contractsmq.MilestoneEventPayload {
	ev := contractsmq.MilestoneEventPayload{
		EventID:        e.ID,
		ProjectID:      p.ID,
		ProjectTitle:   p.Title,
		MilestoneIndex: e.MilestoneIndex,
		MilestoneTitle: e.MilestoneTitle,
		Action:         string(e.Action),
		Actor:          string(e.Actor),
		Detail:         e.Detail,
		OccurredAt:     e.Timestamp,
		TraceID:        traceID,
	}
	if e.MilestoneIndex >= 0 && e.MilestoneIndex < len(p.Milestones) {
		m := p.Milestones[e.MilestoneIndex]
		ev.MilestoneID = m.ID
		ev.Status = string(m.Status)
		ev.Amount = m.TrancheAmount
	}
	return ev
}
