package mq

import "time"

// MilestoneEventPayload 每条审计条目对应一个事件，routing key 为 milestone.<action> 或 project.created
type MilestoneEventPayload struct {
	EventID        string    `json:"event_id"` // 审计条目 id，消费方用于去重
	ProjectID      string    `json:"project_id"`
	ProjectTitle   string    `json:"project_title"`
	MilestoneID    string    `json:"milestone_id,omitempty"`
	MilestoneIndex int       `json:"milestone_index"`
	MilestoneTitle string    `json:"milestone_title"`
	Action         string    `json:"action"`
	Actor          string    `json:"actor"`
	Status         string    `json:"status,omitempty"` // 迁移后的里程碑状态
	Amount         float64   `json:"amount,omitempty"`
	Detail         string    `json:"detail"`
	OccurredAt     time.Time `json:"occurred_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}
