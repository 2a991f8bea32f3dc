package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	contractsmq "trancheflow/contracts/mq"
	"trancheflow/pkg/logger"
	"trancheflow/pkg/metrics"
	"trancheflow/pkg/util"
)

const handlerName = "milestone_event_log"

// Binding 一个消费队列及其绑定的路由键
type Binding struct {
	Queue      string
	RoutingKey string
}

// EventBindings 覆盖全部审计动作：milestone.<action> 与 project.created
var EventBindings = []Binding{
	{Queue: "escrow.milestone.events.q", RoutingKey: "milestone.*"},
	{Queue: "escrow.project.events.q", RoutingKey: "project.*"},
}

// MilestoneEventHandler 消费 milestone.* 与 project.* 事件，记录日志并更新指标
type MilestoneEventHandler struct {
	deduper util.Deduper
	logger  *zap.Logger
}

func NewMilestoneEventHandler(deduper util.Deduper, logger *zap.Logger) *MilestoneEventHandler {
	return &MilestoneEventHandler{
		deduper: deduper,
		logger:  logger,
	}
}

func (h *MilestoneEventHandler) Handle(ctx context.Context, routingKey string, raw json.RawMessage) error {
	var p contractsmq.MilestoneEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal MilestoneEventPayload", zap.Error(err))
		return err
	}
	if p.EventID == "" || p.ProjectID == "" {
		return fmt.Errorf("%w: event without event_id or project_id", util.ErrNonRetryable)
	}

	log := logger.WithTrace(ctx, h.logger)
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, p.EventID) {
		log.Info("Duplicate milestone event skipped", zap.String("event_id", p.EventID))
		return nil
	}

	metrics.IncrementEventConsumed(routingKey)
	log.Info("Milestone event",
		zap.String("routing_key", routingKey),
		zap.String("event_id", p.EventID),
		zap.String("project_id", p.ProjectID),
		zap.String("milestone_id", p.MilestoneID),
		zap.Int("milestone_index", p.MilestoneIndex),
		zap.String("action", p.Action),
		zap.String("actor", p.Actor),
		zap.String("status", p.Status),
		zap.Float64("amount", p.Amount),
		zap.String("detail", p.Detail),
	)
	return nil
}
