package escrow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"trancheflow/internal/model"
	"trancheflow/internal/service/judge"
	"trancheflow/pkg/logger"
)

// ConditionVerdict 单个条件的参考判定
type ConditionVerdict struct {
	ConditionID      string                 `json:"conditionId"`
	Description      string                 `json:"description"`
	VerificationType model.VerificationType `json:"verificationType"`
	judge.Verdict
}

// JudgeCondition 描述为空时 HTTP 层已拒绝，这里不再返回错误
func (s *Service) JudgeCondition(ctx context.Context, description string, image judge.ImageInput) judge.Verdict {
	return s.judge.Judge(ctx, strings.TrimSpace(description), image)
}

// JudgeMilestone 对里程碑的 image/document 条件逐个判定，manual 条件跳过；只读
func (s *Service) JudgeMilestone(ctx context.Context, projectID, milestoneID string) ([]ConditionVerdict, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	idx := p.MilestoneIndex(milestoneID)
	if idx < 0 {
		return nil, newError(KindNotFound, "Milestone not found")
	}
	m := p.Milestones[idx]

	var image judge.ImageInput
	data, url, err := s.evidenceImage(ctx, m.Evidence)
	if err != nil {
		// 归档读取失败按无图处理
		logger.WithTrace(ctx, s.logger).Warn("Evidence image unavailable for judge",
			zap.String("project_id", projectID),
			zap.String("milestone_id", milestoneID),
			zap.Error(err),
		)
	} else {
		image = judge.ImageInput{Data: data, URL: url}
	}

	verdicts := make([]ConditionVerdict, 0, len(m.Conditions))
	for _, c := range m.Conditions {
		if !c.VerificationType.Judgeable() {
			continue
		}
		verdicts = append(verdicts, ConditionVerdict{
			ConditionID:      c.ID,
			Description:      c.Description,
			VerificationType: c.VerificationType,
			Verdict:          s.judge.Judge(ctx, c.Description, image),
		})
	}
	return verdicts, nil
}
