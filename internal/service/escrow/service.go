package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trancheflow/internal/model"
	"trancheflow/internal/repository"
	"trancheflow/internal/service/judge"
	"trancheflow/pkg/logger"
	"trancheflow/pkg/metrics"
	"trancheflow/pkg/otel"
	"trancheflow/pkg/trace"
	"trancheflow/pkg/util"
)

// Publisher 里程碑事件发布方；使用 PostgreSQL 存储时事件走 outbox，不需要设置
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// EvidenceArchive 证据文件归档（MinIO）
type EvidenceArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, string, error)
}

// Service 里程碑托管的全部业务操作
type Service struct {
	store     repository.ProjectStore
	locker    util.Locker
	judge     judge.Judge
	archive   EvidenceArchive
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithLocker(l util.Locker) Option { return func(s *Service) { s.locker = l } }

func WithJudge(j judge.Judge) Option { return func(s *Service) { s.judge = j } }

func WithArchive(a EvidenceArchive) Option { return func(s *Service) { s.archive = a } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithClock 测试中固定时间
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func NewService(store repository.ProjectStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: util.NewKeyedMutex(),
		judge:  judge.Stub{},
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MilestoneInput 创建项目时的里程碑描述
type MilestoneInput struct {
	Title         string           `json:"title"`
	TrancheAmount float64          `json:"trancheAmount"`
	Deadline      time.Time        `json:"deadline"`
	Conditions    []ConditionInput `json:"conditions"`
}

type ConditionInput struct {
	ID               string                 `json:"id"`
	Description      string                 `json:"description"`
	VerificationType model.VerificationType `json:"verificationType"`
}

type CreateProjectInput struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	DonorName      string           `json:"donorName"`
	ContractorName string           `json:"contractorName"`
	Milestones     []MilestoneInput `json:"milestones"`
}

type EvidenceInput struct {
	URL      string         `json:"url"`
	Note     string         `json:"note"`
	FileData string         `json:"fileData"`
	FileType model.FileType `json:"fileType"`
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// CreateProject 所有里程碑初始为 LOCKED，写入 PROJECT_CREATED 审计条目
func (s *Service) CreateProject(ctx context.Context, in CreateProjectInput) (*model.Project, error) {
	if strings.TrimSpace(in.Title) == "" || len(in.Milestones) == 0 {
		return nil, newError(KindInvalidInput, "Invalid project data: need at least one milestone")
	}

	now := s.now()
	p := &model.Project{
		ID:             s.newID(),
		Title:          in.Title,
		Description:    in.Description,
		DonorName:      in.DonorName,
		ContractorName: in.ContractorName,
		CreatedAt:      now,
		Milestones:     make([]model.Milestone, 0, len(in.Milestones)),
	}

	for i, mi := range in.Milestones {
		m, err := s.buildMilestone(i, mi)
		if err != nil {
			return nil, err
		}
		p.Milestones = append(p.Milestones, m)
	}

	entry := model.AuditEntry{
		ID:             s.newID(),
		Actor:          model.RoleDonor,
		Action:         model.ActionProjectCreated,
		MilestoneTitle: model.ProjectLevelTitle,
		MilestoneIndex: model.ProjectLevelIndex,
		Timestamp:      now,
		Detail:         fmt.Sprintf("Project %q created with %d milestones", in.Title, len(p.Milestones)),
	}
	p.AuditLog = []model.AuditEntry{entry}

	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	logger.WithTrace(ctx, s.logger).Info("Project created",
		zap.String("project_id", p.ID),
		zap.Int("milestones", len(p.Milestones)),
	)
	s.publish(ctx, p, []model.AuditEntry{entry})
	return p, nil
}

func (s *Service) buildMilestone(i int, mi MilestoneInput) (model.Milestone, error) {
	if strings.TrimSpace(mi.Title) == "" {
		return model.Milestone{}, newError(KindInvalidInput, "Milestone %d: title is required", i+1)
	}
	if mi.TrancheAmount <= 0 {
		return model.Milestone{}, newError(KindInvalidInput, "Milestone %d: tranche amount must be positive", i+1)
	}
	if mi.Deadline.IsZero() {
		return model.Milestone{}, newError(KindInvalidInput, "Milestone %d: deadline is required", i+1)
	}

	conditions := make([]model.Condition, 0, len(mi.Conditions))
	for _, ci := range mi.Conditions {
		vt := ci.VerificationType
		if vt == "" {
			vt = model.VerificationManual
		}
		if !vt.Valid() {
			return model.Milestone{}, newError(KindInvalidInput, "Milestone %d: unknown verification type %q", i+1, ci.VerificationType)
		}
		id := ci.ID
		if id == "" {
			id = s.newID()
		}
		conditions = append(conditions, model.Condition{ID: id, Description: ci.Description, VerificationType: vt})
	}

	return model.Milestone{
		ID:            s.newID(),
		Title:         mi.Title,
		TrancheAmount: mi.TrancheAmount,
		Deadline:      mi.Deadline,
		Status:        model.StatusLocked,
		Conditions:    conditions,
	}, nil
}

// GetProject 读取前先执行过期扫描
func (s *Service) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sweepRead(ctx, p)
}

// ListProjects 每个项目都经过过期扫描
func (s *Service) ListProjects(ctx context.Context) ([]*model.Project, error) {
	projects, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]*model.Project, 0, len(projects))
	for _, p := range projects {
		swept, err := s.sweepRead(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, swept)
	}
	return out, nil
}

// sweepRead 无过期时直接返回；否则加锁重新读取并持久化一次
func (s *Service) sweepRead(ctx context.Context, p *model.Project) (*model.Project, error) {
	scratch := p.Clone()
	if len(sweepExpired(scratch, s.now(), func() string { return "" })) == 0 {
		return p, nil
	}

	unlock, err := s.locker.Lock(ctx, lockKey(p.ID))
	if err != nil {
		return nil, fmt.Errorf("lock project %s: %w", p.ID, err)
	}
	defer unlock()

	fresh, err := s.load(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.sweepAndPersist(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// sweepAndPersist 调用方持有项目锁
func (s *Service) sweepAndPersist(ctx context.Context, p *model.Project) ([]model.AuditEntry, error) {
	expired := sweepExpired(p, s.now(), s.newID)
	if len(expired) == 0 {
		return nil, nil
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("save swept project: %w", err)
	}
	metrics.IncrementExpired(len(expired))
	logger.WithTrace(ctx, s.logger).Info("Milestones expired",
		zap.String("project_id", p.ID),
		zap.Int("count", len(expired)),
	)
	s.publish(ctx, p, expired)
	return expired, nil
}

// SubmitEvidence Contractor 提交（或重新提交）证据
func (s *Service) SubmitEvidence(ctx context.Context, actor model.Role, projectID, milestoneID string, in EvidenceInput) (*model.Project, error) {
	return s.mutate(ctx, actor, projectID, milestoneID, TransitionSubmitEvidence, func(p *model.Project, idx int) (transitionInput, error) {
		ev, err := s.prepareEvidence(ctx, p, idx, in)
		if err != nil {
			return transitionInput{}, err
		}
		return transitionInput{evidence: ev}, nil
	})
}

// ReviewMilestone Auditor 审核；非法 decision 在状态检查之后才报错
func (s *Service) ReviewMilestone(ctx context.Context, actor model.Role, projectID, milestoneID string, decision Decision, comment string) (*model.Project, error) {
	t := TransitionApprove
	if decision == DecisionReject {
		t = TransitionReject
	}
	return s.mutate(ctx, actor, projectID, milestoneID, t, func(p *model.Project, idx int) (transitionInput, error) {
		if decision != DecisionApprove && decision != DecisionReject {
			return transitionInput{}, newError(KindInvalidInput, "Decision must be APPROVE or REJECT")
		}
		return transitionInput{comment: comment}, nil
	})
}

// ReleaseFunds Donor 放款（仅状态标记）
func (s *Service) ReleaseFunds(ctx context.Context, actor model.Role, projectID, milestoneID string) (*model.Project, error) {
	return s.mutate(ctx, actor, projectID, milestoneID, TransitionRelease, nil)
}

// ReturnFunds Donor 对已过期里程碑记录退款，里程碑字段不变
func (s *Service) ReturnFunds(ctx context.Context, actor model.Role, projectID, milestoneID string) (*model.Project, error) {
	return s.mutate(ctx, actor, projectID, milestoneID, TransitionReturn, nil)
}

// mutate 加锁 → 读取 → 过期扫描 → 校验 → 迁移 → 一次写入
func (s *Service) mutate(
	ctx context.Context,
	actor model.Role,
	projectID, milestoneID string,
	t Transition,
	prepare func(p *model.Project, idx int) (transitionInput, error),
) (*model.Project, error) {
	ctx, span := otel.StartSpan(ctx, "escrow."+t.String())
	defer span.End()

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("project_id", projectID),
		zap.String("milestone_id", milestoneID),
		zap.String("transition", t.String()),
	)

	if err := authorize(t, actor); err != nil {
		metrics.RecordTransition(t.String(), false)
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lockKey(projectID))
	if err != nil {
		return nil, fmt.Errorf("lock project %s: %w", projectID, err)
	}
	defer unlock()

	p, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expired := sweepExpired(p, now, s.newID)

	// 迁移失败时仍需持久化扫描结果
	reject := func(cause error) (*model.Project, error) {
		metrics.RecordTransition(t.String(), false)
		if len(expired) > 0 {
			if err := s.store.Put(ctx, p); err != nil {
				return nil, fmt.Errorf("save swept project: %w", err)
			}
			metrics.IncrementExpired(len(expired))
			s.publish(ctx, p, expired)
		}
		log.Info("Transition refused", zap.Error(cause))
		return nil, cause
	}

	idx := p.MilestoneIndex(milestoneID)
	if idx < 0 {
		return reject(newError(KindNotFound, "Milestone not found"))
	}
	if err := checkPreconditions(t, &p.Milestones[idx]); err != nil {
		return reject(err)
	}

	var in transitionInput
	if prepare != nil {
		if in, err = prepare(p, idx); err != nil {
			var domainErr *Error
			if !errors.As(err, &domainErr) {
				return nil, err
			}
			return reject(err)
		}
	}

	entry, err := fire(p, idx, t, in, now, s.newID)
	if err != nil {
		return reject(err)
	}

	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}

	metrics.RecordTransition(t.String(), true)
	if len(expired) > 0 {
		metrics.IncrementExpired(len(expired))
	}
	if t == TransitionRelease {
		metrics.AddReleasedAmount(p.Milestones[idx].TrancheAmount)
	}
	log.Info("Transition applied", zap.String("status", string(p.Milestones[idx].Status)))

	s.publish(ctx, p, append(expired, entry))
	return p, nil
}

func (s *Service) load(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProjectNotFound) {
			return nil, newError(KindNotFound, "Project not found")
		}
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	return p, nil
}

// publish 事件发布失败只记录日志，不影响已提交的迁移
func (s *Service) publish(ctx context.Context, p *model.Project, entries []model.AuditEntry) {
	if s.publisher == nil {
		return
	}
	traceID := trace.FromContext(ctx)
	for _, e := range entries {
		rk := e.Action.RoutingKey()
		err := s.publisher.PublishWithContext(ctx, rk, repository.NewMilestoneEvent(p, e, traceID))
		metrics.IncrementEventPublished(rk, err == nil)
		if err != nil {
			logger.WithTrace(ctx, s.logger).Warn("Failed to publish milestone event",
				zap.String("routing_key", rk),
				zap.String("project_id", p.ID),
				zap.Error(err),
			)
		}
	}
}

func lockKey(projectID string) string {
	return "escrow:project:" + projectID
}
