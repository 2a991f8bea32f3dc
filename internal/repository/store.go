package repository

import (
	"context"
	"errors"

	"trancheflow/internal/model"
)

// ErrProjectNotFound 项目不存在
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore 项目聚合的持久化接口
// Get 找不到时返回 ErrProjectNotFound；Put 按 id 幂等 upsert 整个项目
// 所有实现都返回副本，调用方修改返回值不会影响存储中的数据
type ProjectStore interface {
	Get(ctx context.Context, id string) (*model.Project, error)
	Put(ctx context.Context, p *model.Project) error
	ListAll(ctx context.Context) ([]*model.Project, error)
}

// Pinger 支持 readiness 检查的存储
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrAuditLogShrunk Put 时审计日志比已存储的短
var ErrAuditLogShrunk = errors.New("audit log is append-only")
