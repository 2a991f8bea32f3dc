package repository

import (
	"context"
	"sort"
	"sync"

	"trancheflow/internal/model"
)

// MemoryStore 进程内存储，用于测试和单实例开发环境
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*model.Project
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*model.Project)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.projects[p.ID]; ok && len(p.AuditLog) < len(old.AuditLog) {
		return ErrAuditLogShrunk
	}
	s.projects[p.ID] = p.Clone()
	return nil
}

// ListAll 按创建时间排序
func (s *MemoryStore) ListAll(ctx context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	out := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sortProjects(out)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func sortProjects(ps []*model.Project) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
