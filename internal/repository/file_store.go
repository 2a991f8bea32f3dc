package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"trancheflow/internal/model"
)

// FileStore 把全部项目保存为一个 JSON 数组文件
// 每次写入先写临时文件再 rename，进程崩溃不会留下半个文件
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore 文件不存在时创建空数组
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	s := &FileStore{path: path, logger: logger}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrProjectNotFound
}

func (s *FileStore) Put(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range projects {
		if existing.ID != p.ID {
			continue
		}
		if len(p.AuditLog) < len(existing.AuditLog) {
			return ErrAuditLogShrunk
		}
		projects[i] = p.Clone()
		replaced = true
		break
	}
	if !replaced {
		projects = append(projects, p.Clone())
	}
	return s.write(projects)
}

// ListAll 保持文件中的顺序（即首次写入顺序）
func (s *FileStore) ListAll(ctx context.Context) ([]*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

func (s *FileStore) read() ([]*model.Project, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var projects []*model.Project
	if len(data) == 0 {
		return projects, nil
	}
	if err := json.Unmarshal(data, &projects); err != nil {
		s.logger.Error("Project file is corrupt", zap.String("path", s.path), zap.Error(err))
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return projects, nil
}

func (s *FileStore) write(projects []*model.Project) error {
	if projects == nil {
		projects = []*model.Project{}
	}
	data, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".projects-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
