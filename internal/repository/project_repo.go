package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"trancheflow/internal/model"
	"trancheflow/pkg/otel"
	"trancheflow/pkg/outbox"
	"trancheflow/pkg/trace"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema 建表（幂等）
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresStore 项目文档存为 JSONB，审计日志单独成表
// Put 时新增的审计条目在同一事务中写入 outbox，由 dispatcher 发布到 MQ
type PostgresStore struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, outbox: outboxRepo, logger: logger}
}

// projectDocument 不含审计日志的项目文档
type projectDocument struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	DonorName      string            `json:"donorName"`
	ContractorName string            `json:"contractorName"`
	CreatedAt      time.Time         `json:"createdAt"`
	Milestones     []model.Milestone `json:"milestones"`
}

func toDocument(p *model.Project) projectDocument {
	return projectDocument{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		DonorName:      p.DonorName,
		ContractorName: p.ContractorName,
		CreatedAt:      p.CreatedAt,
		Milestones:     p.Milestones,
	}
}

func (d projectDocument) project(log []model.AuditEntry) *model.Project {
	if log == nil {
		log = []model.AuditEntry{}
	}
	return &model.Project{
		ID:             d.ID,
		Title:          d.Title,
		Description:    d.Description,
		DonorName:      d.DonorName,
		ContractorName: d.ContractorName,
		CreatedAt:      d.CreatedAt,
		Milestones:     d.Milestones,
		AuditLog:       log,
	}
}

const auditColumns = `id, actor, action, milestone_title, milestone_index, detail, occurred_at`

func scanAudit(row pgx.Row) (model.AuditEntry, error) {
	var e model.AuditEntry
	err := row.Scan(&e.ID, &e.Actor, &e.Action, &e.MilestoneTitle, &e.MilestoneIndex, &e.Detail, &e.Timestamp)
	return e, err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Project, error) {
	var doc projectDocument
	err := otel.Traced(ctx, "select", "projects", "SELECT document FROM projects", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `SELECT document FROM projects WHERE id = $1`, id).Scan(&doc)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}

	var log []model.AuditEntry
	err = otel.Traced(ctx, "select", "audit_entries", "SELECT audit_entries", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT `+auditColumns+`
			FROM audit_entries
			WHERE project_id = $1
			ORDER BY seq ASC
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanAudit(rows)
			if err != nil {
				return err
			}
			log = append(log, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log for %s: %w", id, err)
	}
	return doc.project(log), nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*model.Project, error) {
	var projects []*model.Project
	index := make(map[string]*model.Project)

	err := otel.Traced(ctx, "select", "projects", "SELECT document FROM projects", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `SELECT document FROM projects ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var doc projectDocument
			if err := rows.Scan(&doc); err != nil {
				return err
			}
			p := doc.project(nil)
			projects = append(projects, p)
			index[p.ID] = p
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	err = otel.Traced(ctx, "select", "audit_entries", "SELECT audit_entries", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT project_id, `+auditColumns+`
			FROM audit_entries
			ORDER BY project_id, seq ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var projectID string
			var e model.AuditEntry
			if err := rows.Scan(&projectID, &e.ID, &e.Actor, &e.Action, &e.MilestoneTitle, &e.MilestoneIndex, &e.Detail, &e.Timestamp); err != nil {
				return err
			}
			if p, ok := index[projectID]; ok {
				p.AuditLog = append(p.AuditLog, e)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return projects, nil
}

// Put 单事务：upsert 项目文档，追加新的审计条目并为每条写入 outbox 事件
func (s *PostgresStore) Put(ctx context.Context, p *model.Project) error {
	doc, err := json.Marshal(toDocument(p))
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}

	return otel.Traced(ctx, "upsert", "projects", "UPSERT projects", func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx, `
			INSERT INTO projects (id, title, document, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title, document = EXCLUDED.document, updated_at = NOW()
		`, p.ID, p.Title, doc, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert project: %w", err)
		}

		var stored int
		err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries WHERE project_id = $1`, p.ID).Scan(&stored)
		if err != nil {
			return fmt.Errorf("failed to count audit entries: %w", err)
		}

		fresh, err := newEntries(p.AuditLog, stored)
		if err != nil {
			return err
		}

		traceID := trace.FromContext(ctx)
		for i, e := range fresh {
			var inserted string
			err := tx.QueryRow(ctx, `
				INSERT INTO audit_entries (id, project_id, seq, actor, action, milestone_title, milestone_index, detail, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (id) DO NOTHING
				RETURNING id
			`, e.ID, p.ID, stored+i, e.Actor, e.Action, e.MilestoneTitle, e.MilestoneIndex, e.Detail, e.Timestamp).Scan(&inserted)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to insert audit entry: %w", err)
			}

			if s.outbox == nil {
				continue
			}
			ev := NewMilestoneEvent(p, e, traceID)
			if err := outbox.InsertEventInTx(ctx, tx, s.outbox, AggregateType, p.ID, e.Action.RoutingKey(), ev); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
		if len(fresh) > 0 {
			s.logger.Debug("Project persisted",
				zap.String("project_id", p.ID),
				zap.Int("new_audit_entries", len(fresh)),
			)
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// newEntries 返回尚未持久化的审计条目；日志变短说明调用方丢了条目
func newEntries(log []model.AuditEntry, stored int) ([]model.AuditEntry, error) {
	if len(log) < stored {
		return nil, fmt.Errorf("%w: have %d entries, stored %d", ErrAuditLogShrunk, len(log), stored)
	}
	return log[stored:], nil
}
