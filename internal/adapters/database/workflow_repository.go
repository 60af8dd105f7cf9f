package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

type PostgresWorkflowRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresWorkflowRepository(pool *pgxpool.Pool) domain.WorkflowRepository {
	return &PostgresWorkflowRepository{pool: pool}
}

const workflowColumns = `id, name, definition, schedule, timezone, last_scheduled_occurrence, created_at, updated_at`

func (r *PostgresWorkflowRepository) CreateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	definition, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	_, err = r.pool.Exec(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wf.ID, wf.Name, definition, wf.Schedule, wf.Timezone, wf.LastScheduledOccurrence, wf.CreatedAt, wf.UpdatedAt,
	)
	if pgCode(err) == uniqueViolation {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	return err
}

func (r *PostgresWorkflowRepository) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return wf, err
}

func (r *PostgresWorkflowRepository) UpdateWorkflow(ctx context.Context, wf *domain.Workflow) error {
	definition, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	wf.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx, `
		UPDATE workflows
		SET name = $2, definition = $3, schedule = $4, timezone = $5,
			last_scheduled_occurrence = $6, updated_at = $7
		WHERE id = $1`,
		wf.ID, wf.Name, definition, wf.Schedule, wf.Timezone, wf.LastScheduledOccurrence, wf.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

// DeleteWorkflow removes the workflow; runs and steps go with it.
func (r *PostgresWorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrWorkflowNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

func (r *PostgresWorkflowRepository) ListWorkflows(ctx context.Context, limit int) ([]*domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		ORDER BY created_at DESC
		LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, err
	}
	return collectWorkflows(rows)
}

func (r *PostgresWorkflowRepository) ListScheduledWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM workflows
		WHERE schedule <> ''
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectWorkflows(rows)
}

func (r *PostgresWorkflowRepository) MarkScheduled(ctx context.Context, workflowID string, occurrence time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workflows SET last_scheduled_occurrence = $2 WHERE id = $1`,
		workflowID, occurrence.UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var (
		wf         domain.Workflow
		definition []byte
	)
	err := row.Scan(&wf.ID, &wf.Name, &definition, &wf.Schedule, &wf.Timezone,
		&wf.LastScheduledOccurrence, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(definition, &wf.Definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition of workflow %s: %w", wf.ID, err)
	}
	return &wf, nil
}

func collectWorkflows(rows pgx.Rows) ([]*domain.Workflow, error) {
	defer rows.Close()

	var workflows []*domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}
