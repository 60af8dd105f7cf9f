package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skalaliya/agent.algorythmos/internal/domain"
)

type PostgresRunRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRunRepository(pool *pgxpool.Pool) domain.RunRepository {
	return &PostgresRunRepository{pool: pool}
}

const (
	runColumns  = `id, workflow_id, status, started_by, credits, created_at, started_at, finished_at`
	stepColumns = `id, run_id, parent_step_id, idx, name, type, input, output, status, credits, started_at, finished_at`
)

func (r *PostgresRunRepository) CreateRun(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, err := uuid.Parse(run.WorkflowID); err != nil {
		return domain.ErrWorkflowNotFound
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.WorkflowID, string(run.Status), run.StartedBy, run.Credits,
		run.CreatedAt, run.StartedAt, run.FinishedAt,
	)
	switch pgCode(err) {
	case foreignKeyViolation:
		return domain.ErrWorkflowNotFound
	case uniqueViolation:
		return fmt.Errorf("run %s already exists", run.ID)
	}
	return err
}

func (r *PostgresRunRepository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// UpdateRun writes the mutable run fields if the stored status is still from.
func (r *PostgresRunRepository) UpdateRun(ctx context.Context, run *domain.Run, from domain.RunStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, credits = $3, started_at = $4, finished_at = $5
		WHERE id = $1 AND status = $6`,
		run.ID, string(run.Status), run.Credits, run.StartedAt, run.FinishedAt, string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrRunNotFound
	}
	return domain.ErrRunStatusChanged
}

func (r *PostgresRunRepository) ListRuns(ctx context.Context, workflowID string, limit int) ([]*domain.Run, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if workflowID == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+runColumns+` FROM runs
			ORDER BY created_at DESC
			LIMIT NULLIF($1, 0)`, limit)
	} else {
		if _, perr := uuid.Parse(workflowID); perr != nil {
			return nil, nil
		}
		rows, err = r.pool.Query(ctx, `
			SELECT `+runColumns+` FROM runs
			WHERE workflow_id = $1
			ORDER BY created_at DESC
			LIMIT NULLIF($2, 0)`, workflowID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *PostgresRunRepository) CreateRunStep(ctx context.Context, step *domain.RunStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	input, output, err := encodeStepIO(step)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO run_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		step.ID, step.RunID, step.ParentStepID, step.Index, step.Name, step.Type,
		input, output, string(step.Status), step.Credits, step.StartedAt, step.FinishedAt,
	)
	switch pgCode(err) {
	case foreignKeyViolation:
		return domain.ErrRunNotFound
	case uniqueViolation:
		return fmt.Errorf("run %s already has a step at index %d", step.RunID, step.Index)
	}
	return err
}

func (r *PostgresRunRepository) UpdateRunStep(ctx context.Context, step *domain.RunStep) error {
	input, output, err := encodeStepIO(step)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE run_steps
		SET input = $2, output = $3, status = $4, credits = $5, started_at = $6, finished_at = $7
		WHERE id = $1`,
		step.ID, input, output, string(step.Status), step.Credits, step.StartedAt, step.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("run step %s not found", step.ID)
	}
	return nil
}

func (r *PostgresRunRepository) ListRunSteps(ctx context.Context, runID string) ([]*domain.RunStep, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+stepColumns+` FROM run_steps
		WHERE run_id = $1
		ORDER BY idx, started_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*domain.RunStep
	for rows.Next() {
		var (
			step          domain.RunStep
			status        string
			input, output []byte
		)
		err := rows.Scan(&step.ID, &step.RunID, &step.ParentStepID, &step.Index, &step.Name, &step.Type,
			&input, &output, &status, &step.Credits, &step.StartedAt, &step.FinishedAt)
		if err != nil {
			return nil, err
		}
		step.Status = domain.StepStatus(status)
		if step.Input, err = decodeJSON(input); err != nil {
			return nil, fmt.Errorf("failed to decode input of step %s: %w", step.ID, err)
		}
		if step.Output, err = decodeJSON(output); err != nil {
			return nil, fmt.Errorf("failed to decode output of step %s: %w", step.ID, err)
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run    domain.Run
		status string
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &status, &run.StartedBy, &run.Credits,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	return &run, nil
}

func encodeStepIO(step *domain.RunStep) ([]byte, []byte, error) {
	input, err := json.Marshal(step.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode input of step %s: %w", step.ID, err)
	}
	output, err := json.Marshal(step.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode output of step %s: %w", step.ID, err)
	}
	return input, output, nil
}

func decodeJSON(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
