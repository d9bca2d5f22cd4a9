package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	Save(ctx context.Context, run *Run) error
	// Update persists pipeline progress for an existing run. Unlike Save it
	// never inserts, so a deleted (cancelled) run stays deleted even if a
	// late progress tick races the deletion.
	Update(ctx context.Context, run *Run) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT id, patient, state, progress, simulated, notice, error, results, created_at, updated_at
		FROM analysis_runs WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	var run Run
	var patientJSON, resultsJSON []byte
	err := row.Scan(
		&run.ID,
		&patientJSON,
		&run.State,
		&run.Progress,
		&run.Simulated,
		&run.Notice,
		&run.Error,
		&resultsJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	if len(patientJSON) > 0 {
		if err := json.Unmarshal(patientJSON, &run.Patient); err != nil {
			return nil, fmt.Errorf("failed to unmarshal patient context: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}

	return &run, nil
}

func (r *postgresRepo) Save(ctx context.Context, run *Run) error {
	patientJSON, err := json.Marshal(run.Patient)
	if err != nil {
		return err
	}
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return err
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.UpdatedAt = time.Now()

	query := `
		INSERT INTO analysis_runs (id, patient, state, progress, simulated, notice, error, results, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = $3,
			progress = $4,
			simulated = $5,
			notice = $6,
			error = $7,
			results = $8,
			updated_at = $10
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID, patientJSON, run.State, run.Progress, run.Simulated, run.Notice, run.Error, resultsJSON,
		run.CreatedAt, run.UpdatedAt)
	return err
}

func (r *postgresRepo) Update(ctx context.Context, run *Run) error {
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return err
	}
	run.UpdatedAt = time.Now()

	query := `
		UPDATE analysis_runs SET
			state = $2,
			progress = $3,
			simulated = $4,
			notice = $5,
			error = $6,
			results = $7,
			updated_at = $8
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		run.ID, run.State, run.Progress, run.Simulated, run.Notice, run.Error, resultsJSON, run.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *postgresRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}
