package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// Store is the persistence surface the orchestrator and gateway depend on
type Store interface {
	CreateProject(ctx context.Context, name, description, userID string) (*models.Project, error)
	GetProject(ctx context.Context, projectID string) (*models.Project, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	GetActiveJobByProject(ctx context.Context, projectID string) (*models.Job, error)
	UpdateJobPhase(ctx context.Context, jobID string, phase models.Phase, jobErr string) error
	SavePlan(ctx context.Context, jobID string, plan *models.Plan) error
	MarkUnitGenerated(ctx context.Context, jobID, unitID string) error

	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	ListArtifacts(ctx context.Context, jobID string) ([]models.Artifact, error)
	GetLatestArtifact(ctx context.Context, projectID, name string) (*models.Artifact, error)
}

// PostgresStore persists jobs, plans and artifacts in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// CreateProject inserts a new project
func (s *PostgresStore) CreateProject(ctx context.Context, name, description, userID string) (*models.Project, error) {
	project := &models.Project{
		Name:            name,
		Description:     description,
		CreatedByUserID: userID,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, description, created_by_user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		name, description, userID,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return project, nil
}

// GetProject retrieves a project by ID
func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, created_by_user_id, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, projectID).Scan(
		&project.ID,
		&project.Name,
		&project.Description,
		&project.CreatedByUserID,
		&project.CreatedAt,
		&project.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("project not found")
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// CreateJob inserts a new generation job and assigns its id
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	prefsJSON, err := json.Marshal(job.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO generation_jobs (id, project_id, prompt, phase, preferences)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		job.ID, job.ProjectID, job.Prompt, string(job.Phase), prefsJSON,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job and its planned units
func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.scanJob(ctx, `
		SELECT id, project_id, prompt, phase, preferences, error, created_at, updated_at
		FROM generation_jobs
		WHERE id = $1
	`, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.loadUnits(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// GetActiveJobByProject retrieves the most recent non-terminal job for a project
func (s *PostgresStore) GetActiveJobByProject(ctx context.Context, projectID string) (*models.Job, error) {
	job, err := s.scanJob(ctx, `
		SELECT id, project_id, prompt, phase, preferences, error, created_at, updated_at
		FROM generation_jobs
		WHERE project_id = $1 AND phase NOT IN ('completed', 'failed')
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID)
	if err != nil {
		return nil, err
	}

	if err := s.loadUnits(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// scanJob runs a single-row job query
func (s *PostgresStore) scanJob(ctx context.Context, query string, args ...interface{}) (*models.Job, error) {
	var job models.Job
	var phase string
	var prefsJSON []byte
	var jobErr *string

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&job.ID,
		&job.ProjectID,
		&job.Prompt,
		&phase,
		&prefsJSON,
		&jobErr,
		&job.CreatedAt,
		&job.UpdatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("job not found")
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Phase = models.Phase(phase)
	if jobErr != nil {
		job.Error = *jobErr
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &job.Preferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
		}
	}

	return &job, nil
}

// loadUnits populates a job's planned units in position order
func (s *PostgresStore) loadUnits(ctx context.Context, job *models.Job) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, description, complexity, generated
		FROM plan_units
		WHERE job_id = $1
		ORDER BY position ASC
	`, job.ID)

	if err != nil {
		return fmt.Errorf("failed to query plan units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var unit models.Unit
		if err := rows.Scan(&unit.ID, &unit.Name, &unit.Kind, &unit.Description, &unit.Complexity, &unit.Generated); err != nil {
			return fmt.Errorf("failed to scan plan unit: %w", err)
		}
		job.Units = append(job.Units, unit)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating plan units: %w", err)
	}

	return nil
}

// UpdateJobPhase transitions a job's phase and records a failure reason when set
func (s *PostgresStore) UpdateJobPhase(ctx context.Context, jobID string, phase models.Phase, jobErr string) error {
	var errVal *string
	if jobErr != "" {
		errVal = &jobErr
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET phase = $1, error = $2, updated_at = NOW()
		WHERE id = $3
	`, string(phase), errVal, jobID)

	if err != nil {
		return fmt.Errorf("failed to update job phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job not found")
	}

	return nil
}

// SavePlan persists the planning snapshot as ordered unit rows
func (s *PostgresStore) SavePlan(ctx context.Context, jobID string, plan *models.Plan) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, unit := range plan.Units {
		_, err := tx.Exec(ctx, `
			INSERT INTO plan_units (id, job_id, position, name, kind, description, complexity, generated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		`, unit.ID, jobID, i, unit.Name, unit.Kind, unit.Description, unit.Complexity)

		if err != nil {
			return fmt.Errorf("failed to insert plan unit %s: %w", unit.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}

	return nil
}

// MarkUnitGenerated flags a planned unit as having produced an artifact
func (s *PostgresStore) MarkUnitGenerated(ctx context.Context, jobID, unitID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE plan_units
		SET generated = true
		WHERE job_id = $1 AND id = $2
	`, jobID, unitID)

	if err != nil {
		return fmt.Errorf("failed to mark unit generated: %w", err)
	}

	return nil
}

// SaveArtifact inserts a new artifact row. Artifacts are append-only: a new
// version of the same name is a new row, never an overwrite.
func (s *PostgresStore) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (id, job_id, project_id, name, kind, content, documentation, order_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, artifact.ID, artifact.JobID, artifact.ProjectID, artifact.Name, string(artifact.Kind),
		artifact.Content, artifact.Documentation, artifact.OrderIndex, artifact.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

// ListArtifacts returns a job's artifacts in order index
func (s *PostgresStore) ListArtifacts(ctx context.Context, jobID string) ([]models.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, project_id, name, kind, content, documentation, order_index, created_at
		FROM artifacts
		WHERE job_id = $1
		ORDER BY order_index ASC, created_at ASC
	`, jobID)

	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		var kind string
		err := rows.Scan(&a.ID, &a.JobID, &a.ProjectID, &a.Name, &kind, &a.Content, &a.Documentation, &a.OrderIndex, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Kind = models.ArtifactKind(kind)
		artifacts = append(artifacts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}

// GetLatestArtifact returns the newest version of a named artifact in a project
func (s *PostgresStore) GetLatestArtifact(ctx context.Context, projectID, name string) (*models.Artifact, error) {
	var a models.Artifact
	var kind string

	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, project_id, name, kind, content, documentation, order_index, created_at
		FROM artifacts
		WHERE project_id = $1 AND name = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, name).Scan(&a.ID, &a.JobID, &a.ProjectID, &a.Name, &kind, &a.Content, &a.Documentation, &a.OrderIndex, &a.CreatedAt)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("artifact not found")
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	a.Kind = models.ArtifactKind(kind)
	return &a, nil
}
