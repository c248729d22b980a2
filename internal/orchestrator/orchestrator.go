package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/edit"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/events"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/generation"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/metrics"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/store"
)

var tracer = otel.Tracer("generation-orchestrator")

// Config holds the orchestrator's tunables
type Config struct {
	// MaxRetries is the number of additional attempts after a failed
	// planning or unit-generation call
	MaxRetries int
	// PlanTimeout bounds each planning call
	PlanTimeout time.Duration
	// UnitTimeout bounds each unit-generation call
	UnitTimeout time.Duration
	// PacingDelay is an optional pause between units so progress events stay
	// perceptible to slow observers. Zero disables pacing.
	PacingDelay time.Duration
}

// DefaultConfig returns the standard orchestrator settings
func DefaultConfig() Config {
	return Config{
		MaxRetries:  2,
		PlanTimeout: 60 * time.Second,
		UnitTimeout: 120 * time.Second,
		PacingDelay: 150 * time.Millisecond,
	}
}

// Orchestrator drives generation jobs through the pipeline state machine and
// broadcasts typed progress events. A single job's pipeline is sequential;
// jobs for different projects run concurrently and share no mutable state.
type Orchestrator struct {
	store   store.Store
	engine  generation.EngineClient
	emitter *events.Emitter
	editor  *edit.Validator
	metrics *metrics.GenerationMetrics
	cfg     Config
	tracer  trace.Tracer

	mu   sync.Mutex
	runs map[string]*jobRun
}

// jobRun is the in-flight state of one pipeline. The pipeline goroutine owns
// the job, but pause/resume and snapshot readers touch it concurrently, so
// every mutable field is guarded by mu.
type jobRun struct {
	job     *models.Job
	cancel  context.CancelFunc
	started time.Time

	mu             sync.Mutex
	paused         bool
	resume         chan struct{}
	completedSteps int
	totalSteps     int
}

// snapshot returns a copy of the job that is safe to hand to callers while
// the pipeline keeps mutating the original
func (r *jobRun) snapshot() *models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := *r.job
	job.Units = append([]models.Unit(nil), r.job.Units...)
	return &job
}

func (r *jobRun) setPhase(phase models.Phase) {
	r.mu.Lock()
	r.job.Phase = phase
	r.job.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()
}

func (r *jobRun) setUnits(units []models.Unit) {
	r.mu.Lock()
	r.job.Units = units
	r.mu.Unlock()
}

func (r *jobRun) markGenerated(i int) {
	r.mu.Lock()
	r.job.Units[i].Generated = true
	r.mu.Unlock()
}

// setProgress mirrors the generating loop's step counters so a pause event
// reports the same numbers the loop last emitted. The loop counts attempted
// units, not generated ones: a step-scoped failure still advances progress.
func (r *jobRun) setProgress(completed, total int) {
	r.mu.Lock()
	r.completedSteps = completed
	r.totalSteps = total
	r.mu.Unlock()
}

// New creates a new generation orchestrator
func New(st store.Store, engine generation.EngineClient, emitter *events.Emitter, editor *edit.Validator, gm *metrics.GenerationMetrics, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:   st,
		engine:  engine,
		emitter: emitter,
		editor:  editor,
		metrics: gm,
		cfg:     cfg,
		tracer:  tracer,
		runs:    make(map[string]*jobRun),
	}
}

// StartGeneration accepts a start request and launches the pipeline for the
// project. Returns an error when a run is already active for the project.
func (o *Orchestrator) StartGeneration(ctx context.Context, req models.StartGenerationRequest) error {
	_, span := o.tracer.Start(ctx, "orchestrator.start_generation")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", req.ProjectID))

	job := &models.Job{
		ProjectID:   req.ProjectID,
		Prompt:      req.Prompt,
		Phase:       models.PhaseIdle,
		Preferences: req.Preferences,
	}

	// The pipeline outlives the triggering message; it is bound to its own
	// cancellable context, not the request's.
	runCtx, cancel := context.WithCancel(context.Background())
	run := &jobRun{
		job:     job,
		cancel:  cancel,
		started: time.Now(),
		resume:  make(chan struct{}),
	}

	o.mu.Lock()
	if _, active := o.runs[req.ProjectID]; active {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("generation already in progress for project %s", req.ProjectID)
	}
	o.runs[req.ProjectID] = run
	o.mu.Unlock()

	// o.mu guards only the runs map; the DB round-trip happens outside it so
	// one slow insert cannot stall starts for other projects. run.mu covers
	// the job while the store fills in its id.
	run.mu.Lock()
	err := o.store.CreateJob(context.WithoutCancel(ctx), job)
	run.mu.Unlock()
	if err != nil {
		o.removeRun(req.ProjectID)
		cancel()
		return fmt.Errorf("failed to persist job: %w", err)
	}

	o.metrics.RecordJobCreated(runCtx, req.ProjectID)
	log.Printf("Starting generation job %s for project %s", job.ID, req.ProjectID)

	go o.runPipeline(runCtx, run)
	return nil
}

// PauseGeneration freezes further unit dispatch for a project's active run.
// Already-dispatched backend calls are allowed to finish.
func (o *Orchestrator) PauseGeneration(ctx context.Context, projectID string) error {
	run, ok := o.lookupRun(projectID)
	if !ok {
		return fmt.Errorf("no active generation for project %s", projectID)
	}

	run.mu.Lock()
	if run.paused {
		run.mu.Unlock()
		return nil
	}
	if run.job.Phase != models.PhaseGenerating {
		phase := run.job.Phase
		run.mu.Unlock()
		return fmt.Errorf("cannot pause job in phase %s", phase)
	}
	run.paused = true
	run.job.Phase = models.PhasePaused
	run.resume = make(chan struct{})
	jobID := run.job.ID
	completed, total := run.completedSteps, run.totalSteps
	run.mu.Unlock()

	if err := o.store.UpdateJobPhase(ctx, jobID, models.PhasePaused, ""); err != nil {
		log.Printf("Failed to persist paused phase for job %s: %v", jobID, err)
	}

	o.emitter.EmitProgress(events.ProgressPayload{
		ProjectID:              projectID,
		Phase:                  models.PhasePaused,
		CurrentStep:            "paused",
		CompletedSteps:         completed,
		TotalSteps:             total,
		Percentage:             percentage(completed, total),
		EstimatedTimeRemaining: 0,
	})
	log.Printf("Paused generation for project %s", projectID)
	return nil
}

// ResumeGeneration re-enters the generating loop at the next unplanned unit
func (o *Orchestrator) ResumeGeneration(ctx context.Context, projectID string) error {
	run, ok := o.lookupRun(projectID)
	if !ok {
		return fmt.Errorf("no active generation for project %s", projectID)
	}

	run.mu.Lock()
	if !run.paused {
		run.mu.Unlock()
		return nil
	}
	run.paused = false
	run.job.Phase = models.PhaseGenerating
	close(run.resume)
	jobID := run.job.ID
	run.mu.Unlock()

	if err := o.store.UpdateJobPhase(ctx, jobID, models.PhaseGenerating, ""); err != nil {
		log.Printf("Failed to persist resumed phase for job %s: %v", jobID, err)
	}

	log.Printf("Resumed generation for project %s", projectID)
	return nil
}

// ActiveJob returns a snapshot of the in-flight job for a project, if any.
// Callers get a copy; the pipeline's own job is never shared.
func (o *Orchestrator) ActiveJob(projectID string) (*models.Job, bool) {
	run, ok := o.lookupRun(projectID)
	if !ok {
		return nil, false
	}
	return run.snapshot(), true
}

// Close cancels every in-flight pipeline. Used on shutdown.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, run := range o.runs {
		run.cancel()
	}
}

func (o *Orchestrator) lookupRun(projectID string) (*jobRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[projectID]
	return run, ok
}

func (o *Orchestrator) removeRun(projectID string) {
	o.mu.Lock()
	delete(o.runs, projectID)
	o.mu.Unlock()
}

// runPipeline drives one job through planning, unit generation, assembly and
// completion. A single unit's failure is step-scoped and never aborts the job.
func (o *Orchestrator) runPipeline(ctx context.Context, run *jobRun) {
	job := run.job
	projectID := job.ProjectID

	ctx, span := o.tracer.Start(ctx, "orchestrator.run_pipeline")
	defer span.End()
	span.SetAttributes(
		attribute.String("project.id", projectID),
		attribute.String("job.id", job.ID),
	)

	defer o.removeRun(projectID)

	// idle -> planning
	o.setPhase(ctx, run, models.PhasePlanning)
	o.emitter.EmitProgress(events.ProgressPayload{
		ProjectID:              projectID,
		Phase:                  models.PhasePlanning,
		CurrentStep:            "analyzing request",
		CompletedSteps:         0,
		TotalSteps:             1,
		Percentage:             0,
		EstimatedTimeRemaining: estimateSeconds(1),
	})

	var plan *models.Plan
	err := o.withRetries(ctx, "planning", o.cfg.PlanTimeout, func(attemptCtx context.Context) error {
		var planErr error
		plan, planErr = o.engine.Plan(attemptCtx, job.Prompt, job.Preferences)
		return planErr
	})
	if err != nil {
		o.failJob(ctx, run, "planning", err, []string{
			"Simplify the prompt and try again",
			"Verify the forge-engine service is reachable",
		})
		return
	}

	for i := range plan.Units {
		if plan.Units[i].ID == "" {
			plan.Units[i].ID = fmt.Sprintf("%s-unit-%d", job.ID, i)
		}
	}
	if err := o.store.SavePlan(ctx, job.ID, plan); err != nil {
		o.failJob(ctx, run, "planning", err, []string{"Retry the request"})
		return
	}
	run.setUnits(plan.Units)
	span.SetAttributes(attribute.Int("plan.units", len(job.Units)))

	// planning -> generating. Counters are published before the phase flip so
	// a pause that lands immediately after it sees real numbers.
	completed, total := 1, len(job.Units)+2
	run.setProgress(completed, total)
	o.setPhase(ctx, run, models.PhaseGenerating)
	o.emitter.EmitProgress(events.ProgressPayload{
		ProjectID:              projectID,
		Phase:                  models.PhaseGenerating,
		CurrentStep:            "plan ready",
		CompletedSteps:         completed,
		TotalSteps:             total,
		Percentage:             percentage(completed, total),
		EstimatedTimeRemaining: estimateSeconds(len(job.Units) + 1),
	})

	// Units are generated strictly in planned order: later units may read
	// earlier artifacts for style consistency, and observers expect
	// monotonically increasing progress.
	for i := range job.Units {
		if err := run.waitIfPaused(ctx); err != nil {
			o.failJob(ctx, run, job.Units[i].Name, err, nil)
			return
		}

		unit := job.Units[i]
		o.emitter.EmitProgress(events.ProgressPayload{
			ProjectID:              projectID,
			Phase:                  models.PhaseGenerating,
			CurrentStep:            unit.Name,
			CompletedSteps:         completed,
			TotalSteps:             total,
			Percentage:             percentage(completed, total),
			EstimatedTimeRemaining: estimateSeconds(len(job.Units) - i + 1),
		})

		content, err := o.generateUnit(ctx, job, unit)
		if err != nil {
			if ctx.Err() != nil {
				o.failJob(ctx, run, unit.Name, err, nil)
				return
			}
			// Step-scoped failure: report it and continue so a single bad
			// unit cannot sink the whole run.
			log.Printf("Unit %s failed for job %s: %v", unit.Name, job.ID, err)
			o.metrics.RecordUnitFailed(ctx, projectID, unit.Name)
			o.emitter.EmitGenerationError(events.GenerationErrorPayload{
				ProjectID:   projectID,
				Error:       err.Error(),
				Step:        unit.Name,
				Recoverable: true,
				Suggestions: []string{"Retry generation to reattempt this component"},
			})
		} else {
			artifact := &models.Artifact{
				JobID:      job.ID,
				ProjectID:  projectID,
				Name:       unit.Name,
				Kind:       artifactKindFor(unit),
				Content:    content,
				OrderIndex: i,
			}
			if err := o.store.SaveArtifact(ctx, artifact); err != nil {
				log.Printf("Failed to persist artifact for unit %s: %v", unit.Name, err)
			}
			if err := o.store.MarkUnitGenerated(ctx, job.ID, unit.ID); err != nil {
				log.Printf("Failed to mark unit %s generated: %v", unit.ID, err)
			}
			run.markGenerated(i)
			o.metrics.RecordUnitGenerated(ctx, projectID, string(artifact.Kind))

			o.emitter.EmitStream(events.StreamPayload{
				ProjectID:          projectID,
				Phase:              models.PhaseGenerating,
				UnitID:             unit.ID,
				AccumulatedContent: content,
				IsComplete:         true,
			})
			o.emitter.EmitElementGenerated(events.ElementGeneratedPayload{
				ProjectID:     projectID,
				UnitID:        unit.ID,
				Kind:          artifact.Kind,
				Content:       content,
				Documentation: artifact.Documentation,
				Position:      i,
			})
		}

		completed++
		run.setProgress(completed, total)

		if o.cfg.PacingDelay > 0 {
			select {
			case <-ctx.Done():
				o.failJob(ctx, run, unit.Name, ctx.Err(), nil)
				return
			case <-time.After(o.cfg.PacingDelay):
			}
		}
	}

	// generating -> assembling: every unit has been attempted
	o.setPhase(ctx, run, models.PhaseAssembling)
	o.emitter.EmitProgress(events.ProgressPayload{
		ProjectID:              projectID,
		Phase:                  models.PhaseAssembling,
		CurrentStep:            "assembling page",
		CompletedSteps:         completed,
		TotalSteps:             total,
		Percentage:             percentage(completed, total),
		EstimatedTimeRemaining: estimateSeconds(1),
	})

	assembled, err := o.assemble(ctx, job)
	if err != nil {
		o.failJob(ctx, run, "assembly", err, []string{"Retry the request"})
		return
	}
	o.emitter.EmitPreviewUpdate(events.PreviewUpdatePayload{
		ProjectID:        projectID,
		AssembledContent: assembled,
	})

	// assembling -> completed. The job stays retrievable in its terminal
	// state; it is not purged.
	completed = total
	run.setProgress(completed, total)
	o.setPhase(ctx, run, models.PhaseCompleted)
	o.emitter.EmitProgress(events.ProgressPayload{
		ProjectID:              projectID,
		Phase:                  models.PhaseCompleted,
		CurrentStep:            "done",
		CompletedSteps:         completed,
		TotalSteps:             total,
		Percentage:             100,
		EstimatedTimeRemaining: 0,
	})
	o.emitter.EmitComplete(events.CompletePayload{
		ProjectID: projectID,
		Status:    "completed",
		Message:   fmt.Sprintf("Generated %d of %d components", generatedCount(job.Units), len(job.Units)),
	})

	o.metrics.RecordJobCompleted(ctx, projectID, time.Since(run.started))
	log.Printf("Generation job %s completed for project %s", job.ID, projectID)
}

// generateUnit invokes the backend for one unit with retries, forwarding
// streamed fragments as they arrive rather than batching them
func (o *Orchestrator) generateUnit(ctx context.Context, job *models.Job, unit models.Unit) (string, error) {
	plan := &models.Plan{Units: job.Units}
	var content string

	err := o.withRetries(ctx, fmt.Sprintf("unit %s", unit.Name), o.cfg.UnitTimeout, func(attemptCtx context.Context) error {
		var accumulated string
		result, genErr := o.engine.GenerateUnit(attemptCtx, unit, job.Preferences, plan, func(fragment string) error {
			accumulated += fragment
			o.emitter.EmitStream(events.StreamPayload{
				ProjectID:          job.ProjectID,
				Phase:              models.PhaseGenerating,
				UnitID:             unit.ID,
				AccumulatedContent: accumulated,
				IsComplete:         false,
			})
			return nil
		})
		if genErr != nil {
			return genErr
		}
		content = result
		return nil
	})

	return content, err
}

// withRetries runs fn with a per-attempt timeout, retrying transient backend
// failures a bounded number of times with the same input. A timeout is
// treated identically to a backend failure.
func (o *Orchestrator) withRetries(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		log.Printf("%s attempt %d/%d failed: %v", op, attempt+1, o.cfg.MaxRetries+1, err)
	}
	return err
}

// failJob transitions a job to failed and emits the terminal error event.
// The job row is not deleted; callers may retry with a fresh start.
func (o *Orchestrator) failJob(ctx context.Context, run *jobRun, step string, cause error, suggestions []string) {
	job := run.job
	run.mu.Lock()
	job.Phase = models.PhaseFailed
	job.Error = cause.Error()
	job.UpdatedAt = time.Now().UTC()
	run.mu.Unlock()
	if err := o.store.UpdateJobPhase(context.WithoutCancel(ctx), job.ID, models.PhaseFailed, cause.Error()); err != nil {
		log.Printf("Failed to persist failed phase for job %s: %v", job.ID, err)
	}

	o.emitter.EmitGenerationError(events.GenerationErrorPayload{
		ProjectID:   job.ProjectID,
		Error:       cause.Error(),
		Step:        step,
		Recoverable: true,
		Suggestions: suggestions,
	})

	o.metrics.RecordJobFailed(ctx, job.ProjectID, step, time.Since(run.started))
	log.Printf("Generation job %s failed at %s: %v", job.ID, step, cause)
}

// setPhase updates the in-memory and persisted phase. Failed transitions go
// through failJob, which persists the error message alongside the phase.
func (o *Orchestrator) setPhase(ctx context.Context, run *jobRun, phase models.Phase) {
	run.setPhase(phase)
	if err := o.store.UpdateJobPhase(context.WithoutCancel(ctx), run.job.ID, phase, ""); err != nil {
		log.Printf("Failed to persist phase %s for job %s: %v", phase, run.job.ID, err)
	}
}

// waitIfPaused blocks while the run is paused. Pause is cooperative: it stops
// new unit dispatch but never interrupts an in-flight backend call.
func (r *jobRun) waitIfPaused(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		if !r.paused {
			r.mu.Unlock()
			return nil
		}
		resume := r.resume
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

func percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}

// estimateSeconds is a coarse remaining-time estimate for progress events
func estimateSeconds(remainingSteps int) int {
	return remainingSteps * 8
}

func generatedCount(units []models.Unit) int {
	n := 0
	for _, u := range units {
		if u.Generated {
			n++
		}
	}
	return n
}

// artifactKindFor maps a unit's coarse kind tag onto the artifact taxonomy
func artifactKindFor(unit models.Unit) models.ArtifactKind {
	switch unit.Kind {
	case "css", "style", "styles":
		return models.ArtifactKindCSS
	case "js", "script", "behavior":
		return models.ArtifactKindJS
	default:
		return models.ArtifactKindHTML
	}
}
