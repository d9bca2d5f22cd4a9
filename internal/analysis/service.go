package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRunNotComplete is returned when results are requested before the
// pipeline has finished.
var ErrRunNotComplete = errors.New("analysis run is not complete")

const simulatedNotice = "remote inference service unavailable; results were generated by the on-site simulation engine"

type Service interface {
	// StartAnalysis validates the request and, if it passes, launches the
	// pipeline in the background. The returned run can be polled by id.
	StartAnalysis(ctx context.Context, patient PatientContext, images []ImageInput) (*Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	GetResults(ctx context.Context, id uuid.UUID) ([]DiagnosticResult, error)
	GetStats(ctx context.Context, id uuid.UUID) (*Stats, error)
	// DeleteRun cancels an in-flight pipeline and discards all run state.
	DeleteRun(ctx context.Context, id uuid.UUID) error
	CheckHealth(ctx context.Context) error
}

type service struct {
	repo   Repository
	client InferenceClient
	poller *Poller
	engine *Engine
	logger zerolog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewService(repo Repository, client InferenceClient, poller *Poller, engine *Engine, logger zerolog.Logger) Service {
	return &service{
		repo:    repo,
		client:  client,
		poller:  poller,
		engine:  engine,
		logger:  logger.With().Str("component", "analysis-service").Logger(),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

func (s *service) StartAnalysis(ctx context.Context, patient PatientContext, images []ImageInput) (*Run, error) {
	// 1. Gate on validation. A non-empty violation list aborts the request
	// before any network activity begins.
	if verr := ValidateRequest(patient, images); verr != nil {
		return nil, verr
	}

	run := &Run{
		ID:       uuid.New(),
		Patient:  patient,
		State:    RunStateValidating,
		Progress: 0,
	}
	if err := s.repo.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	// 2. The pipeline outlives the HTTP request; it runs on a detached
	// context so only an explicit DeleteRun cancels it.
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	// The live aggregate stays private to the pipeline goroutine; the caller
	// gets a snapshot taken before the pipeline starts mutating it.
	snapshot := *run

	go func() {
		defer s.forgetCancel(run.ID)
		s.execute(runCtx, run, patient, images)
	}()

	return &snapshot, nil
}

// execute drives one run through the pipeline state machine:
// uploading -> processing -> analyzing -> complete, with any remote failure
// diverted into the fallback engine instead of a terminal error.
func (s *service) execute(ctx context.Context, run *Run, patient PatientContext, images []ImageInput) {
	log := s.logger.With().Str("run_id", run.ID.String()).Logger()

	onProgress := func(state RunState, progress int) {
		s.advance(run, state, progress)
	}

	// 1. Upload the batch.
	s.advance(run, RunStateUploading, 2)
	handle, err := s.client.Upload(ctx, images, patient)
	if err != nil {
		s.recover(ctx, run, patient, images, &TransportError{Stage: RunStateUploading, Err: err})
		return
	}
	log.Info().Str("upload_id", string(handle)).Msg("images uploaded")

	// 2. Start the remote job.
	s.advance(run, RunStateProcessing, 5)
	job, err := s.client.StartAnalysis(ctx, handle)
	if err != nil {
		s.recover(ctx, run, patient, images, &TransportError{Stage: RunStateProcessing, Err: err})
		return
	}
	log.Info().Str("job_id", job.ID).Msg("remote analysis started")

	// 3. Poll to completion.
	results, err := s.poller.Poll(ctx, job.ID, onProgress)
	if err != nil {
		if ctx.Err() != nil {
			s.markCancelled(run)
			return
		}
		s.recover(ctx, run, patient, images, err)
		return
	}

	// 4. Remote success: results pass through unmodified.
	log.Info().Int("results", len(results)).Msg("remote analysis complete")
	s.complete(run, results, false)
}

// recover is the falling-back sub-state: any transport or timeout failure is
// absorbed by the synthesis engine. Only a fault of the engine itself
// produces a terminal error.
func (s *service) recover(ctx context.Context, run *Run, patient PatientContext, images []ImageInput, cause error) {
	if ctx.Err() != nil {
		s.markCancelled(run)
		return
	}

	s.logger.Warn().Err(cause).Str("run_id", run.ID.String()).
		Msg("remote analysis unavailable, switching to simulated analysis")

	results, err := s.generateFallback(ctx, patient, images, func(state RunState, progress int) {
		s.advance(run, state, progress)
	})
	if err != nil {
		if ctx.Err() != nil {
			s.markCancelled(run)
			return
		}
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("fallback synthesis faulted")
		s.mu.Lock()
		run.State = RunStateError
		run.Error = (&FatalError{Err: err}).Error()
		snapshot := *run
		s.mu.Unlock()
		s.persist(snapshot)
		return
	}

	s.complete(run, results, true)
}

// generateFallback shields the pipeline from a panicking engine; by
// construction Generate does not fail, so a panic here is the single fatal
// condition of the whole pipeline.
func (s *service) generateFallback(ctx context.Context, patient PatientContext, images []ImageInput, onProgress ProgressFunc) (results []DiagnosticResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesis engine panic: %v", r)
		}
	}()
	return s.engine.Generate(ctx, patient, images, onProgress)
}

func (s *service) complete(run *Run, results []DiagnosticResult, simulated bool) {
	s.mu.Lock()
	run.Results = results
	run.Simulated = simulated
	if simulated {
		run.Notice = simulatedNotice
	}
	run.State = RunStateComplete
	run.Progress = 100
	snapshot := *run
	s.mu.Unlock()
	s.persist(snapshot)
}

func (s *service) markCancelled(run *Run) {
	s.logger.Info().Str("run_id", run.ID.String()).Msg("analysis run cancelled")
	s.mu.Lock()
	run.State = RunStateCancelled
	snapshot := *run
	s.mu.Unlock()
	s.persist(snapshot)
}

// advance moves the run forward. Progress never decreases within a run and a
// terminal state is never overwritten by a late progress tick. The engine's
// worker goroutines call this concurrently, so persistence works on a
// snapshot taken under the lock.
func (s *service) advance(run *Run, state RunState, progress int) {
	s.mu.Lock()
	terminal := run.State == RunStateComplete || run.State == RunStateCancelled || run.State == RunStateError
	if terminal {
		s.mu.Unlock()
		return
	}
	if progress > run.Progress {
		run.Progress = progress
	}
	run.State = state
	snapshot := *run
	s.mu.Unlock()
	s.persist(snapshot)
}

func (s *service) persist(run Run) {
	err := s.repo.Update(context.Background(), &run)
	if err != nil && !errors.Is(err, ErrRunNotFound) {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to persist run state")
	}
}

func (s *service) forgetCancel(id uuid.UUID) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

func (s *service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) GetResults(ctx context.Context, id uuid.UUID) ([]DiagnosticResult, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !run.Complete() {
		return nil, ErrRunNotComplete
	}
	return run.Results, nil
}

func (s *service) GetStats(ctx context.Context, id uuid.UUID) (*Stats, error) {
	results, err := s.GetResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return ComputeStats(results), nil
}

func (s *service) DeleteRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	return s.repo.Delete(ctx, id)
}

func (s *service) CheckHealth(ctx context.Context) error {
	return s.client.CheckHealth(ctx)
}
