package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// InferenceClient is the contract the orchestrator expects from the remote
// inference service. Defined here, next to its consumers, so the platform
// client can implement it without a dependency cycle.
type InferenceClient interface {
	Upload(ctx context.Context, images []ImageInput, patient PatientContext) (UploadHandle, error)
	StartAnalysis(ctx context.Context, handle UploadHandle) (*Job, error)
	GetStatus(ctx context.Context, jobID string) (*JobStatusReport, error)
	CheckHealth(ctx context.Context) error
}

// Poller queries a remote job until completion, failure, cancellation or
// exhaustion of its attempt budget. It is the only pipeline component that
// blocks between requests.
type Poller struct {
	client      InferenceClient
	interval    time.Duration
	maxAttempts int
	logger      zerolog.Logger
}

func NewPoller(client InferenceClient, interval time.Duration, maxAttempts int, logger zerolog.Logger) *Poller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Poller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("component", "poller").Logger(),
	}
}

// Poll runs the status loop for jobID. Reported progress is the maximum of
// the remote value and a locally advancing floor, so it is visibly
// non-decreasing even when the remote side reports nothing new. A single
// failed status query is logged and skipped, never fatal on its own.
func (p *Poller) Poll(ctx context.Context, jobID string, onProgress ProgressFunc) ([]DiagnosticResult, error) {
	reported := 0
	report := func(state RunState, pct int) {
		if pct > reported {
			reported = pct
			if onProgress != nil {
				onProgress(state, pct)
			}
		}
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := p.client.GetStatus(ctx, jobID)
		if err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).
				Msg("status query failed, will retry")
			continue
		}

		// Local floor: linear across the attempt budget, capped below 100 so
		// completion alone drives the final tick.
		floor := attempt * 100 / p.maxAttempts
		pct := floor
		if status.Progress > pct {
			pct = status.Progress
		}
		if pct > 99 {
			pct = 99
		}

		switch status.Status {
		case StatusComplete:
			if len(status.Results) == 0 {
				return nil, &TransportError{
					Stage: RunStateAnalyzing,
					Err:   fmt.Errorf("job %s completed with an empty result set", jobID),
				}
			}
			report(RunStateAnalyzing, 100)
			return status.Results, nil
		case StatusFailed:
			msg := status.Error
			if msg == "" {
				msg = "remote analysis reported failure without detail"
			}
			return nil, &TransportError{Stage: RunStateAnalyzing, Err: errors.New(msg)}
		case StatusUploading:
			report(RunStateUploading, pct)
		case StatusAnalyzing:
			report(RunStateAnalyzing, pct)
		default: // queued, processing
			report(RunStateProcessing, pct)
		}
	}

	return nil, &TimeoutError{Attempts: p.maxAttempts}
}
