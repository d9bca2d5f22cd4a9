package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// statusStep scripts one GetStatus response for the fake client.
type statusStep struct {
	report *JobStatusReport
	err    error
}

// fakeInferenceClient is shared by the poller and orchestrator tests. Once the
// scripted steps run out the last one repeats.
type fakeInferenceClient struct {
	mu          sync.Mutex
	uploadErr   error
	startErr    error
	healthErr   error
	statusSteps []statusStep

	uploadCalls int
	startCalls  int
	statusCalls int
}

func (f *fakeInferenceClient) Upload(ctx context.Context, images []ImageInput, patient PatientContext) (UploadHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return UploadHandle("upload-1"), nil
}

func (f *fakeInferenceClient) StartAnalysis(ctx context.Context, handle UploadHandle) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &Job{ID: "job-1", Status: StatusQueued}, nil
}

func (f *fakeInferenceClient) GetStatus(ctx context.Context, jobID string) (*JobStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusCalls
	f.statusCalls++
	if len(f.statusSteps) == 0 {
		return &JobStatusReport{Status: StatusProcessing}, nil
	}
	if idx >= len(f.statusSteps) {
		idx = len(f.statusSteps) - 1
	}
	step := f.statusSteps[idx]
	return step.report, step.err
}

func (f *fakeInferenceClient) CheckHealth(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeInferenceClient) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls, f.startCalls, f.statusCalls
}

func remoteResult(model string) DiagnosticResult {
	return DiagnosticResult{
		Diagnosis:      "No Acute Cardiopulmonary Abnormality",
		Confidence:     97,
		Severity:       0,
		ModelName:      model,
		ProcessingTime: 12.4,
		Urgency:        UrgencyLow,
		HeatmapData:    []HeatmapPoint{},
	}
}

func testPoller(client InferenceClient, maxAttempts int) *Poller {
	return NewPoller(client, 0, maxAttempts, zerolog.Nop())
}

func TestPoller_CompletesWithResults(t *testing.T) {
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{report: &JobStatusReport{Status: StatusProcessing, Progress: 10}},
		{report: &JobStatusReport{Status: StatusAnalyzing, Progress: 60}},
		{report: &JobStatusReport{Status: StatusComplete, Results: []DiagnosticResult{remoteResult("chestxr-v3")}}},
	}}

	results, err := testPoller(client, 10).Poll(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(results) != 1 || results[0].ModelName != "chestxr-v3" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestPoller_ProgressNonDecreasing(t *testing.T) {
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{report: &JobStatusReport{Status: StatusProcessing, Progress: 40}},
		{report: &JobStatusReport{Status: StatusProcessing, Progress: 0}}, // remote regressed
		{report: &JobStatusReport{Status: StatusAnalyzing, Progress: 20}},
		{report: &JobStatusReport{Status: StatusComplete, Results: []DiagnosticResult{remoteResult("m")}}},
	}}

	var seen []int
	_, err := testPoller(client, 100).Poll(context.Background(), "job-1", func(state RunState, progress int) {
		seen = append(seen, progress)
	})
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress decreased: %v", seen)
		}
	}
	if seen[len(seen)-1] != 100 {
		t.Errorf("final progress should be 100, got %v", seen)
	}
}

func TestPoller_FloorAdvancesWithoutRemoteProgress(t *testing.T) {
	// Remote reports no progress at all; the local floor must still move.
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{report: &JobStatusReport{Status: StatusProcessing}},
		{report: &JobStatusReport{Status: StatusProcessing}},
		{report: &JobStatusReport{Status: StatusProcessing}},
		{report: &JobStatusReport{Status: StatusComplete, Results: []DiagnosticResult{remoteResult("m")}}},
	}}

	var seen []int
	_, err := testPoller(client, 10).Poll(context.Background(), "job-1", func(state RunState, progress int) {
		seen = append(seen, progress)
	})
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(seen) < 3 {
		t.Fatalf("expected floor-driven updates, got %v", seen)
	}
	if seen[0] <= 0 {
		t.Errorf("floor should advance past zero on the first attempt, got %v", seen)
	}
}

func TestPoller_TransientErrorsAreSkipped(t *testing.T) {
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{report: &JobStatusReport{Status: StatusComplete, Results: []DiagnosticResult{remoteResult("m")}}},
	}}

	results, err := testPoller(client, 10).Poll(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("a single failed poll must not abort the run: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestPoller_RemoteFailure(t *testing.T) {
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{report: &JobStatusReport{Status: StatusFailed, Error: "model crashed"}},
	}}

	_, err := testPoller(client, 10).Poll(context.Background(), "job-1", nil)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(terr.Error(), "model crashed") {
		t.Errorf("error should carry the remote message, got: %v", terr)
	}
}

func TestPoller_EmptyCompleteIsFailure(t *testing.T) {
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{report: &JobStatusReport{Status: StatusComplete}},
	}}

	_, err := testPoller(client, 10).Poll(context.Background(), "job-1", nil)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError for empty result set, got %v", err)
	}
}

func TestPoller_Timeout(t *testing.T) {
	client := &fakeInferenceClient{statusSteps: []statusStep{
		{report: &JobStatusReport{Status: StatusProcessing}},
	}}

	_, err := testPoller(client, 3).Poll(context.Background(), "job-1", nil)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if toErr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", toErr.Attempts)
	}
}

func TestPoller_Cancellation(t *testing.T) {
	client := &fakeInferenceClient{} // never completes
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testPoller(client, 100).Poll(ctx, "job-1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
