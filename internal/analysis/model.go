package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Remote job lifecycle as reported by the inference service.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusAnalyzing  Status = "analyzing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// RunState is the orchestrator-level state of one analysis run.
// "cancelled" and "error" are local outcomes, never reported by the remote side.
type RunState string

const (
	RunStateValidating RunState = "validating"
	RunStateUploading  RunState = "uploading"
	RunStateProcessing RunState = "processing"
	RunStateAnalyzing  RunState = "analyzing"
	RunStateComplete   RunState = "complete"
	RunStateCancelled  RunState = "cancelled"
	RunStateError      RunState = "error"
)

type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Image constraints enforced by the validator before any network activity.
const MaxImageSize = 50 << 20 // 50 MiB

// PatientContext is the structured clinical context submitted with the images.
// Immutable input to a single analysis run.
type PatientContext struct {
	Name               string `json:"name"`
	PatientID          string `json:"patientId"`
	DateOfBirth        string `json:"dateOfBirth"`
	Age                int    `json:"age"`
	Sex                string `json:"sex"`
	ClinicalHistory    string `json:"clinicalHistory"`
	SuspectedCondition string `json:"suspectedCondition"`
	ExamDate           string `json:"examDate"`
	View               string `json:"view"`
	ReferringPhysician string `json:"referringPhysician"`
}

// ImageInput holds one submitted image. The binary content is discarded after
// upload; only the pipeline ever sees it.
type ImageInput struct {
	Filename string
	MIMEType string
	Size     int64
	Data     []byte
}

// UploadHandle is the opaque identifier returned by the upload endpoint.
// Valid for starting exactly one analysis job.
type UploadHandle string

// Job identifies one unit of remote analysis work. Progress and errors are
// read from JobStatusReport on each poll, never cached here.
type Job struct {
	ID     string
	Status Status
}

// JobStatusReport is one status-poll response from the inference service.
type JobStatusReport struct {
	Status   Status             `json:"status"`
	Progress int                `json:"progress,omitempty"`
	Results  []DiagnosticResult `json:"results,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// HeatmapPoint marks a region of interest in image-relative percentage
// coordinates.
type HeatmapPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Intensity float64 `json:"intensity"`
}

type ClinicalIndicators struct {
	HeartSize        float64 `json:"heartSize"`
	LungOpacity      float64 `json:"lungOpacity"`
	AbnormalityScore float64 `json:"abnormalityScore"`
	PatientAge       int     `json:"patientAge"`
}

// DiagnosticResult is one per-image diagnostic report, produced either by the
// remote model or by the fallback synthesis engine (IsSimulated = true).
// Immutable once created.
type DiagnosticResult struct {
	Diagnosis       string             `json:"diagnosis"`
	Confidence      float64            `json:"confidence"`     // 0-100
	Severity        int                `json:"severity"`       // 0-5
	Findings        string             `json:"findings"`
	Recommendations string             `json:"recommendations"`
	AffectedAreas   []string           `json:"affectedAreas"`
	Indicators      ClinicalIndicators `json:"clinicalIndicators"`
	HeatmapData     []HeatmapPoint     `json:"heatmapData"`
	ModelName       string             `json:"modelName"`
	ProcessingTime  float64            `json:"processingTime"` // seconds
	Urgency         Urgency            `json:"urgencyLevel"`
	IsSimulated     bool               `json:"isSimulated"`
}

// Stats summarizes a completed result set. Recomputed on demand, never stored.
type Stats struct {
	TotalImages           int             `json:"totalImages"`
	AverageConfidence     float64         `json:"averageConfidence"`
	SeverityDistribution  map[int]int     `json:"severityDistribution"`
	UrgencyDistribution   map[Urgency]int `json:"urgencyDistribution"`
	AverageProcessingTime float64         `json:"averageProcessingTime"`
	ModelNames            []string        `json:"modelNames"`
}

// Run is the aggregate root for one analysis request. All state is scoped to
// the run and discarded when the caller deletes it.
type Run struct {
	ID        uuid.UUID          `json:"id"`
	Patient   PatientContext     `json:"patient"`
	State     RunState           `json:"state"`
	Progress  int                `json:"progress"`
	Simulated bool               `json:"simulated"`
	Notice    string             `json:"notice,omitempty"`
	Error     string             `json:"error,omitempty"`
	Results   []DiagnosticResult `json:"results,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Complete reports whether the run reached a state with a full result set.
func (r *Run) Complete() bool {
	return r.State == RunStateComplete
}

// ProgressFunc receives pipeline progress updates. Values passed for a single
// run are non-decreasing; consumers may rely on that.
type ProgressFunc func(state RunState, progress int)
