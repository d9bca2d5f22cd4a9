package analysis

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
)

const fallbackModelName = "onsite-synthesis-v1"

// Engine is the fallback synthesis engine. Given the same patient context and
// image list the remote path would have received, it produces one plausible
// DiagnosticResult per image without any remote dependency, always flagged
// IsSimulated. It holds no mutable state beyond the seed counter, so one
// instance may be shared across runs.
type Engine struct {
	workers int
	logger  zerolog.Logger

	mu   sync.Mutex
	seed int64
}

// NewEngine creates a fallback engine. workers bounds the per-image fan-out;
// values below 1 fall back to sequential generation.
func NewEngine(workers int, seed int64, logger zerolog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		workers: workers,
		seed:    seed,
		logger:  logger.With().Str("component", "fallback-engine").Logger(),
	}
}

// Generate produces one result per image. It fails only when ctx is
// cancelled; every other path yields a structurally valid result set.
// onProgress receives increasing values as images complete.
func (e *Engine) Generate(ctx context.Context, patient PatientContext, images []ImageInput, onProgress ProgressFunc) ([]DiagnosticResult, error) {
	if len(images) == 0 {
		return []DiagnosticResult{}, nil
	}

	profile := selectPattern(patient)
	e.logger.Info().
		Str("pattern", string(profile.Class)).
		Int("images", len(images)).
		Msg("generating simulated analysis")

	workers := e.workers
	if workers > len(images) {
		workers = len(images)
	}

	// Each image gets its own seeded source so generation is independent and
	// reproducible regardless of scheduling order.
	base := e.nextSeed()

	results := make([]DiagnosticResult, len(images))
	jobs := make(chan int)
	var wg sync.WaitGroup

	// Progress updates are serialized so reported values stay non-decreasing
	// even though completion order is arbitrary.
	var done int
	var progressMu sync.Mutex
	report := func() {
		progressMu.Lock()
		done++
		pct := done * 100 / len(images)
		if onProgress != nil {
			onProgress(RunStateAnalyzing, pct)
		}
		progressMu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				rng := rand.New(rand.NewSource(base + int64(idx)))
				results[idx] = e.generateOne(patient, profile, rng)
				report()
			}
		}()
	}

dispatch:
	for i := range images {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) nextSeed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seed += 1 << 16
	return e.seed
}

func (e *Engine) generateOne(patient PatientContext, profile patternProfile, rng *rand.Rand) DiagnosticResult {
	severity := profile.MinSeverity
	if profile.MaxSeverity > profile.MinSeverity {
		severity += rng.Intn(profile.MaxSeverity - profile.MinSeverity + 1)
	}
	confidence := roundTo(profile.MinConfidence+rng.Float64()*(profile.MaxConfidence-profile.MinConfidence), 1)

	result := DiagnosticResult{
		Diagnosis:       profile.Diagnosis,
		Confidence:      confidence,
		Severity:        severity,
		Findings:        findingsText(profile, patient, severity),
		Recommendations: recommendationsText(profile, patient, severity),
		AffectedAreas:   affectedAreas(profile, severity),
		Indicators:      e.indicators(patient, profile, severity, rng),
		HeatmapData:     e.heatmap(profile, severity, confidence, rng),
		ModelName:       fallbackModelName,
		ProcessingTime:  roundTo(15+rng.Float64()*30, 1),
		Urgency:         urgencyForSeverity(severity),
		IsSimulated:     true,
	}
	return result
}

func affectedAreas(profile patternProfile, severity int) []string {
	if severity == 0 || len(profile.AffectedAreas) == 0 {
		return []string{}
	}
	n := 1
	if severity >= 3 && len(profile.AffectedAreas) > 1 {
		n = 2
	}
	areas := make([]string, n)
	copy(areas, profile.AffectedAreas[:n])
	return areas
}

// heatmap emits 2-4 anomaly points for abnormal patterns. Normal results get
// an empty list unconditionally: "no anomaly" must never display a hotspot.
func (e *Engine) heatmap(profile patternProfile, severity int, confidence float64, rng *rand.Rand) []HeatmapPoint {
	if severity == 0 {
		return []HeatmapPoint{}
	}

	count := 2 + rng.Intn(3)
	points := make([]HeatmapPoint, 0, count)
	for i := 0; i < count; i++ {
		intensity := confidence/100 - 0.15 + rng.Float64()*0.2
		points = append(points, HeatmapPoint{
			X:         roundTo(15+rng.Float64()*70, 1),
			Y:         roundTo(15+rng.Float64()*70, 1),
			Radius:    roundTo(4+float64(severity)*2+rng.Float64()*3, 1),
			Intensity: roundTo(clamp(intensity, 0.3, 1), 2),
		})
	}
	return points
}

// indicators derives the clinical indicator block from the pattern baselines
// with small jitter. PatientAge is copied verbatim from context so downstream
// consumers can cross-check.
func (e *Engine) indicators(patient PatientContext, profile patternProfile, severity int, rng *rand.Rand) ClinicalIndicators {
	jitter := func(base float64) float64 {
		return roundTo(clamp(base+rng.Float64()*10-5, 0, 100), 1)
	}
	return ClinicalIndicators{
		HeartSize:        jitter(profile.HeartSize),
		LungOpacity:      jitter(profile.LungOpacity + float64(severity)*3),
		AbnormalityScore: jitter(profile.Abnormality + float64(severity)*4),
		PatientAge:       patient.Age,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
