package analysis

import (
	"math"
	"sort"
)

// ComputeStats derives summary statistics from a completed result set.
// Pure function: no side effects, deterministic, nil on empty input.
func ComputeStats(results []DiagnosticResult) *Stats {
	if len(results) == 0 {
		return nil
	}

	stats := &Stats{
		TotalImages:          len(results),
		SeverityDistribution: make(map[int]int),
		UrgencyDistribution:  make(map[Urgency]int),
	}

	var confidenceSum, timeSum float64
	models := make(map[string]bool)
	for _, r := range results {
		confidenceSum += r.Confidence
		timeSum += r.ProcessingTime
		stats.SeverityDistribution[r.Severity]++
		stats.UrgencyDistribution[r.Urgency]++
		models[r.ModelName] = true
	}

	stats.AverageConfidence = math.Round(confidenceSum / float64(len(results)))
	stats.AverageProcessingTime = math.Round(timeSum/float64(len(results))*10) / 10

	stats.ModelNames = make([]string, 0, len(models))
	for name := range models {
		stats.ModelNames = append(stats.ModelNames, name)
	}
	sort.Strings(stats.ModelNames)

	return stats
}
