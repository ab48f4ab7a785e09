package analyze

import (
	"math"
	"sort"

	"github.com/amariwan/cronexec/internal/models"
)

// minSamples is the smallest per-command baseline worth scoring against.
const minSamples = 5

// Anomaly is a dispatch whose duration is far outside its command's norm
type Anomaly struct {
	Record       models.DispatchRecord
	ExpectedMean float64 // ms
	StandardDev  float64 // ms
	ZScore       float64
	DeviationPct float64
}

// AnomalyDetector identifies outliers in dispatch durations
type AnomalyDetector struct {
	threshold float64 // Z-score threshold (default: 3.0)
}

// NewAnomalyDetector creates a detector with threshold
func NewAnomalyDetector(threshold float64) *AnomalyDetector {
	if threshold == 0 {
		threshold = 3.0 // Default: 3 std deviations
	}
	return &AnomalyDetector{threshold: threshold}
}

// Detect scores every record against the other runs of the same command
// (leave-one-out), so a single outlier cannot mask itself.
func (d *AnomalyDetector) Detect(records []models.DispatchRecord) []Anomaly {
	byCommand := make(map[string][]models.DispatchRecord)
	for _, rec := range records {
		byCommand[rec.Command] = append(byCommand[rec.Command], rec)
	}

	var anomalies []Anomaly
	for _, runs := range byCommand {
		if len(runs) < minSamples+1 {
			continue
		}
		values := make([]float64, len(runs))
		for i, rec := range runs {
			values[i] = durationMs(rec)
		}

		for i, rec := range runs {
			others := make([]float64, 0, len(values)-1)
			others = append(others, values[:i]...)
			others = append(others, values[i+1:]...)
			st := calculateStats(others)

			z := zScore(values[i], st)
			if z <= d.threshold {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				Record:       rec,
				ExpectedMean: st.mean,
				StandardDev:  st.stdDev,
				ZScore:       z,
				DeviationPct: deviationPct(values[i], st.mean),
			})
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].Record.StartTime.After(anomalies[j].Record.StartTime)
	})
	return anomalies
}

type stats struct {
	mean   float64
	stdDev float64
}

func calculateStats(values []float64) stats {
	if len(values) == 0 {
		return stats{}
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return stats{mean: mean, stdDev: math.Sqrt(variance)}
}

// zScore only flags slow runs; fast runs are never a problem.
func zScore(v float64, st stats) float64 {
	if st.stdDev == 0 {
		if v > st.mean {
			return math.Inf(1)
		}
		return 0
	}
	return (v - st.mean) / st.stdDev
}

func deviationPct(v, mean float64) float64 {
	if mean == 0 {
		return 0
	}
	return math.Abs((v - mean) / mean * 100)
}

func durationMs(rec models.DispatchRecord) float64 {
	return rec.Duration.Seconds() * 1000
}
