package monitor

import "math"

// Anomaly detection defaults
const (
	DefaultSensitivity = 2.0
	DefaultWindowSize  = 7
)

// Anomaly is a day whose cost rose above the rolling-window band
type Anomaly struct {
	Date      string  `json:"date"`
	Cost      float64 `json:"cost"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Threshold float64 `json:"threshold"`
}

// AnomalyDetector flags costs above mean + sensitivity * stddev of the
// preceding window
type AnomalyDetector struct {
	Sensitivity float64
	WindowSize  int
}

// NewAnomalyDetector creates a detector, substituting defaults for non-positive arguments
func NewAnomalyDetector(sensitivity float64, windowSize int) *AnomalyDetector {
	if sensitivity <= 0 || math.IsNaN(sensitivity) {
		sensitivity = DefaultSensitivity
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &AnomalyDetector{Sensitivity: sensitivity, WindowSize: windowSize}
}

// Detect returns one flag per cost. The first WindowSize entries are never
// flagged, and a flat window produces no flag.
func (d *AnomalyDetector) Detect(costs []float64) []bool {
	flags := make([]bool, len(costs))
	for i := d.WindowSize; i < len(costs); i++ {
		if _, _, threshold, ok := d.band(costs[i-d.WindowSize : i]); ok && costs[i] > threshold {
			flags[i] = true
		}
	}
	return flags
}

// DetectSeries runs Detect over a dated series and returns the flagged days.
// dates and costs must have the same length.
func (d *AnomalyDetector) DetectSeries(dates []string, costs []float64) []Anomaly {
	var out []Anomaly
	n := min(len(dates), len(costs))
	for i := d.WindowSize; i < n; i++ {
		mean, std, threshold, ok := d.band(costs[i-d.WindowSize : i])
		if !ok || costs[i] <= threshold {
			continue
		}
		out = append(out, Anomaly{
			Date:      dates[i],
			Cost:      costs[i],
			Mean:      mean,
			StdDev:    std,
			Threshold: threshold,
		})
	}
	return out
}

func (d *AnomalyDetector) band(window []float64) (mean, std, threshold float64, ok bool) {
	if len(window) == 0 {
		return 0, 0, 0, false
	}

	flat := true
	for _, v := range window[1:] {
		if v != window[0] {
			flat = false
			break
		}
	}
	if flat {
		return window[0], 0, window[0], false
	}

	for _, v := range window {
		mean += v
	}
	mean /= float64(len(window))

	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	std = math.Sqrt(variance / float64(len(window)))

	return mean, std, mean + d.Sensitivity*std, true
}
