package monitor

import "testing"

func TestNewAnomalyDetector_Defaults(t *testing.T) {
	d := NewAnomalyDetector(0, -1)
	if d.Sensitivity != DefaultSensitivity || d.WindowSize != DefaultWindowSize {
		t.Errorf("defaults: got %+v", d)
	}
}

func TestAnomalyDetector_Detect(t *testing.T) {
	d := NewAnomalyDetector(2.0, 3)

	tests := []struct {
		name  string
		costs []float64
		want  []bool
	}{
		{
			name:  "too short",
			costs: []float64{1, 2, 3},
			want:  []bool{false, false, false},
		},
		{
			name:  "spike after varied window",
			costs: []float64{10, 12, 11, 40},
			want:  []bool{false, false, false, true},
		},
		{
			name:  "normal variation",
			costs: []float64{10, 12, 11, 12},
			want:  []bool{false, false, false, false},
		},
		{
			name:  "flat window never flags",
			costs: []float64{10, 10, 10, 1000},
			want:  []bool{false, false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.costs)
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("flag[%d]: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAnomalyDetector_DetectSeries(t *testing.T) {
	d := NewAnomalyDetector(2.0, 3)
	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	costs := []float64{10, 12, 11, 40, 11}

	got := d.DetectSeries(dates, costs)
	if len(got) != 1 {
		t.Fatalf("anomalies: got %d, want 1", len(got))
	}
	if got[0].Date != "2024-01-04" || got[0].Cost != 40 {
		t.Errorf("anomaly: got %+v", got[0])
	}
	if got[0].Mean != 11 {
		t.Errorf("mean: got %v, want 11", got[0].Mean)
	}
	if got[0].Threshold <= got[0].Mean {
		t.Errorf("threshold %v should exceed mean %v", got[0].Threshold, got[0].Mean)
	}
}
