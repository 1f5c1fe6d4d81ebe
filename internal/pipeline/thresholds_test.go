package pipeline

import "testing"

func TestNewDetectionThresholdsRequiresDefault(t *testing.T) {
	if _, err := NewDetectionThresholds(map[string]float64{"fire": 0.5}, map[string]float64{"default": 0.5}); err == nil {
		t.Error("missing alert default accepted")
	}
	if _, err := NewDetectionThresholds(map[string]float64{"default": 0.5}, map[string]float64{}); err == nil {
		t.Error("missing display default accepted")
	}
}

func TestDetectionThresholdsLookup(t *testing.T) {
	th := defaultTestThresholds()

	tests := []struct {
		model string
		want  ThresholdPair
	}{
		{"shoplifting", ThresholdPair{Display: 0.60, Alert: 0.65}},
		{"weapon", ThresholdPair{Display: 0.40, Alert: 0.85}},
		{"people", ThresholdPair{Display: 0.80, Alert: 0.85}},
		{"unknown", ThresholdPair{Display: 0.80, Alert: 0.85}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := th.Lookup(tt.model); got != tt.want {
				t.Errorf("Lookup(%s) = %+v, want %+v", tt.model, got, tt.want)
			}
		})
	}

	th.Set("fire", ThresholdPair{Display: 0.5, Alert: 0.7})
	if got := th.Lookup("fire"); got.Alert != 0.7 {
		t.Errorf("Set not applied: %+v", got)
	}
	th.Set(DefaultThresholdKey, ThresholdPair{Display: 0.1, Alert: 0.2})
	if got := th.Lookup("people"); got.Alert != 0.2 {
		t.Errorf("default not replaced: %+v", got)
	}
}

func TestThresholdPairClassify(t *testing.T) {
	pair := ThresholdPair{Display: 0.80, Alert: 0.85}
	tests := []struct {
		conf float32
		want Classification
	}{
		{0.10, Discarded},
		{0.80, Discarded},
		{0.81, DisplayOnly},
		{0.85, DisplayOnly},
		{0.86, AlertGrade},
		{1.00, AlertGrade},
	}
	for _, tt := range tests {
		if got := pair.Classify(tt.conf); got != tt.want {
			t.Errorf("Classify(%.2f) = %d, want %d", tt.conf, got, tt.want)
		}
	}
}

func TestDetectionThresholdsTableIsACopy(t *testing.T) {
	th, err := NewDetectionThresholds(
		map[string]float64{"default": 0.85, "weapon": 0.85},
		map[string]float64{"default": 0.80, "weapon": 0.40},
	)
	if err != nil {
		t.Fatal(err)
	}
	th.Set("fire", ThresholdPair{Display: 0.5, Alert: 0.7})

	table := th.Table()
	if len(table) != 3 {
		t.Fatalf("table has %d entries, want 3", len(table))
	}
	if table["weapon"].Display != 0.40 || table["fire"].Alert != 0.7 || table[DefaultThresholdKey].Alert != 0.85 {
		t.Errorf("table = %+v", table)
	}

	table["weapon"] = ThresholdPair{}
	if th.Lookup("weapon").Alert != 0.85 {
		t.Error("mutating the table changed the thresholds")
	}
}
