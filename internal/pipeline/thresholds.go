package pipeline

import (
	"fmt"
	"sync"
)

// DefaultThresholdKey names the fallback entry in threshold maps
const DefaultThresholdKey = "default"

// ThresholdPair holds the two confidence cut-offs of a model
type ThresholdPair struct {
	Display float32 `json:"display"` // Minimum to draw
	Alert   float32 `json:"alert"`   // Minimum to count toward an alert
}

// DetectionThresholds maps model identifiers to threshold pairs with a default
type DetectionThresholds struct {
	mu       sync.RWMutex
	perModel map[string]ThresholdPair
	fallback ThresholdPair
}

// NewDetectionThresholds builds thresholds from the alert and display maps.
// Both maps must carry a "default" entry.
func NewDetectionThresholds(alert, display map[string]float64) (*DetectionThresholds, error) {
	defAlert, ok := alert[DefaultThresholdKey]
	if !ok {
		return nil, fmt.Errorf("alert thresholds: missing %q entry", DefaultThresholdKey)
	}
	defDisplay, ok := display[DefaultThresholdKey]
	if !ok {
		return nil, fmt.Errorf("display thresholds: missing %q entry", DefaultThresholdKey)
	}

	t := &DetectionThresholds{
		perModel: make(map[string]ThresholdPair),
		fallback: ThresholdPair{Display: float32(defDisplay), Alert: float32(defAlert)},
	}

	for model, a := range alert {
		if model == DefaultThresholdKey {
			continue
		}
		pair := t.fallback
		pair.Alert = float32(a)
		t.perModel[model] = pair
	}
	for model, d := range display {
		if model == DefaultThresholdKey {
			continue
		}
		pair, ok := t.perModel[model]
		if !ok {
			pair = t.fallback
		}
		pair.Display = float32(d)
		t.perModel[model] = pair
	}

	return t, nil
}

// Lookup returns the pair for a model, falling back to the default pair
func (t *DetectionThresholds) Lookup(modelID string) ThresholdPair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pair, ok := t.perModel[modelID]; ok {
		return pair
	}
	return t.fallback
}

// Set replaces the pair of one model
func (t *DetectionThresholds) Set(modelID string, pair ThresholdPair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if modelID == DefaultThresholdKey {
		t.fallback = pair
		return
	}
	t.perModel[modelID] = pair
}

// Table returns every pair, the fallback under DefaultThresholdKey
func (t *DetectionThresholds) Table() map[string]ThresholdPair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ThresholdPair, len(t.perModel)+1)
	for model, pair := range t.perModel {
		out[model] = pair
	}
	out[DefaultThresholdKey] = t.fallback
	return out
}

// Classification is the outcome of checking one detection against its thresholds
type Classification int

const (
	// Discarded - too low to display
	Discarded Classification = iota
	// DisplayOnly - drawn but not alert-grade
	DisplayOnly
	// AlertGrade - drawn and fed to the persistence tracker
	AlertGrade
)

// Classify applies the strict greater-than rules to a confidence value
func (p ThresholdPair) Classify(confidence float32) Classification {
	if confidence <= p.Display {
		return Discarded
	}
	if confidence > p.Alert {
		return AlertGrade
	}
	return DisplayOnly
}
