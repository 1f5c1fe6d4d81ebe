// Package models resolves model weights and hands out loaded detectors to the pipeline.
package models

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"securo/internal/pipeline"
)

// Weights locates the weight file of one model
type Weights struct {
	File string // e.g. "fire.pt"
	Path string // Local path, empty when remote
	URL  string // Remote location, empty when local
}

// Location returns the local path if set, otherwise the URL
func (w Weights) Location() string {
	if w.Path != "" {
		return w.Path
	}
	return w.URL
}

// Engine turns weights into a runnable detector
type Engine interface {
	// Load prepares modelID for inference; errors are cached by the registry
	Load(ctx context.Context, modelID string, weights Weights) (pipeline.Detector, error)

	// Close releases engine resources
	Close() error
}

// RegistryConfig configures a Registry
type RegistryConfig struct {
	Known         []string          // Model identifiers the registry serves
	Dir           string            // Directory searched for <id>.pt
	URLs          map[string]string // Weight file name -> remote URL
	RetryInterval time.Duration     // How long a failed load is remembered
}

type loadFailure struct {
	at  time.Time
	err error
}

// Registry is a lazy, caching pipeline.ModelProvider
type Registry struct {
	engine Engine
	config RegistryConfig
	clock  pipeline.Clock

	mu       sync.RWMutex
	loaded   map[string]pipeline.Detector
	failures map[string]loadFailure

	// loadSem serialises engine loads so a model is never loaded twice.
	// Waiters give up when their context ends.
	loadSem chan struct{}
}

// NewRegistry creates a registry over engine
func NewRegistry(engine Engine, config RegistryConfig, clock pipeline.Clock) *Registry {
	if clock == nil {
		clock = pipeline.SystemClock
	}
	known := append([]string(nil), config.Known...)
	sort.Strings(known)
	config.Known = known

	return &Registry{
		engine:   engine,
		config:   config,
		clock:    clock,
		loaded:   make(map[string]pipeline.Detector),
		failures: make(map[string]loadFailure),
		loadSem:  make(chan struct{}, 1),
	}
}

// Models returns the known model identifiers
func (r *Registry) Models() []string {
	return append([]string(nil), r.config.Known...)
}

// Get returns the detector for modelID, loading it on first use.
// A failed load is retried only after RetryInterval.
func (r *Registry) Get(ctx context.Context, modelID string) (pipeline.Detector, error) {
	if d, ok := r.cached(modelID); ok {
		return d, nil
	}
	if !r.known(modelID) {
		return nil, fmt.Errorf("%w: unknown model %s", pipeline.ErrModelUnavailable, modelID)
	}

	select {
	case r.loadSem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: waiting for load: %v", pipeline.ErrModelUnavailable, modelID, ctx.Err())
	}
	defer func() { <-r.loadSem }()

	// Another caller may have finished the load while we waited
	if d, ok := r.cached(modelID); ok {
		return d, nil
	}
	if err := r.recentFailure(modelID); err != nil {
		return nil, err
	}

	weights, err := r.Resolve(modelID)
	if err != nil {
		r.remember(modelID, err)
		return nil, err
	}

	log.Printf("[Models] Loading %s from %s", modelID, weights.Location())
	d, err := r.engine.Load(ctx, modelID, weights)
	if err != nil {
		if !errors.Is(err, pipeline.ErrModelUnavailable) {
			err = fmt.Errorf("%w: %s: %v", pipeline.ErrModelUnavailable, modelID, err)
		}
		r.remember(modelID, err)
		log.Printf("[Models] Failed to load %s: %v", modelID, err)
		return nil, err
	}

	r.mu.Lock()
	r.loaded[modelID] = d
	delete(r.failures, modelID)
	r.mu.Unlock()

	log.Printf("[Models] Loaded %s", modelID)
	return d, nil
}

// Resolve finds the weights of modelID: the local file first, then the URL table
func (r *Registry) Resolve(modelID string) (Weights, error) {
	file := modelID + ".pt"
	w := Weights{File: file}

	if r.config.Dir != "" {
		path := filepath.Join(r.config.Dir, file)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			w.Path = path
			return w, nil
		}
	}
	if url, ok := r.config.URLs[file]; ok && url != "" {
		w.URL = url
		return w, nil
	}
	return w, fmt.Errorf("%w: no local file or URL for %s", pipeline.ErrModelUnavailable, file)
}

// Loaded returns the identifiers of models currently in memory
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evict drops a loaded model and any remembered failure
func (r *Registry) Evict(modelID string) {
	r.mu.Lock()
	delete(r.loaded, modelID)
	delete(r.failures, modelID)
	r.mu.Unlock()
}

// Close drops every model and closes the engine
func (r *Registry) Close() error {
	r.mu.Lock()
	r.loaded = make(map[string]pipeline.Detector)
	r.failures = make(map[string]loadFailure)
	r.mu.Unlock()
	return r.engine.Close()
}

func (r *Registry) cached(modelID string) (pipeline.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.loaded[modelID]
	return d, ok
}

func (r *Registry) known(modelID string) bool {
	i := sort.SearchStrings(r.config.Known, modelID)
	return i < len(r.config.Known) && r.config.Known[i] == modelID
}

func (r *Registry) recentFailure(modelID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.failures[modelID]
	if !ok {
		return nil
	}
	if r.clock.Now().Sub(f.at) < r.config.RetryInterval {
		return f.err
	}
	return nil
}

func (r *Registry) remember(modelID string, err error) {
	r.mu.Lock()
	r.failures[modelID] = loadFailure{at: r.clock.Now(), err: err}
	r.mu.Unlock()
}

// Ensure Registry implements pipeline.ModelProvider
var _ pipeline.ModelProvider = (*Registry)(nil)
