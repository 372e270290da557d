package sdruntime

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"fastsd/session"
)

// EngineConfig is handed to an EngineFactory when the pipeline is
// (re)initialized.
type EngineConfig struct {
	ModelID   string
	ModelPath string // Offline model directory, empty for online models
	Backend   session.BackendMode
	Device    string
	Threads   int
}

// EngineRequest is a single inference call.
type EngineRequest struct {
	Prompt        string
	Width         int
	Height        int
	Steps         int
	Guidance      float64
	Seed          int64 // Always non-negative; the pipeline resolves the sentinel
	Count         int
	SafetyChecker bool
}

// Engine is a loaded model. Engines are not safe for concurrent use.
type Engine interface {
	// Compile specializes the engine for one input shape. Only called for the
	// accelerated backend.
	Compile(ctx context.Context, width, height int) error

	// Run produces req.Count images.
	Run(ctx context.Context, req EngineRequest) ([]image.Image, error)

	// Close releases the model.
	Close() error
}

// EngineFactory loads a model into a new Engine.
type EngineFactory func(cfg EngineConfig) (Engine, error)

var (
	enginesMu sync.RWMutex
	engines   = map[string]EngineFactory{}
)

// RegisterEngine makes an engine factory available under name. Registering the
// same name twice replaces the previous factory.
func RegisterEngine(name string, factory EngineFactory) {
	if factory == nil {
		panic("sdruntime: RegisterEngine factory is nil")
	}
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[name] = factory
}

// LookupEngine returns the factory registered under name.
func LookupEngine(name string) (EngineFactory, error) {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	f, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownEngine, name, engineNamesLocked())
	}
	return f, nil
}

// EngineNames lists registered engine names in sorted order.
func EngineNames() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engineNamesLocked()
}

func engineNamesLocked() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
