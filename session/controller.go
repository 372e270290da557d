package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// errNoImages is reported when an adapter returns successfully with nothing.
var errNoImages = errors.New("pipeline returned no images")

// PipelineState is the controller's view of the adapter binding. Zero values
// mean "none".
type PipelineState struct {
	Loaded        bool
	ActiveModelID string
	ActiveBackend BackendMode

	// Dimensions and model of the last successful generation.
	LastWidth   int
	LastHeight  int
	LastModelID string
}

// HasPreviousRun reports whether any generation has succeeded yet.
func (s PipelineState) HasPreviousRun() bool {
	return s.LastModelID != ""
}

// ReinitDecision reports what EnsurePipelineReady did.
type ReinitDecision struct {
	Reinitialized   bool
	ModelID         string
	PreviousModelID string
}

// Controller is the single owner of the pipeline adapter and its state.
type Controller struct {
	pipeline Pipeline
	logger   *zap.Logger
	observer Observer

	acceleratedModelID string

	// mu serializes the whole ensure/reshape/generate transaction.
	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  chan error

	// stateMu lets State readers avoid waiting on a running generation. Writers
	// always hold mu as well.
	stateMu sync.RWMutex
	state   PipelineState
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithAcceleratedModelID overrides the model forced by the accelerated backend.
func WithAcceleratedModelID(id string) ControllerOption {
	return func(c *Controller) {
		if id != "" {
			c.acceleratedModelID = id
		}
	}
}

// NewController creates a controller with an empty PipelineState.
func NewController(p Pipeline, opts ...ControllerOption) *Controller {
	c := &Controller{
		pipeline:           p,
		logger:             zap.NewNop(),
		observer:           nopObserver{},
		acceleratedModelID: DefaultAcceleratedModelID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current PipelineState.
func (c *Controller) State() PipelineState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Observer returns the registered observer.
func (c *Controller) Observer() Observer {
	return c.observer
}

// ResolveModelID returns the model the pipeline must be bound to for s.
func (c *Controller) ResolveModelID(s GenerationSettings) string {
	if s.BackendMode == BackendAccelerated {
		return c.acceleratedModelID
	}
	return s.ModelID
}

// EnsurePipelineReady binds the adapter to the model and backend requested by s,
// initializing it only when nothing is loaded or the binding changed. On
// failure the returned error wraps ErrPipelineInit and the controller is left
// unloaded.
func (c *Controller) EnsurePipelineReady(ctx context.Context, s GenerationSettings) (ReinitDecision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ReinitDecision{}, newError(KindClosed, nil)
	}
	d, err := c.ensureLocked(ctx, s)
	if err != nil {
		return d, newError(KindPipelineInit, err)
	}
	return d, nil
}

// NeedsReshape reports whether running s next would require the accelerated
// backend to recompile. It has no side effects.
func (c *Controller) NeedsReshape(s GenerationSettings) bool {
	return needsReshape(c.State(), s, c.ResolveModelID(s))
}

func needsReshape(prev PipelineState, s GenerationSettings, modelID string) bool {
	if s.BackendMode != BackendAccelerated || !prev.HasPreviousRun() {
		return false
	}
	return prev.LastWidth != s.ImageWidth ||
		prev.LastHeight != s.ImageHeight ||
		prev.LastModelID != modelID
}

// Generate runs one request against the pipeline. It blocks for the duration of
// model loading and inference and must not be called from an interactive
// context; use a Dispatcher.
func (c *Controller) Generate(ctx context.Context, s GenerationSettings) Result {
	if err := s.Validate(); err != nil {
		return failure("", s, KindInvalidSettings, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return failure("", s, KindClosed, nil)
	}
	prev := c.state

	decision, err := c.ensureLocked(ctx, s)
	if err != nil {
		res := failure("", s, KindPipelineInit, err)
		c.observer.ObserveGeneration(s, res)
		return res
	}

	reshape := needsReshape(prev, s, decision.ModelID)
	effective := s
	effective.Seed = s.EffectiveSeed()

	c.logger.Debug("Starting generation",
		zap.String("model_id", decision.ModelID),
		zap.String("backend", s.BackendMode.String()),
		zap.Int("width", s.ImageWidth),
		zap.Int("height", s.ImageHeight),
		zap.Int("steps", s.InferenceSteps),
		zap.Int64("seed", effective.Seed),
		zap.Bool("reshape", reshape),
	)

	start := time.Now()
	images, err := c.invoke(ctx, effective, reshape)
	elapsed := time.Since(start)
	if err == nil && len(images) == 0 {
		err = errNoImages
	}

	if err != nil {
		if errors.Is(err, ErrPipelineUnusable) {
			c.logger.Warn("Pipeline reported unusable, forcing reinitialization",
				zap.String("model_id", decision.ModelID),
				zap.Error(err),
			)
			c.updateState(func(st *PipelineState) {
				st.Loaded = false
				st.ActiveModelID = ""
			})
		} else {
			c.logger.Error("Generation failed",
				zap.String("model_id", decision.ModelID),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
		}
		res := failure("", s, KindInference, err)
		res.Seed = effective.Seed
		c.observer.ObserveGeneration(s, res)
		return res
	}

	c.updateState(func(st *PipelineState) {
		st.LastWidth = s.ImageWidth
		st.LastHeight = s.ImageHeight
		st.LastModelID = decision.ModelID
		st.ActiveModelID = decision.ModelID
	})

	c.logger.Info("Generation completed",
		zap.String("model_id", decision.ModelID),
		zap.Int("images", len(images)),
		zap.Duration("elapsed", elapsed),
		zap.Bool("reshape", reshape),
	)

	res := Result{
		Settings:   s,
		Images:     images,
		Elapsed:    elapsed,
		Seed:       effective.Seed,
		Reshaped:   reshape,
		FinishedAt: time.Now(),
	}
	c.observer.ObserveGeneration(s, res)
	return res
}

// ensureLocked must be called with c.mu held. It returns the raw adapter error.
func (c *Controller) ensureLocked(ctx context.Context, s GenerationSettings) (ReinitDecision, error) {
	resolved := c.ResolveModelID(s)
	d := ReinitDecision{ModelID: resolved, PreviousModelID: c.state.ActiveModelID}

	if c.state.Loaded && c.state.ActiveModelID == resolved && c.state.ActiveBackend == s.BackendMode {
		return d, nil
	}

	opts := InitOptions{
		ModelID:         resolved,
		Backend:         s.BackendMode,
		UseOfflineModel: s.UseOfflineModel,
	}

	c.logger.Info("Initializing pipeline",
		zap.String("model_id", resolved),
		zap.String("previous_model_id", d.PreviousModelID),
		zap.String("backend", s.BackendMode.String()),
		zap.Bool("offline", s.UseOfflineModel),
	)

	start := time.Now()
	err := c.initialize(ctx, opts)
	c.observer.ObserveInit(opts, err)
	if err != nil {
		c.logger.Error("Pipeline initialization failed",
			zap.String("model_id", resolved),
			zap.String("backend", s.BackendMode.String()),
			zap.Error(err),
		)
		c.updateState(func(st *PipelineState) {
			st.Loaded = false
			st.ActiveModelID = ""
		})
		return d, err
	}

	c.updateState(func(st *PipelineState) {
		st.Loaded = true
		st.ActiveModelID = resolved
		st.ActiveBackend = s.BackendMode
	})
	d.Reinitialized = true

	c.logger.Info("Pipeline initialized",
		zap.String("model_id", resolved),
		zap.Duration("duration", time.Since(start)),
	)
	return d, nil
}

// Close releases the adapter once no request is inside it. If ctx expires
// first, Close returns the context error and the release still happens as
// soon as the running request finishes. Later requests fail with ErrClosed.
func (c *Controller) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = make(chan error, 1)
		go func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.closed = true
			c.updateState(func(st *PipelineState) {
				st.Loaded = false
				st.ActiveModelID = ""
			})
			var err error
			if closer, ok := c.pipeline.(io.Closer); ok {
				err = closer.Close()
			}
			c.closeErr <- err
			close(c.closeErr)
		}()
	})

	select {
	case err := <-c.closeErr:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting to release pipeline: %w", ctx.Err())
	}
}

func (c *Controller) updateState(fn func(*PipelineState)) {
	c.stateMu.Lock()
	fn(&c.state)
	c.stateMu.Unlock()
}

// initialize and invoke convert adapter panics into errors.
func (c *Controller) initialize(ctx context.Context, opts InitOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic during initialize: %v", r)
		}
	}()
	return c.pipeline.Initialize(ctx, opts)
}

func (c *Controller) invoke(ctx context.Context, s GenerationSettings, reshape bool) (images [][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: adapter panic during generate: %v", ErrPipelineUnusable, r)
		}
	}()
	return c.pipeline.Generate(ctx, s, reshape)
}
