package sdruntime

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"fastsd/session"
)

// Pipeline implements session.Pipeline on top of a registered Engine.
//
// Pipeline is not safe for concurrent use; the session controller serializes
// every call.
type Pipeline struct {
	cfg     Config
	factory EngineFactory
	logger  *zap.Logger

	engine   Engine
	binding  session.InitOptions
	compiled image.Point
}

// NewPipeline creates an uninitialized pipeline using the engine named in
// cfg.Engine.
func NewPipeline(cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}
	if cfg.Device == "" {
		cfg.Device = DefaultDevice
	}
	factory, err := LookupEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		factory: factory,
		logger:  logger.Named("sdruntime"),
	}, nil
}

// Initialize releases the current engine, if any, and loads a new one for
// opts. On failure the pipeline is left without an engine.
func (p *Pipeline) Initialize(ctx context.Context, opts session.InitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	modelPath := ""
	if opts.UseOfflineModel {
		path, err := ResolveOfflineModel(p.cfg.ModelsDir, opts.ModelID)
		if err != nil {
			p.release()
			return err
		}
		if err := VerifyManifest(path); err != nil {
			p.release()
			return err
		}
		modelPath = path
	} else if _, err := modelDirName(opts.ModelID); err != nil {
		p.release()
		return err
	}

	p.release()

	start := time.Now()
	engine, err := p.factory(EngineConfig{
		ModelID:   opts.ModelID,
		ModelPath: modelPath,
		Backend:   opts.Backend,
		Device:    p.cfg.Device,
		Threads:   p.cfg.Threads,
	})
	if err != nil {
		if errors.Is(err, ErrUnsupportedBackend) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrModelLoadFailed, opts.ModelID, err)
	}

	p.engine = engine
	p.binding = opts
	p.logger.Info("Engine loaded",
		zap.String("engine", p.cfg.Engine),
		zap.String("model_id", opts.ModelID),
		zap.String("model_path", modelPath),
		zap.String("backend", opts.Backend.String()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Generate runs one request. For the accelerated backend the engine is
// compiled for the requested shape when reshape is set or nothing has been
// compiled yet.
func (p *Pipeline) Generate(ctx context.Context, s session.GenerationSettings, reshape bool) ([][]byte, error) {
	if p.engine == nil {
		return nil, fmt.Errorf("%w: %w", session.ErrPipelineUnusable, ErrNotInitialized)
	}

	shape := image.Pt(s.ImageWidth, s.ImageHeight)
	if p.binding.Backend == session.BackendAccelerated {
		switch {
		case reshape || p.compiled == (image.Point{}):
			start := time.Now()
			if err := p.engine.Compile(ctx, shape.X, shape.Y); err != nil {
				p.release()
				return nil, fmt.Errorf("%w: %w", session.ErrPipelineUnusable, err)
			}
			p.compiled = shape
			p.logger.Info("Engine compiled for shape",
				zap.Int("width", shape.X),
				zap.Int("height", shape.Y),
				zap.Duration("duration", time.Since(start)),
			)
		case p.compiled != shape:
			err := fmt.Errorf("%w: compiled %dx%d, requested %dx%d without reshape",
				ErrShapeMismatch, p.compiled.X, p.compiled.Y, shape.X, shape.Y)
			p.release()
			return nil, fmt.Errorf("%w: %w", session.ErrPipelineUnusable, err)
		}
	}

	count := s.NumberOfImages
	if count < 1 {
		count = 1
	}

	images, err := p.engine.Run(ctx, EngineRequest{
		Prompt:        SanitizePrompt(s.Prompt),
		Width:         shape.X,
		Height:        shape.Y,
		Steps:         s.InferenceSteps,
		Guidance:      s.GuidanceScale,
		Seed:          ResolveSeed(s.Seed),
		Count:         count,
		SafetyChecker: s.UseSafetyChecker,
	})
	if err != nil {
		if errors.Is(err, ErrShapeMismatch) || errors.Is(err, ErrNotInitialized) {
			p.release()
			return nil, fmt.Errorf("%w: %w", session.ErrPipelineUnusable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: engine returned no images", ErrGenerationFailed)
	}

	out := make([][]byte, 0, len(images))
	for _, img := range images {
		data, err := EncodePNG(img)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Binding returns the options of the loaded engine and whether one is loaded.
func (p *Pipeline) Binding() (session.InitOptions, bool) {
	return p.binding, p.engine != nil
}

// CompiledShape returns the shape the accelerated engine is compiled for, or
// the zero point.
func (p *Pipeline) CompiledShape() image.Point {
	return p.compiled
}

// Close releases the engine.
func (p *Pipeline) Close() error {
	return p.release()
}

func (p *Pipeline) release() error {
	if p.engine == nil {
		return nil
	}
	err := p.engine.Close()
	p.engine = nil
	p.binding = session.InitOptions{}
	p.compiled = image.Point{}
	if err != nil {
		p.logger.Warn("Engine close failed", zap.Error(err))
	}
	return err
}

var _ session.Pipeline = (*Pipeline)(nil)
