package session

import "context"

// InitOptions describes the pipeline binding requested by EnsurePipelineReady.
type InitOptions struct {
	ModelID         string
	Backend         BackendMode
	UseOfflineModel bool
}

// Pipeline is the diffusion pipeline adapter. Implementations hold mutable model
// state and are not safe for concurrent use; the Controller guarantees calls are
// serialized.
type Pipeline interface {
	// Initialize (re)binds the adapter to a model and backend. Any previously
	// bound pipeline may be released.
	Initialize(ctx context.Context, opts InitOptions) error

	// Generate synchronously produces at least one encoded image. When reshape is
	// true the accelerated backend must recompile for the requested dimensions
	// before running. Errors wrapping ErrPipelineUnusable force reinitialization
	// on the next request.
	Generate(ctx context.Context, settings GenerationSettings, reshape bool) ([][]byte, error)
}

// Observer receives controller lifecycle events. Implementations must be fast
// and non-blocking; they are called while the controller lock is held.
type Observer interface {
	ObserveInit(opts InitOptions, err error)
	ObserveGeneration(settings GenerationSettings, res Result)
}

// DispatchObserver is optionally implemented by an Observer to learn about
// requests the dispatcher resolved without running them.
type DispatchObserver interface {
	ObserveRejection(kind ErrorKind)
}

type nopObserver struct{}

func (nopObserver) ObserveInit(InitOptions, error)                {}
func (nopObserver) ObserveGeneration(GenerationSettings, Result) {}
