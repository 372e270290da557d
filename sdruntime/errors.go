package sdruntime

import "errors"

// Sentinel errors for SD runtime operations.
var (
	// Model-related errors
	ErrModelNotFound   = errors.New("sdruntime: model not found")
	ErrModelLoadFailed = errors.New("sdruntime: failed to load model")
	ErrModelCorrupted  = errors.New("sdruntime: model file is corrupted or invalid")
	ErrInvalidModelID  = errors.New("sdruntime: invalid model id")

	// Engine errors
	ErrUnknownEngine      = errors.New("sdruntime: unknown engine")
	ErrUnsupportedBackend = errors.New("sdruntime: backend not supported by engine")
	ErrNotInitialized     = errors.New("sdruntime: pipeline not initialized")
	ErrShapeMismatch      = errors.New("sdruntime: compiled shape does not match request")
	ErrCompileFailed      = errors.New("sdruntime: failed to compile engine for shape")

	// Generation errors
	ErrGenerationFailed = errors.New("sdruntime: image generation failed")
)
