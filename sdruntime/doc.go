// Package sdruntime binds a local diffusion engine to the session.Pipeline
// contract.
//
// A Pipeline owns exactly one Engine at a time. Engines are created by named
// factories registered with RegisterEngine; the built-in "preview" engine
// renders deterministic procedural images and is always available, so the rest
// of the application can run without native model bindings.
//
// # Accelerated backend
//
// For session.BackendAccelerated the engine is compiled for a single input
// shape. Pipeline.Generate recompiles when the caller passes reshape=true, and
// compiles lazily on the first run after initialization. Asking a compiled
// engine to run a different shape without reshape is treated as a fatal engine
// state and reported with session.ErrPipelineUnusable.
//
// # Offline models
//
// With UseOfflineModel set, the model id is resolved to a directory below
// Config.ModelsDir using the Hugging Face cache layout:
//
//	SimianLuo/LCM_Dreamshaper_v7 -> <models>/models--SimianLuo--LCM_Dreamshaper_v7
//
// If the directory holds a checksums.sha256 manifest, every listed file is
// verified before the engine is created.
//
// # Configuration
//
// Use LoadConfig() to read configuration from environment variables:
//
//	SD_MODELS_DIR=models         # Root of offline model directories
//	SD_ENGINE=preview            # Registered engine name
//	SD_THREADS=8                 # Engine worker threads (default: NumCPU)
//	SD_ACCELERATED_DEVICE=CPU    # Device used by the accelerated backend
package sdruntime
