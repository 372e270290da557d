package sdruntime

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds configuration for the local pipeline.
type Config struct {
	ModelsDir string // Root directory of offline models
	Engine    string // Registered engine name
	Threads   int    // Engine worker threads
	Device    string // Device for the accelerated backend (CPU, GPU, NPU)
}

// Default configuration values
const (
	DefaultModelsDir = "models"
	DefaultEngine    = PreviewEngineName
	DefaultDevice    = "CPU"
)

// LoadConfig loads pipeline configuration from environment variables.
func LoadConfig() Config {
	return Config{
		ModelsDir: stringOrDefault(os.Getenv("SD_MODELS_DIR"), DefaultModelsDir),
		Engine:    strings.ToLower(stringOrDefault(os.Getenv("SD_ENGINE"), DefaultEngine)),
		Threads:   parseThreads(os.Getenv("SD_THREADS")),
		Device:    strings.ToUpper(stringOrDefault(os.Getenv("SD_ACCELERATED_DEVICE"), DefaultDevice)),
	}
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() Config {
	return Config{
		ModelsDir: DefaultModelsDir,
		Engine:    DefaultEngine,
		Threads:   runtime.NumCPU(),
		Device:    DefaultDevice,
	}
}

func stringOrDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// parseThreads returns NumCPU for empty, invalid or non-positive values.
func parseThreads(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
