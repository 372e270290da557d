package session

import (
	"fmt"
	"strings"
)

// BackendMode selects the inference backend.
type BackendMode int

const (
	// BackendStandard runs the pipeline with dynamic input shapes.
	BackendStandard BackendMode = iota
	// BackendAccelerated runs a shape-specialized compiled pipeline that must be
	// reshaped whenever the input resolution or model changes.
	BackendAccelerated
)

// String returns the lowercase backend name used in logs, metrics and JSON.
func (m BackendMode) String() string {
	switch m {
	case BackendStandard:
		return "standard"
	case BackendAccelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("backend(%d)", int(m))
	}
}

// ParseBackendMode converts a backend name back into a BackendMode.
func ParseBackendMode(s string) (BackendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "":
		return BackendStandard, nil
	case "accelerated", "openvino":
		return BackendAccelerated, nil
	default:
		return BackendStandard, fmt.Errorf("%w: unknown backend %q", ErrInvalidSettings, s)
	}
}

// Valid reports whether m is a known backend.
func (m BackendMode) Valid() bool {
	return m == BackendStandard || m == BackendAccelerated
}

// MarshalText implements encoding.TextMarshaler.
func (m BackendMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: unknown backend %d", ErrInvalidSettings, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BackendMode) UnmarshalText(text []byte) error {
	parsed, err := ParseBackendMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Generation parameter limits.
const (
	MinInferenceSteps = 1
	MaxInferenceSteps = 25

	MinGuidanceScale = 1.0
	MaxGuidanceScale = 20.0

	MinNumberOfImages = 1
	MaxNumberOfImages = 4

	MaxPromptLength = 1000
)

// SeedNonDeterministic is forwarded to the adapter when the caller did not opt
// into a fixed seed.
const SeedNonDeterministic int64 = -1

// Default model identifiers.
const (
	DefaultModelID            = "SimianLuo/LCM_Dreamshaper_v7"
	DefaultAcceleratedModelID = "rupeshs/LCM-dreamshaper-v7-openvino"
)

// AllowedSizes lists the image dimensions the pipeline accepts. The accelerated
// backend compiles for one of these shapes at a time.
var AllowedSizes = []int{256, 512, 768}

// IsAllowedSize reports whether n is one of AllowedSizes.
func IsAllowedSize(n int) bool {
	for _, s := range AllowedSizes {
		if s == n {
			return true
		}
	}
	return false
}

// GenerationSettings is the immutable per-request snapshot handed to the
// controller. It is passed by value; the controller never retains a caller's
// copy beyond a single request.
type GenerationSettings struct {
	Prompt           string      `json:"prompt"`
	ModelID          string      `json:"model_id"`
	BackendMode      BackendMode `json:"backend_mode"`
	UseOfflineModel  bool        `json:"use_offline_model"`
	ImageWidth       int         `json:"image_width"`
	ImageHeight      int         `json:"image_height"`
	InferenceSteps   int         `json:"inference_steps"`
	GuidanceScale    float64     `json:"guidance_scale"`
	NumberOfImages   int         `json:"number_of_images"`
	UseSeed          bool        `json:"use_seed"`
	Seed             int64       `json:"seed"`
	UseSafetyChecker bool        `json:"use_safety_checker"`
	OutputDirectory  string      `json:"output_directory"`
}

// DefaultSettings returns the settings a fresh installation starts with.
func DefaultSettings() GenerationSettings {
	return GenerationSettings{
		ModelID:          DefaultModelID,
		BackendMode:      BackendStandard,
		ImageWidth:       512,
		ImageHeight:      512,
		InferenceSteps:   4,
		GuidanceScale:    8.0,
		NumberOfImages:   1,
		Seed:             123123,
		UseSafetyChecker: true,
		OutputDirectory:  "results",
	}
}

// Validate checks every field against the pipeline limits. The returned error
// wraps ErrInvalidSettings.
func (s GenerationSettings) Validate() error {
	if !s.BackendMode.Valid() {
		return fmt.Errorf("%w: unknown backend %d", ErrInvalidSettings, int(s.BackendMode))
	}
	if s.BackendMode == BackendStandard && strings.TrimSpace(s.ModelID) == "" {
		return fmt.Errorf("%w: model id is required for the standard backend", ErrInvalidSettings)
	}
	if !IsAllowedSize(s.ImageWidth) {
		return fmt.Errorf("%w: width %d not in %v", ErrInvalidSettings, s.ImageWidth, AllowedSizes)
	}
	if !IsAllowedSize(s.ImageHeight) {
		return fmt.Errorf("%w: height %d not in %v", ErrInvalidSettings, s.ImageHeight, AllowedSizes)
	}
	if s.InferenceSteps < MinInferenceSteps || s.InferenceSteps > MaxInferenceSteps {
		return fmt.Errorf("%w: inference steps %d outside [%d, %d]",
			ErrInvalidSettings, s.InferenceSteps, MinInferenceSteps, MaxInferenceSteps)
	}
	if s.GuidanceScale < MinGuidanceScale || s.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f outside [%.1f, %.1f]",
			ErrInvalidSettings, s.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}
	if s.NumberOfImages < MinNumberOfImages || s.NumberOfImages > MaxNumberOfImages {
		return fmt.Errorf("%w: number of images %d outside [%d, %d]",
			ErrInvalidSettings, s.NumberOfImages, MinNumberOfImages, MaxNumberOfImages)
	}
	if s.UseSeed && s.Seed < 0 {
		return fmt.Errorf("%w: seed must be >= 0, got %d", ErrInvalidSettings, s.Seed)
	}
	if len(s.Prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidSettings, MaxPromptLength)
	}
	if strings.ContainsRune(s.Prompt, 0) {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidSettings)
	}
	return nil
}

// EffectiveSeed returns the seed forwarded downstream: the configured seed when
// UseSeed is set, SeedNonDeterministic otherwise.
func (s GenerationSettings) EffectiveSeed() int64 {
	if s.UseSeed {
		return s.Seed
	}
	return SeedNonDeterministic
}
