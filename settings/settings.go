// Package settings persists the application settings as YAML and holds the
// live copy shared by the browser and terminal surfaces.
package settings

import (
	"strings"

	"github.com/samber/lo"

	"fastsd/session"
)

// DefaultResultsPath is where images are written when no path is configured.
const DefaultResultsPath = "./results"

// LCMDiffusionSetting mirrors the lcm_diffusion_setting block of the settings
// file.
type LCMDiffusionSetting struct {
	LCMModelID       string  `yaml:"lcm_model_id" json:"lcm_model_id"`
	Prompt           string  `yaml:"prompt" json:"prompt"`
	ImageWidth       int     `yaml:"image_width" json:"image_width"`
	ImageHeight      int     `yaml:"image_height" json:"image_height"`
	InferenceSteps   int     `yaml:"inference_steps" json:"inference_steps"`
	GuidanceScale    float64 `yaml:"guidance_scale" json:"guidance_scale"`
	NumberOfImages   int     `yaml:"number_of_images" json:"number_of_images"`
	Seed             int64   `yaml:"seed" json:"seed"`
	UseOpenVINO      bool    `yaml:"use_openvino" json:"use_openvino"`
	UseOfflineModel  bool    `yaml:"use_offline_model" json:"use_offline_model"`
	UseSeed          bool    `yaml:"use_seed" json:"use_seed"`
	UseSafetyChecker bool    `yaml:"use_safety_checker" json:"use_safety_checker"`
}

// AppSettings is the root of the settings file.
type AppSettings struct {
	ResultsPath         string              `yaml:"results_path" json:"results_path"`
	LCMDiffusionSetting LCMDiffusionSetting `yaml:"lcm_diffusion_setting" json:"lcm_diffusion_setting"`
}

// Defaults returns the settings of a fresh installation.
func Defaults() AppSettings {
	d := session.DefaultSettings()
	return AppSettings{
		ResultsPath: DefaultResultsPath,
		LCMDiffusionSetting: LCMDiffusionSetting{
			LCMModelID:       d.ModelID,
			ImageWidth:       d.ImageWidth,
			ImageHeight:      d.ImageHeight,
			InferenceSteps:   d.InferenceSteps,
			GuidanceScale:    d.GuidanceScale,
			NumberOfImages:   d.NumberOfImages,
			Seed:             d.Seed,
			UseSafetyChecker: d.UseSafetyChecker,
		},
	}
}

// Normalize replaces out-of-range values with their defaults and returns the
// names of the fields that were reset.
func (a *AppSettings) Normalize() []string {
	def := Defaults()
	l := &a.LCMDiffusionSetting
	dl := def.LCMDiffusionSetting
	var reset []string

	fix := func(name string, ok bool, apply func()) {
		if !ok {
			apply()
			reset = append(reset, name)
		}
	}

	a.ResultsPath = strings.TrimSpace(a.ResultsPath)
	fix("results_path", a.ResultsPath != "", func() { a.ResultsPath = def.ResultsPath })

	l.LCMModelID = strings.TrimSpace(l.LCMModelID)
	fix("lcm_model_id", l.LCMModelID != "", func() { l.LCMModelID = dl.LCMModelID })
	fix("image_width", session.IsAllowedSize(l.ImageWidth), func() { l.ImageWidth = dl.ImageWidth })
	fix("image_height", session.IsAllowedSize(l.ImageHeight), func() { l.ImageHeight = dl.ImageHeight })
	fix("inference_steps",
		l.InferenceSteps == lo.Clamp(l.InferenceSteps, session.MinInferenceSteps, session.MaxInferenceSteps),
		func() { l.InferenceSteps = dl.InferenceSteps })
	fix("guidance_scale",
		l.GuidanceScale == lo.Clamp(l.GuidanceScale, session.MinGuidanceScale, session.MaxGuidanceScale),
		func() { l.GuidanceScale = dl.GuidanceScale })
	fix("number_of_images",
		l.NumberOfImages == lo.Clamp(l.NumberOfImages, session.MinNumberOfImages, session.MaxNumberOfImages),
		func() { l.NumberOfImages = dl.NumberOfImages })
	fix("seed", l.Seed >= 0, func() { l.Seed = dl.Seed })
	fix("prompt", len(l.Prompt) <= session.MaxPromptLength, func() { l.Prompt = "" })

	return reset
}

// Backend returns the backend selected by the use_openvino flag.
func (a AppSettings) Backend() session.BackendMode {
	return lo.Ternary(a.LCMDiffusionSetting.UseOpenVINO, session.BackendAccelerated, session.BackendStandard)
}

// Generation converts the stored settings into a request snapshot. An empty
// prompt falls back to the stored prompt.
func (a AppSettings) Generation(prompt string) session.GenerationSettings {
	l := a.LCMDiffusionSetting
	return session.GenerationSettings{
		Prompt:           lo.Ternary(prompt != "", prompt, l.Prompt),
		ModelID:          l.LCMModelID,
		BackendMode:      a.Backend(),
		UseOfflineModel:  l.UseOfflineModel,
		ImageWidth:       l.ImageWidth,
		ImageHeight:      l.ImageHeight,
		InferenceSteps:   l.InferenceSteps,
		GuidanceScale:    l.GuidanceScale,
		NumberOfImages:   l.NumberOfImages,
		UseSeed:          l.UseSeed,
		Seed:             l.Seed,
		UseSafetyChecker: l.UseSafetyChecker,
		OutputDirectory:  a.ResultsPath,
	}
}
