package session

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestGenerationSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GenerationSettings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(s *GenerationSettings) {}},
		{name: "all allowed sizes", mutate: func(s *GenerationSettings) { s.ImageWidth, s.ImageHeight = 256, 768 }},
		{name: "width not allowed", mutate: func(s *GenerationSettings) { s.ImageWidth = 1024 }, wantErr: true},
		{name: "height zero", mutate: func(s *GenerationSettings) { s.ImageHeight = 0 }, wantErr: true},
		{name: "steps min", mutate: func(s *GenerationSettings) { s.InferenceSteps = 1 }},
		{name: "steps max", mutate: func(s *GenerationSettings) { s.InferenceSteps = 25 }},
		{name: "steps too low", mutate: func(s *GenerationSettings) { s.InferenceSteps = 0 }, wantErr: true},
		{name: "steps too high", mutate: func(s *GenerationSettings) { s.InferenceSteps = 26 }, wantErr: true},
		{name: "guidance min", mutate: func(s *GenerationSettings) { s.GuidanceScale = 1.0 }},
		{name: "guidance max", mutate: func(s *GenerationSettings) { s.GuidanceScale = 20.0 }},
		{name: "guidance too low", mutate: func(s *GenerationSettings) { s.GuidanceScale = 0.9 }, wantErr: true},
		{name: "guidance too high", mutate: func(s *GenerationSettings) { s.GuidanceScale = 20.1 }, wantErr: true},
		{name: "negative seed in use", mutate: func(s *GenerationSettings) { s.UseSeed, s.Seed = true, -5 }, wantErr: true},
		{name: "negative seed ignored", mutate: func(s *GenerationSettings) { s.UseSeed, s.Seed = false, -1 }},
		{name: "too many images", mutate: func(s *GenerationSettings) { s.NumberOfImages = 5 }, wantErr: true},
		{name: "no images", mutate: func(s *GenerationSettings) { s.NumberOfImages = 0 }, wantErr: true},
		{name: "standard needs model", mutate: func(s *GenerationSettings) { s.ModelID = " " }, wantErr: true},
		{name: "accelerated ignores model", mutate: func(s *GenerationSettings) {
			s.ModelID = ""
			s.BackendMode = BackendAccelerated
		}},
		{name: "unknown backend", mutate: func(s *GenerationSettings) { s.BackendMode = BackendMode(9) }, wantErr: true},
		{name: "prompt too long", mutate: func(s *GenerationSettings) { s.Prompt = strings.Repeat("a", MaxPromptLength+1) }, wantErr: true},
		{name: "prompt null byte", mutate: func(s *GenerationSettings) { s.Prompt = "cat\x00dog" }, wantErr: true},
		{name: "empty prompt allowed", mutate: func(s *GenerationSettings) { s.Prompt = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSettings) {
				t.Errorf("Validate() error = %v, want ErrInvalidSettings", err)
			}
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.ImageWidth != 512 || s.ImageHeight != 512 {
		t.Errorf("default size = %dx%d, want 512x512", s.ImageWidth, s.ImageHeight)
	}
	if s.InferenceSteps != 4 || s.GuidanceScale != 8.0 {
		t.Errorf("default steps/guidance = %d/%.1f, want 4/8.0", s.InferenceSteps, s.GuidanceScale)
	}
	if s.UseSeed || s.Seed != 123123 {
		t.Errorf("default seed = %v/%d, want off/123123", s.UseSeed, s.Seed)
	}
	if !s.UseSafetyChecker {
		t.Error("safety checker disabled by default")
	}
	if s.EffectiveSeed() != SeedNonDeterministic {
		t.Errorf("EffectiveSeed() = %d, want sentinel", s.EffectiveSeed())
	}
}

func TestBackendMode_JSON(t *testing.T) {
	s := DefaultSettings()
	s.BackendMode = BackendAccelerated

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"backend_mode":"accelerated"`) {
		t.Errorf("Marshal() = %s, want accelerated backend name", data)
	}

	var back GenerationSettings
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.BackendMode != BackendAccelerated {
		t.Errorf("BackendMode = %v, want accelerated", back.BackendMode)
	}

	if err := json.Unmarshal([]byte(`{"backend_mode":"tpu"}`), &back); err == nil {
		t.Error("Unmarshal() accepted unknown backend")
	}
}

func TestParseBackendMode(t *testing.T) {
	tests := []struct {
		in      string
		want    BackendMode
		wantErr bool
	}{
		{in: "standard", want: BackendStandard},
		{in: "", want: BackendStandard},
		{in: "Accelerated", want: BackendAccelerated},
		{in: "openvino", want: BackendAccelerated},
		{in: "cuda", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackendMode(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseBackendMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	cause := errors.New("boom")
	e := newError(KindInference, cause)

	if !errors.Is(e, ErrInference) {
		t.Error("errors.Is(e, ErrInference) = false")
	}
	if errors.Is(e, ErrPipelineInit) {
		t.Error("errors.Is(e, ErrPipelineInit) = true")
	}
	if !errors.Is(e, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if e.Message != "boom" {
		t.Errorf("Message = %q, want cause text", e.Message)
	}
	if got := newError(KindBusy, nil).Message; got != ErrBusy.Error() {
		t.Errorf("Message without cause = %q, want sentinel text", got)
	}
}

func TestErrorKind_Rejected(t *testing.T) {
	tests := map[ErrorKind]bool{
		KindPipelineInit:    false,
		KindInference:       false,
		KindBusy:            true,
		KindSuperseded:      true,
		KindInvalidSettings: true,
		KindClosed:          true,
	}
	for kind, want := range tests {
		if got := kind.Rejected(); got != want {
			t.Errorf("%s.Rejected() = %v, want %v", kind, got, want)
		}
	}
}
