package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fastsd/session"
)

// Settings marshals generation settings as a zap object. The prompt is
// truncated to keep entries short.
type Settings session.GenerationSettings

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s Settings) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("prompt", truncate(s.Prompt, 80))
	enc.AddString("model_id", s.ModelID)
	enc.AddString("backend", s.BackendMode.String())
	enc.AddBool("offline", s.UseOfflineModel)
	enc.AddInt("width", s.ImageWidth)
	enc.AddInt("height", s.ImageHeight)
	enc.AddInt("steps", s.InferenceSteps)
	enc.AddFloat64("guidance", s.GuidanceScale)
	enc.AddInt("images", s.NumberOfImages)
	if s.UseSeed {
		enc.AddInt64("seed", s.Seed)
	}
	return nil
}

// Result marshals a generation result as a zap object.
type Result session.Result

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r Result) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("request_id", r.RequestID)
	if r.Err != nil {
		enc.AddString("status", "error")
		enc.AddString("error_kind", r.Err.Kind.String())
		enc.AddString("error", r.Err.Message)
		return nil
	}
	enc.AddString("status", "success")
	enc.AddInt("images", len(r.Images))
	enc.AddDuration("elapsed", r.Elapsed)
	enc.AddInt64("seed", r.Seed)
	enc.AddBool("reshaped", r.Reshaped)
	return nil
}

// GenerationFields returns the fields logged for a finished request.
func GenerationFields(s session.GenerationSettings, r session.Result) []zap.Field {
	return []zap.Field{
		zap.Object("settings", Settings(s)),
		zap.Object("result", Result(r)),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
