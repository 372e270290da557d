package session

import "time"

// Result is the outcome of one generation request. Exactly one of Images or Err
// is set.
type Result struct {
	RequestID string
	Settings  GenerationSettings

	// Success fields.
	Images   [][]byte
	Elapsed  time.Duration
	Seed     int64
	Reshaped bool

	// Failure.
	Err *Error

	FinishedAt time.Time
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Image returns the primary image, or nil for a failure.
func (r Result) Image() []byte {
	if len(r.Images) == 0 {
		return nil
	}
	return r.Images[0]
}

func failure(requestID string, settings GenerationSettings, kind ErrorKind, cause error) Result {
	return Result{
		RequestID:  requestID,
		Settings:   settings,
		Err:        newError(kind, cause),
		FinishedAt: time.Now(),
	}
}
