package webui

import (
	"time"

	"fastsd/gallery"
	"fastsd/session"
)

// WebSocket message types.
const (
	MessageTypeGenerationStarted = "generation_started"
	MessageTypeGenerationResult  = "generation_result"
	MessageTypeSettingsChanged   = "settings_changed"
)

// Generation statuses reported to the browser.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// WSMessage is the envelope of every message pushed to the browser.
type WSMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func NewWSMessage(msgType string, data any) WSMessage {
	return WSMessage{Type: msgType, Timestamp: time.Now(), Data: data}
}

// GenerationView is how the browser sees one request, both in polling
// responses and in generation_result messages.
type GenerationView struct {
	RequestID    string                     `json:"request_id"`
	Status       string                     `json:"status"`
	Settings     session.GenerationSettings `json:"settings"`
	Images       []gallery.SavedImage       `json:"images,omitempty"`
	ElapsedMS    int64                      `json:"elapsed_ms,omitempty"`
	Seed         int64                      `json:"seed,omitempty"`
	Reshaped     bool                       `json:"reshaped,omitempty"`
	ErrorKind    string                     `json:"error_kind,omitempty"`
	ErrorMessage string                     `json:"error_message,omitempty"`
	Retryable    bool                       `json:"retryable,omitempty"`
	QueuedAt     time.Time                  `json:"queued_at"`
	FinishedAt   *time.Time                 `json:"finished_at,omitempty"`
}

func pendingView(t *session.Ticket) GenerationView {
	return GenerationView{
		RequestID: t.ID,
		Status:    StatusPending,
		Settings:  t.Settings,
		QueuedAt:  t.Queued,
	}
}

func resultView(t *session.Ticket, res session.Result, images []gallery.SavedImage, saveErr error) GenerationView {
	v := pendingView(t)
	finished := res.FinishedAt
	v.FinishedAt = &finished

	if !res.OK() {
		v.Status = StatusError
		v.ErrorKind = res.Err.Kind.String()
		v.ErrorMessage = res.Err.Message
		v.Retryable = res.Err.Kind.Retryable()
		return v
	}

	v.Status = StatusSuccess
	v.Images = images
	v.ElapsedMS = res.Elapsed.Milliseconds()
	v.Seed = res.Seed
	v.Reshaped = res.Reshaped
	if saveErr != nil {
		v.ErrorMessage = "saving images failed: " + saveErr.Error()
	}
	return v
}
