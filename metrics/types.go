// Package metrics observes the generation controller. It exports Prometheus
// collectors and keeps an in-memory running summary for the status endpoint.
package metrics

import "time"

// Generation statuses used in labels and records.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// GenerationRecord is one finished request as seen by the summary.
type GenerationRecord struct {
	// RequestID identifies the request
	RequestID string `json:"request_id"`

	// Backend is the backend the request asked for ("standard", "accelerated")
	Backend string `json:"backend"`

	// ModelID is the model the request asked for
	ModelID string `json:"model_id"`

	// Status is StatusSuccess or StatusError
	Status string `json:"status"`

	// ErrorKind is the failure kind when Status is StatusError
	ErrorKind string `json:"error_kind,omitempty"`

	// Elapsed is the inference time of a successful request
	Elapsed time.Duration `json:"elapsed"`

	// Reshaped reports whether the accelerated pipeline recompiled
	Reshaped bool `json:"reshaped"`

	// FinishedAt is when the result was produced
	FinishedAt time.Time `json:"finished_at"`
}

// BackendSummary aggregates results for one backend.
type BackendSummary struct {
	Count       int64         `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	AvgElapsed  time.Duration `json:"avg_elapsed"`
}

// SummarySnapshot is a point-in-time view of the Summary.
type SummarySnapshot struct {
	// TotalProcessed counts every request that reached the controller
	TotalProcessed int64 `json:"total_processed"`

	// TotalSuccess and TotalErrors partition TotalProcessed
	TotalSuccess int64 `json:"total_success"`
	TotalErrors  int64 `json:"total_errors"`

	// Rejected counts requests resolved by the dispatcher without running
	Rejected int64 `json:"rejected"`

	// Reshapes counts accelerated recompilations
	Reshapes int64 `json:"reshapes"`

	// PipelineInits and PipelineInitFailures count (re)initializations
	PipelineInits        int64 `json:"pipeline_inits"`
	PipelineInitFailures int64 `json:"pipeline_init_failures"`

	// SuccessRate is a percentage in [0, 100]
	SuccessRate float64 `json:"success_rate"`

	// AvgElapsed is the mean inference time of successful requests
	AvgElapsed time.Duration `json:"avg_elapsed"`

	// ByBackend breaks down results per backend name
	ByBackend map[string]BackendSummary `json:"by_backend"`

	// Uptime is the time since the summary was created
	Uptime time.Duration `json:"uptime"`
}
