// Package imagegen provides a session.Pipeline backed by a remote
// OpenAI-compatible image generation API (OpenAI, Azure OpenAI, LocalAI, or
// any server that implements /v1/images/generations).
//
// The remote service runs its own models with dynamic shapes, so only the
// standard backend is supported and reshape requests are ignored.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"fastsd/session"
)

// Errors returned by OpenAIPipeline.
var (
	ErrMissingAPIKey      = errors.New("imagegen: API key is required")
	ErrUnsupportedBackend = errors.New("imagegen: remote pipeline supports only the standard backend")
	ErrOfflineUnsupported = errors.New("imagegen: remote pipeline cannot use offline models")
	ErrModelNotAvailable  = errors.New("imagegen: model not available on endpoint")
	ErrNotInitialized     = errors.New("imagegen: pipeline not initialized")
	ErrEmptyResponse      = errors.New("imagegen: endpoint returned no image data")
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config holds configuration for the remote pipeline.
type Config struct {
	// APIKey is the bearer token sent to the endpoint (required)
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1)
	BaseURL string

	// Model overrides the model id from the generation settings. Hugging Face
	// style ids are rarely valid remote model names. On Azure this is the
	// deployment name.
	Model string

	// APIVersion is sent to Azure OpenAI endpoints. Empty uses the
	// client default.
	APIVersion string

	// SkipModelCheck disables the model listing performed by Initialize, for
	// endpoints that do not implement /models.
	SkipModelCheck bool

	// HTTPClient is the HTTP client for API calls (optional)
	HTTPClient *http.Client
}

// OpenAIPipeline implements session.Pipeline against an OpenAI-compatible API.
//
// The go-openai client is safe for concurrent use, but the binding state is
// not; calls are serialized by the session controller.
type OpenAIPipeline struct {
	client         *openai.Client
	httpClient     *http.Client
	logger         *zap.Logger
	modelOverride  string
	skipModelCheck bool

	model string
	bound bool
}

// NewOpenAIPipeline creates an unbound remote pipeline.
//
// Returns an error if the API key is empty.
func NewOpenAIPipeline(cfg Config, logger *zap.Logger) (*OpenAIPipeline, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}

	skipModelCheck := cfg.SkipModelCheck
	var clientConfig openai.ClientConfig
	if IsAzureEndpoint(endpoint) {
		// Azure addresses deployments, which /models does not list.
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(endpoint, "/"))
		if cfg.APIVersion != "" {
			clientConfig.APIVersion = cfg.APIVersion
		}
		skipModelCheck = true
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = strings.TrimRight(endpoint, "/")
	}
	httpClient := http.DefaultClient
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
		httpClient = cfg.HTTPClient
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIPipeline{
		client:         openai.NewClientWithConfig(clientConfig),
		httpClient:     httpClient,
		logger:         logger.Named("imagegen"),
		modelOverride:  cfg.Model,
		skipModelCheck: skipModelCheck,
	}, nil
}

// Initialize binds the pipeline to a remote model after checking that the
// endpoint lists it.
func (p *OpenAIPipeline) Initialize(ctx context.Context, opts session.InitOptions) error {
	p.bound = false

	if opts.Backend != session.BackendStandard {
		return fmt.Errorf("%w: got %s", ErrUnsupportedBackend, opts.Backend)
	}
	if opts.UseOfflineModel {
		return ErrOfflineUnsupported
	}

	model := p.modelOverride
	if model == "" {
		model = opts.ModelID
	}

	if !p.skipModelCheck {
		list, err := p.client.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("imagegen: listing models: %w", err)
		}
		found := false
		for _, m := range list.Models {
			if m.ID == model {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrModelNotAvailable, model)
		}
	}

	p.model = model
	p.bound = true
	p.logger.Info("Remote model bound", zap.String("model", model))
	return nil
}

// Generate requests settings.NumberOfImages images from the endpoint. The seed
// and reshape flag are not part of the remote API and are ignored.
func (p *OpenAIPipeline) Generate(ctx context.Context, s session.GenerationSettings, reshape bool) ([][]byte, error) {
	if !p.bound {
		return nil, fmt.Errorf("%w: %w", session.ErrPipelineUnusable, ErrNotInitialized)
	}

	n := s.NumberOfImages
	if n < 1 {
		n = 1
	}

	req := openai.ImageRequest{
		Prompt:         s.Prompt,
		Model:          p.model,
		N:              n,
		Size:           fmt.Sprintf("%dx%d", s.ImageWidth, s.ImageHeight),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}

	response, err := p.client.CreateImage(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden) {
			p.bound = false
			return nil, fmt.Errorf("%w: imagegen: credentials rejected: %w", session.ErrPipelineUnusable, err)
		}
		return nil, fmt.Errorf("imagegen: image generation failed: %w", err)
	}

	if len(response.Data) == 0 {
		return nil, ErrEmptyResponse
	}

	images := make([][]byte, 0, len(response.Data))
	for i, d := range response.Data {
		switch {
		case d.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(d.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("imagegen: decoding item %d: %w", i, err)
			}
			images = append(images, data)
		case d.URL != "":
			data, err := download(ctx, p.httpClient, d.URL, MaxDownloadBytes)
			if err != nil {
				return nil, fmt.Errorf("imagegen: item %d: %w", i, err)
			}
			images = append(images, data)
		default:
			return nil, fmt.Errorf("%w: item %d has neither b64_json nor url", ErrEmptyResponse, i)
		}
	}
	return images, nil
}

// Model returns the bound remote model name.
func (p *OpenAIPipeline) Model() string {
	return p.model
}

// Ensure OpenAIPipeline implements session.Pipeline at compile time.
var _ session.Pipeline = (*OpenAIPipeline)(nil)
