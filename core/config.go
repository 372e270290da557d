// Package core holds process-wide configuration, version metadata and exit
// codes.
package core

import (
	"crypto/tls"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fastsd/session"
)

// Surface selects which front ends run.
type Surface string

const (
	SurfaceWeb     Surface = "web"
	SurfaceConsole Surface = "console"
	SurfaceBoth    Surface = "both"
)

// Includes reports whether s runs the given single surface.
func (s Surface) Includes(other Surface) bool {
	return s == SurfaceBoth || s == other
}

// Pipeline kinds.
const (
	PipelineLocal  = "local"
	PipelineOpenAI = "openai"
)

// Config holds every environment-derived setting of the process. The
// generation parameters themselves live in the settings file.
type Config struct {
	SettingsPath   string
	Surface        Surface
	Pipeline       string
	DispatchPolicy session.Policy

	// Web UI
	WebUIHost         string
	WebUIPort         int
	WebUIPasswordHash string

	// Storage
	HistoryDBPath    string
	HistoryRetention time.Duration // zero keeps every record
	OutputS3Bucket   string
	OutputS3Prefix   string

	// Remote pipeline
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIImageModel     string
	OpenAIAPIVersion     string
	AllowSelfSignedCerts bool
	RemoteTimeout        time.Duration

	AcceleratedModelID string
	ShutdownTimeout    time.Duration
	LogFile            string
	DevMode            bool
}

// LoadConfig reads the configuration from the environment. Call godotenv
// first to pick up a .env file. The result still needs Validate.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		SettingsPath:         GetEnvOrDefault("FASTSD_SETTINGS_PATH", "configs/settings.yaml"),
		Surface:              Surface(strings.ToLower(GetEnvOrDefault("FASTSD_SURFACE", string(SurfaceWeb)))),
		Pipeline:             strings.ToLower(GetEnvOrDefault("FASTSD_PIPELINE", PipelineLocal)),
		WebUIHost:            GetEnvOrDefault("WEBUI_HOST", "127.0.0.1"),
		WebUIPort:            ParseIntEnv("WEBUI_PORT", 7860),
		WebUIPasswordHash:    GetEnvOrDefault("WEBUI_PASSWORD_HASH", ""),
		HistoryDBPath:        GetEnvOrDefault("HISTORY_DB_PATH", "data/history.db"),
		HistoryRetention:     ParseDurationEnv("HISTORY_RETENTION", 0),
		OutputS3Bucket:       GetEnvOrDefault("OUTPUT_S3_BUCKET", ""),
		OutputS3Prefix:       strings.Trim(GetEnvOrDefault("OUTPUT_S3_PREFIX", ""), "/"),
		OpenAIAPIKey:         GetEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        GetEnvOrDefault("OPENAI_BASE_URL", ""),
		OpenAIImageModel:     GetEnvOrDefault("OPENAI_IMAGE_MODEL", ""),
		OpenAIAPIVersion:     GetEnvOrDefault("OPENAI_API_VERSION", ""),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
		RemoteTimeout:        ParseDurationEnv("OPENAI_TIMEOUT", 120*time.Second),
		AcceleratedModelID:   GetEnvOrDefault("ACCELERATED_MODEL_ID", session.DefaultAcceleratedModelID),
		ShutdownTimeout:      ParseDurationEnv("SHUTDOWN_TIMEOUT", 60*time.Second),
		LogFile:              GetEnvOrDefault("LOG_FILE", "fastsd.log"),
		DevMode:              ParseBoolEnv("DEV_MODE", false),
	}

	raw := GetEnvOrDefault("FASTSD_DISPATCH_POLICY", "")
	policy, err := session.ParsePolicy(raw)
	if err != nil {
		return nil, ErrInvalidValue("FASTSD_DISPATCH_POLICY", raw, "reject or latest-wins")
	}
	// The console queues one request behind the running one unless told otherwise.
	if raw == "" && cfg.Surface == SurfaceConsole {
		policy = session.PolicyLatestWins
	}
	cfg.DispatchPolicy = policy

	return cfg, nil
}

// Validate checks the configuration and returns a *ConfigError describing
// the first problem.
func (c *Config) Validate() error {
	switch c.Surface {
	case SurfaceWeb, SurfaceConsole, SurfaceBoth:
	default:
		return ErrInvalidValue("FASTSD_SURFACE", string(c.Surface), "web, console or both")
	}

	switch c.Pipeline {
	case PipelineLocal:
	case PipelineOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrMissingAuth("the OpenAI-compatible image API", "OPENAI_API_KEY")
		}
	default:
		return ErrInvalidValue("FASTSD_PIPELINE", c.Pipeline, "local or openai")
	}

	if c.WebUIPort < 1 || c.WebUIPort > 65535 {
		return ErrInvalidValue("WEBUI_PORT", strconv.Itoa(c.WebUIPort), "a port between 1 and 65535")
	}
	if c.WebUIPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.WebUIPasswordHash)); err != nil {
			return ErrInvalidPasswordHash(err.Error())
		}
	}
	if c.HistoryRetention < 0 {
		return ErrInvalidValue("HISTORY_RETENTION", c.HistoryRetention.String(), "a positive duration or 0 to keep everything")
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidValue("SHUTDOWN_TIMEOUT", c.ShutdownTimeout.String(), "a positive duration")
	}
	return nil
}

// ListenAddr returns host:port for the web server.
func (c *Config) ListenAddr() string {
	return c.WebUIHost + ":" + strconv.Itoa(c.WebUIPort)
}

// GetHTTPClient returns an HTTP client with the given timeout, skipping TLS
// verification when AllowSelfSignedCerts is set.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}
