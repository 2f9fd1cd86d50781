// Package broker is the server-side credential minting service. It holds the
// long-lived API key and exchanges it for short-lived session tokens, so
// clients never see the key.
package broker

import (
	"os"
	"strconv"
	"strings"

	core "github.com/voxa-go/voxa/pkg/core"
	"github.com/voxa-go/voxa/pkg/core/types"
)

// Config holds all configuration for the broker service.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string

	// UpstreamURL is the API base the broker mints sessions against.
	UpstreamURL string

	// APIKey is the long-lived upstream key. Required.
	APIKey string

	// Session configuration baked into every minted session.
	Model              string
	Voice              string
	Modalities         []string
	Instructions       string
	TranscriptionModel string
	Tools              []types.Tool
	TurnDetection      *types.TurnDetection

	// AllowedOrigins for CORS. Empty means allow all.
	AllowedOrigins []string

	// RequestsPerMinute caps minting per client address. 0 disables.
	RequestsPerMinute int

	// MetricsNamespace prefixes all Prometheus metric names.
	MetricsNamespace string
}

// DefaultConfig returns a Config with sensible defaults. The API key has no
// default; it must come from the environment.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8090",
		UpstreamURL:        "https://api.openai.com",
		Model:              "gpt-4o-realtime-preview-2024-12-17",
		Voice:              "shimmer",
		Modalities:         []string{"text", "audio"},
		TranscriptionModel: "whisper-1",
		TurnDetection:      &types.TurnDetection{Type: "server_vad"},
		RequestsPerMinute:  30,
		MetricsNamespace:   "voxa",
	}
}

// ConfigFromEnv builds a Config from environment variables, starting from the
// defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.APIKey = os.Getenv("OPENAI_API_KEY")

	if v := os.Getenv("BROKER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BROKER_UPSTREAM_URL"); v != "" {
		cfg.UpstreamURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("BROKER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("BROKER_VOICE"); v != "" {
		cfg.Voice = v
	}
	if v := os.Getenv("BROKER_INSTRUCTIONS"); v != "" {
		cfg.Instructions = v
	}
	if v := os.Getenv("BROKER_TRANSCRIPTION_MODEL"); v != "" {
		cfg.TranscriptionModel = v
	}
	if v := os.Getenv("BROKER_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("BROKER_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, core.NewConfigurationError("BROKER_REQUESTS_PER_MINUTE must be an integer")
		}
		cfg.RequestsPerMinute = n
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return core.NewConfigurationError("OPENAI_API_KEY is required")
	}
	if c.ListenAddr == "" {
		return core.NewConfigurationError("listen address is required")
	}
	if c.UpstreamURL == "" {
		return core.NewConfigurationError("upstream URL is required")
	}
	return nil
}
