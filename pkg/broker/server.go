package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	core "github.com/voxa-go/voxa/pkg/core"
	"github.com/voxa-go/voxa/pkg/core/types"
)

// Server is the broker HTTP service. It exposes one minting endpoint plus
// health and metrics.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	limiter *RateLimiter
	client  *http.Client
}

// NewServer creates a broker server.
func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics(cfg.MetricsNamespace)
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		limiter: NewRateLimiter(cfg.RequestsPerMinute, metrics),
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/api/session", s.limiter.Limit(http.HandlerFunc(s.handleMintSession)))

	var handler http.Handler = mux
	handler = NewCORSMiddleware(s.cfg.AllowedOrigins).Handle(handler)
	handler = NewLoggingMiddleware(s.logger).Log(handler)
	handler = NewRecoveryMiddleware(s.logger, s.metrics).Recover(handler)
	return handler
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("broker listening", "addr", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// mintRequest is the upstream session creation body. It carries the full
// session configuration so the minted token is bound to it.
type mintRequest struct {
	Model                   string                       `json:"model"`
	Voice                   string                       `json:"voice"`
	Modalities              []string                     `json:"modalities,omitempty"`
	Instructions            string                       `json:"instructions,omitempty"`
	Tools                   []types.Tool                 `json:"tools"`
	InputAudioTranscription *types.TranscriptionSettings `json:"input_audio_transcription,omitempty"`
	TurnDetection           *types.TurnDetection         `json:"turn_detection,omitempty"`
}

// handleMintSession exchanges the server's API key for a short-lived session
// token. The upstream response passes through unchanged so clients see the
// client_secret exactly as issued.
func (s *Server) handleMintSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed,
			core.NewTransportError("method not allowed", nil),
			requestIDFromContext(r.Context()))
		return
	}

	start := time.Now()
	tools := s.cfg.Tools
	if tools == nil {
		tools = []types.Tool{}
	}
	mint := mintRequest{
		Model:         s.cfg.Model,
		Voice:         s.cfg.Voice,
		Modalities:    s.cfg.Modalities,
		Instructions:  s.cfg.Instructions,
		Tools:         tools,
		TurnDetection: s.cfg.TurnDetection,
	}
	if s.cfg.TranscriptionModel != "" {
		mint.InputAudioTranscription = &types.TranscriptionSettings{Model: s.cfg.TranscriptionModel}
	}
	body, err := json.Marshal(mint)
	if err != nil {
		s.mintFailed(w, r, start, "encode upstream request", err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		s.cfg.UpstreamURL+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		s.mintFailed(w, r, start, "build upstream request", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.mintFailed(w, r, start, "reach upstream", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		s.mintFailed(w, r, start, "read upstream response", err)
		return
	}

	status := "ok"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = "upstream_error"
		s.metrics.RecordError("upstream_rejected")
		s.logger.Warn("upstream rejected session mint",
			"status", resp.StatusCode,
			"request_id", requestIDFromContext(r.Context()),
		)
	}
	s.metrics.RecordMint(status, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

func (s *Server) mintFailed(w http.ResponseWriter, r *http.Request, start time.Time, action string, err error) {
	s.metrics.RecordMint("error", time.Since(start))
	s.metrics.RecordError("transport")
	s.logger.Error("session mint failed",
		"action", action,
		"error", err,
		"request_id", requestIDFromContext(r.Context()),
	)
	writeJSONError(w, http.StatusBadGateway,
		core.NewTransportError(action, err),
		requestIDFromContext(r.Context()))
}
