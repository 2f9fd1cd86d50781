// Package credentials mints the short-lived tokens transports authenticate
// with. The long-lived API key never reaches this package; it lives behind
// the broker endpoint.
package credentials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	core "github.com/voxa-go/voxa/pkg/core"
)

// Credential is one short-lived transport token. Single use: a session mints
// a fresh one on every start.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Model     string    `json:"model,omitempty"`
	Voice     string    `json:"voice,omitempty"`
}

// Expired reports whether the credential is past its expiry. A credential
// without an expiry never expires client-side.
func (c Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// sessionResponse is the wire shape of the minting endpoint's reply.
type sessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Model string `json:"model"`
	Voice string `json:"voice"`
}

// Broker mints credentials from an HTTP endpoint. The endpoint is typically
// a server-side broker holding the real API key; it may also be the upstream
// sessions endpoint directly when the caller has the key.
type Broker struct {
	endpoint string
	client   *http.Client

	// bearer is sent as an Authorization header when non-empty. Only set
	// when minting against the upstream directly.
	bearer string
}

// Option configures a Broker.
type Option func(*Broker)

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(b *Broker) { b.client = client }
}

// WithBearer authenticates minting requests with token. Use only server-side.
func WithBearer(token string) Option {
	return func(b *Broker) { b.bearer = token }
}

// NewBroker creates a broker minting from endpoint.
func NewBroker(endpoint string, opts ...Option) (*Broker, error) {
	if endpoint == "" {
		return nil, core.NewConfigurationError("credential endpoint is required")
	}
	b := &Broker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Mint requests one fresh credential. An upstream non-2xx becomes an
// UpstreamRejected error carrying status and body for diagnosis.
func (b *Broker) Mint(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, nil)
	if err != nil {
		return Credential{}, core.NewTransportError("build mint request", err)
	}
	if b.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+b.bearer)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return Credential{}, core.NewTransportError("request credential", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, core.NewTransportError("read credential response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, core.NewUpstreamRejectedError("credential minting rejected", resp.StatusCode, string(body))
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credential{}, core.NewTransportError("decode credential response", err)
	}
	if parsed.ClientSecret.Value == "" {
		return Credential{}, core.NewUpstreamRejectedError("credential response missing client secret", resp.StatusCode, string(body))
	}

	cred := Credential{
		Token: parsed.ClientSecret.Value,
		Model: parsed.Model,
		Voice: parsed.Voice,
	}
	if parsed.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(parsed.ClientSecret.ExpiresAt, 0)
	}
	return cred, nil
}

// MintToken mints a credential and returns only the token value.
func (b *Broker) MintToken(ctx context.Context) (string, error) {
	cred, err := b.Mint(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}
