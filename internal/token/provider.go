// Package token provides short-lived recognition credentials to the engine
// and to the UI boundary.
package token

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrNoCredentials is reported when no usable credential source is
// configured. Callers decide between mock fallback and a fatal start error.
var ErrNoCredentials = errors.New("token: no speech credentials configured")

// Credential is the result of one token request.
type Credential struct {
	Success    bool      `json:"success"`
	Token      string    `json:"token,omitempty"`
	Key        string    `json:"key,omitempty"`
	Region     string    `json:"region"`
	Expiry     time.Time `json:"expiry,omitempty"`
	AuthMethod string    `json:"authMethod,omitempty"`
	MockMode   bool      `json:"mockMode,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Provider requests a credential for a recognition connection.
type Provider interface {
	Credential(ctx context.Context) (Credential, error)
}

// EnvProvider reads a subscription key from the environment. A missing key
// yields success=false with mock mode flagged, never an error return; the
// caller owns the fallback policy.
type EnvProvider struct {
	KeyEnv string // env var holding the subscription key, default SPEECH_KEY
	Region string
	TTL    time.Duration

	now func() time.Time
}

// NewEnvProvider creates a provider for the given region.
func NewEnvProvider(region string, ttl time.Duration) *EnvProvider {
	return &EnvProvider{
		KeyEnv: "SPEECH_KEY",
		Region: region,
		TTL:    ttl,
		now:    time.Now,
	}
}

// Credential implements Provider.
func (p *EnvProvider) Credential(ctx context.Context) (Credential, error) {
	key := os.Getenv(p.KeyEnv)
	if key == "" {
		return Credential{
			Success:  false,
			Region:   p.Region,
			MockMode: true,
			Error:    ErrNoCredentials.Error(),
		}, nil
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return Credential{
		Success:    true,
		Key:        key,
		Region:     p.Region,
		Expiry:     p.now().Add(ttl),
		AuthMethod: "subscription_key",
	}, nil
}

// Static is a fixed-credential provider for tests and local runs.
type Static struct {
	Cred Credential
	Err  error
}

// Credential implements Provider.
func (s *Static) Credential(ctx context.Context) (Credential, error) {
	return s.Cred, s.Err
}
