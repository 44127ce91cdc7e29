package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/arcana-forge/arcana/pkg/models"
)

// RefreshWindow is the safety margin before expiry: a token expiring
// inside the window is refreshed before the next outbound call.
const RefreshWindow = 90 * time.Second

// ErrAuthExpired marks an unrecoverable credential failure after one
// refresh attempt. Callers surface it as reconnect-required.
var ErrAuthExpired = errors.New("credential expired and refresh failed")

// TokenProvider returns a guaranteed-fresh access token for a provider
// credential.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// DBTokenProvider refreshes an OAuth credential row in place. Refreshes
// are coalesced: concurrent callers observing an expired token block on
// one in-flight refresh and use its result.
type DBTokenProvider struct {
	mu         sync.Mutex
	db         *gorm.DB
	credential *models.OAuthCredential
	oauth      *oauth2.Config
	now        func() time.Time
	logger     hclog.Logger
}

// Config holds token provider configuration.
type Config struct {
	DB         *gorm.DB
	Credential *models.OAuthCredential

	// ClientID, ClientSecret, and Endpoint identify the OAuth app at
	// the provider's token endpoint.
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint

	// Now overrides the clock in tests.
	Now func() time.Time

	Logger hclog.Logger
}

// NewTokenProvider creates a token provider over one credential row.
func NewTokenProvider(cfg Config) (*DBTokenProvider, error) {
	if cfg.Credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &DBTokenProvider{
		db:         cfg.DB,
		credential: cfg.Credential,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
		},
		now:    cfg.Now,
		logger: cfg.Logger.Named("token-provider"),
	}, nil
}

// AccessToken returns the current access token, refreshing it first when
// it expires inside the safety window. The provider mutex serializes
// refreshes, so a storm of expired callers produces exactly one refresh.
func (p *DBTokenProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.credential.ExpiresWithin(RefreshWindow, p.now()) {
		return p.credential.AccessToken, nil
	}

	if p.credential.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token for provider %s", ErrAuthExpired, p.credential.Provider)
	}

	if err := p.refresh(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}
	return p.credential.AccessToken, nil
}

// Credential returns the underlying credential row. Callers must not
// mutate it.
func (p *DBTokenProvider) Credential() *models.OAuthCredential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credential
}

// refresh exchanges the refresh token and persists the rotated
// credential. Writes are last-writer-wins on updated_at.
func (p *DBTokenProvider) refresh(ctx context.Context) error {
	stale := &oauth2.Token{
		AccessToken:  p.credential.AccessToken,
		RefreshToken: p.credential.RefreshToken,
		TokenType:    p.credential.TokenType,
		Expiry:       p.now().Add(-time.Minute),
	}

	fresh, err := p.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	p.credential.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		p.credential.RefreshToken = fresh.RefreshToken
	}
	if fresh.TokenType != "" {
		p.credential.TokenType = fresh.TokenType
	}
	if !fresh.Expiry.IsZero() {
		expiry := fresh.Expiry
		p.credential.ExpiresAt = &expiry
	}

	if p.db != nil {
		if err := p.credential.Upsert(p.db); err != nil {
			return fmt.Errorf("failed to persist refreshed credential: %w", err)
		}
	}

	p.logger.Debug("refreshed access token",
		"provider", p.credential.Provider,
		"data_source_id", p.credential.DataSourceID,
	)

	return nil
}

// StaticTokenProvider returns a fixed token. Used in tests and for
// providers whose tokens do not expire.
type StaticTokenProvider string

// AccessToken implements TokenProvider.
func (s StaticTokenProvider) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}
