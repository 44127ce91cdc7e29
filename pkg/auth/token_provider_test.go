package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/arcana-forge/arcana/pkg/models"
)

func fakeTokenEndpoint(t *testing.T, refreshes *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))

		atomic.AddInt64(refreshes, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "fresh-token",
			"refresh_token": "rotated-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	}))
}

func expiringCredential(expiresIn time.Duration, now time.Time) *models.OAuthCredential {
	expiry := now.Add(expiresIn)
	return &models.OAuthCredential{
		Provider:     models.ProviderNotion,
		UserID:       "user-1",
		DataSourceID: "ds-1",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresAt:    &expiry,
	}
}

func TestAccessTokenFreshPassthrough(t *testing.T) {
	now := time.Now()
	provider, err := NewTokenProvider(Config{
		Credential: expiringCredential(time.Hour, now),
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	token, err := provider.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stale-token", token)
}

func TestAccessTokenRefreshesInsideWindow(t *testing.T) {
	var refreshes int64
	server := fakeTokenEndpoint(t, &refreshes)
	defer server.Close()

	now := time.Now()
	// Expiring 10 seconds out: well inside the 90s window.
	provider, err := NewTokenProvider(Config{
		Credential:   expiringCredential(10*time.Second, now),
		ClientID:     "cid",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL},
		Now:          func() time.Time { return now },
	})
	require.NoError(t, err)

	token, err := provider.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshes))

	cred := provider.Credential()
	assert.Equal(t, "rotated-refresh", cred.RefreshToken)
	require.NotNil(t, cred.ExpiresAt)
	assert.True(t, cred.ExpiresAt.After(now.Add(30*time.Minute)))
}

func TestAccessTokenCoalescesConcurrentRefreshes(t *testing.T) {
	var refreshes int64
	server := fakeTokenEndpoint(t, &refreshes)
	defer server.Close()

	now := time.Now()
	provider, err := NewTokenProvider(Config{
		Credential: expiringCredential(5*time.Second, now),
		ClientID:   "cid",
		Endpoint:   oauth2.Endpoint{TokenURL: server.URL},
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := provider.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "fresh-token", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&refreshes), "refresh storm must coalesce to one refresh")
}

func TestAccessTokenNoRefreshTokenFails(t *testing.T) {
	now := time.Now()
	cred := expiringCredential(time.Second, now)
	cred.RefreshToken = ""

	provider, err := NewTokenProvider(Config{Credential: cred, Now: func() time.Time { return now }})
	require.NoError(t, err)

	_, err = provider.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	now := time.Now()
	provider, err := NewTokenProvider(Config{
		Credential: expiringCredential(time.Second, now),
		ClientID:   "cid",
		Endpoint:   oauth2.Endpoint{TokenURL: server.URL},
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = provider.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestNonExpiringTokenNeverRefreshes(t *testing.T) {
	cred := &models.OAuthCredential{
		Provider:     models.ProviderNotion,
		DataSourceID: "ds-1",
		AccessToken:  "forever-token",
	}

	provider, err := NewTokenProvider(Config{Credential: cred})
	require.NoError(t, err)

	token, err := provider.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "forever-token", token)
}
