package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savlink/authgate/internal/config"
)

// providerFixture is a fake OIDC provider backed by httptest.
type providerFixture struct {
	server     *httptest.Server
	signingKey jwk.Key
	keySet     jwk.Set

	introspectStatus int
	introspectActive bool
	introspectCalls  int
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	public, err := key.PublicKey()
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	f := &providerFixture{
		signingKey:       key,
		keySet:           set,
		introspectStatus: http.StatusOK,
		introspectActive: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 f.server.URL,
			"jwks_uri":               f.server.URL + "/jwks",
			"introspection_endpoint": f.server.URL + "/introspect",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(f.keySet)
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, _ *http.Request) {
		f.introspectCalls++
		if f.introspectStatus != http.StatusOK {
			w.WriteHeader(f.introspectStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"active": f.introspectActive})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *providerFixture) providerConfig() *config.ProviderConfig {
	return &config.ProviderConfig{
		Issuer:              f.server.URL,
		JWKSRefreshInterval: config.Duration(time.Minute),
		RequestTimeout:      config.Duration(5 * time.Second),
		BreakerThreshold:    3,
		BreakerTimeout:      config.Duration(time.Minute),
	}
}

func (f *providerFixture) newProvider(t *testing.T, opts ...OIDCOption) *OIDCProvider {
	t.Helper()

	p, err := NewOIDCProvider(f.providerConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return p
}

// signToken builds and signs a token with the fixture key.
func (f *providerFixture) signToken(t *testing.T, mutate func(b *jwt.Builder) *jwt.Builder) string {
	t.Helper()

	now := time.Now()
	builder := jwt.NewBuilder().
		Subject("user-1").
		Issuer(f.server.URL).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("email", "user@example.com").
		Claim("email_verified", true).
		Claim("name", "Test User")

	if mutate != nil {
		builder = mutate(builder)
	}

	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, f.signingKey))
	require.NoError(t, err)

	return string(signed)
}

func TestVerifyValidToken(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	claims, err := p.Verify(context.Background(), f.signToken(t, nil))
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, "Test User", claims.Name)
	assert.Equal(t, "oidc", claims.Provider)
	assert.Greater(t, claims.RemainingLifetime(), 59*time.Minute)
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	token := f.signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Expiration(time.Now().Add(-5 * time.Minute))
	})

	_, err := p.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyWrongIssuer(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	token := f.signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Issuer("https://evil.example.com")
	})

	_, err := p.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyWrongKey(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	other := newProviderFixture(t)
	token := other.signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Issuer(f.server.URL)
	})

	_, err := p.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyMalformedToken(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	_, err := p.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyMissingSubject(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	token := f.signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Subject("")
	})

	_, err := p.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAudience(t *testing.T) {
	f := newProviderFixture(t)

	cfg := f.providerConfig()
	cfg.Audience = "authgate"
	p, err := NewOIDCProvider(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	token := f.signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Audience([]string{"authgate"})
	})
	_, err = p.Verify(context.Background(), token)
	assert.NoError(t, err)

	token = f.signToken(t, func(b *jwt.Builder) *jwt.Builder {
		return b.Audience([]string{"someone-else"})
	})
	_, err = p.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyProviderUnreachable(t *testing.T) {
	p, err := NewOIDCProvider(&config.ProviderConfig{
		Issuer:         "http://127.0.0.1:1",
		RequestTimeout: config.Duration(time.Second),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.Verify(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrProviderUnreachable)
}

func TestCheckRevocationActive(t *testing.T) {
	f := newProviderFixture(t)
	p := f.newProvider(t)

	token := f.signToken(t, nil)
	assert.NoError(t, p.CheckRevocation(context.Background(), token))
	assert.Equal(t, 1, f.introspectCalls)
}

func TestCheckRevocationRevoked(t *testing.T) {
	f := newProviderFixture(t)
	f.introspectActive = false
	p := f.newProvider(t)

	token := f.signToken(t, nil)
	assert.ErrorIs(t, p.CheckRevocation(context.Background(), token), ErrTokenRevoked)
}

func TestCheckRevocationTransientFailureAccepts(t *testing.T) {
	f := newProviderFixture(t)
	f.introspectStatus = http.StatusInternalServerError
	p := f.newProvider(t)

	// Provider errors never reject a credential that already passed
	// signature validation.
	token := f.signToken(t, nil)
	assert.NoError(t, p.CheckRevocation(context.Background(), token))
}

func TestCheckRevocationBreakerOpens(t *testing.T) {
	f := newProviderFixture(t)
	f.introspectStatus = http.StatusInternalServerError
	p := f.newProvider(t)

	ctx := context.Background()
	token := f.signToken(t, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.CheckRevocation(ctx, token))
	}

	// The breaker trips after the configured threshold and stops
	// calling the endpoint.
	assert.Equal(t, 3, f.introspectCalls)
}

func TestNewOIDCProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.ProviderConfig
	}{
		{name: "nil config", cfg: nil},
		{name: "missing issuer", cfg: &config.ProviderConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOIDCProvider(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDiscoveryCached(t *testing.T) {
	f := newProviderFixture(t)

	var discoveryCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		discoveryCalls++
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   f.server.URL,
			"jwks_uri": f.server.URL + "/jwks",
		})
	})

	front := httptest.NewServer(mux)
	t.Cleanup(front.Close)

	p, err := NewOIDCProvider(&config.ProviderConfig{
		Issuer:              front.URL,
		JWKSRefreshInterval: config.Duration(time.Minute),
		RequestTimeout:      config.Duration(5 * time.Second),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := p.getDiscovery(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, discoveryCalls)
}

func TestRemainingLifetime(t *testing.T) {
	assert.Zero(t, (&Claims{}).RemainingLifetime())
	assert.Zero(t, (&Claims{ExpiresAt: time.Now().Add(-time.Minute)}).RemainingLifetime())

	c := &Claims{ExpiresAt: time.Now().Add(time.Hour)}
	assert.InDelta(t, time.Hour, c.RemainingLifetime(), float64(time.Second))
}
