package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/identity"
	"github.com/savlink/authgate/internal/store"
	"github.com/savlink/authgate/pkg/mail"
)

// validCredential passes the plausibility gate without being a real
// token.
var validCredential = strings.Repeat("x", 120)

// fakeProvider is a countable identity.Provider for pipeline tests.
type fakeProvider struct {
	mu            sync.Mutex
	verifyCalls   int
	revokeCalls   int
	claims        *identity.Claims
	verifyErr     error
	revocationErr error
}

func (f *fakeProvider) Name() string { return "oidc" }

func (f *fakeProvider) Verify(_ context.Context, _ string) (*identity.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}

	claims := *f.claims
	return &claims, nil
}

func (f *fakeProvider) CheckRevocation(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.revokeCalls++
	return f.revocationErr
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.revokeCalls
}

func defaultClaims() *identity.Claims {
	return &identity.Claims{
		Subject:       "sub-1",
		Email:         "user@example.com",
		EmailVerified: true,
		Name:          "Test User",
		Provider:      "oidc",
		IssuedAt:      time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func newTestCache(t *testing.T) *cache.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	c := cache.New(&config.RedisConfig{
		Address:             mr.Addr(),
		ConnectTimeout:      config.Duration(time.Second),
		ReadTimeout:         config.Duration(time.Second),
		WriteTimeout:        config.Duration(time.Second),
		ReconnectInterval:   config.Duration(50 * time.Millisecond),
		HealthCheckInterval: config.Duration(time.Hour),
	})
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(&config.DatabaseConfig{
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		MinCredentialLength: 100,
		TokenCacheTTL:       config.Duration(5 * time.Minute),
		UserCacheTTL:        config.Duration(10 * time.Minute),
	}
}

func testEmergencyConfig() *config.EmergencyConfig {
	return &config.EmergencyConfig{
		Enabled:    true,
		TokenTTL:   config.Duration(15 * time.Minute),
		SessionTTL: config.Duration(time.Hour),
	}
}

// captureMailer records sent messages.
type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	sendErr  error
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) last() (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.messages) == 0 {
		return mail.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// tokenFromBody extracts the recovery token from an email body.
func tokenFromBody(t *testing.T, body string) string {
	t.Helper()

	parts := strings.Split(body, "\n\n")
	require.GreaterOrEqual(t, len(parts), 2, "mail body should contain a token block")
	return strings.TrimSpace(parts[1])
}
