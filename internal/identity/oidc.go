package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sony/gobreaker"

	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/observability"
)

const (
	discoveryPath  = "/.well-known/openid-configuration"
	acceptableSkew = 30 * time.Second
)

// discoveryDocument is the subset of the OIDC discovery document the
// provider needs.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	JWKSUri               string `json:"jwks_uri"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

// introspectionResponse is the provider's answer to an introspection
// call. Only the active flag matters for revocation.
type introspectionResponse struct {
	Active bool `json:"active"`
}

// OIDCProvider verifies credentials against an OIDC provider using its
// published JWKS. Revocation is checked through the introspection
// endpoint behind a circuit breaker.
type OIDCProvider struct {
	config     *config.ProviderConfig
	httpClient *http.Client
	logger     observability.Logger

	jwks       *jwk.Cache
	jwksCancel context.CancelFunc

	breaker *gobreaker.CircuitBreaker

	mu        sync.RWMutex
	discovery *discoveryDocument
}

// OIDCOption configures an OIDCProvider.
type OIDCOption func(*OIDCProvider)

// WithOIDCLogger sets the provider logger.
func WithOIDCLogger(logger observability.Logger) OIDCOption {
	return func(p *OIDCProvider) {
		p.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for discovery, JWKS, and
// introspection calls.
func WithHTTPClient(client *http.Client) OIDCOption {
	return func(p *OIDCProvider) {
		p.httpClient = client
	}
}

// NewOIDCProvider creates a provider for the configured issuer. The
// discovery document is fetched lazily on first use so that a slow
// provider does not block startup.
func NewOIDCProvider(cfg *config.ProviderConfig, opts ...OIDCOption) (*OIDCProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider config is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("provider issuer is required")
	}

	p := &OIDCProvider{
		config: cfg,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: cfg.RequestTimeout.Duration()}
	}

	jwksCtx, cancel := context.WithCancel(context.Background())
	p.jwks = jwk.NewCache(jwksCtx)
	p.jwksCancel = cancel

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "oidc-introspection",
		Timeout: cfg.BreakerTimeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("introspection breaker state changed",
				observability.String("breaker", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return p, nil
}

// Name returns the provider name.
func (p *OIDCProvider) Name() string {
	return "oidc"
}

// Ready reports whether the provider's discovery document is
// available. Once fetched the document is cached, so readiness does
// not flap with transient provider outages.
func (p *OIDCProvider) Ready(ctx context.Context) error {
	_, err := p.getDiscovery(ctx)
	return err
}

// getDiscovery returns the cached discovery document, fetching it on
// first use.
func (p *OIDCProvider) getDiscovery(ctx context.Context) (*discoveryDocument, error) {
	p.mu.RLock()
	doc := p.discovery
	p.mu.RUnlock()

	if doc != nil {
		return doc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.discovery != nil {
		return p.discovery, nil
	}

	discoveryURL := strings.TrimSuffix(p.config.Issuer, "/") + discoveryPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery fetch failed: %v", ErrProviderUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: discovery returned status %d", ErrProviderUnreachable, resp.StatusCode)
	}

	var fetched discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		return nil, fmt.Errorf("%w: failed to decode discovery document: %v", ErrProviderUnreachable, err)
	}

	if fetched.JWKSUri == "" {
		return nil, fmt.Errorf("%w: discovery document has no jwks_uri", ErrProviderUnreachable)
	}

	if err := p.jwks.Register(fetched.JWKSUri,
		jwk.WithMinRefreshInterval(p.config.JWKSRefreshInterval.Duration()),
		jwk.WithHTTPClient(p.httpClient),
	); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
	}

	p.discovery = &fetched
	p.logger.Info("provider discovery loaded",
		observability.String("issuer", fetched.Issuer),
		observability.String("jwksUri", fetched.JWKSUri),
	)

	return p.discovery, nil
}

// Verify checks the credential signature against the provider JWKS and
// validates the standard claims.
func (p *OIDCProvider) Verify(ctx context.Context, credential string) (*Claims, error) {
	start := time.Now()

	doc, err := p.getDiscovery(ctx)
	if err != nil {
		GetMetrics().RecordVerification("unreachable", time.Since(start))
		return nil, err
	}

	keySet, err := p.jwks.Get(ctx, doc.JWKSUri)
	if err != nil {
		GetMetrics().RecordVerification("unreachable", time.Since(start))
		return nil, fmt.Errorf("%w: JWKS fetch failed: %v", ErrProviderUnreachable, err)
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(p.config.Issuer),
		jwt.WithAcceptableSkew(acceptableSkew),
	}
	if p.config.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(p.config.Audience))
	}

	token, err := jwt.Parse([]byte(credential), parseOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			GetMetrics().RecordVerification("expired", time.Since(start))
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		GetMetrics().RecordVerification("invalid", time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims := &Claims{
		Subject:   token.Subject(),
		Provider:  p.Name(),
		IssuedAt:  token.IssuedAt(),
		ExpiresAt: token.Expiration(),
	}

	if claims.Subject == "" {
		GetMetrics().RecordVerification("invalid", time.Since(start))
		return nil, fmt.Errorf("%w: credential has no subject", ErrTokenInvalid)
	}

	if v, ok := token.Get("email"); ok {
		if email, ok := v.(string); ok {
			claims.Email = email
		}
	}
	if v, ok := token.Get("email_verified"); ok {
		if verified, ok := v.(bool); ok {
			claims.EmailVerified = verified
		}
	}
	if v, ok := token.Get("name"); ok {
		if name, ok := v.(string); ok {
			claims.Name = name
		}
	}

	GetMetrics().RecordVerification("success", time.Since(start))
	p.logger.Debug("credential verified",
		observability.String("subject", claims.Subject),
	)

	return claims, nil
}

// CheckRevocation introspects the credential. Only an explicit
// active=false answer rejects it; any transport or provider failure is
// treated as transient and the credential is accepted.
func (p *OIDCProvider) CheckRevocation(ctx context.Context, credential string) error {
	doc, err := p.getDiscovery(ctx)
	if err != nil {
		p.logger.Warn("revocation check skipped", observability.Error(err))
		GetMetrics().RecordIntrospection("skipped")
		return nil
	}

	if doc.IntrospectionEndpoint == "" {
		GetMetrics().RecordIntrospection("unsupported")
		return nil
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.introspect(ctx, doc.IntrospectionEndpoint, credential)
	})
	if err != nil {
		// Breaker open or provider failure. Accept the credential; the
		// signature check already passed.
		p.logger.Warn("revocation check failed, accepting credential",
			observability.Error(err),
		)
		GetMetrics().RecordIntrospection("error")
		return nil
	}

	if !result.(*introspectionResponse).Active {
		GetMetrics().RecordIntrospection("revoked")
		return ErrTokenRevoked
	}

	GetMetrics().RecordIntrospection("active")
	return nil
}

// introspect performs a single RFC 7662 introspection call.
func (p *OIDCProvider) introspect(
	ctx context.Context, endpoint, credential string,
) (*introspectionResponse, error) {
	form := url.Values{}
	form.Set("token", credential)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.config.ClientID != "" {
		req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("introspection returned status %d: %s", resp.StatusCode, body)
	}

	var parsed introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}

	return &parsed, nil
}

// Close stops the background JWKS refresher.
func (p *OIDCProvider) Close() error {
	if p.jwksCancel != nil {
		p.jwksCancel()
	}
	return nil
}

// Ensure OIDCProvider implements Provider.
var _ Provider = (*OIDCProvider)(nil)
