package server

import (
	"net/http"
	"net/mail"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/savlink/authgate/internal/auth"
	"github.com/savlink/authgate/internal/observability"
	"github.com/savlink/authgate/internal/server/middleware"
)

// respondData writes the success envelope.
func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

// respondError writes the error envelope.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}

// healthz is the liveness probe. It answers as long as the process is
// serving, regardless of backend state.
func (h *Handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// health reports backend readiness. The cache being down degrades the
// gateway but does not take it out of rotation; a dead store does,
// because cache misses could no longer resolve users.
func (h *Handlers) health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK

	report := gin.H{"cache": "up"}
	if !h.cache.Ping(ctx) {
		report["cache"] = "degraded"
	}

	report["store"] = "up"
	if err := h.store.Ping(ctx); err != nil {
		report["store"] = "down"
		status = http.StatusServiceUnavailable
	}

	if h.provider != nil {
		report["provider"] = "up"
		if err := h.provider.Ready(ctx); err != nil {
			report["provider"] = "unreachable"
		}
	}

	respondData(c, status, report)
}

// me returns the authenticated identity.
func (h *Handlers) me(c *gin.Context) {
	respondData(c, http.StatusOK, middleware.GetIdentity(c))
}

// sessionInfo describes how the current request was authenticated.
type sessionInfo struct {
	Source    auth.Source `json:"source"`
	Cached    bool        `json:"cached"`
	Provider  string      `json:"provider,omitempty"`
	ExpiresAt string      `json:"expires_at,omitempty"`
}

// session returns the verification path taken for the request.
func (h *Handlers) session(c *gin.Context) {
	identity := middleware.GetIdentity(c)

	info := sessionInfo{
		Source:   identity.Source,
		Cached:   identity.Source == auth.SourceOIDCCached,
		Provider: identity.Provider,
	}
	if !identity.ExpiresAt.IsZero() {
		info.ExpiresAt = identity.ExpiresAt.UTC().Format(time.RFC3339)
	}

	respondData(c, http.StatusOK, info)
}

type emergencyRequestPayload struct {
	Email string `json:"email"`
}

type emergencyVerifyPayload struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// validEmail reports whether the address parses as a bare RFC 5322
// address.
func validEmail(address string) bool {
	parsed, err := mail.ParseAddress(address)
	return err == nil && parsed.Address == address
}

// emergencyRequest accepts a recovery token request. The response is
// identical whether or not the email is known, so the endpoint cannot
// be used to enumerate accounts.
func (h *Handlers) emergencyRequest(c *gin.Context) {
	if h.emergency == nil {
		respondError(c, http.StatusNotFound, auth.CodeAuthError, "emergency access disabled")
		return
	}

	var payload emergencyRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil || !validEmail(payload.Email) {
		respondError(c, http.StatusBadRequest, auth.CodeInvalidEmail, "a valid email is required")
		return
	}

	if err := h.emergency.Request(c.Request.Context(), payload.Email); err != nil {
		h.logger.Error("emergency request failed", observability.Error(err))
		status, code := auth.Classify(err)
		respondError(c, status, code, "unable to process recovery request")
		return
	}

	respondData(c, http.StatusAccepted, gin.H{"status": "accepted"})
}

// emergencyVerify exchanges a recovery token for a session credential.
func (h *Handlers) emergencyVerify(c *gin.Context) {
	if h.emergency == nil {
		respondError(c, http.StatusNotFound, auth.CodeAuthError, "emergency access disabled")
		return
	}

	var payload emergencyVerifyPayload
	if err := c.ShouldBindJSON(&payload); err != nil || !validEmail(payload.Email) {
		respondError(c, http.StatusBadRequest, auth.CodeInvalidEmail, "a valid email is required")
		return
	}
	if payload.Token == "" {
		respondError(c, http.StatusBadRequest, auth.CodeInvalidToken, "a recovery token is required")
		return
	}

	grant, err := h.emergency.Verify(c.Request.Context(), payload.Email, payload.Token)
	if err != nil {
		status, code := auth.Classify(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("emergency verify failed", observability.Error(err))
			respondError(c, status, code, "unable to process recovery token")
			return
		}
		respondError(c, status, code, "recovery token rejected")
		return
	}

	respondData(c, http.StatusOK, gin.H{
		"token":      grant.Token,
		"expires_in": int(grant.ExpiresIn.Seconds()),
	})
}
