package api

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

const (
	maxLoginFailures = 5
	loginLockout     = 10 * time.Minute
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
	TOTPCode string `json:"totp_code" validate:"omitempty,numeric,len=6"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Username    string    `json:"username"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type authFailureEntry struct {
	count    int
	lastFail time.Time
}

// loginGuard locks an IP out after repeated failed logins.
type loginGuard struct {
	mu       sync.Mutex
	failures map[string]*authFailureEntry
}

func newLoginGuard() *loginGuard {
	return &loginGuard{failures: make(map[string]*authFailureEntry)}
}

func (g *loginGuard) locked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.failures[ip]
	if !ok {
		return false
	}
	if time.Since(entry.lastFail) >= loginLockout {
		delete(g.failures, ip)
		return false
	}
	return entry.count >= maxLoginFailures
}

func (g *loginGuard) fail(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.failures[ip]
	if !ok {
		entry = &authFailureEntry{}
		g.failures[ip] = entry
	}
	entry.count++
	entry.lastFail = time.Now()
	return entry.count
}

func (g *loginGuard) reset(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, ip)
}

// login godoc
//
//	@Summary		Authenticate
//	@Description	Exchanges admin credentials (and a TOTP code when enabled) for a bearer token.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			credentials	body		LoginRequest	true	"Login credentials"
//	@Success		200			{object}	LoginResponse
//	@Failure		400			{string}	string	"Bad Request"
//	@Failure		401			{string}	string	"Unauthorized"
//	@Failure		429			{string}	string	"Too Many Requests"
//	@Failure		501			{string}	string	"Authentication disabled"
//	@Router			/api/auth/login [post]
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if !a.auth.Enabled() {
		writeError(w, http.StatusNotImplemented, "Authentication is disabled. Set auth.enabled=true to require tokens.", nil, nil)
		return
	}

	ip := getRealIP(r)
	if a.logins.locked(ip) {
		a.logger.Warnw("AUDIT: login rejected, too many failures", "source_ip", ip)
		http.Error(w, "Too many failed login attempts", http.StatusTooManyRequests)
		return
	}

	var req LoginRequest
	if !a.decodeAndValidate(w, r, &req, 4096) {
		return
	}

	if err := a.auth.Authenticate(req.Username, req.Password, req.TOTPCode); err != nil {
		failures := a.logins.fail(ip)
		a.logger.Warnw("AUDIT: login failed",
			"username", sanitizeLogMessage(req.Username),
			"source_ip", ip,
			"failures", failures,
			"reason", err.Error())
		if errors.Is(err, ErrTOTPRequired) {
			writeError(w, http.StatusUnauthorized, "TOTP code required", nil, nil)
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid username or password", nil, nil)
		return
	}
	a.logins.reset(ip)

	token, expiresAt, err := a.auth.IssueToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err, a.logger)
		return
	}
	a.logger.Infow("AUDIT: login succeeded", "username", req.Username, "source_ip", ip, "mfa", a.auth.MFAEnabled())

	a.respondJSON(w, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		Username:    req.Username,
		ExpiresAt:   expiresAt.UTC(),
	}, http.StatusOK)
}

// me godoc
//
//	@Summary	Current principal
//	@Tags		auth
//	@Produce	json
//	@Success	200	{object}	map[string]interface{}
//	@Security	BearerAuth
//	@Router		/api/auth/me [get]
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	username, _ := GetUsername(r.Context())
	a.respondJSON(w, map[string]interface{}{
		"username":     username,
		"auth_enabled": a.auth.Enabled(),
		"mfa_enabled":  a.auth.MFAEnabled(),
	}, http.StatusOK)
}
