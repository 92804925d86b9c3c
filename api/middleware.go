package api

import (
	"net/http"
	"strings"
)

// jwtAuthMiddleware requires a valid bearer token unless auth is disabled.
// Browsers cannot set headers on websocket upgrades, so the token is also
// accepted as the "token" query parameter.
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), "anonymous")))
			return
		}

		tokenString := ""
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenString = strings.TrimPrefix(header, "Bearer ")
		} else if q := r.URL.Query().Get("token"); q != "" {
			tokenString = q
		}
		if tokenString == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="guardian"`)
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}

		claims, err := a.auth.ValidateToken(tokenString)
		if err != nil {
			a.logger.Warnw("Invalid JWT token",
				"error", sanitizeLogMessage(err.Error()),
				"source_ip", getRealIP(r))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), claims.Username)))
	})
}

// corsMiddleware adds CORS headers for configured origins and answers
// preflight requests.
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if allowed == "*" || origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if a.config.API.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
