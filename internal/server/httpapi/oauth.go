package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	stateCookieName = "oauth_state"
	stateTTL        = 10 * time.Minute
)

// handleOAuthStart redirects the browser to the provider's authorization
// page, pinning an anti-forgery state value in a short-lived cookie.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.auth.Provider(chi.URLParam(r, "provider"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}

	state, err := newState()
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, provider.AuthURL(state), http.StatusFound)
}

// handleOAuthCallback finishes the provider round trip. Failures redirect to
// the frontend error page rather than rendering JSON at the provider's
// redirect target.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		s.redirectError(w, r, errParam)
		return
	}

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		s.redirectError(w, r, "invalid_state")
		return
	}
	clearStateCookie(w, s.secureCookies)

	code := r.URL.Query().Get("code")
	if code == "" {
		s.redirectError(w, r, "missing_code")
		return
	}

	pair, _, err := s.auth.ExternalCallback(r.Context(), providerName, code, clientMeta(r))
	if err != nil {
		s.logger.Warn(r.Context(), "oauth callback failed", "provider", providerName, "error", err)
		s.redirectError(w, r, "login_failed")
		return
	}

	maxAge := int(time.Until(pair.RefreshExpiresAt).Seconds())
	s.setTokenCookies(w, pair.AccessToken, pair.RefreshToken, maxAge)
	http.Redirect(w, r, s.frontendBaseURL+"/auth/complete", http.StatusFound)
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, s.frontendBaseURL+"/auth/error?reason="+reason, http.StatusFound)
}

func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func clearStateCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
