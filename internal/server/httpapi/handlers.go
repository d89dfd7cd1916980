package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/services"
)

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	DisplayName   string `json:"displayName"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

type tokenResponse struct {
	AccessToken      string        `json:"accessToken"`
	RefreshToken     string        `json:"refreshToken"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	User             *userResponse `json:"user,omitempty"`
}

func toUserResponse(u *models.User) *userResponse {
	return &userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		AvatarURL:     u.AvatarURL,
		EmailVerified: u.EmailVerified,
	}
}

func clientMeta(r *http.Request) services.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return services.ClientMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}

// refreshSecret pulls the refresh secret from the JSON body, falling back to
// the refresh cookie for browser clients.
func refreshSecret(r *http.Request, bodySecret string) string {
	if bodySecret != "" {
		return bodySecret
	}
	if c, err := r.Cookie(refreshCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) writeTokenPair(w http.ResponseWriter, pair *services.TokenPair, user *models.User) {
	maxAge := int(time.Until(pair.RefreshExpiresAt).Seconds())
	s.setTokenCookies(w, pair.AccessToken, pair.RefreshToken, maxAge)

	resp := &tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	if user != nil {
		resp.User = toUserResponse(user)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email, username and password are required"})
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Username, req.Password, clientMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.auth.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "email verified")
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.auth.ResendVerification(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "if the account exists, a code has been sent")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	meta := clientMeta(r)
	if s.loginLimiter != nil {
		if ok, retryAfter := s.loginLimiter.Allow("login:" + meta.IPAddress); !ok {
			writeError(w, &common.RateLimitError{RetryAfter: retryAfter})
			return
		}
	}

	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	pair, user, err := s.auth.Login(r.Context(), req.Identifier, req.Password, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeTokenPair(w, pair, user)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	// The body is optional; browser clients rely on the cookie.
	decodeOptionalBody(r, &req)

	secret := refreshSecret(r, req.RefreshToken)
	if secret == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing refresh token"})
		return
	}

	pair, err := s.auth.Refresh(r.Context(), secret)
	if err != nil {
		s.clearTokenCookies(w)
		writeError(w, err)
		return
	}
	s.writeTokenPair(w, pair, nil)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	decodeOptionalBody(r, &req)

	var sessionID string
	if tokenString := bearerToken(r); tokenString != "" {
		if claims, err := s.auth.ParseAccessToken(tokenString); err == nil {
			sessionID = claims.SessionID
		}
	}

	err := s.auth.Logout(r.Context(), refreshSecret(r, req.RefreshToken), sessionID)
	s.clearTokenCookies(w)
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "logged out")
}

func (s *Server) handleLogoutOthers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	n, err := s.auth.LogoutAllOthers(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revokedSessions": n})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "if the account exists, a code has been sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "newPassword is required"})
		return
	}

	if err := s.auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "password reset")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "newPassword is required"})
		return
	}

	if err := s.auth.ChangePassword(r.Context(), claims.UserID, claims.SessionID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "password changed")
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	if err := s.auth.DeleteAccount(r.Context(), claims.UserID); err != nil {
		writeError(w, err)
		return
	}
	s.clearTokenCookies(w)
	writeMessage(w, http.StatusOK, "account deleted")
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	infos, err := s.sessions.List(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	type sessionJSON struct {
		ID         string    `json:"id"`
		AuthMethod string    `json:"authMethod"`
		IPAddress  string    `json:"ipAddress"`
		UserAgent  string    `json:"userAgent"`
		CreatedAt  time.Time `json:"createdAt"`
		LastSeenAt time.Time `json:"lastSeenAt"`
		Current    bool      `json:"current"`
	}
	out := make([]sessionJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionJSON(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}
