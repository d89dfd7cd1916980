package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/server/repositories/repomanager"
)

// SessionInfo is one row of the device list shown to the user.
type SessionInfo struct {
	ID         string
	AuthMethod string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	Current    bool
}

// SessionService answers session queries for the signed-in user.
type SessionService struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func NewSessionService(db *sql.DB, rm repomanager.RepositoryManager) *SessionService {
	return &SessionService{db: db, rm: rm}
}

// List returns the user's active sessions, most recently seen first, with
// the caller's own session flagged. A revoked session never appears, so it
// can never be Current.
func (s *SessionService) List(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	active, err := s.rm.Sessions(s.db).ListActive(ctx, userID)
	if err != nil {
		return nil, common.ErrorInternal
	}

	result := make([]SessionInfo, 0, len(active))
	for _, session := range active {
		result = append(result, SessionInfo{
			ID:         session.ID,
			AuthMethod: session.AuthMethod,
			IPAddress:  session.IPAddress,
			UserAgent:  session.UserAgent,
			CreatedAt:  session.CreatedAt,
			LastSeenAt: session.LastSeenAt,
			Current:    session.ID == currentSessionID,
		})
	}
	return result, nil
}

// Touch records activity on the session. Best-effort; errors are ignored by
// callers.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.rm.Sessions(s.db).Touch(ctx, sessionID)
}
