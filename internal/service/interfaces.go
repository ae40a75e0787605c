package service

import "context"

// SessionManager is the protocol surface the HTTP layer consumes.
type SessionManager interface {
	StoreRefresh(ctx context.Context, userID, refreshToken string) (string, error)
	Refresh(ctx context.Context, sessionID string) (*RefreshResult, error)
	ClearRefresh(ctx context.Context, sessionID string) error
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeUserSessions(ctx context.Context, userID string) (int64, error)
	Cleanup(ctx context.Context, days int) (int64, error)
}
