package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitpulse/session-service/internal/identity"
	"github.com/fitpulse/session-service/internal/observability"
	"github.com/fitpulse/session-service/internal/repository"
	"github.com/fitpulse/session-service/internal/security"
)

var (
	ErrMissingInput = errors.New("userId and refresh_token are required")
	// ErrInvalidSession covers every unusable-session case: unknown id,
	// revoked, expired, undecryptable ciphertext, provider rejection.
	// Callers map it to 401 without distinguishing, so responses leak
	// nothing about which check failed.
	ErrInvalidSession = errors.New("invalid session")
)

// RefreshResult is the only data a successful refresh returns to a
// client. The refresh token itself never leaves the service.
type RefreshResult struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// SessionService implements the session protocol over a store, a token
// cipher and the external identity provider. Both entry shapes (the
// long-running listener and the single-endpoint dispatch) consume this
// one implementation.
type SessionService struct {
	repo     repository.SessionRepository
	cipher   *security.TokenCipher
	provider identity.TokenRefresher

	retentionDays int
	now           func() time.Time
}

func NewSessionService(repo repository.SessionRepository, cipher *security.TokenCipher, provider identity.TokenRefresher, retentionDays int) *SessionService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &SessionService{
		repo:          repo,
		cipher:        cipher,
		provider:      provider,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// StoreRefresh encrypts the externally issued refresh token and mints
// a session for it. The returned session id is handed to the client
// only inside an HttpOnly cookie.
func (s *SessionService) StoreRefresh(ctx context.Context, userID, refreshToken string) (string, error) {
	if userID == "" || refreshToken == "" {
		return "", ErrMissingInput
	}
	blob, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	sessionID, err := s.repo.Create(userID, blob)
	if err != nil {
		observability.RecordSessionOperation(ctx, "store_refresh", "error")
		return "", err
	}
	observability.RecordSessionOperation(ctx, "store_refresh", "success")
	return sessionID, nil
}

// Refresh exchanges the session's stored refresh token for a fresh
// access token. An unreadable ciphertext or a provider failure revokes
// the session: an unverifiable session is assumed compromised rather
// than retried.
func (s *SessionService) Refresh(ctx context.Context, sessionID string) (*RefreshResult, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	sess, err := s.repo.FindBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionOperation(ctx, "refresh", "unknown_session")
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !sess.Usable(s.now()) {
		observability.RecordSessionOperation(ctx, "refresh", "unusable_session")
		return nil, ErrInvalidSession
	}

	plaintext, err := s.cipher.Decrypt(sess.EncryptedRefreshToken)
	if err != nil {
		_ = s.repo.MarkRevoked(sessionID)
		observability.RecordSessionOperation(ctx, "refresh", "decrypt_failed")
		return nil, ErrInvalidSession
	}

	result, err := s.provider.RefreshToken(ctx, plaintext)
	if err != nil {
		_ = s.repo.MarkRevoked(sessionID)
		observability.RecordProviderRefresh(ctx, "failure")
		observability.RecordSessionOperation(ctx, "refresh", "provider_rejected")
		return nil, ErrInvalidSession
	}
	observability.RecordProviderRefresh(ctx, "success")

	// Rotation: a new refresh token from the provider overwrites the
	// stored ciphertext; the old token is not retained.
	var rotated string
	if result.RefreshToken != "" && result.RefreshToken != plaintext {
		rotated, err = s.cipher.Encrypt(result.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt rotated refresh token: %w", err)
		}
	}
	if err := s.repo.UpdateAfterRefresh(sessionID, s.now().UTC(), rotated); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	observability.RecordSessionOperation(ctx, "refresh", "success")
	return &RefreshResult{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresAt}, nil
}

// ClearRefresh revokes the session named by the cookie, if any. A
// missing or unknown session id still succeeds so a confused client
// can always reset its cookie state.
func (s *SessionService) ClearRefresh(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		observability.RecordSessionOperation(ctx, "clear_refresh", "no_cookie")
		return nil
	}
	if err := s.repo.MarkRevoked(sessionID); err != nil {
		observability.RecordSessionOperation(ctx, "clear_refresh", "error")
		return err
	}
	observability.RecordSessionOperation(ctx, "clear_refresh", "success")
	return nil
}

func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingInput
	}
	if err := s.repo.MarkRevoked(sessionID); err != nil {
		observability.RecordSessionOperation(ctx, "revoke_session", "error")
		return err
	}
	observability.RecordSessionOperation(ctx, "revoke_session", "success")
	return nil
}

func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrMissingInput
	}
	count, err := s.repo.MarkRevokedForUser(userID)
	if err != nil {
		observability.RecordSessionOperation(ctx, "revoke_user_sessions", "error")
		return 0, err
	}
	observability.RecordSessionOperation(ctx, "revoke_user_sessions", "success")
	return count, nil
}

// Cleanup deletes sessions created more than days ago (default: the
// configured retention window). Zero matches is still a success.
func (s *SessionService) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = s.retentionDays
	}
	threshold := s.now().UTC().AddDate(0, 0, -days)
	count, err := s.repo.DeleteCreatedBefore(threshold)
	if err != nil {
		observability.RecordSessionOperation(ctx, "cleanup_refresh_tokens", "error")
		return 0, err
	}
	observability.RecordSessionOperation(ctx, "cleanup_refresh_tokens", "success")
	observability.RecordCleanupDeleted(ctx, count)
	return count, nil
}
