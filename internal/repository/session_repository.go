package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitpulse/session-service/internal/domain"
	"github.com/fitpulse/session-service/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCreation is returned when session-id generation keeps
	// colliding after the bounded retry budget.
	ErrSessionCreation  = errors.New("session creation failed")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// createAttempts bounds the session-id collision retry loop.
const createAttempts = 3

type SessionRepository interface {
	// Create mints a new random session id, inserts the record and
	// returns the id. A unique-constraint collision triggers a retry
	// with a fresh id; the record is never overwritten.
	Create(userID, encryptedToken string) (string, error)
	FindBySessionID(sessionID string) (*domain.Session, error)
	// MarkRevoked is idempotent: revoking an already-revoked or unknown
	// session is a no-op success.
	MarkRevoked(sessionID string) error
	MarkRevokedForUser(userID string) (int64, error)
	// UpdateAfterRefresh bumps last_used_at and, when newEncryptedToken
	// is non-empty, overwrites the stored ciphertext (rotation).
	UpdateAfterRefresh(sessionID string, lastUsedAt time.Time, newEncryptedToken string) error
	DeleteCreatedBefore(threshold time.Time) (int64, error)
	Ping(ctx context.Context) error
}

type GormSessionRepository struct {
	db *gorm.DB
	// newID is swappable so tests can simulate id collisions.
	newID func() string
}

func NewSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db, newID: uuid.NewString}
}

func (r *GormSessionRepository) Create(userID, encryptedToken string) (string, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		now := time.Now().UTC()
		s := domain.Session{
			SessionID:             r.newID(),
			UserID:                userID,
			EncryptedRefreshToken: encryptedToken,
			CreatedAt:             now,
			LastUsedAt:            now,
		}
		err := r.db.Create(&s).Error
		if err == nil {
			observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
			return s.SessionID, nil
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "session", "create", "collision")
			continue
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "exhausted")
	return "", ErrSessionCreation
}

func (r *GormSessionRepository) FindBySessionID(sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("session_id = ?", sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_session_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_session_id", "error")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_session_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) MarkRevoked(sessionID string) error {
	err := r.db.Model(&domain.Session{}).
		Where("session_id = ? AND revoked = ?", sessionID, false).
		Update("revoked", true).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "mark_revoked", "error")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "mark_revoked", "success")
	return nil
}

func (r *GormSessionRepository) MarkRevokedForUser(userID string) (int64, error) {
	res := r.db.Model(&domain.Session{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "mark_revoked_for_user", "error")
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "mark_revoked_for_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) UpdateAfterRefresh(sessionID string, lastUsedAt time.Time, newEncryptedToken string) error {
	updates := map[string]any{"last_used_at": lastUsedAt}
	if newEncryptedToken != "" {
		updates["encrypted_refresh_token"] = newEncryptedToken
	}
	res := r.db.Model(&domain.Session{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "update_after_refresh", "error")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "session", "update_after_refresh", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "update_after_refresh", "success")
	return nil
}

func (r *GormSessionRepository) DeleteCreatedBefore(threshold time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", threshold).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_created_before", "error")
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_created_before", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
