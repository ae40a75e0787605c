package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fitpulse/session-service/internal/domain"

	"github.com/google/uuid"
)

// MemorySessionRepository is a development-only backend. Startup must
// refuse it when the production flag is set; it exists so the service
// can run without a database attached.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	newID    func() string
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*domain.Session),
		newID:    uuid.NewString,
	}
}

func (r *MemorySessionRepository) Create(userID, encryptedToken string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for attempt := 0; attempt < createAttempts; attempt++ {
		id := r.newID()
		if _, exists := r.sessions[id]; exists {
			continue
		}
		now := time.Now().UTC()
		r.sessions[id] = &domain.Session{
			SessionID:             id,
			UserID:                userID,
			EncryptedRefreshToken: encryptedToken,
			CreatedAt:             now,
			LastUsedAt:            now,
		}
		return id, nil
	}
	return "", ErrSessionCreation
}

func (r *MemorySessionRepository) FindBySessionID(sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySessionRepository) MarkRevoked(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Revoked = true
	}
	return nil
}

func (r *MemorySessionRepository) MarkRevokedForUser(userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			count++
		}
	}
	return count, nil
}

func (r *MemorySessionRepository) UpdateAfterRefresh(sessionID string, lastUsedAt time.Time, newEncryptedToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastUsedAt = lastUsedAt
	if newEncryptedToken != "" {
		s.EncryptedRefreshToken = newEncryptedToken
	}
	return nil
}

func (r *MemorySessionRepository) DeleteCreatedBefore(threshold time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, s := range r.sessions {
		if s.CreatedAt.Before(threshold) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

func (r *MemorySessionRepository) Ping(context.Context) error { return nil }
