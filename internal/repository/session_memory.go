package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/futig/rag-chat-backend/internal/entity"
)

// SessionMemory is the registry used when no database is configured.
type SessionMemory struct {
	mu       sync.RWMutex
	sessions map[string]entity.ChatSession
}

func NewSessionMemory() *SessionMemory {
	return &SessionMemory{
		sessions: make(map[string]entity.ChatSession),
	}
}

func (r *SessionMemory) Create(_ context.Context, s entity.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return entity.ErrSessionExists
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *SessionMemory) Touch(_ context.Context, s entity.ChatSession, addedMessages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[s.ID]
	if !ok {
		existing = s
		existing.MessageCount = 0
		existing.CreatedAt = s.UpdatedAt
	}
	if existing.Title == "" {
		existing.Title = s.Title
	}
	existing.MessageCount += addedMessages
	existing.IsActive = true
	existing.UpdatedAt = s.UpdatedAt
	r.sessions[s.ID] = existing
	return nil
}

func (r *SessionMemory) Get(_ context.Context, sessionID string) (entity.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return entity.ChatSession{}, entity.ErrSessionNotFound
	}
	return s, nil
}

func (r *SessionMemory) ListByUser(_ context.Context, userID string, limit, offset int) ([]entity.ChatSession, int, error) {
	r.mu.RLock()
	all := []entity.ChatSession{}
	for _, s := range r.sessions {
		if s.UserID == userID {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if offset >= total {
		return []entity.ChatSession{}, total, nil
	}
	page := all[offset:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, total, nil
}

func (r *SessionMemory) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return entity.ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *SessionMemory) Ping(context.Context) error {
	return nil
}
