package memory

import (
	"context"
	"sync"

	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

// ProfileStore is an in-memory identity collaborator.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[chat.UserID]chat.Profile
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[chat.UserID]chat.Profile)}
}

// Seed registers "id -> display name" pairs.
func (s *ProfileStore) Seed(names map[string]string) {
	for id, name := range names {
		s.Put(chat.Profile{ID: chat.UserID(id), Name: name})
	}
}

func (s *ProfileStore) Put(p chat.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *ProfileStore) Profile(ctx context.Context, id chat.UserID) (chat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return chat.Profile{}, chat.ErrUserNotFound
	}
	return p, nil
}

func (s *ProfileStore) Profiles(ctx context.Context, ids []chat.UserID) (map[chat.UserID]chat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[chat.UserID]chat.Profile, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var _ policies.IdentityResolver = (*ProfileStore)(nil)
