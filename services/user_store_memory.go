package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-tracker/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryURI selects the in-process store instead of MongoDB.
const MemoryURI = "memory://"

// MemoryUserStore is an in-process UserStore. Data is lost on restart.
type MemoryUserStore struct {
	mu       sync.RWMutex
	byID     map[primitive.ObjectID]*models.User
	byGoogle map[string]primitive.ObjectID
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:     make(map[primitive.ObjectID]*models.User),
		byGoogle: make(map[string]primitive.ObjectID),
	}
}

func (s *MemoryUserStore) UpsertLogin(_ context.Context, id Identity, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oid, ok := s.byGoogle[id.Subject]; ok {
		u := s.byID[oid]
		u.IsOnline = true
		u.LastSeen = &now
		u.UpdatedAt = now
		c := *u
		return &c, nil
	}
	for _, u := range s.byID {
		if u.Email == id.Email {
			return nil, ErrDuplicateUser
		}
	}

	u := &models.User{
		ID:             primitive.NewObjectID(),
		GoogleID:       id.Subject,
		Name:           id.Name,
		Email:          id.Email,
		ProfilePicture: id.Picture,
		IsOnline:       true,
		LastSeen:       &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.byID[u.ID] = u
	s.byGoogle[id.Subject] = u.ID
	c := *u
	return &c, nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.lookup(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryUserStore) SetOnline(_ context.Context, userID string, online bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.lookup(userID)
	if !ok {
		return ErrUserNotFound
	}
	u.IsOnline = online
	u.UpdatedAt = now
	if online {
		u.LastSeen = &now
	}
	return nil
}

func (s *MemoryUserStore) ReplaceLocation(_ context.Context, userID string, loc models.Location, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.lookup(userID)
	if !ok {
		return nil, ErrUserNotFound
	}
	u.Location = loc
	u.LastSeen = &now
	u.UpdatedAt = now
	c := *u
	return &c, nil
}

func (s *MemoryUserStore) List(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID.Hex() < users[j].ID.Hex()
	})
	return users, nil
}

func (s *MemoryUserStore) Ping(context.Context) error { return nil }

func (s *MemoryUserStore) lookup(userID string) (*models.User, bool) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, false
	}
	u, ok := s.byID[oid]
	return u, ok
}
