package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-tracker/models"
)

type fakeVerifier struct {
	identities map[string]Identity
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	id, ok := f.identities[raw]
	if !ok {
		return nil, ErrInvalidIDToken
	}
	return &id, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LocationUpdate
	err    error
}

func (p *recordingPublisher) PublishLocation(_ context.Context, ev models.LocationUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// failingStore wraps a store and fails every write.
type failingStore struct {
	UserStore
}

var errStoreDown = errors.New("store down")

func (failingStore) ReplaceLocation(context.Context, string, models.Location, time.Time) (*models.User, error) {
	return nil, errStoreDown
}

func (failingStore) UpsertLogin(context.Context, Identity, time.Time) (*models.User, error) {
	return nil, errStoreDown
}

func (failingStore) List(context.Context) ([]models.User, error) {
	return nil, errStoreDown
}

type recordingPresence struct {
	mu      sync.Mutex
	live    map[string]bool
	touched []string
	cleared []string
}

func newRecordingPresence() *recordingPresence {
	return &recordingPresence{live: map[string]bool{}}
}

func (p *recordingPresence) Touch(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[id] = true
	p.touched = append(p.touched, id)
	return nil
}

func (p *recordingPresence) Clear(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, id)
	p.cleared = append(p.cleared, id)
	return nil
}

func (p *recordingPresence) Online(_ context.Context, users []models.User) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(users))
	for _, u := range users {
		out[u.ID.Hex()] = p.live[u.ID.Hex()]
	}
	return out, nil
}
