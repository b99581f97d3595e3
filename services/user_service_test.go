package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go-tracker/models"
	apierrors "go-tracker/utils/errors"
)

func f64(v float64) *float64 { return &v }

type userFixture struct {
	store     *MemoryUserStore
	presence  *recordingPresence
	publisher *recordingPublisher
	svc       *UserService
	asha      *models.User
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	store := NewMemoryUserStore()
	asha, err := store.UpsertLogin(context.Background(), Identity{Subject: "g-asha", Name: "Asha", Email: "asha@example.com"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	presence := newRecordingPresence()
	pub := &recordingPublisher{}
	return &userFixture{
		store:     store,
		presence:  presence,
		publisher: pub,
		svc:       NewUserService(store, presence, pub),
		asha:      asha,
	}
}

func TestUpdateLocationWritesAndBroadcasts(t *testing.T) {
	fx := newUserFixture(t)
	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return fixed }

	in := models.LocationInput{Latitude: f64(23.0225), Longitude: f64(72.5714), City: "Ahmedabad", State: "Gujarat", Country: "India"}
	u, err := fx.svc.UpdateLocation(context.Background(), fx.asha.ID.Hex(), in)
	if err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if *u.Location.Latitude != 23.0225 || *u.Location.City != "Ahmedabad" {
		t.Errorf("unexpected location %+v", u.Location)
	}
	if !u.Location.LastUpdated.Equal(fixed) {
		t.Errorf("lastUpdated = %v, want server time %v", u.Location.LastUpdated, fixed)
	}

	if fx.publisher.count() != 1 {
		t.Fatalf("published %d events, want 1", fx.publisher.count())
	}
	ev := fx.publisher.events[0]
	if ev.UserID != fx.asha.ID.Hex() || ev.Name != "Asha" || ev.Latitude != 23.0225 || *ev.Country != "India" {
		t.Errorf("unexpected event %+v", ev)
	}
	if len(fx.presence.touched) != 1 {
		t.Errorf("presence not touched")
	}
}

func TestUpdateLocationReplacesWholeLocation(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	id := fx.asha.ID.Hex()

	if _, err := fx.svc.UpdateLocation(ctx, id, models.LocationInput{Latitude: f64(1), Longitude: f64(2), City: "Old Town"}); err != nil {
		t.Fatal(err)
	}
	u, err := fx.svc.UpdateLocation(ctx, id, models.LocationInput{Latitude: f64(0), Longitude: f64(0)})
	if err != nil {
		t.Fatalf("(0,0) must be accepted: %v", err)
	}
	if u.Location.City != nil || u.Location.State != nil || u.Location.Country != nil {
		t.Errorf("place fields must be null after an update without them: %+v", u.Location)
	}
	if *u.Location.Latitude != 0 || *u.Location.Longitude != 0 {
		t.Errorf("coordinates = %v,%v", *u.Location.Latitude, *u.Location.Longitude)
	}
}

func TestUpdateLocationValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      models.LocationInput
		message string
	}{
		{"missing latitude", models.LocationInput{Longitude: f64(72)}, "latitude is required"},
		{"missing longitude", models.LocationInput{Latitude: f64(23)}, "longitude is required"},
		{"latitude too high", models.LocationInput{Latitude: f64(91), Longitude: f64(0)}, "latitude must be at most 90"},
		{"longitude too low", models.LocationInput{Latitude: f64(0), Longitude: f64(-181)}, "longitude must be at least -180"},
		{"city too long", models.LocationInput{Latitude: f64(0), Longitude: f64(0), City: strings.Repeat("x", 201)}, "city must be at most 200 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newUserFixture(t)
			_, err := fx.svc.UpdateLocation(context.Background(), fx.asha.ID.Hex(), tt.in)
			var apiErr *apierrors.APIError
			if !errors.As(err, &apiErr) || !errors.Is(err, apierrors.ErrInvalidInput) {
				t.Fatalf("error = %v, want invalid input", err)
			}
			if apiErr.Message != tt.message {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.message)
			}
			if fx.publisher.count() != 0 {
				t.Error("rejected update was broadcast")
			}
			u, _ := fx.store.FindByID(context.Background(), fx.asha.ID.Hex())
			if u.HasLocation() {
				t.Error("rejected update was written")
			}
		})
	}
}

func TestUpdateLocationStoreFailureDoesNotBroadcast(t *testing.T) {
	fx := newUserFixture(t)
	svc := NewUserService(failingStore{fx.store}, fx.presence, fx.publisher)

	_, err := svc.UpdateLocation(context.Background(), fx.asha.ID.Hex(), models.LocationInput{Latitude: f64(1), Longitude: f64(1)})
	if !errors.Is(err, apierrors.ErrInternal) {
		t.Fatalf("error = %v, want ErrInternal", err)
	}
	if fx.publisher.count() != 0 {
		t.Error("failed write was broadcast")
	}
}

func TestUpdateLocationUnknownUser(t *testing.T) {
	fx := newUserFixture(t)
	_, err := fx.svc.UpdateLocation(context.Background(), "65f0c0ffee0123456789abcd", models.LocationInput{Latitude: f64(1), Longitude: f64(1)})
	if !errors.Is(err, apierrors.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateLocationBroadcastFailureIsNotFatal(t *testing.T) {
	fx := newUserFixture(t)
	fx.publisher.err = errors.New("hub closed")
	if _, err := fx.svc.UpdateLocation(context.Background(), fx.asha.ID.Hex(), models.LocationInput{Latitude: f64(1), Longitude: f64(1)}); err != nil {
		t.Fatalf("broadcast failure surfaced to caller: %v", err)
	}
}

func TestListUsersGatesOnlineByPresence(t *testing.T) {
	fx := newUserFixture(t)
	ctx := context.Background()
	ravi, err := fx.store.UpsertLogin(ctx, Identity{Subject: "g-ravi", Name: "Ravi", Email: "ravi@example.com"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	// Only Asha has a live presence entry.
	_ = fx.presence.Touch(ctx, fx.asha.ID.Hex())

	users, err := fx.svc.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	online := map[string]bool{}
	for _, u := range users {
		online[u.ID.Hex()] = u.IsOnline
	}
	if !online[fx.asha.ID.Hex()] {
		t.Error("Asha should be online")
	}
	if online[ravi.ID.Hex()] {
		t.Error("Ravi has no presence and should be offline")
	}
}

func TestListUsersEmptyIsNotNil(t *testing.T) {
	svc := NewUserService(NewMemoryUserStore(), NewFreshnessPresence(time.Minute), &recordingPublisher{})
	users, err := svc.ListUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if users == nil || len(users) != 0 {
		t.Fatalf("users = %#v, want empty slice", users)
	}
}

func TestListUsersStoreFailure(t *testing.T) {
	svc := NewUserService(failingStore{NewMemoryUserStore()}, newRecordingPresence(), &recordingPublisher{})
	if _, err := svc.ListUsers(context.Background()); !errors.Is(err, apierrors.ErrInternal) {
		t.Fatalf("error = %v, want ErrInternal", err)
	}
}

func TestGetUser(t *testing.T) {
	fx := newUserFixture(t)
	u, err := fx.svc.GetUser(context.Background(), fx.asha.ID.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "asha@example.com" {
		t.Errorf("email = %q", u.Email)
	}
	if _, err := fx.svc.GetUser(context.Background(), "not-an-id"); !errors.Is(err, apierrors.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
