package services

import (
	"context"
	"testing"
	"time"

	"go-tracker/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFreshnessPresence(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewFreshnessPresence(10 * time.Minute)
	p.now = func() time.Time { return now }

	fresh := now.Add(-9 * time.Minute)
	stale := now.Add(-11 * time.Minute)
	users := []models.User{
		{ID: primitive.NewObjectID(), LastSeen: &fresh},
		{ID: primitive.NewObjectID(), LastSeen: &stale},
		{ID: primitive.NewObjectID()},
	}
	live, err := p.Online(context.Background(), users)
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, false}
	for i, u := range users {
		if live[u.ID.Hex()] != want[i] {
			t.Errorf("user %d online = %v, want %v", i, live[u.ID.Hex()], want[i])
		}
	}
}

func TestResolveOnlineKeepsLoggedOutUsersOffline(t *testing.T) {
	now := time.Now()
	p := NewFreshnessPresence(time.Hour)
	users := []models.User{
		{ID: primitive.NewObjectID(), IsOnline: true, LastSeen: &now},
		{ID: primitive.NewObjectID(), IsOnline: false, LastSeen: &now},
	}
	if err := resolveOnline(context.Background(), p, users); err != nil {
		t.Fatal(err)
	}
	if !users[0].IsOnline {
		t.Error("fresh online user resolved offline")
	}
	if users[1].IsOnline {
		t.Error("logged out user resolved online")
	}
}
