package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func floatPtr(f float64) *float64 { return &f }

func TestUserJSONHidesGoogleID(t *testing.T) {
	u := User{ID: primitive.NewObjectID(), GoogleID: "google-sub-1", Name: "Asha", Email: "asha@example.com"}
	b, err := json.Marshal(u)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, "google-sub-1") || strings.Contains(s, "googleId") {
		t.Fatalf("external identifier leaked: %s", s)
	}
}

func TestEmptyLocationSerializesNulls(t *testing.T) {
	b, err := json.Marshal(User{})
	if err != nil {
		t.Fatal(err)
	}
	want := `"location":{"latitude":null,"longitude":null,"city":null,"state":null,"country":null,"lastUpdated":null}`
	if !strings.Contains(string(b), want) {
		t.Fatalf("got %s, want it to contain %s", b, want)
	}
}

func TestToLocation(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	full := LocationInput{Latitude: floatPtr(23.03), Longitude: floatPtr(72.58), City: "Rajkot", State: "Gujarat", Country: "India"}.ToLocation(now)
	if *full.Latitude != 23.03 || *full.Longitude != 72.58 {
		t.Errorf("coordinates = %v,%v", *full.Latitude, *full.Longitude)
	}
	if full.City == nil || *full.City != "Rajkot" || *full.Country != "India" {
		t.Errorf("place fields not copied: %+v", full)
	}
	if !full.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", full.LastUpdated, now)
	}

	bare := LocationInput{Latitude: floatPtr(0), Longitude: floatPtr(0)}.ToLocation(now)
	if bare.City != nil || bare.State != nil || bare.Country != nil {
		t.Errorf("omitted place fields must be nil: %+v", bare)
	}
}

func TestNewLocationUpdate(t *testing.T) {
	city := "Rajkot"
	u := &User{
		ID:   primitive.NewObjectID(),
		Name: "Asha",
		Location: Location{
			Latitude:  floatPtr(23.03),
			Longitude: floatPtr(72.58),
			City:      &city,
		},
	}
	ev := NewLocationUpdate(u)
	if ev.UserID != u.ID.Hex() || ev.Latitude != 23.03 || ev.Longitude != 72.58 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.City == nil || *ev.City != "Rajkot" || ev.State != nil {
		t.Fatalf("place fields wrong: %+v", ev)
	}
	if !u.HasLocation() {
		t.Error("HasLocation should be true")
	}
}
