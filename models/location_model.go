package models

import "time"

// Location is embedded in User and overwritten wholesale on every update.
// All fields are nullable and serialize as null, never omitted.
type Location struct {
	Latitude    *float64   `json:"latitude" bson:"latitude"`
	Longitude   *float64   `json:"longitude" bson:"longitude"`
	City        *string    `json:"city" bson:"city"`
	State       *string    `json:"state" bson:"state"`
	Country     *string    `json:"country" bson:"country"`
	LastUpdated *time.Time `json:"lastUpdated" bson:"lastUpdated"`
}

// LocationInput is the body of POST /users/location.
type LocationInput struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	City      string   `json:"city,omitempty" validate:"max=200"`
	State     string   `json:"state,omitempty" validate:"max=200"`
	Country   string   `json:"country,omitempty" validate:"max=200"`
}

// ToLocation builds the stored sub-document. Empty place names become null.
func (in LocationInput) ToLocation(now time.Time) Location {
	lat, lon := *in.Latitude, *in.Longitude
	return Location{
		Latitude:    &lat,
		Longitude:   &lon,
		City:        nullable(in.City),
		State:       nullable(in.State),
		Country:     nullable(in.Country),
		LastUpdated: &now,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// EventLocationUpdate is the realtime event name.
const EventLocationUpdate = "locationUpdate"

// LocationUpdate is pushed to every connected client after a successful write.
type LocationUpdate struct {
	UserID         string  `json:"userId"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	ProfilePicture string  `json:"profilePicture"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	City           *string `json:"city"`
	State          *string `json:"state"`
	Country        *string `json:"country"`
}

// NewLocationUpdate builds the broadcast payload for a freshly written user.
func NewLocationUpdate(u *User) LocationUpdate {
	ev := LocationUpdate{
		UserID:         u.ID.Hex(),
		Name:           u.Name,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
		City:           u.Location.City,
		State:          u.Location.State,
		Country:        u.Location.Country,
	}
	if u.Location.Latitude != nil {
		ev.Latitude = *u.Location.Latitude
	}
	if u.Location.Longitude != nil {
		ev.Longitude = *u.Location.Longitude
	}
	return ev
}
