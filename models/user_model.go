package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the single document kept per person.
// GoogleID is the identity provider's subject and never leaves the server.
type User struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	GoogleID       string             `json:"-" bson:"googleId"`
	Name           string             `json:"name" bson:"name"`
	Email          string             `json:"email" bson:"email"`
	ProfilePicture string             `json:"profilePicture" bson:"profilePicture"`
	Location       Location           `json:"location" bson:"location"`
	IsOnline       bool               `json:"isOnline" bson:"isOnline"`
	LastSeen       *time.Time         `json:"lastSeen" bson:"lastSeen"`
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// PublicUser is the login response projection.
type PublicUser struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profilePicture"`
}

// Public returns the login projection of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID.Hex(),
		Name:           u.Name,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
	}
}

// HasLocation reports whether the user ever submitted a fix.
func (u *User) HasLocation() bool {
	return u.Location.Latitude != nil && u.Location.Longitude != nil
}
