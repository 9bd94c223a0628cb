package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the identity record. Provisioning (signup, credentials) happens
// in the external identity service; this backend only reads what it needs
// for coordination and push delivery.
type User struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Email     string             `json:"email" bson:"email"`
	Phone     string             `json:"phone,omitempty" bson:"phone,omitempty"`
	FirstName string             `json:"firstName" bson:"firstName"`
	LastName  string             `json:"lastName" bson:"lastName"`
	Role      string             `json:"role" bson:"role"` // attendee, volunteer, organizer

	DeviceToken string `json:"-" bson:"deviceToken,omitempty"`
	DeviceType  string `json:"deviceType,omitempty" bson:"deviceType,omitempty"` // ios, android

	IsActive bool      `json:"isActive" bson:"isActive"`
	IsOnline bool      `json:"isOnline" bson:"isOnline"`
	LastSeen time.Time `json:"lastSeen" bson:"lastSeen"`

	// LastKnownLocation feeds the nearby-responder fan-out. Telemetry only:
	// last writer wins.
	LastKnownLocation   *GeoPoint  `json:"lastKnownLocation,omitempty" bson:"lastKnownLocation,omitempty"`
	LastKnownLocationAt *time.Time `json:"lastKnownLocationAt,omitempty" bson:"lastKnownLocationAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// UpdateDeviceTokenRequest registers the device for push delivery.
type UpdateDeviceTokenRequest struct {
	DeviceToken string `json:"deviceToken" validate:"required"`
	DeviceType  string `json:"deviceType" validate:"required,oneof=ios android"`
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
