package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group is a community of attendees, volunteers and organizers. Its member
// roster is the reconciliation target: the isInEmergency flags here are a
// denormalized mirror of live Emergency documents and can drift.
type Group struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name        string             `json:"name" bson:"name" validate:"required,min=2,max=80"`
	OrganizerID primitive.ObjectID `json:"organizerId" bson:"organizerId"`
	Members     []GroupMember      `json:"members" bson:"members"`
	CreatedAt   time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt" bson:"updatedAt"`
}

type GroupMember struct {
	UserID        primitive.ObjectID `json:"userId" bson:"userId"`
	Role          string             `json:"role" bson:"role"` // attendee, volunteer, organizer
	JoinedAt      time.Time          `json:"joinedAt" bson:"joinedAt"`
	IsInEmergency bool               `json:"isInEmergency" bson:"isInEmergency"`
	LastActivity  time.Time          `json:"lastActivity" bson:"lastActivity"`
}

// Member role constants
const (
	RoleAttendee  = "attendee"
	RoleVolunteer = "volunteer"
	RoleOrganizer = "organizer"
)

// Member returns the roster entry for userID, if present.
func (g *Group) Member(userID string) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserID.Hex() == userID {
			return m, true
		}
	}
	return GroupMember{}, false
}

// VolunteerIDs returns the user IDs of every volunteer in the roster.
func (g *Group) VolunteerIDs() []string {
	var ids []string
	for _, m := range g.Members {
		if m.Role == RoleVolunteer {
			ids = append(ids, m.UserID.Hex())
		}
	}
	return ids
}

// OrganizerIDs returns the user IDs of every organizer in the roster.
func (g *Group) OrganizerIDs() []string {
	var ids []string
	for _, m := range g.Members {
		if m.Role == RoleOrganizer {
			ids = append(ids, m.UserID.Hex())
		}
	}
	return ids
}
