package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Emergency is the aggregate root for one incident. One document per
// incident; all lifecycle writes go through single-document CAS updates.
type Emergency struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ReporterID primitive.ObjectID `json:"reporterId" bson:"reporterId"`
	GroupID    primitive.ObjectID `json:"groupId,omitempty" bson:"groupId,omitempty"`
	Status     string             `json:"status" bson:"status"`
	Message    string             `json:"message,omitempty" bson:"message,omitempty"`
	Location   GeoPoint           `json:"location" bson:"location"`

	// Responses is keyed by volunteer ID; last write per key wins, no
	// ordering guarantee across keys.
	Responses map[string]VolunteerResponse `json:"responses" bson:"responses"`

	Resolution Resolution `json:"resolution" bson:"resolution"`

	// Notifications is append-only; the live document is never truncated.
	Notifications []AttendeeNotification `json:"notifications" bson:"notifications"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`

	AcceptedAt *time.Time `json:"acceptedAt,omitempty" bson:"acceptedAt,omitempty"`
	ArrivedAt  *time.Time `json:"arrivedAt,omitempty" bson:"arrivedAt,omitempty"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty" bson:"verifiedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`

	EscalationReason   string `json:"escalationReason,omitempty" bson:"escalationReason,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty" bson:"cancellationReason,omitempty"`
}

type GeoPoint struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// VolunteerResponse is one responder's engagement record, embedded in the
// Emergency under responses[volunteerId]. Never deleted; cancelling a
// response sets status unavailable and a later re-engage overwrites the
// record under the same key.
type VolunteerResponse struct {
	VolunteerID          string     `json:"volunteerId" bson:"volunteerId"`
	VolunteerName        string     `json:"volunteerName" bson:"volunteerName"`
	Status               string     `json:"status" bson:"status"`
	RespondedAt          time.Time  `json:"respondedAt" bson:"respondedAt"`
	LastUpdated          time.Time  `json:"lastUpdated" bson:"lastUpdated"`
	CurrentLocation      *GeoPoint  `json:"currentLocation,omitempty" bson:"currentLocation,omitempty"`
	RoutePoints          []GeoPoint `json:"routePoints,omitempty" bson:"routePoints,omitempty"`
	EstimatedArrivalTime string     `json:"estimatedArrivalTime,omitempty" bson:"estimatedArrivalTime,omitempty"`
}

// Resolution is the two-party acknowledgement record that gates the
// resolved state.
type Resolution struct {
	Attendee              bool                           `json:"attendee" bson:"attendee"`
	AttendeeResolvedAt    *time.Time                     `json:"attendeeResolvedAt,omitempty" bson:"attendeeResolvedAt,omitempty"`
	AttendeeNotes         string                         `json:"attendeeResolutionNotes,omitempty" bson:"attendeeResolutionNotes,omitempty"`
	VolunteerResolutions  map[string]VolunteerResolution `json:"volunteerResolutions" bson:"volunteerResolutions"`
	HasVolunteerCompleted bool                           `json:"hasVolunteerCompleted" bson:"hasVolunteerCompleted"`
}

type VolunteerResolution struct {
	ResolvedAt time.Time `json:"resolvedAt" bson:"resolvedAt"`
	Notes      string    `json:"notes,omitempty" bson:"notes,omitempty"`
}

// CanBeFullyResolved reports whether both sides have acknowledged: the
// attendee once, and at least one volunteer.
func (r Resolution) CanBeFullyResolved() bool {
	return r.Attendee && r.HasVolunteerCompleted
}

// AttendeeNotification is an immutable entry in the Emergency's append-only
// notification log.
type AttendeeNotification struct {
	ID                string    `json:"id" bson:"id"`
	Timestamp         time.Time `json:"timestamp" bson:"timestamp"`
	VolunteerID       string    `json:"volunteerId,omitempty" bson:"volunteerId,omitempty"`
	VolunteerName     string    `json:"volunteerName,omitempty" bson:"volunteerName,omitempty"`
	Status            string    `json:"status" bson:"status"`
	Message           string    `json:"message" bson:"message"`
	VolunteerLocation *GeoPoint `json:"volunteerLocation,omitempty" bson:"volunteerLocation,omitempty"`
}

// Emergency Status Constants
const (
	EmergencyStatusUnverified = "unverified"
	EmergencyStatusAccepted   = "accepted"
	EmergencyStatusInProgress = "inProgress"
	EmergencyStatusVerified   = "verified"
	EmergencyStatusEscalated  = "escalated"
	EmergencyStatusResolved   = "resolved"
	EmergencyStatusFake       = "fake"
)

// Volunteer Response Status Constants
const (
	ResponseStatusResponding  = "responding"
	ResponseStatusEnRoute     = "enRoute"
	ResponseStatusArrived     = "arrived"
	ResponseStatusVerified    = "verified"
	ResponseStatusAssisting   = "assisting"
	ResponseStatusCompleted   = "completed"
	ResponseStatusUnavailable = "unavailable"
)

// emergencyTransitions maps a target status to its legal predecessors.
// Cancellation is deliberately not in this table: the attendee may
// force-resolve from any non-terminal status.
var emergencyTransitions = map[string][]string{
	EmergencyStatusAccepted:   {EmergencyStatusUnverified},
	EmergencyStatusInProgress: {EmergencyStatusAccepted},
	EmergencyStatusVerified:   {EmergencyStatusInProgress},
	EmergencyStatusEscalated:  {EmergencyStatusInProgress, EmergencyStatusVerified},
	EmergencyStatusFake:       {EmergencyStatusInProgress},
	EmergencyStatusResolved:   {EmergencyStatusVerified, EmergencyStatusEscalated},
}

// LegalPredecessors returns the statuses from which target may be entered.
func LegalPredecessors(target string) []string {
	return emergencyTransitions[target]
}

// CanTransition reports whether from -> to is an edge in the lifecycle graph.
func CanTransition(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}
	for _, s := range emergencyTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status is absorbing.
func IsTerminalStatus(status string) bool {
	return status == EmergencyStatusResolved || status == EmergencyStatusFake
}

// ActiveStatuses lists every non-terminal status. Emergencies in these
// states count against the one-live-emergency-per-reporter rule.
func ActiveStatuses() []string {
	return []string{
		EmergencyStatusUnverified,
		EmergencyStatusAccepted,
		EmergencyStatusInProgress,
		EmergencyStatusVerified,
		EmergencyStatusEscalated,
	}
}

// IsVolunteerResponseStatus reports whether s is a known sub-status.
func IsVolunteerResponseStatus(s string) bool {
	switch s {
	case ResponseStatusResponding, ResponseStatusEnRoute, ResponseStatusArrived,
		ResponseStatusVerified, ResponseStatusAssisting, ResponseStatusCompleted,
		ResponseStatusUnavailable:
		return true
	}
	return false
}

// EndsTracking reports whether a volunteer sub-status tears down that
// volunteer's location tracking.
func EndsTracking(responseStatus string) bool {
	return responseStatus == ResponseStatusCompleted || responseStatus == ResponseStatusUnavailable
}

// =================== REQUEST MODELS ===================

type CreateEmergencyRequest struct {
	GroupID  string   `json:"groupId,omitempty"`
	Message  string   `json:"message,omitempty"`
	Location GeoPoint `json:"location" validate:"required"`
}

type AcceptEmergencyRequest struct {
	Location GeoPoint `json:"location" validate:"required"`
}

type VerifyEmergencyRequest struct {
	IsReal           bool   `json:"isReal"`
	EscalationReason string `json:"escalationReason,omitempty"`
}

type UpdateVolunteerStatusRequest struct {
	Status               string    `json:"status" validate:"required,volunteer_status"`
	Location             *GeoPoint `json:"location,omitempty"`
	EstimatedArrivalTime string    `json:"estimatedArrivalTime,omitempty"`
}

type ResolveEmergencyRequest struct {
	Notes string `json:"notes,omitempty"`
}

type CancelEmergencyRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type VolunteerLocationUpdate struct {
	Location  GeoPoint  `json:"location" validate:"required"`
	SampledAt time.Time `json:"sampledAt,omitempty"`
}
