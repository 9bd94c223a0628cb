package interfaces

import (
	"context"
	"time"

	"resqlink/models"
	"resqlink/utils"

	"go.mongodb.org/mongo-driver/bson"
)

// EmergencyStore is the narrow persistence contract the emergency service
// works against. Every status write goes through TransitionStatus or
// ForceResolve so the legal-predecessor check happens inside the store's
// compare-and-set, never in application code.
type EmergencyStore interface {
	Create(ctx context.Context, emergency *models.Emergency) error
	GetByID(ctx context.Context, id string) (*models.Emergency, error)
	GetActiveByReporter(ctx context.Context, reporterID string) (*models.Emergency, error)
	GetAllActiveByReporter(ctx context.Context, reporterID string) ([]models.Emergency, error)
	GetAllActive(ctx context.Context) ([]models.Emergency, error)
	GetGroupEmergencies(ctx context.Context, groupID string) ([]models.Emergency, error)
	GetVolunteerEmergencies(ctx context.Context, volunteerID string) ([]models.Emergency, error)

	TransitionStatus(ctx context.Context, id, target string, set bson.M) (*models.Emergency, error)
	ForceResolve(ctx context.Context, id, reason string) (*models.Emergency, error)

	SetResponse(ctx context.Context, id, volunteerID string, response models.VolunteerResponse) error
	UpdateResponseFields(ctx context.Context, id, volunteerID string, fields bson.M) error
	AppendRoutePoint(ctx context.Context, id, volunteerID string, point models.GeoPoint, eta string) error
	AppendNotification(ctx context.Context, id string, notification models.AttendeeNotification) error

	SetAttendeeResolution(ctx context.Context, id, notes string) (*models.Emergency, error)
	SetVolunteerResolution(ctx context.Context, id, volunteerID, notes string) (*models.Emergency, error)
}

// LockStore backs the advisory lock service. TryAcquire returns false when
// the resource is held by another live owner.
type LockStore interface {
	TryAcquire(ctx context.Context, resourceID, ownerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resourceID, ownerID string) (bool, error)
	Get(ctx context.Context, resourceID string) (*models.Lock, error)
}

type GroupStore interface {
	GetByID(ctx context.Context, id string) (*models.Group, error)
	GetUserGroups(ctx context.Context, userID string) ([]models.Group, error)
	GetAllGroups(ctx context.Context) ([]models.Group, error)
	SetMemberEmergencyFlag(ctx context.Context, groupID, userID string, inEmergency bool) error
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.User, error)
	GetDeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error)
	GetLastKnownLocation(ctx context.Context, userID string) (*models.GeoPoint, error)
	GetNearbyUsers(ctx context.Context, candidateIDs []string, center models.GeoPoint, radiusM float64) ([]models.User, error)
	UpdateLastKnownLocation(ctx context.Context, userID string, location models.GeoPoint) error
}

// Dispatcher accepts fire-and-forget work. Submissions never block the
// caller and failures are logged, not returned.
type Dispatcher interface {
	Submit(name string, fn func(ctx context.Context) error)
}

// LocationTracker tears down in-memory tracking state when a responder
// stops responding or the incident closes.
type LocationTracker interface {
	StopTracking(volunteerID, emergencyID string)
	StopTrackingAll(emergencyID string)
}

// AlertSender abstracts the outbound push and SMS channels so the fan-out
// service can be tested without Firebase or Twilio.
type AlertSender interface {
	SendPushToMultipleDevices(ctx context.Context, deviceTokens []string, notification utils.PushNotification) ([]*utils.NotificationResult, error)
	SendSMS(ctx context.Context, sms utils.SMSMessage) (*utils.NotificationResult, error)
}

// WebSocketBroadcaster lets services push live updates into the hub without
// importing the websocket package.
type WebSocketBroadcaster interface {
	BroadcastToGroup(groupID string, message models.WSMessage)
	SendToUser(userID string, message models.WSMessage)
	IsUserOnline(userID string) bool
}
