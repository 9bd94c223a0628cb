package services

import (
	"context"
	"time"

	"resqlink/interfaces"
	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
)

// DefaultFanOutRadiusM is how far from the incident a volunteer's last
// known location may be and still receive the initial alert.
const DefaultFanOutRadiusM = 5000.0

// NotificationService fans incident events out to the interested parties.
// Every method is best-effort: delivery work is handed to the dispatcher
// and failures are logged, never surfaced to the lifecycle transition that
// triggered them.
type NotificationService struct {
	users      interfaces.UserStore
	groups     interfaces.GroupStore
	sender     interfaces.AlertSender
	dispatcher interfaces.Dispatcher
	hub        interfaces.WebSocketBroadcaster
	radiusM    float64
}

func NewNotificationService(
	users interfaces.UserStore,
	groups interfaces.GroupStore,
	sender interfaces.AlertSender,
	dispatcher interfaces.Dispatcher,
	hub interfaces.WebSocketBroadcaster,
	radiusM float64,
) *NotificationService {
	if radiusM <= 0 {
		radiusM = DefaultFanOutRadiusM
	}
	return &NotificationService{
		users:      users,
		groups:     groups,
		sender:     sender,
		dispatcher: dispatcher,
		hub:        hub,
		radiusM:    radiusM,
	}
}

// NotifyEmergencyCreated alerts the group's volunteers whose last known
// location is within the fan-out radius, plus every organizer regardless of
// distance.
func (ns *NotificationService) NotifyEmergencyCreated(emergency *models.Emergency, reporterName string) {
	snapshot := *emergency
	ns.dispatcher.Submit("emergency-created-fanout", func(ctx context.Context) error {
		if snapshot.GroupID.IsZero() {
			return nil
		}
		group, err := ns.groups.GetByID(ctx, snapshot.GroupID.Hex())
		if err != nil {
			return err
		}

		nearby, err := ns.users.GetNearbyUsers(ctx, group.VolunteerIDs(), snapshot.Location, ns.radiusM)
		if err != nil {
			logrus.Warnf("Nearby volunteer lookup failed for emergency %s: %v", snapshot.ID.Hex(), err)
			nearby = nil
		}

		recipients := make(map[string]bool)
		for _, volunteer := range nearby {
			recipients[volunteer.ID.Hex()] = true
		}
		for _, organizerID := range group.OrganizerIDs() {
			recipients[organizerID] = true
		}
		delete(recipients, snapshot.ReporterID.Hex())

		ids := make([]string, 0, len(recipients))
		for id := range recipients {
			ids = append(ids, id)
		}

		for _, volunteer := range nearby {
			if volunteer.LastKnownLocation == nil {
				continue
			}
			distance := utils.CalculateDistance(
				snapshot.Location.Latitude, snapshot.Location.Longitude,
				volunteer.LastKnownLocation.Latitude, volunteer.LastKnownLocation.Longitude,
			)
			push := utils.CreateEmergencyAlertNotification(
				reporterName, snapshot.ID.Hex(), utils.FormatDistance(distance),
				snapshot.Location.Latitude, snapshot.Location.Longitude,
			)
			ns.pushToUser(ctx, volunteer.ID.Hex(), push)
		}

		// Organizers get the alert without a distance line.
		organizerPush := utils.CreateEmergencyAlertNotification(
			reporterName, snapshot.ID.Hex(), "",
			snapshot.Location.Latitude, snapshot.Location.Longitude,
		)
		for _, organizerID := range group.OrganizerIDs() {
			if organizerID == snapshot.ReporterID.Hex() {
				continue
			}
			ns.pushToUser(ctx, organizerID, organizerPush)
		}

		ns.broadcastAlert(ids, models.WSAlert{
			EmergencyID: snapshot.ID.Hex(),
			Title:       "🚨 Emergency Alert",
			Body:        reporterName + " needs help",
			Timestamp:   time.Now(),
		})
		return nil
	})
}

// NotifyVolunteerStatus tells the reporter that one of the responders
// changed status.
func (ns *NotificationService) NotifyVolunteerStatus(emergency *models.Emergency, volunteerName, status string) {
	reporterID := emergency.ReporterID.Hex()
	emergencyID := emergency.ID.Hex()
	ns.dispatcher.Submit("volunteer-status-notify", func(ctx context.Context) error {
		push := utils.CreateVolunteerStatusNotification(volunteerName, status, emergencyID)
		ns.pushToUser(ctx, reporterID, push)
		ns.hub.SendToUser(reporterID, models.WSMessage{
			Type: models.WSTypeEmergencyAlert,
			Data: models.WSAlert{
				EmergencyID: emergencyID,
				Title:       push.Title,
				Body:        push.Body,
				Timestamp:   time.Now(),
			},
			Timestamp: time.Now(),
		})
		return nil
	})
}

// NotifyResolution fans out a resolution acknowledgement. The final close
// goes to every participant; a one-sided ack is a confirmation request, so
// it goes to everyone except the party that just acknowledged.
func (ns *NotificationService) NotifyResolution(emergency *models.Emergency, fullyResolved bool, ackedBy string) {
	var recipients []string
	for _, id := range participantIDs(emergency) {
		if !fullyResolved && id == ackedBy {
			continue
		}
		recipients = append(recipients, id)
	}
	emergencyID := emergency.ID.Hex()
	ns.dispatcher.Submit("resolution-notify", func(ctx context.Context) error {
		push := utils.CreateResolutionNotification(emergencyID, fullyResolved)
		for _, id := range recipients {
			ns.pushToUser(ctx, id, push)
		}
		return nil
	})
}

// NotifyCancellation tells engaged volunteers the attendee stood the
// incident down. Volunteers who already withdrew get nothing.
func (ns *NotificationService) NotifyCancellation(emergency *models.Emergency, reporterName, reason string) {
	emergencyID := emergency.ID.Hex()
	reporterID := emergency.ReporterID.Hex()
	var volunteerIDs []string
	for id, response := range emergency.Responses {
		if id == reporterID || response.Status == models.ResponseStatusUnavailable {
			continue
		}
		volunteerIDs = append(volunteerIDs, id)
	}
	ns.dispatcher.Submit("cancellation-notify", func(ctx context.Context) error {
		push := utils.CreateCancellationNotification(reporterName, emergencyID, reason)
		for _, id := range volunteerIDs {
			ns.pushToUser(ctx, id, push)
		}
		return nil
	})
}

// NotifyEscalation sends SMS to every organizer with a phone number on
// file. Escalation is the one event that leaves the push channel.
func (ns *NotificationService) NotifyEscalation(emergency *models.Emergency, reporterName string) {
	snapshot := *emergency
	ns.dispatcher.Submit("escalation-sms", func(ctx context.Context) error {
		if snapshot.GroupID.IsZero() {
			return nil
		}
		group, err := ns.groups.GetByID(ctx, snapshot.GroupID.Hex())
		if err != nil {
			return err
		}
		organizers, err := ns.users.GetByIDs(ctx, group.OrganizerIDs())
		if err != nil {
			return err
		}

		body := utils.CreateEscalationSMS(
			reporterName, snapshot.ID.Hex(),
			snapshot.Location.Latitude, snapshot.Location.Longitude,
		)
		for _, organizer := range organizers {
			if organizer.Phone == "" {
				continue
			}
			if _, err := ns.sender.SendSMS(ctx, utils.SMSMessage{To: organizer.Phone, Message: body}); err != nil {
				logrus.Warnf("Escalation SMS to %s failed: %v", organizer.ID.Hex(), err)
			}
		}
		return nil
	})
}

func (ns *NotificationService) pushToUser(ctx context.Context, userID string, push utils.PushNotification) {
	tokens, err := ns.users.GetDeviceTokens(ctx, []string{userID})
	if err != nil {
		logrus.Warnf("Device token lookup failed for user %s: %v", userID, err)
		return
	}
	token, ok := tokens[userID]
	if !ok {
		return
	}
	if _, err := ns.sender.SendPushToMultipleDevices(ctx, []string{token}, push); err != nil {
		logrus.Warnf("Push to user %s failed: %v", userID, err)
	}
}

func (ns *NotificationService) broadcastAlert(userIDs []string, alert models.WSAlert) {
	message := models.WSMessage{
		Type:      models.WSTypeEmergencyAlert,
		Data:      alert,
		Timestamp: time.Now(),
	}
	for _, id := range userIDs {
		if ns.hub.IsUserOnline(id) {
			ns.hub.SendToUser(id, message)
		}
	}
}

// MockAlertSender logs instead of delivering. Used when Firebase or Twilio
// credentials are not configured.
type MockAlertSender struct{}

func NewMockAlertSender() *MockAlertSender {
	return &MockAlertSender{}
}

func (m *MockAlertSender) SendPushToMultipleDevices(ctx context.Context, deviceTokens []string, notification utils.PushNotification) ([]*utils.NotificationResult, error) {
	logrus.Infof("[mock push] %q to %d devices: %s", notification.Title, len(deviceTokens), notification.Body)
	results := make([]*utils.NotificationResult, len(deviceTokens))
	for i := range results {
		results[i] = &utils.NotificationResult{Success: true}
	}
	return results, nil
}

func (m *MockAlertSender) SendSMS(ctx context.Context, sms utils.SMSMessage) (*utils.NotificationResult, error) {
	logrus.Infof("[mock sms] to %s: %s", sms.To, sms.Message)
	return &utils.NotificationResult{Success: true}, nil
}

// participantIDs returns the reporter plus every volunteer with a response
// record, deduplicated.
func participantIDs(emergency *models.Emergency) []string {
	seen := map[string]bool{emergency.ReporterID.Hex(): true}
	ids := []string{emergency.ReporterID.Hex()}
	for id := range emergency.Responses {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
