package services

import (
	"context"
	"fmt"
	"time"

	"resqlink/interfaces"
	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

// EmergencyService owns the incident lifecycle. Every status change is a
// conditional write in the store; this layer sequences those writes, keeps
// the denormalized roster flags in step, and triggers fan-out.
type EmergencyService struct {
	emergencies   interfaces.EmergencyStore
	groups        interfaces.GroupStore
	users         interfaces.UserStore
	notifications *NotificationService
	dispatcher    interfaces.Dispatcher
	tracker       interfaces.LocationTracker
}

func NewEmergencyService(
	emergencies interfaces.EmergencyStore,
	groups interfaces.GroupStore,
	users interfaces.UserStore,
	notifications *NotificationService,
	dispatcher interfaces.Dispatcher,
	tracker interfaces.LocationTracker,
) *EmergencyService {
	return &EmergencyService{
		emergencies:   emergencies,
		groups:        groups,
		users:         users,
		notifications: notifications,
		dispatcher:    dispatcher,
		tracker:       tracker,
	}
}

// CreateEmergency opens a new incident for the reporter. If the reporter
// already has a live incident the existing one is returned instead of
// creating a duplicate. The read-then-create window can still let two
// concurrent reports both land; the cleanup worker resolves the older one.
func (es *EmergencyService) CreateEmergency(ctx context.Context, reporterID string, req models.CreateEmergencyRequest) (*models.Emergency, error) {
	if !utils.IsValidCoordinate(req.Location.Latitude, req.Location.Longitude) {
		return nil, utils.NewBadRequestError("invalid coordinates")
	}

	existing, err := es.emergencies.GetActiveByReporter(ctx, reporterID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logrus.Infof("Reporter %s already has active emergency %s, returning it", reporterID, existing.ID.Hex())
		return existing, nil
	}

	reporter, err := es.users.GetByID(ctx, reporterID)
	if err != nil {
		return nil, err
	}

	emergency := &models.Emergency{
		ReporterID: reporter.ID,
		Status:     models.EmergencyStatusUnverified,
		Message:    req.Message,
		Location:   req.Location,
	}
	if req.GroupID != "" {
		group, err := es.groups.GetByID(ctx, req.GroupID)
		if err != nil {
			return nil, err
		}
		if _, ok := group.Member(reporterID); !ok {
			return nil, utils.NewForbiddenError("not a member of this group")
		}
		emergency.GroupID = group.ID
	}

	if err := es.emergencies.Create(ctx, emergency); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"emergencyId": emergency.ID.Hex(),
		"reporterId":  reporterID,
	}).Info("Emergency created")

	es.setMemberFlag(emergency, reporterID, true)
	es.notifications.NotifyEmergencyCreated(emergency, reporter.FullName())

	return emergency, nil
}

// AcceptEmergency registers a volunteer on the incident. The first acceptor
// moves the incident from unverified to accepted; later volunteers join an
// already-accepted incident without touching its status.
func (es *EmergencyService) AcceptEmergency(ctx context.Context, volunteerID, emergencyID string, req models.AcceptEmergencyRequest) (*models.Emergency, error) {
	if !utils.IsValidCoordinate(req.Location.Latitude, req.Location.Longitude) {
		return nil, utils.NewBadRequestError("invalid coordinates")
	}

	volunteer, err := es.users.GetByID(ctx, volunteerID)
	if err != nil {
		return nil, err
	}

	emergency, err := es.requireRole(ctx, volunteerID, emergencyID, models.RoleVolunteer, models.RoleOrganizer)
	if err != nil {
		return nil, err
	}
	if emergency.ReporterID.Hex() == volunteerID {
		return nil, utils.NewForbiddenError("cannot respond to your own emergency")
	}

	now := time.Now()
	updated, err := es.emergencies.TransitionStatus(ctx, emergencyID, models.EmergencyStatusAccepted, bson.M{
		"acceptedAt": now,
	})
	switch {
	case err == nil:
		emergency = updated
	case utils.IsInvalidTransition(err) && !models.IsTerminalStatus(emergency.Status):
		// Someone else accepted first. Still register this responder.
	default:
		return nil, err
	}

	distance := utils.CalculateDistance(
		req.Location.Latitude, req.Location.Longitude,
		emergency.Location.Latitude, emergency.Location.Longitude,
	)
	response := models.VolunteerResponse{
		VolunteerID:          volunteerID,
		VolunteerName:        volunteer.FullName(),
		Status:               models.ResponseStatusResponding,
		RespondedAt:          now,
		LastUpdated:          now,
		CurrentLocation:      &req.Location,
		EstimatedArrivalTime: utils.EstimateETA(distance),
	}
	if err := es.emergencies.SetResponse(ctx, emergencyID, volunteerID, response); err != nil {
		return nil, err
	}

	es.appendAttendeeNotification(emergencyID, models.AttendeeNotification{
		ID:                utils.GenerateUUID(),
		Timestamp:         now,
		VolunteerID:       volunteerID,
		VolunteerName:     volunteer.FullName(),
		Status:            models.ResponseStatusResponding,
		Message:           fmt.Sprintf("%s is responding, %s", volunteer.FullName(), utils.FormatDistance(distance)),
		VolunteerLocation: &req.Location,
	})
	es.notifications.NotifyVolunteerStatus(emergency, volunteer.FullName(), models.ResponseStatusResponding)

	return es.emergencies.GetByID(ctx, emergencyID)
}

// MarkArrived moves the incident to inProgress when a responder reaches the
// scene.
func (es *EmergencyService) MarkArrived(ctx context.Context, volunteerID, emergencyID string) (*models.Emergency, error) {
	if _, err := es.requireResponder(ctx, volunteerID, emergencyID); err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := es.emergencies.TransitionStatus(ctx, emergencyID, models.EmergencyStatusInProgress, bson.M{
		"arrivedAt": now,
	})
	if err != nil {
		return nil, err
	}

	if err := es.emergencies.UpdateResponseFields(ctx, emergencyID, volunteerID, bson.M{
		"status":      models.ResponseStatusArrived,
		"lastUpdated": now,
	}); err != nil {
		logrus.Warnf("Failed to update response record for %s on %s: %v", volunteerID, emergencyID, err)
	}

	name := responderName(updated, volunteerID)
	es.appendAttendeeNotification(emergencyID, models.AttendeeNotification{
		ID:            utils.GenerateUUID(),
		Timestamp:     now,
		VolunteerID:   volunteerID,
		VolunteerName: name,
		Status:        models.ResponseStatusArrived,
		Message:       name + " has arrived on scene",
	})
	es.notifications.NotifyVolunteerStatus(updated, name, models.ResponseStatusArrived)

	return updated, nil
}

// VerifyEmergency records the on-scene assessment. A real incident becomes
// verified; marking it not real closes it as fake, a terminal state. An
// escalation reason on a real incident escalates it immediately after
// verification.
func (es *EmergencyService) VerifyEmergency(ctx context.Context, volunteerID, emergencyID string, req models.VerifyEmergencyRequest) (*models.Emergency, error) {
	if _, err := es.requireResponder(ctx, volunteerID, emergencyID); err != nil {
		return nil, err
	}

	now := time.Now()
	if !req.IsReal {
		updated, err := es.emergencies.TransitionStatus(ctx, emergencyID, models.EmergencyStatusFake, bson.M{
			"resolvedAt": now,
		})
		if err != nil {
			return nil, err
		}
		es.setMemberFlag(updated, updated.ReporterID.Hex(), false)
		es.tracker.StopTrackingAll(emergencyID)
		logrus.Infof("Emergency %s marked fake by %s", emergencyID, volunteerID)
		return updated, nil
	}

	updated, err := es.emergencies.TransitionStatus(ctx, emergencyID, models.EmergencyStatusVerified, bson.M{
		"verifiedAt": now,
	})
	if err != nil {
		return nil, err
	}

	if err := es.emergencies.UpdateResponseFields(ctx, emergencyID, volunteerID, bson.M{
		"status":      models.ResponseStatusVerified,
		"lastUpdated": now,
	}); err != nil {
		logrus.Warnf("Failed to update response record for %s on %s: %v", volunteerID, emergencyID, err)
	}

	name := responderName(updated, volunteerID)
	es.notifications.NotifyVolunteerStatus(updated, name, models.ResponseStatusVerified)

	if req.EscalationReason != "" {
		return es.EscalateEmergency(ctx, volunteerID, emergencyID, req.EscalationReason)
	}

	// Both sides may already have acknowledged while the incident sat in
	// an earlier status. Verification is the gate that lets the consensus
	// take effect.
	return es.finalizeIfResolved(ctx, updated)
}

// EscalateEmergency raises the incident to escalated and pages organizers
// over SMS.
func (es *EmergencyService) EscalateEmergency(ctx context.Context, userID, emergencyID, reason string) (*models.Emergency, error) {
	emergency, err := es.requireResponder(ctx, userID, emergencyID)
	if err != nil {
		return nil, err
	}

	updated, err := es.emergencies.TransitionStatus(ctx, emergencyID, models.EmergencyStatusEscalated, bson.M{
		"escalationReason": reason,
	})
	if err != nil {
		return nil, err
	}

	reporter, err := es.users.GetByID(ctx, emergency.ReporterID.Hex())
	reporterName := "A member"
	if err == nil {
		reporterName = reporter.FullName()
	}

	logrus.WithFields(logrus.Fields{
		"emergencyId": emergencyID,
		"reason":      reason,
	}).Warn("Emergency escalated")
	es.notifications.NotifyEscalation(updated, reporterName)

	return es.finalizeIfResolved(ctx, updated)
}

// UpdateVolunteerStatus applies a responder's sub-status change. Sub-status
// writes are path-scoped to that responder's record and never move the
// incident's own status.
func (es *EmergencyService) UpdateVolunteerStatus(ctx context.Context, volunteerID, emergencyID string, req models.UpdateVolunteerStatusRequest) error {
	if !models.IsVolunteerResponseStatus(req.Status) {
		return utils.NewBadRequestError("unknown volunteer status: " + req.Status)
	}

	emergency, err := es.requireResponder(ctx, volunteerID, emergencyID)
	if err != nil {
		return err
	}

	now := time.Now()
	fields := bson.M{
		"status":      req.Status,
		"lastUpdated": now,
	}
	if req.Location != nil {
		fields["currentLocation"] = req.Location
	}
	if req.EstimatedArrivalTime != "" {
		fields["estimatedArrivalTime"] = req.EstimatedArrivalTime
	}
	if err := es.emergencies.UpdateResponseFields(ctx, emergencyID, volunteerID, fields); err != nil {
		return err
	}
	if models.EndsTracking(req.Status) {
		es.tracker.StopTracking(volunteerID, emergencyID)
	}

	name := responderName(emergency, volunteerID)
	push := utils.CreateVolunteerStatusNotification(name, req.Status, emergencyID)
	es.appendAttendeeNotification(emergencyID, models.AttendeeNotification{
		ID:                utils.GenerateUUID(),
		Timestamp:         now,
		VolunteerID:       volunteerID,
		VolunteerName:     name,
		Status:            req.Status,
		Message:           push.Body,
		VolunteerLocation: req.Location,
	})
	es.notifications.NotifyVolunteerStatus(emergency, name, req.Status)

	return nil
}

// AttendeeResolve records the reporter's acknowledgement that help arrived.
// Idempotent. The incident closes only once a volunteer has also completed.
func (es *EmergencyService) AttendeeResolve(ctx context.Context, reporterID, emergencyID string, req models.ResolveEmergencyRequest) (*models.Emergency, error) {
	emergency, err := es.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	if emergency.ReporterID.Hex() != reporterID {
		return nil, utils.NewForbiddenError("only the reporter can acknowledge resolution")
	}
	if models.IsTerminalStatus(emergency.Status) {
		return emergency, nil
	}

	updated, err := es.emergencies.SetAttendeeResolution(ctx, emergencyID, req.Notes)
	if err != nil {
		return nil, err
	}

	final, err := es.finalizeIfResolved(ctx, updated)
	if err != nil {
		return nil, err
	}
	if final.Status != models.EmergencyStatusResolved {
		es.notifications.NotifyResolution(final, false, reporterID)
	}
	return final, nil
}

// VolunteerResolve records a responder's completion ack. The first ack
// latches the volunteer side of the consensus permanently.
func (es *EmergencyService) VolunteerResolve(ctx context.Context, volunteerID, emergencyID string, req models.ResolveEmergencyRequest) (*models.Emergency, error) {
	emergency, err := es.requireResponder(ctx, volunteerID, emergencyID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(emergency.Status) {
		return emergency, nil
	}

	updated, err := es.emergencies.SetVolunteerResolution(ctx, emergencyID, volunteerID, req.Notes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := es.emergencies.UpdateResponseFields(ctx, emergencyID, volunteerID, bson.M{
		"status":      models.ResponseStatusCompleted,
		"lastUpdated": now,
	}); err != nil {
		logrus.Warnf("Failed to mark response completed for %s on %s: %v", volunteerID, emergencyID, err)
	}
	es.tracker.StopTracking(volunteerID, emergencyID)

	final, err := es.finalizeIfResolved(ctx, updated)
	if err != nil {
		return nil, err
	}
	if final.Status != models.EmergencyStatusResolved {
		es.notifications.NotifyResolution(final, false, volunteerID)
	}
	return final, nil
}

// CancelEmergency force-resolves the incident from any live status. Only
// the reporter may cancel, and a reason is required.
func (es *EmergencyService) CancelEmergency(ctx context.Context, reporterID, emergencyID string, req models.CancelEmergencyRequest) (*models.Emergency, error) {
	if req.Reason == "" {
		return nil, utils.NewBadRequestError("cancellation reason is required")
	}

	emergency, err := es.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	if emergency.ReporterID.Hex() != reporterID {
		return nil, utils.NewForbiddenError("only the reporter can cancel")
	}

	updated, err := es.emergencies.ForceResolve(ctx, emergencyID, req.Reason)
	if err != nil {
		return nil, err
	}

	reporter, lookupErr := es.users.GetByID(ctx, reporterID)
	reporterName := "The reporter"
	if lookupErr == nil {
		reporterName = reporter.FullName()
	}

	logrus.Infof("Emergency %s cancelled by reporter: %s", emergencyID, req.Reason)
	es.setMemberFlag(updated, reporterID, false)
	es.tracker.StopTrackingAll(emergencyID)
	es.notifications.NotifyCancellation(updated, reporterName, req.Reason)

	return updated, nil
}

// =================== READS ===================

func (es *EmergencyService) GetEmergency(ctx context.Context, emergencyID string) (*models.Emergency, error) {
	return es.emergencies.GetByID(ctx, emergencyID)
}

func (es *EmergencyService) GetActiveForReporter(ctx context.Context, reporterID string) (*models.Emergency, error) {
	return es.emergencies.GetActiveByReporter(ctx, reporterID)
}

func (es *EmergencyService) GetGroupEmergencies(ctx context.Context, userID, groupID string) ([]models.Emergency, error) {
	group, err := es.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, ok := group.Member(userID); !ok {
		return nil, utils.NewForbiddenError("not a member of this group")
	}
	return es.emergencies.GetGroupEmergencies(ctx, groupID)
}

func (es *EmergencyService) GetVolunteerEmergencies(ctx context.Context, volunteerID string) ([]models.Emergency, error) {
	return es.emergencies.GetVolunteerEmergencies(ctx, volunteerID)
}

// =================== INTERNAL ===================

// finalizeIfResolved moves the incident to resolved when both sides of the
// consensus have acknowledged and the status graph permits it. An incident
// still short of verified keeps its latched acks and resolves on a later
// attempt.
func (es *EmergencyService) finalizeIfResolved(ctx context.Context, emergency *models.Emergency) (*models.Emergency, error) {
	if !emergency.Resolution.CanBeFullyResolved() {
		return emergency, nil
	}
	if models.IsTerminalStatus(emergency.Status) {
		return emergency, nil
	}

	now := time.Now()
	resolved, err := es.emergencies.TransitionStatus(ctx, emergency.ID.Hex(), models.EmergencyStatusResolved, bson.M{
		"resolvedAt": now,
	})
	if err != nil {
		if utils.IsInvalidTransition(err) {
			return emergency, nil
		}
		return nil, err
	}

	logrus.Infof("Emergency %s fully resolved", emergency.ID.Hex())
	es.setMemberFlag(resolved, resolved.ReporterID.Hex(), false)
	es.tracker.StopTrackingAll(resolved.ID.Hex())
	es.notifications.NotifyResolution(resolved, true, "")

	return resolved, nil
}

// requireResponder loads the incident and checks the caller has a response
// record on it.
func (es *EmergencyService) requireResponder(ctx context.Context, volunteerID, emergencyID string) (*models.Emergency, error) {
	emergency, err := es.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	if _, ok := emergency.Responses[volunteerID]; !ok {
		return nil, utils.NewForbiddenError("no response record on this emergency")
	}
	return emergency, nil
}

// requireRole loads the incident and, when it belongs to a group, checks
// the caller holds one of the given roles in that group.
func (es *EmergencyService) requireRole(ctx context.Context, userID, emergencyID string, roles ...string) (*models.Emergency, error) {
	emergency, err := es.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}
	if emergency.GroupID.IsZero() {
		return emergency, nil
	}
	group, err := es.groups.GetByID(ctx, emergency.GroupID.Hex())
	if err != nil {
		return nil, err
	}
	member, ok := group.Member(userID)
	if !ok {
		return nil, utils.NewForbiddenError("not a member of this group")
	}
	for _, role := range roles {
		if member.Role == role {
			return emergency, nil
		}
	}
	return nil, utils.NewForbiddenError("role not permitted for this action")
}

// appendAttendeeNotification writes to the incident's append-only log off
// the request path.
func (es *EmergencyService) appendAttendeeNotification(emergencyID string, notification models.AttendeeNotification) {
	es.dispatcher.Submit("append-attendee-notification", func(ctx context.Context) error {
		return es.emergencies.AppendNotification(ctx, emergencyID, notification)
	})
}

// setMemberFlag keeps the group roster's isInEmergency mirror in step,
// best-effort.
func (es *EmergencyService) setMemberFlag(emergency *models.Emergency, userID string, inEmergency bool) {
	if emergency.GroupID.IsZero() {
		return
	}
	groupID := emergency.GroupID.Hex()
	es.dispatcher.Submit("set-member-emergency-flag", func(ctx context.Context) error {
		return es.groups.SetMemberEmergencyFlag(ctx, groupID, userID, inEmergency)
	})
}

func responderName(emergency *models.Emergency, volunteerID string) string {
	if response, ok := emergency.Responses[volunteerID]; ok && response.VolunteerName != "" {
		return response.VolunteerName
	}
	return "A volunteer"
}
