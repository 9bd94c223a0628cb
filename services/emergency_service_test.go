package services

import (
	"context"
	"sync"
	"testing"

	"resqlink/models"
	"resqlink/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type emergencyTestEnv struct {
	service     *EmergencyService
	location    *LocationService
	emergencies *fakeEmergencyStore
	groups      *fakeGroupStore
	users       *fakeUserStore
	sender      *recordingSender

	group     *models.Group
	reporter  *models.User
	volunteer *models.User
	backup    *models.User
	organizer *models.User
}

func newEmergencyTestEnv(t *testing.T) *emergencyTestEnv {
	t.Helper()

	env := &emergencyTestEnv{
		emergencies: newFakeEmergencyStore(),
		groups:      newFakeGroupStore(),
		users:       newFakeUserStore(),
		sender:      &recordingSender{},
	}

	env.reporter = newTestUser("Ana", "Reyes", models.RoleAttendee)
	env.volunteer = newTestUser("Ben", "Cole", models.RoleVolunteer)
	env.backup = newTestUser("Cara", "Diaz", models.RoleVolunteer)
	env.organizer = newTestUser("Dan", "Egan", models.RoleOrganizer)
	env.organizer.Phone = "+15550001111"
	for _, user := range []*models.User{env.reporter, env.volunteer, env.backup, env.organizer} {
		env.users.add(user)
	}

	env.group = &models.Group{
		ID:          primitive.NewObjectID(),
		Name:        "Riverside Festival",
		OrganizerID: env.organizer.ID,
		Members: []models.GroupMember{
			{UserID: env.reporter.ID, Role: models.RoleAttendee},
			{UserID: env.volunteer.ID, Role: models.RoleVolunteer},
			{UserID: env.backup.ID, Role: models.RoleVolunteer},
			{UserID: env.organizer.ID, Role: models.RoleOrganizer},
		},
	}
	env.groups.add(env.group)

	notifications := NewNotificationService(env.users, env.groups, env.sender, syncDispatcher{}, nullHub{}, 0)
	env.location = NewLocationService(env.emergencies, env.users, syncDispatcher{}, nullHub{})
	env.service = NewEmergencyService(env.emergencies, env.groups, env.users, notifications, syncDispatcher{}, env.location)

	return env
}

func (env *emergencyTestEnv) trackedCount() int {
	env.location.mu.Lock()
	defer env.location.mu.Unlock()
	return len(env.location.samples)
}

func newTestUser(first, last, role string) *models.User {
	return &models.User{
		ID:          primitive.NewObjectID(),
		FirstName:   first,
		LastName:    last,
		Role:        role,
		IsActive:    true,
		DeviceToken: "token-" + first,
	}
}

func (env *emergencyTestEnv) create(t *testing.T) *models.Emergency {
	t.Helper()
	emergency, err := env.service.CreateEmergency(context.Background(), env.reporter.ID.Hex(), models.CreateEmergencyRequest{
		GroupID:  env.group.ID.Hex(),
		Message:  "need help near the main stage",
		Location: models.GeoPoint{Latitude: 40.0, Longitude: -74.0},
	})
	require.NoError(t, err)
	return emergency
}

func (env *emergencyTestEnv) accept(t *testing.T, volunteerID, emergencyID string) *models.Emergency {
	t.Helper()
	emergency, err := env.service.AcceptEmergency(context.Background(), volunteerID, emergencyID, models.AcceptEmergencyRequest{
		Location: models.GeoPoint{Latitude: 40.001, Longitude: -74.001},
	})
	require.NoError(t, err)
	return emergency
}

func (env *emergencyTestEnv) driveToVerified(t *testing.T) *models.Emergency {
	t.Helper()
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())
	_, err := env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	require.NoError(t, err)
	verified, err := env.service.VerifyEmergency(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.VerifyEmergencyRequest{IsReal: true})
	require.NoError(t, err)
	require.Equal(t, models.EmergencyStatusVerified, verified.Status)
	return verified
}

func TestCreateEmergencyReturnsExistingActive(t *testing.T) {
	env := newEmergencyTestEnv(t)

	first := env.create(t)
	second := env.create(t)

	assert.Equal(t, first.ID, second.ID)

	all, err := env.emergencies.GetAllActiveByReporter(context.Background(), env.reporter.ID.Hex())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateEmergencySetsRosterFlag(t *testing.T) {
	env := newEmergencyTestEnv(t)

	env.create(t)

	group, err := env.groups.GetByID(context.Background(), env.group.ID.Hex())
	require.NoError(t, err)
	member, ok := group.Member(env.reporter.ID.Hex())
	require.True(t, ok)
	assert.True(t, member.IsInEmergency)
}

func TestConcurrentAcceptsRegisterBothVolunteers(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, volunteerID := range []string{env.volunteer.ID.Hex(), env.backup.ID.Hex()} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.service.AcceptEmergency(context.Background(), id, emergency.ID.Hex(), models.AcceptEmergencyRequest{
				Location: models.GeoPoint{Latitude: 40.002, Longitude: -74.002},
			})
		}(i, volunteerID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	current, err := env.emergencies.GetByID(context.Background(), emergency.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusAccepted, current.Status)
	assert.Len(t, current.Responses, 2)
	assert.Contains(t, current.Responses, env.volunteer.ID.Hex())
	assert.Contains(t, current.Responses, env.backup.ID.Hex())
}

func TestReporterCannotAcceptOwnEmergency(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)

	_, err := env.service.AcceptEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.AcceptEmergencyRequest{
		Location: models.GeoPoint{Latitude: 40.0, Longitude: -74.0},
	})
	require.Error(t, err)
	serviceErr, ok := utils.GetServiceError(err)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeForbidden, serviceErr.Code)
}

func TestMarkArrivedRequiresAcceptedStatus(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())

	_, err := env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	require.NoError(t, err)

	// Second arrival attempt finds the incident already in progress.
	_, err = env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	assert.True(t, utils.IsInvalidTransition(err))
}

func TestVerifyFakeIsTerminal(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())
	_, err := env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	require.NoError(t, err)

	faked, err := env.service.VerifyEmergency(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.VerifyEmergencyRequest{IsReal: false})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusFake, faked.Status)

	// Terminal states absorb later transitions.
	_, err = env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	assert.True(t, utils.IsInvalidTransition(err))

	group, err := env.groups.GetByID(context.Background(), env.group.ID.Hex())
	require.NoError(t, err)
	member, _ := group.Member(env.reporter.ID.Hex())
	assert.False(t, member.IsInEmergency)
}

func TestDualResolutionAttendeeFirst(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.driveToVerified(t)

	afterAttendee, err := env.service.AttendeeResolve(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{Notes: "they found me"})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusVerified, afterAttendee.Status)
	assert.True(t, afterAttendee.Resolution.Attendee)

	final, err := env.service.VolunteerResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{Notes: "handed off"})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, final.Status)
	assert.NotNil(t, final.ResolvedAt)
}

func TestDualResolutionVolunteerFirst(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.driveToVerified(t)

	afterVolunteer, err := env.service.VolunteerResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusVerified, afterVolunteer.Status)
	assert.True(t, afterVolunteer.Resolution.HasVolunteerCompleted)

	final, err := env.service.AttendeeResolve(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, final.Status)
}

func TestAcksAreIdempotent(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.driveToVerified(t)

	for i := 0; i < 3; i++ {
		_, err := env.service.AttendeeResolve(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
		require.NoError(t, err)
	}

	final, err := env.service.VolunteerResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, final.Status)

	// Repeating an ack on a closed incident is a no-op.
	again, err := env.service.VolunteerResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, again.Status)
}

func TestAcksBeforeVerificationLatchUntilVerified(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())
	_, err := env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	require.NoError(t, err)

	// Both sides ack while the incident is still inProgress.
	_, err = env.service.AttendeeResolve(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)
	afterAcks, err := env.service.VolunteerResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusInProgress, afterAcks.Status)

	// Verification finds the latched consensus and closes the incident.
	final, err := env.service.VerifyEmergency(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.VerifyEmergencyRequest{IsReal: true})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusResolved, final.Status)
}

func TestOnlyReporterResolvesAttendeeSide(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.driveToVerified(t)

	_, err := env.service.AttendeeResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.Error(t, err)
	serviceErr, ok := utils.GetServiceError(err)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeForbidden, serviceErr.Code)
}

func TestCancelFromAnyActiveStatus(t *testing.T) {
	env := newEmergencyTestEnv(t)

	for _, drive := range []func() *models.Emergency{
		func() *models.Emergency { return env.create(t) },
		func() *models.Emergency {
			e := env.create(t)
			return env.accept(t, env.volunteer.ID.Hex(), e.ID.Hex())
		},
	} {
		emergency := drive()
		cancelled, err := env.service.CancelEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.CancelEmergencyRequest{Reason: "false alarm"})
		require.NoError(t, err)
		assert.Equal(t, models.EmergencyStatusResolved, cancelled.Status)
		assert.Equal(t, "false alarm", cancelled.CancellationReason)
	}
}

func TestCancellationSkipsWithdrawnVolunteers(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())
	env.accept(t, env.backup.ID.Hex(), emergency.ID.Hex())

	err := env.service.UpdateVolunteerStatus(context.Background(), env.backup.ID.Hex(), emergency.ID.Hex(), models.UpdateVolunteerStatusRequest{
		Status: models.ResponseStatusUnavailable,
	})
	require.NoError(t, err)

	_, err = env.service.CancelEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.CancelEmergencyRequest{Reason: "found my group"})
	require.NoError(t, err)

	var engaged, withdrawn bool
	for _, push := range env.sender.pushesTo(env.volunteer.DeviceToken) {
		if push.Title == "Emergency Cancelled" {
			engaged = true
		}
	}
	for _, push := range env.sender.pushesTo(env.backup.DeviceToken) {
		if push.Title == "Emergency Cancelled" {
			withdrawn = true
		}
	}
	assert.True(t, engaged, "engaged volunteer must hear about the cancellation")
	assert.False(t, withdrawn, "withdrawn volunteer must not be alerted")
}

func TestOneSidedAckConfirmsOnlyTheOtherParty(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.driveToVerified(t)

	_, err := env.service.VolunteerResolve(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.ResolveEmergencyRequest{})
	require.NoError(t, err)

	const confirmTitle = "Please Confirm Resolution"
	var reporterAsked, ackerAsked bool
	for _, push := range env.sender.pushesTo(env.reporter.DeviceToken) {
		if push.Title == confirmTitle {
			reporterAsked = true
		}
	}
	for _, push := range env.sender.pushesTo(env.volunteer.DeviceToken) {
		if push.Title == confirmTitle {
			ackerAsked = true
		}
	}
	assert.True(t, reporterAsked, "the non-acknowledging party gets the confirmation request")
	assert.False(t, ackerAsked, "the acking party must not be asked to confirm")
}

func TestCompletedStatusTearsDownTracking(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())

	require.NoError(t, env.location.RecordVolunteerLocation(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.VolunteerLocationUpdate{
		Location: models.GeoPoint{Latitude: 40.01, Longitude: -74.01},
	}))
	require.Equal(t, 1, env.trackedCount())

	err := env.service.UpdateVolunteerStatus(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.UpdateVolunteerStatusRequest{
		Status: models.ResponseStatusCompleted,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, env.trackedCount(), "throttle state must be torn down when the responder completes")
}

func TestCancelTearsDownAllTracking(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())
	env.accept(t, env.backup.ID.Hex(), emergency.ID.Hex())

	for _, id := range []string{env.volunteer.ID.Hex(), env.backup.ID.Hex()} {
		require.NoError(t, env.location.RecordVolunteerLocation(context.Background(), id, emergency.ID.Hex(), models.VolunteerLocationUpdate{
			Location: models.GeoPoint{Latitude: 40.01, Longitude: -74.01},
		}))
	}
	require.Equal(t, 2, env.trackedCount())

	_, err := env.service.CancelEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.CancelEmergencyRequest{Reason: "false alarm"})
	require.NoError(t, err)

	assert.Equal(t, 0, env.trackedCount(), "cancellation must drop tracking for every responder")
}

func TestCancelRequiresReason(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)

	_, err := env.service.CancelEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.CancelEmergencyRequest{})
	require.Error(t, err)
}

func TestCancelTwiceFails(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)

	_, err := env.service.CancelEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.CancelEmergencyRequest{Reason: "sorted out"})
	require.NoError(t, err)

	_, err = env.service.CancelEmergency(context.Background(), env.reporter.ID.Hex(), emergency.ID.Hex(), models.CancelEmergencyRequest{Reason: "again"})
	assert.True(t, utils.IsInvalidTransition(err))
}

func TestEscalationPagesOrganizersBySMS(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())
	_, err := env.service.MarkArrived(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex())
	require.NoError(t, err)

	escalated, err := env.service.VerifyEmergency(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.VerifyEmergencyRequest{
		IsReal:           true,
		EscalationReason: "medical attention needed",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyStatusEscalated, escalated.Status)
	assert.Equal(t, "medical attention needed", escalated.EscalationReason)
	assert.Equal(t, 1, env.sender.smsCount())
}

func TestUpdateVolunteerStatusRejectsUnknownStatus(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())

	err := env.service.UpdateVolunteerStatus(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.UpdateVolunteerStatusRequest{Status: "teleporting"})
	require.Error(t, err)
}

func TestUpdateVolunteerStatusAppendsAttendeeNotification(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())

	err := env.service.UpdateVolunteerStatus(context.Background(), env.volunteer.ID.Hex(), emergency.ID.Hex(), models.UpdateVolunteerStatusRequest{
		Status: models.ResponseStatusEnRoute,
	})
	require.NoError(t, err)

	current, err := env.emergencies.GetByID(context.Background(), emergency.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.ResponseStatusEnRoute, current.Responses[env.volunteer.ID.Hex()].Status)

	var found bool
	for _, n := range current.Notifications {
		if n.Status == models.ResponseStatusEnRoute {
			found = true
		}
	}
	assert.True(t, found, "expected an en-route entry in the notification log")
}

func TestNonResponderCannotDriveLifecycle(t *testing.T) {
	env := newEmergencyTestEnv(t)
	emergency := env.create(t)
	env.accept(t, env.volunteer.ID.Hex(), emergency.ID.Hex())

	_, err := env.service.MarkArrived(context.Background(), env.backup.ID.Hex(), emergency.ID.Hex())
	require.Error(t, err)
	serviceErr, ok := utils.GetServiceError(err)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeForbidden, serviceErr.Code)
}
