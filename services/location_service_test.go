package services

import (
	"context"
	"testing"
	"time"

	"resqlink/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newLocationTestEnv(t *testing.T) (*LocationService, *fakeEmergencyStore, *models.Emergency, string) {
	t.Helper()

	emergencies := newFakeEmergencyStore()
	users := newFakeUserStore()

	volunteer := newTestUser("Ben", "Cole", models.RoleVolunteer)
	users.add(volunteer)
	volunteerID := volunteer.ID.Hex()

	emergency := &models.Emergency{
		ReporterID: primitive.NewObjectID(),
		Status:     models.EmergencyStatusAccepted,
		Location:   models.GeoPoint{Latitude: 40.0, Longitude: -74.0},
		Responses: map[string]models.VolunteerResponse{
			volunteerID: {
				VolunteerID: volunteerID,
				Status:      models.ResponseStatusEnRoute,
			},
		},
	}
	require.NoError(t, emergencies.Create(context.Background(), emergency))

	service := NewLocationService(emergencies, users, syncDispatcher{}, nullHub{})
	return service, emergencies, emergency, volunteerID
}

func TestLocationSampleAppendsRoutePoint(t *testing.T) {
	service, emergencies, emergency, volunteerID := newLocationTestEnv(t)

	err := service.RecordVolunteerLocation(context.Background(), volunteerID, emergency.ID.Hex(), models.VolunteerLocationUpdate{
		Location: models.GeoPoint{Latitude: 40.01, Longitude: -74.01},
	})
	require.NoError(t, err)

	current, err := emergencies.GetByID(context.Background(), emergency.ID.Hex())
	require.NoError(t, err)
	response := current.Responses[volunteerID]
	require.Len(t, response.RoutePoints, 1)
	assert.NotNil(t, response.CurrentLocation)
	assert.NotEmpty(t, response.EstimatedArrivalTime)
}

func TestLocationThrottleDropsRapidSamples(t *testing.T) {
	service, emergencies, emergency, volunteerID := newLocationTestEnv(t)
	ctx := context.Background()

	// First sample passes, the immediate follow-up is inside the minimum
	// interval and gets dropped even though it moved.
	require.NoError(t, service.RecordVolunteerLocation(ctx, volunteerID, emergency.ID.Hex(), models.VolunteerLocationUpdate{
		Location: models.GeoPoint{Latitude: 40.01, Longitude: -74.01},
	}))
	require.NoError(t, service.RecordVolunteerLocation(ctx, volunteerID, emergency.ID.Hex(), models.VolunteerLocationUpdate{
		Location: models.GeoPoint{Latitude: 40.02, Longitude: -74.02},
	}))

	current, err := emergencies.GetByID(ctx, emergency.ID.Hex())
	require.NoError(t, err)
	assert.Len(t, current.Responses[volunteerID].RoutePoints, 1)
}

func TestLocationThrottleDropsStationarySamples(t *testing.T) {
	service, _, emergency, volunteerID := newLocationTestEnv(t)

	point := models.GeoPoint{Latitude: 40.01, Longitude: -74.01}
	assert.True(t, service.admit(trackingKey{emergency.ID.Hex(), volunteerID}, point))

	// Simulate the interval passing without meaningful movement.
	key := trackingKey{emergency.ID.Hex(), volunteerID}
	service.mu.Lock()
	sample := service.samples[key]
	sample.at = time.Now().Add(-2 * MinSampleInterval)
	service.samples[key] = sample
	service.mu.Unlock()

	nudged := models.GeoPoint{Latitude: 40.010001, Longitude: -74.010001}
	assert.False(t, service.admit(key, nudged))

	// A real displacement passes.
	moved := models.GeoPoint{Latitude: 40.011, Longitude: -74.011}
	service.mu.Lock()
	sample = service.samples[key]
	sample.at = time.Now().Add(-2 * MinSampleInterval)
	service.samples[key] = sample
	service.mu.Unlock()
	assert.True(t, service.admit(key, moved))
}

func TestLocationSamplesStopAfterCompletion(t *testing.T) {
	service, emergencies, emergency, volunteerID := newLocationTestEnv(t)
	ctx := context.Background()

	require.NoError(t, emergencies.UpdateResponseFields(ctx, emergency.ID.Hex(), volunteerID, bson.M{
		"status": models.ResponseStatusCompleted,
	}))

	err := service.RecordVolunteerLocation(ctx, volunteerID, emergency.ID.Hex(), models.VolunteerLocationUpdate{
		Location: models.GeoPoint{Latitude: 40.01, Longitude: -74.01},
	})
	require.NoError(t, err)

	current, err := emergencies.GetByID(ctx, emergency.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, current.Responses[volunteerID].RoutePoints)
}

func TestLocationSamplesFromStrangerRejected(t *testing.T) {
	service, _, emergency, _ := newLocationTestEnv(t)

	err := service.RecordVolunteerLocation(context.Background(), primitive.NewObjectID().Hex(), emergency.ID.Hex(), models.VolunteerLocationUpdate{
		Location: models.GeoPoint{Latitude: 40.01, Longitude: -74.01},
	})
	require.Error(t, err)
}
