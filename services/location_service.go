package services

import (
	"context"
	"sync"
	"time"

	"resqlink/interfaces"
	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
)

const (
	// MinSampleInterval drops samples arriving faster than the client's
	// expected 3-5 second cadence.
	MinSampleInterval = 3 * time.Second

	// MinDisplacementM drops samples that haven't moved meaningfully. GPS
	// jitter at rest is typically a few meters.
	MinDisplacementM = 3.0
)

type trackingKey struct {
	emergencyID string
	volunteerID string
}

type lastSample struct {
	point models.GeoPoint
	at    time.Time
}

// LocationService ingests responder position samples during an active
// incident. The throttle gate runs in memory: it is a bandwidth control,
// not a correctness guarantee, so losing it on restart is fine.
type LocationService struct {
	emergencies interfaces.EmergencyStore
	users       interfaces.UserStore
	dispatcher  interfaces.Dispatcher
	hub         interfaces.WebSocketBroadcaster

	mu      sync.Mutex
	samples map[trackingKey]lastSample
}

func NewLocationService(
	emergencies interfaces.EmergencyStore,
	users interfaces.UserStore,
	dispatcher interfaces.Dispatcher,
	hub interfaces.WebSocketBroadcaster,
) *LocationService {
	return &LocationService{
		emergencies: emergencies,
		users:       users,
		dispatcher:  dispatcher,
		hub:         hub,
		samples:     make(map[trackingKey]lastSample),
	}
}

// RecordVolunteerLocation handles one position sample from a responder en
// route. Accepted samples update the responder's route trail, recomputed
// ETA, and the user's last known location. Throttled samples return nil
// without writing anything.
func (ls *LocationService) RecordVolunteerLocation(ctx context.Context, volunteerID, emergencyID string, update models.VolunteerLocationUpdate) error {
	if !utils.IsValidCoordinate(update.Location.Latitude, update.Location.Longitude) {
		return utils.NewBadRequestError("invalid coordinates")
	}

	emergency, err := ls.emergencies.GetByID(ctx, emergencyID)
	if err != nil {
		return err
	}
	response, ok := emergency.Responses[volunteerID]
	if !ok {
		return utils.NewForbiddenError("no response record on this emergency")
	}
	if models.IsTerminalStatus(emergency.Status) || models.EndsTracking(response.Status) {
		ls.StopTracking(volunteerID, emergencyID)
		return nil
	}

	if !ls.admit(trackingKey{emergencyID, volunteerID}, update.Location) {
		return nil
	}

	distance := utils.CalculateDistance(
		update.Location.Latitude, update.Location.Longitude,
		emergency.Location.Latitude, emergency.Location.Longitude,
	)
	eta := utils.EstimateETA(distance)
	point := update.Location

	ls.dispatcher.Submit("append-route-point", func(ctx context.Context) error {
		return ls.emergencies.AppendRoutePoint(ctx, emergencyID, volunteerID, point, eta)
	})
	ls.dispatcher.Submit("mirror-user-location", func(ctx context.Context) error {
		return ls.users.UpdateLastKnownLocation(ctx, volunteerID, point)
	})

	if !emergency.GroupID.IsZero() {
		ls.hub.BroadcastToGroup(emergency.GroupID.Hex(), models.WSMessage{
			Type:    models.WSTypeLocationUpdate,
			UserID:  volunteerID,
			GroupID: emergency.GroupID.Hex(),
			Data: map[string]interface{}{
				"emergencyId":          emergencyID,
				"location":             point,
				"estimatedArrivalTime": eta,
			},
			Timestamp: time.Now(),
		})
	}

	return nil
}

// UpdateUserLocation records a position sample outside any incident. This
// feeds the fan-out radius check.
func (ls *LocationService) UpdateUserLocation(ctx context.Context, userID string, location models.GeoPoint) error {
	if !utils.IsValidCoordinate(location.Latitude, location.Longitude) {
		return utils.NewBadRequestError("invalid coordinates")
	}
	return ls.users.UpdateLastKnownLocation(ctx, userID, location)
}

// StopTracking drops the throttle state for one responder on one incident.
// Called when a responder completes, cancels, or the incident closes.
func (ls *LocationService) StopTracking(volunteerID, emergencyID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.samples, trackingKey{emergencyID, volunteerID})
}

// StopTrackingAll drops throttle state for every responder on an incident.
func (ls *LocationService) StopTrackingAll(emergencyID string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for key := range ls.samples {
		if key.emergencyID == emergencyID {
			delete(ls.samples, key)
		}
	}
}

// admit applies the time and displacement gates and, when the sample
// passes, records it as the new reference point.
func (ls *LocationService) admit(key trackingKey, point models.GeoPoint) bool {
	now := time.Now()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	previous, seen := ls.samples[key]
	if seen {
		if now.Sub(previous.at) < MinSampleInterval {
			return false
		}
		moved := utils.CalculateDistance(
			previous.point.Latitude, previous.point.Longitude,
			point.Latitude, point.Longitude,
		)
		if moved < MinDisplacementM {
			logrus.Debugf("Dropping stationary sample for %s on %s (moved %.1fm)", key.volunteerID, key.emergencyID, moved)
			return false
		}
	}

	ls.samples[key] = lastSample{point: point, at: now}
	return true
}
