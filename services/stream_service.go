package services

import (
	"context"
	"time"

	"resqlink/interfaces"
	"resqlink/models"
	"resqlink/repositories"

	"github.com/sirupsen/logrus"
)

// StreamService tails the emergencies change stream and pushes full
// document snapshots to connected clients. Subscribers always receive the
// whole aggregate, never a delta, so a missed event costs nothing once the
// next write lands.
type StreamService struct {
	emergencies *repositories.EmergencyRepository
	hub         interfaces.WebSocketBroadcaster
}

func NewStreamService(emergencies *repositories.EmergencyRepository, hub interfaces.WebSocketBroadcaster) *StreamService {
	return &StreamService{
		emergencies: emergencies,
		hub:         hub,
	}
}

type emergencyChangeEvent struct {
	OperationType string            `bson:"operationType"`
	FullDocument  *models.Emergency `bson:"fullDocument"`
}

// Run tails the collection until ctx is done, reopening the stream with
// backoff when it drops.
func (ss *StreamService) Run(ctx context.Context) {
	delay := time.Second
	for {
		if err := ss.tail(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Errorf("Emergency change stream dropped: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (ss *StreamService) tail(ctx context.Context) error {
	stream, err := ss.emergencies.WatchAll(ctx)
	if err != nil {
		return err
	}
	defer stream.Close(ctx)

	logrus.Info("Emergency change stream open")

	for stream.Next(ctx) {
		var event emergencyChangeEvent
		if err := stream.Decode(&event); err != nil {
			logrus.Warnf("Failed to decode change event: %v", err)
			continue
		}
		if event.FullDocument == nil {
			continue
		}
		ss.publish(event.FullDocument)
	}

	return stream.Err()
}

// publish fans a snapshot out to the incident's audience: the group room if
// the incident belongs to a group, otherwise the reporter and each engaged
// responder directly.
func (ss *StreamService) publish(emergency *models.Emergency) {
	snapshot := models.WSEmergencySnapshot{
		EmergencyID: emergency.ID.Hex(),
		Snapshot:    emergency,
		Timestamp:   time.Now(),
	}
	message := models.WSMessage{
		Type:      models.WSTypeEmergencySnapshot,
		Data:      snapshot,
		Timestamp: time.Now(),
	}

	if !emergency.GroupID.IsZero() {
		snapshot.GroupID = emergency.GroupID.Hex()
		message.GroupID = snapshot.GroupID
		message.Data = snapshot
		ss.hub.BroadcastToGroup(snapshot.GroupID, message)
		return
	}

	ss.hub.SendToUser(emergency.ReporterID.Hex(), message)
	for volunteerID := range emergency.Responses {
		ss.hub.SendToUser(volunteerID, message)
	}
}
