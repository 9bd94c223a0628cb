package services

import (
	"context"
	"testing"

	"resqlink/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestReconcileClearsStaleFlag(t *testing.T) {
	emergencies := newFakeEmergencyStore()
	groups := newFakeGroupStore()
	locks := NewLockService(newFakeLockStore())
	service := NewReconcileService(emergencies, groups, locks)

	member := primitive.NewObjectID()
	group := &models.Group{
		ID:   primitive.NewObjectID(),
		Name: "Harbor Run",
		Members: []models.GroupMember{
			// Flagged but with no live emergency behind it.
			{UserID: member, Role: models.RoleAttendee, IsInEmergency: true},
		},
	}
	groups.add(group)

	require.NoError(t, service.ReconcileAll(context.Background()))

	repaired, err := groups.GetByID(context.Background(), group.ID.Hex())
	require.NoError(t, err)
	got, _ := repaired.Member(member.Hex())
	assert.False(t, got.IsInEmergency)
}

func TestReconcileSetsMissingFlag(t *testing.T) {
	emergencies := newFakeEmergencyStore()
	groups := newFakeGroupStore()
	locks := NewLockService(newFakeLockStore())
	service := NewReconcileService(emergencies, groups, locks)

	member := primitive.NewObjectID()
	group := &models.Group{
		ID:   primitive.NewObjectID(),
		Name: "Harbor Run",
		Members: []models.GroupMember{
			{UserID: member, Role: models.RoleAttendee, IsInEmergency: false},
		},
	}
	groups.add(group)

	require.NoError(t, emergencies.Create(context.Background(), &models.Emergency{
		ReporterID: member,
		GroupID:    group.ID,
		Status:     models.EmergencyStatusUnverified,
		Location:   models.GeoPoint{Latitude: 40, Longitude: -74},
	}))

	require.NoError(t, service.ReconcileGroup(context.Background(), group.ID.Hex()))

	repaired, err := groups.GetByID(context.Background(), group.ID.Hex())
	require.NoError(t, err)
	got, _ := repaired.Member(member.Hex())
	assert.True(t, got.IsInEmergency)
}

func TestReconcileLeavesTerminalEmergenciesOut(t *testing.T) {
	emergencies := newFakeEmergencyStore()
	groups := newFakeGroupStore()
	locks := NewLockService(newFakeLockStore())
	service := NewReconcileService(emergencies, groups, locks)

	member := primitive.NewObjectID()
	group := &models.Group{
		ID:   primitive.NewObjectID(),
		Name: "Harbor Run",
		Members: []models.GroupMember{
			{UserID: member, Role: models.RoleAttendee, IsInEmergency: true},
		},
	}
	groups.add(group)

	emergency := &models.Emergency{
		ReporterID: member,
		GroupID:    group.ID,
		Status:     models.EmergencyStatusUnverified,
		Location:   models.GeoPoint{Latitude: 40, Longitude: -74},
	}
	require.NoError(t, emergencies.Create(context.Background(), emergency))
	_, err := emergencies.ForceResolve(context.Background(), emergency.ID.Hex(), "stood down")
	require.NoError(t, err)

	require.NoError(t, service.ReconcileAll(context.Background()))

	repaired, err := groups.GetByID(context.Background(), group.ID.Hex())
	require.NoError(t, err)
	got, _ := repaired.Member(member.Hex())
	assert.False(t, got.IsInEmergency)
}
