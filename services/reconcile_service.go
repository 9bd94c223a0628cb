package services

import (
	"context"

	"resqlink/interfaces"
	"resqlink/models"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
)

// ReconcileService repairs drift between group rosters and the live
// emergencies collection. The isInEmergency flag on a roster entry is
// written best-effort on each transition, so crashes and lost dispatches
// leave stale flags behind. Reconciliation recomputes the truth from the
// emergencies collection.
type ReconcileService struct {
	emergencies interfaces.EmergencyStore
	groups      interfaces.GroupStore
	locks       *LockService
}

func NewReconcileService(emergencies interfaces.EmergencyStore, groups interfaces.GroupStore, locks *LockService) *ReconcileService {
	return &ReconcileService{
		emergencies: emergencies,
		groups:      groups,
		locks:       locks,
	}
}

// ReconcileAll walks every group. Per-group work runs under an advisory
// lock so overlapping runs from multiple instances don't fight over the
// same roster.
func (rs *ReconcileService) ReconcileAll(ctx context.Context) error {
	groups, err := rs.groups.GetAllGroups(ctx)
	if err != nil {
		return err
	}

	var repaired int
	for _, group := range groups {
		groupID := group.ID.Hex()
		err := rs.locks.RunExclusive(ctx, "group:"+groupID, func(ctx context.Context) error {
			n, err := rs.reconcileGroup(ctx, &group)
			repaired += n
			return err
		})
		if err != nil {
			if utils.IsLockUnavailable(err) {
				continue
			}
			logrus.Errorf("Reconciliation failed for group %s: %v", groupID, err)
		}
	}

	if repaired > 0 {
		logrus.Infof("Reconciliation repaired %d roster flags", repaired)
	}
	return nil
}

// ReconcileGroup reconciles one group under its advisory lock.
func (rs *ReconcileService) ReconcileGroup(ctx context.Context, groupID string) error {
	return rs.locks.RunExclusive(ctx, "group:"+groupID, func(ctx context.Context) error {
		group, err := rs.groups.GetByID(ctx, groupID)
		if err != nil {
			return err
		}
		_, err = rs.reconcileGroup(ctx, group)
		return err
	})
}

func (rs *ReconcileService) reconcileGroup(ctx context.Context, group *models.Group) (int, error) {
	emergencies, err := rs.emergencies.GetGroupEmergencies(ctx, group.ID.Hex())
	if err != nil {
		return 0, err
	}

	inEmergency := make(map[string]bool)
	for _, emergency := range emergencies {
		if models.IsTerminalStatus(emergency.Status) {
			continue
		}
		inEmergency[emergency.ReporterID.Hex()] = true
	}

	var repaired int
	for _, member := range group.Members {
		memberID := member.UserID.Hex()
		want := inEmergency[memberID]
		if member.IsInEmergency == want {
			continue
		}
		if err := rs.groups.SetMemberEmergencyFlag(ctx, group.ID.Hex(), memberID, want); err != nil {
			logrus.Warnf("Failed to repair flag for %s in group %s: %v", memberID, group.ID.Hex(), err)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"groupId": group.ID.Hex(),
			"userId":  memberID,
			"flag":    want,
		}).Info("Repaired stale roster flag")
		repaired++
	}

	return repaired, nil
}
