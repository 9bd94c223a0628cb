package workers

import (
	"context"
	"sync"
	"time"

	"resqlink/models"
	"resqlink/repositories"
	"resqlink/services"
	"resqlink/utils"

	"github.com/sirupsen/logrus"
)

// CleanupWorker runs the periodic maintenance passes: collapsing duplicate
// live emergencies, auto-resolving incidents nobody touched for a day,
// sweeping expired locks, and reconciling roster flags. All of its work is
// idempotent, so overlapping runs across instances are wasteful but safe.
type CleanupWorker struct {
	emergencyRepo *repositories.EmergencyRepository
	lockRepo      *repositories.LockRepository
	locks         *services.LockService
	reconciler    *services.ReconcileService

	config CleanupWorkerConfig
	tasks  []cleanupTask

	isRunning bool
	mutex     sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type CleanupWorkerConfig struct {
	// StaleEmergencyAge is how long an incident may sit untouched in a
	// live status before it is force-resolved.
	StaleEmergencyAge time.Duration

	DuplicateSweepInterval time.Duration
	StaleSweepInterval     time.Duration
	LockSweepInterval      time.Duration
	ReconcileInterval      time.Duration
}

func DefaultCleanupWorkerConfig() CleanupWorkerConfig {
	return CleanupWorkerConfig{
		StaleEmergencyAge:      24 * time.Hour,
		DuplicateSweepInterval: 5 * time.Minute,
		StaleSweepInterval:     time.Hour,
		LockSweepInterval:      time.Hour,
		ReconcileInterval:      15 * time.Minute,
	}
}

type cleanupTask struct {
	name     string
	interval time.Duration
	lastRun  time.Time
	fn       func(ctx context.Context) error
}

func NewCleanupWorker(
	emergencyRepo *repositories.EmergencyRepository,
	lockRepo *repositories.LockRepository,
	locks *services.LockService,
	reconciler *services.ReconcileService,
	config CleanupWorkerConfig,
) *CleanupWorker {
	ctx, cancel := context.WithCancel(context.Background())

	worker := &CleanupWorker{
		emergencyRepo: emergencyRepo,
		lockRepo:      lockRepo,
		locks:         locks,
		reconciler:    reconciler,
		config:        config,
		ctx:           ctx,
		cancel:        cancel,
	}

	worker.tasks = []cleanupTask{
		{name: "duplicate_emergency_sweep", interval: config.DuplicateSweepInterval, fn: worker.sweepDuplicates},
		{name: "stale_emergency_sweep", interval: config.StaleSweepInterval, fn: worker.sweepStale},
		{name: "expired_lock_sweep", interval: config.LockSweepInterval, fn: worker.sweepLocks},
		{name: "roster_reconciliation", interval: config.ReconcileInterval, fn: worker.reconciler.ReconcileAll},
	}

	return worker
}

func (cw *CleanupWorker) Start() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if cw.isRunning {
		return nil
	}
	cw.isRunning = true

	cw.wg.Add(1)
	go cw.taskScheduler()

	logrus.Infof("Cleanup worker started with %d tasks", len(cw.tasks))
	return nil
}

func (cw *CleanupWorker) Stop() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.isRunning {
		return nil
	}
	cw.cancel()
	cw.isRunning = false
	cw.wg.Wait()

	logrus.Info("Cleanup worker stopped")
	return nil
}

func (cw *CleanupWorker) taskScheduler() {
	defer cw.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cw.ctx.Done():
			return
		case <-ticker.C:
			cw.runDueTasks()
		}
	}
}

func (cw *CleanupWorker) runDueTasks() {
	now := time.Now()
	for i := range cw.tasks {
		task := &cw.tasks[i]
		if now.Sub(task.lastRun) < task.interval {
			continue
		}
		task.lastRun = now

		ctx, cancel := context.WithTimeout(cw.ctx, 2*time.Minute)
		if err := task.fn(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"task":  task.name,
				"error": err.Error(),
			}).Error("Cleanup task failed")
		}
		cancel()
	}
}

// sweepDuplicates finds reporters with more than one live incident and
// force-resolves everything except the newest. Duplicates arise from the
// window between the create-time existence check and the insert. The pass
// runs under an advisory lock; when another instance holds it, this one
// skips the cycle.
func (cw *CleanupWorker) sweepDuplicates(ctx context.Context) error {
	owner, err := cw.locks.Acquire(ctx, "cleanup:duplicates")
	if err != nil {
		if utils.IsLockUnavailable(err) {
			return nil
		}
		return err
	}
	defer func() {
		if err := cw.locks.Release(ctx, "cleanup:duplicates", owner); err != nil {
			logrus.Warnf("Failed to release duplicate sweep lock: %v", err)
		}
	}()

	active, err := cw.emergencyRepo.GetAllActive(ctx)
	if err != nil {
		return err
	}

	byReporter := make(map[string][]models.Emergency)
	for _, emergency := range active {
		reporterID := emergency.ReporterID.Hex()
		byReporter[reporterID] = append(byReporter[reporterID], emergency)
	}

	for reporterID, emergencies := range byReporter {
		if len(emergencies) < 2 {
			continue
		}

		newest := emergencies[0]
		for _, emergency := range emergencies[1:] {
			if emergency.CreatedAt.After(newest.CreatedAt) {
				newest = emergency
			}
		}

		for _, emergency := range emergencies {
			if emergency.ID == newest.ID {
				continue
			}
			_, err := cw.emergencyRepo.ForceResolve(ctx, emergency.ID.Hex(), "superseded by a newer emergency from the same reporter")
			if err != nil {
				if utils.IsInvalidTransition(err) {
					continue
				}
				logrus.Warnf("Failed to resolve duplicate emergency %s: %v", emergency.ID.Hex(), err)
				continue
			}
			logrus.WithFields(logrus.Fields{
				"emergencyId": emergency.ID.Hex(),
				"reporterId":  reporterID,
				"keptId":      newest.ID.Hex(),
			}).Info("Resolved duplicate emergency")
		}
	}

	return nil
}

// sweepStale force-resolves live incidents that have not been updated
// within the configured age.
func (cw *CleanupWorker) sweepStale(ctx context.Context) error {
	active, err := cw.emergencyRepo.GetAllActive(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-cw.config.StaleEmergencyAge)
	for _, emergency := range active {
		if emergency.UpdatedAt.After(cutoff) {
			continue
		}
		_, err := cw.emergencyRepo.ForceResolve(ctx, emergency.ID.Hex(), "auto-resolved after prolonged inactivity")
		if err != nil {
			if utils.IsInvalidTransition(err) {
				continue
			}
			logrus.Warnf("Failed to auto-resolve stale emergency %s: %v", emergency.ID.Hex(), err)
			continue
		}
		logrus.Infof("Auto-resolved stale emergency %s (last update %s)", emergency.ID.Hex(), emergency.UpdatedAt.Format(time.RFC3339))
	}

	return nil
}

// sweepLocks removes expired lock documents. The TTL index does this too,
// but Mongo's TTL monitor only runs every 60 seconds and the sweep keeps
// the collection tidy when the monitor lags.
func (cw *CleanupWorker) sweepLocks(ctx context.Context) error {
	deleted, err := cw.lockRepo.DeleteExpired(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logrus.Debugf("Swept %d expired locks", deleted)
	}
	return nil
}
