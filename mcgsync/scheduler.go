package mcgsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/sirupsen/logrus"
)

// Scheduler owns the auto-pull loop: every tick it scans connected MCG
// connections and starts a sync run for each business whose pull window has
// elapsed. At most one run per connection is in flight at a time; a tick that
// lands mid-run is skipped, not queued.
type Scheduler struct {
	mu       sync.Mutex
	inFlight map[uint]bool
	runner   func(ctx context.Context, payload SyncPubSubPayload) error
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		inFlight: make(map[uint]bool),
		runner:   processSyncRun,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	tick := time.Duration(config.McgSchedulerTickSeconds()) * time.Second
	ticker := time.NewTicker(tick)
	config.GetLogger().WithField("tick", tick.String()).Info("mcg auto-pull scheduler started")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				config.GetLogger().Info("mcg auto-pull scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	db := config.GetDB()
	logger := config.GetLogger()

	// the scan spans all businesses, so the tenant guard is bypassed here
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	var connections []models.McgConnection
	if err := db.WithContext(ctx).
		Where("provider = ? AND status = ?", models.McgProvider, models.McgStatusConnected).
		Find(&connections).Error; err != nil {
		logger.WithError(err).Error("mcg scheduler could not list connections")
		return
	}

	now := time.Now()
	for i := range connections {
		conn := connections[i]
		settings := DecodeSettings(conn.SettingsJSON)
		if !autoPullDue(conn, settings, now) {
			continue
		}
		s.launch(ctx, conn, settings)
	}
}

// autoPullDue reports whether the connection's pull window has elapsed. A
// connection that has never synced is due immediately.
func autoPullDue(conn models.McgConnection, settings SyncSettings, now time.Time) bool {
	if !settings.Enabled || !settings.AutoPullEnabled {
		return false
	}
	if conn.LastSyncAt == nil {
		return true
	}
	return now.Sub(*conn.LastSyncAt) >= time.Duration(settings.PullEveryMinutes)*time.Minute
}

func (s *Scheduler) launch(ctx context.Context, conn models.McgConnection, settings SyncSettings) {
	logger := config.GetLogger()

	if !s.tryAcquire(conn.ID) {
		logger.WithField("connection_id", conn.ID).Debug("mcg auto-pull still in flight, skipping")
		return
	}

	// cross-replica gate: whichever instance wins the NX owns this window
	gateKey := fmt.Sprintf("McgAutoPull:%d", conn.ID)
	window := time.Duration(settings.PullEveryMinutes) * time.Minute
	fresh, err := config.SetRedisValueNX(gateKey, "1", window)
	if err == nil && !fresh {
		s.release(conn.ID)
		return
	}

	run := models.McgSyncRun{
		BusinessId:   conn.BusinessId,
		ConnectionId: conn.ID,
		Provider:     models.McgProvider,
		Status:       models.SyncRunStatusQueued,
		TriggeredBy:  models.SyncTriggeredSystem,
	}
	if err := config.GetDB().Create(&run).Error; err != nil {
		logger.WithError(err).Error("mcg scheduler could not create sync run")
		s.release(conn.ID)
		return
	}

	payload := SyncPubSubPayload{RunId: run.ID, BusinessId: conn.BusinessId, ConnectionId: conn.ID}
	go func() {
		defer s.release(conn.ID)
		if err := s.runner(ctx, payload); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"run_id":      run.ID,
				"business_id": conn.BusinessId,
			}).Error("mcg auto-pull run failed")
		}
	}()
}

func (s *Scheduler) tryAcquire(connectionId uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[connectionId] {
		return false
	}
	s.inFlight[connectionId] = true
	return true
}

func (s *Scheduler) release(connectionId uint) {
	s.mu.Lock()
	delete(s.inFlight, connectionId)
	s.mu.Unlock()
}
