package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcore/internal/events"
)

// Narrow dependency interfaces so jobs can be tested without wiring the full
// engine.

// PreviewStore deletes stale trade previews.
type PreviewStore interface {
	CleanupExpired(cutoff time.Time) (int64, error)
}

// CacheStore sweeps expired analysis results.
type CacheStore interface {
	Sweep() (int64, error)
}

// Checkpointer truncates a database write-ahead log.
type Checkpointer interface {
	Name() string
	WALCheckpoint(mode string) error
}

// BackupRunner creates and rotates off-site backups.
type BackupRunner interface {
	Enabled() bool
	CreateAndUploadBackup(ctx context.Context) error
	RotateOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// Publisher announces completed maintenance on the event stream.
type Publisher interface {
	Publish(evt events.Event)
}

func publishMaintenance(hub Publisher, job string, affected int64) {
	if hub == nil {
		return
	}
	hub.Publish(events.Event{
		Type: events.MaintenanceRan,
		Data: map[string]interface{}{
			"job":      job,
			"affected": affected,
		},
	})
}

// PreviewCleanupJob removes trade previews past their expiry.
type PreviewCleanupJob struct {
	previews PreviewStore
	hub      Publisher
	log      zerolog.Logger
}

func NewPreviewCleanupJob(previews PreviewStore, hub Publisher, log zerolog.Logger) *PreviewCleanupJob {
	return &PreviewCleanupJob{
		previews: previews,
		hub:      hub,
		log:      log.With().Str("component", "preview_cleanup").Logger(),
	}
}

func (j *PreviewCleanupJob) Name() string { return "preview_cleanup" }

func (j *PreviewCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.previews.CleanupExpired(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to clean up expired previews: %w", err)
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Removed expired trade previews")
	}
	publishMaintenance(j.hub, j.Name(), deleted)
	return nil
}

// CacheSweepJob evicts expired entries from the result cache.
type CacheSweepJob struct {
	cache CacheStore
	hub   Publisher
	log   zerolog.Logger
}

func NewCacheSweepJob(cache CacheStore, hub Publisher, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{
		cache: cache,
		hub:   hub,
		log:   log.With().Str("component", "cache_sweep").Logger(),
	}
}

func (j *CacheSweepJob) Name() string { return "cache_sweep" }

func (j *CacheSweepJob) Run(ctx context.Context) error {
	swept, err := j.cache.Sweep()
	if err != nil {
		return fmt.Errorf("failed to sweep result cache: %w", err)
	}
	if swept > 0 {
		j.log.Info().Int64("swept", swept).Msg("Evicted expired cache entries")
	}
	publishMaintenance(j.hub, j.Name(), swept)
	return nil
}

// WALCheckpointJob truncates the write-ahead log of each database so the WAL
// files do not grow without bound.
type WALCheckpointJob struct {
	databases []Checkpointer
	hub       Publisher
	log       zerolog.Logger
}

func NewWALCheckpointJob(databases []Checkpointer, hub Publisher, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		hub:       hub,
		log:       log.With().Str("component", "wal_checkpoint").Logger(),
	}
}

func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

func (j *WALCheckpointJob) Run(ctx context.Context) error {
	var lastErr error
	checkpointed := int64(0)
	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			lastErr = err
			continue
		}
		checkpointed++
	}
	publishMaintenance(j.hub, j.Name(), checkpointed)
	if lastErr != nil {
		return fmt.Errorf("failed to checkpoint all databases: %w", lastErr)
	}
	return nil
}

// BackupJob runs the nightly off-site backup and rotates stale archives.
type BackupJob struct {
	backup        BackupRunner
	retentionDays int
	hub           Publisher
	log           zerolog.Logger
}

func NewBackupJob(backup BackupRunner, retentionDays int, hub Publisher, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		hub:           hub,
		log:           log.With().Str("component", "nightly_backup").Logger(),
	}
}

func (j *BackupJob) Name() string { return "nightly_backup" }

func (j *BackupJob) Run(ctx context.Context) error {
	if j.backup == nil || !j.backup.Enabled() {
		return nil
	}

	if err := j.backup.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	deleted, err := j.backup.RotateOldBackups(ctx, j.retentionDays)
	if err != nil {
		return fmt.Errorf("failed to rotate old backups: %w", err)
	}
	if deleted > 0 {
		j.log.Info().Int("deleted", deleted).Msg("Rotated old backups")
	}
	publishMaintenance(j.hub, j.Name(), int64(deleted))
	return nil
}

// Deps holds everything the standard maintenance schedule touches.
type Deps struct {
	Previews      PreviewStore
	Cache         CacheStore
	Databases     []Checkpointer
	Backup        BackupRunner
	RetentionDays int
	Hub           Publisher
}

// RegisterMaintenanceJobs wires the standard maintenance schedule: preview
// cleanup every five minutes, a cache sweep and a WAL checkpoint every hour,
// and the backup at 3 AM.
func RegisterMaintenanceJobs(s *Scheduler, deps Deps, log zerolog.Logger) error {
	entries := []struct {
		schedule string
		job      Job
	}{
		{"0 */5 * * * *", NewPreviewCleanupJob(deps.Previews, deps.Hub, log)},
		{"0 10 * * * *", NewCacheSweepJob(deps.Cache, deps.Hub, log)},
		{"0 40 * * * *", NewWALCheckpointJob(deps.Databases, deps.Hub, log)},
		{"0 0 3 * * *", NewBackupJob(deps.Backup, deps.RetentionDays, deps.Hub, log)},
	}
	for _, e := range entries {
		if err := s.AddJob(e.schedule, e.job); err != nil {
			return fmt.Errorf("failed to register %s: %w", e.job.Name(), err)
		}
	}
	return nil
}
