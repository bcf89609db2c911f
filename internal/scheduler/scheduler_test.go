package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcore/internal/events"
)

type fakeHub struct {
	published []events.Event
}

func (f *fakeHub) Publish(evt events.Event) {
	f.published = append(f.published, evt)
}

type fakePreviews struct {
	deleted int64
	err     error
	cutoff  time.Time
}

func (f *fakePreviews) CleanupExpired(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeCache struct {
	swept int64
	err   error
}

func (f *fakeCache) Sweep() (int64, error) { return f.swept, f.err }

type fakeCheckpointer struct {
	name   string
	err    error
	called bool
}

func (f *fakeCheckpointer) Name() string { return f.name }

func (f *fakeCheckpointer) WALCheckpoint(mode string) error {
	f.called = true
	if mode != "TRUNCATE" {
		return errors.New("unexpected checkpoint mode")
	}
	return f.err
}

type fakeBackup struct {
	enabled bool
	deleted int
	calls   []string
}

func (f *fakeBackup) Enabled() bool { return f.enabled }

func (f *fakeBackup) CreateAndUploadBackup(_ context.Context) error {
	f.calls = append(f.calls, "backup")
	return nil
}

func (f *fakeBackup) RotateOldBackups(_ context.Context, _ int) (int, error) {
	f.calls = append(f.calls, "rotate")
	return f.deleted, nil
}

func TestPreviewCleanupJob_PublishesMaintenanceEvent(t *testing.T) {
	hub := &fakeHub{}
	previews := &fakePreviews{deleted: 4}
	job := NewPreviewCleanupJob(previews, hub, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.WithinDuration(t, time.Now().UTC(), previews.cutoff, time.Minute)

	require.Len(t, hub.published, 1)
	assert.Equal(t, events.MaintenanceRan, hub.published[0].Type)
	assert.Equal(t, "preview_cleanup", hub.published[0].Data["job"])
	assert.Equal(t, int64(4), hub.published[0].Data["affected"])
}

func TestCacheSweepJob_PropagatesError(t *testing.T) {
	hub := &fakeHub{}
	job := NewCacheSweepJob(&fakeCache{err: errors.New("locked")}, hub, zerolog.Nop())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sweep result cache")
	assert.Empty(t, hub.published, "no event on failure")
}

func TestWALCheckpointJob_ContinuesAfterFailure(t *testing.T) {
	hub := &fakeHub{}
	broken := &fakeCheckpointer{name: "core", err: errors.New("busy")}
	healthy := &fakeCheckpointer{name: "cache"}
	job := NewWALCheckpointJob([]Checkpointer{broken, healthy}, hub, zerolog.Nop())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.True(t, healthy.called, "failure on one database must not skip the rest")

	require.Len(t, hub.published, 1)
	assert.Equal(t, int64(1), hub.published[0].Data["affected"])
}

func TestBackupJob_SkipsWhenDisabled(t *testing.T) {
	hub := &fakeHub{}
	backup := &fakeBackup{enabled: false}
	job := NewBackupJob(backup, 30, hub, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, backup.calls)
	assert.Empty(t, hub.published)
}

func TestBackupJob_RunsBackupThenRotation(t *testing.T) {
	hub := &fakeHub{}
	backup := &fakeBackup{enabled: true, deleted: 2}
	job := NewBackupJob(backup, 30, hub, zerolog.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"backup", "rotate"}, backup.calls)

	require.Len(t, hub.published, 1)
	assert.Equal(t, int64(2), hub.published[0].Data["affected"])
}

func TestScheduler_AddJobRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", NewCacheSweepJob(&fakeCache{}, nil, zerolog.Nop()))
	require.Error(t, err)
}

func TestScheduler_RunNowExecutesImmediately(t *testing.T) {
	s := New(zerolog.Nop())
	previews := &fakePreviews{deleted: 1}
	job := NewPreviewCleanupJob(previews, nil, zerolog.Nop())

	require.NoError(t, s.RunNow(context.Background(), job))
	assert.False(t, previews.cutoff.IsZero())
}

func TestRegisterMaintenanceJobs(t *testing.T) {
	s := New(zerolog.Nop())
	err := RegisterMaintenanceJobs(s, Deps{
		Previews:      &fakePreviews{},
		Cache:         &fakeCache{},
		Databases:     []Checkpointer{&fakeCheckpointer{name: "core"}},
		Backup:        &fakeBackup{},
		RetentionDays: 30,
		Hub:           &fakeHub{},
	}, zerolog.Nop())
	require.NoError(t, err)
}
