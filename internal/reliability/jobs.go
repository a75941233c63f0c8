package reliability

import (
	"context"
	"time"

	"github.com/aristath/darwin/internal/modules/checkpoint"
)

// BackupJob uploads a checkpoint archive and rotates old ones.
type BackupJob struct {
	service       *BackupService
	retentionDays int
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(service *BackupService, retentionDays int) *BackupJob {
	return &BackupJob{service: service, retentionDays: retentionDays}
}

func (j *BackupJob) Name() string { return "checkpoint-backup" }

func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx, j.retentionDays)
}

// CheckpointPruneJob trims the local checkpoint history.
type CheckpointPruneJob struct {
	repo *checkpoint.Repository
	keep int
}

// NewCheckpointPruneJob creates the scheduled local prune job.
func NewCheckpointPruneJob(repo *checkpoint.Repository, keep int) *CheckpointPruneJob {
	return &CheckpointPruneJob{repo: repo, keep: keep}
}

func (j *CheckpointPruneJob) Name() string { return "checkpoint-prune" }

func (j *CheckpointPruneJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return j.repo.Prune(ctx, j.keep)
}
