package models

// JobType distinguishes backup from restore jobs.
type JobType string

const (
	JobBackup  JobType = "BACKUP"
	JobRestore JobType = "RESTORE"
)

// JobState is the lifecycle of an async job: STARTED then COMPLETED or FAILED.
type JobState string

const (
	JobStarted   JobState = "STARTED"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
)

// Terminal reports whether the job will not change state any more.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BackupRestoreStatus is the handle of an async backup or restore job.
type BackupRestoreStatus struct {
	ID              string        `json:"id"`
	Type            JobType       `json:"type"`
	MigrationType   MigrationType `json:"migrationType,omitempty"`
	Status          JobState      `json:"status"`
	ProgressCurrent int64         `json:"progressCurrent"`
	ProgressTotal   int64         `json:"progressTotal"`
	BackupURL       string        `json:"backupUrl,omitempty"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
}

// RestoreSubmission points a restore job at a backup artifact.
type RestoreSubmission struct {
	BackupURL string `json:"backupUrl"`
}
