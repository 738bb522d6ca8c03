package model

import "time"

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskSent    TaskStatus = "sent"
	TaskFailed  TaskStatus = "failed"
)

// RecipientTask is the per-campaign, per-recipient delivery record.
// EmailSnapshot is taken when the task is created and never updated, so
// later edits to the recipient do not change where a campaign was sent.
type RecipientTask struct {
	ID            int64
	CampaignID    int64
	RecipientID   int64
	EmailSnapshot string
	Status        TaskStatus
	SentAt        *time.Time
	FailureReason string
	CreatedAt     time.Time
}
