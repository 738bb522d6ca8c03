package repo

import (
	"context"
	"time"

	"github.com/lorantk/campaigner/internal/model"
)

type CampaignRepository interface {
	// Due returns campaigns with scheduled_time <= now that are not yet
	// completed, oldest schedule first.
	Due(ctx context.Context, now time.Time) ([]model.Campaign, error)
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	GroupIDs(ctx context.Context, campaignID int64) ([]int64, error)

	// MarkInProgress moves a draft/scheduled campaign to in_progress and
	// reports whether the transition happened. Guarded in SQL so it can
	// never regress a later status.
	MarkInProgress(ctx context.Context, id int64) (bool, error)
	// MarkCompleted moves an in_progress campaign to completed and
	// reports whether the transition happened.
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	// SetReportSent flips the one-shot report flag.
	SetReportSent(ctx context.Context, id int64) error
}

type RecipientRepository interface {
	// ListSubscribed returns subscribed recipients, restricted to the
	// given groups when the slice is non-empty.
	ListSubscribed(ctx context.Context, groupIDs []int64) ([]model.Recipient, error)
}

type TaskRepository interface {
	// CreateIfAbsent inserts a pending task with an email snapshot for
	// the (campaign, recipient) pair and reports whether a row was
	// created. Existing rows are left untouched.
	CreateIfAbsent(ctx context.Context, campaignID, recipientID int64, email string) (bool, error)

	// ListPending returns up to limit pending tasks, FIFO by creation.
	ListPending(ctx context.Context, campaignID int64, limit int) ([]model.RecipientTask, error)
	// ListByCampaign returns every task for the campaign, FIFO by
	// creation. Used by the report generator.
	ListByCampaign(ctx context.Context, campaignID int64) ([]model.RecipientTask, error)

	// MarkSent records a successful delivery. Guarded on pending so a
	// bounce that already failed the task is never reverted.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkFailed records a per-recipient transport failure. Guarded on
	// pending for the same reason.
	MarkFailed(ctx context.Context, id int64, reason string) error

	// FailByEmail marks every task of the campaign whose snapshot
	// matches the address case-insensitively as failed, including
	// already-sent ones (delivery accepted by SMTP, rejected
	// downstream). Returns the number of tasks updated.
	FailByEmail(ctx context.Context, campaignID int64, email, reason string) (int64, error)

	// Stats returns task counts per status for the campaign, with all
	// three statuses present.
	Stats(ctx context.Context, campaignID int64) (map[model.TaskStatus]int, error)
}

type BounceRepository interface {
	Create(ctx context.Context, rec *model.BounceRecord) error
	List(ctx context.Context, limit, offset int) ([]model.BounceRecord, error)
}
