package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/lorantk/campaigner/internal/client"
	"github.com/lorantk/campaigner/internal/model"
	"github.com/lorantk/campaigner/internal/repo"
)

// failureReasonMax bounds the free-text reason stored on a task.
const failureReasonMax = 500

// Mailer is the outbound transport for one tick's worth of sends.
type Mailer interface {
	Send(ctx context.Context, msg model.OutboundEmail) error
	Close() error
}

// DialFunc acquires a Mailer. The dispatcher calls it once per tick and
// shares the connection across every batch in that tick.
type DialFunc func(ctx context.Context) (Mailer, error)

type FailureDetail struct {
	Email  string
	Reason string
}

// BatchResult reports one SendBatch run. Aborted means the connection
// was lost mid-batch; unprocessed tasks were left pending for the next
// tick.
type BatchResult struct {
	Sent     int
	Failed   int
	Aborted  bool
	Failures []FailureDetail
}

// Sender delivers one batch of pending tasks, isolating per-recipient
// failures and persisting each task's new state before moving on.
type Sender struct {
	tasks repo.TaskRepository
	clock func() time.Time
}

func NewSender(tasks repo.TaskRepository) *Sender {
	return &Sender{tasks: tasks, clock: time.Now}
}

func (s *Sender) SendBatch(ctx context.Context, m Mailer, campaign *model.Campaign, batch []model.RecipientTask) BatchResult {
	now := s.clock().UTC()
	var res BatchResult

	for _, task := range batch {
		err := m.Send(ctx, CampaignEmail(campaign, task.EmailSnapshot))
		if err == nil {
			if dbErr := s.tasks.MarkSent(ctx, task.ID, now); dbErr != nil {
				slog.Error("failed to persist sent task",
					"campaign_id", campaign.ID, "task_id", task.ID, "err", dbErr)
			}
			res.Sent++
			continue
		}

		if errors.Is(err, client.ErrConnection) {
			// The connection is gone; everything still pending stays
			// pending and is retried on the next tick.
			slog.Error("send batch aborted, connection lost",
				"campaign_id", campaign.ID, "task_id", task.ID, "err", err)
			res.Aborted = true
			return res
		}

		reason := truncate(err.Error(), failureReasonMax)
		if dbErr := s.tasks.MarkFailed(ctx, task.ID, reason); dbErr != nil {
			slog.Error("failed to persist failed task",
				"campaign_id", campaign.ID, "task_id", task.ID, "err", dbErr)
		}
		res.Failed++
		res.Failures = append(res.Failures, FailureDetail{Email: task.EmailSnapshot, Reason: reason})
	}
	return res
}

// CampaignEmail builds the outgoing message for one recipient. The
// subject carries the correlation token and the raw campaign id rides
// along in a header for redundancy.
func CampaignEmail(campaign *model.Campaign, to string) model.OutboundEmail {
	content := campaign.Content
	if content == "" {
		content = "<p>No content</p>"
	}
	return model.OutboundEmail{
		To:      to,
		Subject: fmt.Sprintf("[CID:%d] %s", campaign.ID, campaign.Subject),
		HTML:    content,
		Headers: map[string]string{
			"X-Campaign-ID": strconv.FormatInt(campaign.ID, 10),
		},
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
