package bounce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/jhillyerd/enmime"

	"github.com/lorantk/campaigner/internal/cache"
	"github.com/lorantk/campaigner/internal/model"
)

// The correlator only needs a narrow slice of the repositories.
type CampaignLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
}

type TaskFailer interface {
	FailByEmail(ctx context.Context, campaignID int64, email, reason string) (int64, error)
}

type BounceAppender interface {
	Create(ctx context.Context, rec *model.BounceRecord) error
}

const (
	// failureReasonMax bounds the reason stored on a recipient task,
	// bounceReasonMax the fuller text kept on the audit record.
	failureReasonMax = 500
	bounceReasonMax  = 2000
)

// Correlator attributes a bounce message back to its campaign and
// recipient tasks. It must tolerate duplicates: the scan is
// at-least-once, and marking a task failed twice is a no-op.
type Correlator struct {
	campaigns CampaignLookup
	tasks     TaskFailer
	bounces   BounceAppender
	processed cache.BounceCache // optional, may be nil
	selfAddr  string
}

func NewCorrelator(
	campaigns CampaignLookup,
	tasks TaskFailer,
	bounces BounceAppender,
	processed cache.BounceCache,
	selfAddr string,
) *Correlator {
	return &Correlator{
		campaigns: campaigns,
		tasks:     tasks,
		bounces:   bounces,
		processed: processed,
		selfAddr:  selfAddr,
	}
}

// Process parses one raw bounce message and applies it. Unattributable
// messages are skipped with a log line; only infrastructure failures
// (parse, database) surface as errors, and the scan treats even those as
// per-message.
func (c *Correlator) Process(ctx context.Context, raw io.Reader) error {
	env, err := enmime.ReadEnvelope(raw)
	if err != nil {
		return fmt.Errorf("parse bounce message: %w", err)
	}

	messageID := env.GetHeader("Message-ID")
	if c.processed != nil && messageID != "" {
		seen, err := c.processed.IsProcessed(ctx, messageID)
		if err != nil {
			slog.Warn("bounce cache unavailable", "err", err)
		} else if seen {
			slog.Debug("bounce already processed", "message_id", messageID)
			return nil
		}
	}

	origSubject := OriginalSubject(env)
	campaignID, ok := ExtractCampaignID(origSubject)
	if !ok {
		slog.Info("bounce without correlation token, skipping", "subject", origSubject)
		return nil
	}

	failedAddr := FinalRecipient(env, c.selfAddr)
	if failedAddr == "" {
		slog.Info("bounce without recoverable recipient, skipping", "campaign_id", campaignID)
		return nil
	}

	reason := env.GetHeader("Subject")
	if reason == "" {
		reason = "Delivery failed"
	}

	campaign, err := c.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	if campaign == nil {
		slog.Info("bounce references unknown campaign, skipping",
			"campaign_id", campaignID, "email", failedAddr)
		return nil
	}

	matched, err := c.tasks.FailByEmail(ctx, campaignID, failedAddr, truncate(reason, failureReasonMax))
	if err != nil {
		return fmt.Errorf("mark tasks failed: %w", err)
	}
	if matched == 0 {
		slog.Info("no recipient task matched bounce",
			"campaign_id", campaignID, "email", failedAddr)
	}

	// One audit row per bounce message, whatever the match count.
	rec := &model.BounceRecord{
		CampaignID:     campaignID,
		RecipientEmail: failedAddr,
		Reason:         truncate(reason, bounceReasonMax),
		MessageID:      messageID,
	}
	if err := c.bounces.Create(ctx, rec); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}

	if c.processed != nil {
		if err := c.processed.MarkProcessed(ctx, messageID); err != nil {
			slog.Warn("failed to mark bounce processed in cache", "err", err)
		}
	}

	slog.Info("bounce correlated",
		"campaign_id", campaignID, "email", failedAddr, "tasks_failed", matched)
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
