package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorantk/campaigner/internal/client"
	"github.com/lorantk/campaigner/internal/config"
	"github.com/lorantk/campaigner/internal/model"
	"github.com/lorantk/campaigner/internal/repo"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// Dispatcher is the delivery-side engine: the periodic tick that drives
// due campaigns through their lifecycle, plus the manual immediate-send
// and manual report paths.
type Dispatcher struct {
	cfg       config.DeliveryConfig
	campaigns repo.CampaignRepository
	tasks     repo.TaskRepository
	resolver  *Resolver
	sender    *Sender
	reporter  *Reporter
	dial      DialFunc
	locks     *campaignLocks
	clock     func() time.Time
}

func NewDispatcher(
	cfg config.DeliveryConfig,
	campaigns repo.CampaignRepository,
	tasks repo.TaskRepository,
	resolver *Resolver,
	sender *Sender,
	reporter *Reporter,
	dial DialFunc,
) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		campaigns: campaigns,
		tasks:     tasks,
		resolver:  resolver,
		sender:    sender,
		reporter:  reporter,
		dial:      dial,
		locks:     newCampaignLocks(),
		clock:     time.Now,
	}
}

// Tick processes every due campaign once. Called by the delivery
// scheduler.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.TickAt(ctx, d.clock())
}

// TickAt runs one tick against an explicit reference time.
func (d *Dispatcher) TickAt(ctx context.Context, now time.Time) {
	due, err := d.campaigns.Due(ctx, now.UTC())
	if err != nil {
		slog.Error("failed to query due campaigns", "err", err)
		return
	}
	if len(due) == 0 {
		return
	}

	// One connection per tick, shared across every campaign's batch. If
	// it cannot be acquired, nothing is sent this tick.
	m, err := d.dial(ctx)
	if err != nil {
		slog.Error("mail connection unavailable, skipping delivery tick", "err", err)
		return
	}
	defer m.Close()

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		if err := d.processCampaign(ctx, m, &due[i], now); err != nil {
			if errors.Is(err, client.ErrConnection) {
				slog.Error("delivery tick aborted, connection lost", "campaign_id", due[i].ID)
				return
			}
			slog.Error("campaign processing failed", "campaign_id", due[i].ID, "err", err)
		}
	}
}

func (d *Dispatcher) processCampaign(ctx context.Context, m Mailer, campaign *model.Campaign, now time.Time) error {
	unlock := d.locks.lock(campaign.ID)
	defer unlock()

	// First contact: expand the audience, then make the campaign visibly
	// in-progress before any send is attempted.
	if campaign.Status == model.CampaignDraft || campaign.Status == model.CampaignScheduled {
		created, err := d.resolver.Resolve(ctx, campaign.ID)
		if err != nil {
			return fmt.Errorf("resolve audience: %w", err)
		}
		moved, err := d.campaigns.MarkInProgress(ctx, campaign.ID)
		if err != nil {
			return fmt.Errorf("mark in progress: %w", err)
		}
		if moved {
			campaign.Status = model.CampaignInProgress
			slog.Info("campaign started", "campaign_id", campaign.ID, "tasks_created", created)
		}
	}

	batch, err := d.tasks.ListPending(ctx, campaign.ID, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending tasks: %w", err)
	}

	if len(batch) == 0 {
		return d.complete(ctx, m, campaign)
	}

	res := d.sender.SendBatch(ctx, m, campaign, batch)
	slog.Info("campaign batch processed",
		"campaign_id", campaign.ID, "sent", res.Sent, "failed", res.Failed)
	if res.Aborted {
		return fmt.Errorf("send batch: %w", client.ErrConnection)
	}
	return nil
}

func (d *Dispatcher) complete(ctx context.Context, m Mailer, campaign *model.Campaign) error {
	done, err := d.campaigns.MarkCompleted(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !done {
		return nil
	}
	campaign.Status = model.CampaignCompleted
	slog.Info("campaign completed", "campaign_id", campaign.ID)

	// Report failure never rolls the campaign back; the clear flag keeps
	// the report available for a manual trigger.
	if err := d.reporter.SendCompletionReport(ctx, m, campaign); err != nil {
		slog.Error("campaign report failed", "campaign_id", campaign.ID, "err", err)
	}
	return nil
}

// SendNow is the manual trigger: it bypasses the schedule gating,
// resolves the audience, pushes up to the immediate batch bound of
// pending tasks through the shared sender, and always emails a run
// summary. Already-failed tasks stay failed; the scheduled path's
// one-shot semantics are not loosened here.
func (d *Dispatcher) SendNow(ctx context.Context, campaignID int64) (sent, failed int, err error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return 0, 0, err
	}
	if campaign == nil {
		return 0, 0, ErrCampaignNotFound
	}

	unlock := d.locks.lock(campaign.ID)
	defer unlock()

	if _, err := d.resolver.Resolve(ctx, campaign.ID); err != nil {
		return 0, 0, fmt.Errorf("resolve audience: %w", err)
	}
	if moved, err := d.campaigns.MarkInProgress(ctx, campaign.ID); err != nil {
		return 0, 0, err
	} else if moved {
		campaign.Status = model.CampaignInProgress
	}

	m, err := d.dial(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("mail connection unavailable: %w", err)
	}
	defer m.Close()

	batch, err := d.tasks.ListPending(ctx, campaign.ID, d.cfg.ImmediateBatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch pending tasks: %w", err)
	}

	var res BatchResult
	if len(batch) > 0 {
		res = d.sender.SendBatch(ctx, m, campaign, batch)
	}

	if err := d.reporter.SendRunSummary(ctx, m, campaign, len(batch), res.Sent, res.Failed, res.Failures); err != nil {
		slog.Error("run summary failed", "campaign_id", campaign.ID, "err", err)
	}

	if !res.Aborted {
		remaining, err := d.tasks.ListPending(ctx, campaign.ID, 1)
		if err == nil && len(remaining) == 0 {
			if cErr := d.complete(ctx, m, campaign); cErr != nil {
				slog.Error("completion after manual send failed", "campaign_id", campaign.ID, "err", cErr)
			}
		}
	}

	return res.Sent, res.Failed, nil
}

// SendReport is the manual report trigger, used when the one-shot
// completion report could not be delivered.
func (d *Dispatcher) SendReport(ctx context.Context, campaignID int64) error {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return ErrCampaignNotFound
	}

	m, err := d.dial(ctx)
	if err != nil {
		return fmt.Errorf("mail connection unavailable: %w", err)
	}
	defer m.Close()

	return d.reporter.SendCompletionReport(ctx, m, campaign)
}
