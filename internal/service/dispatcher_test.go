package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorantk/campaigner/internal/client"
	"github.com/lorantk/campaigner/internal/config"
	"github.com/lorantk/campaigner/internal/model"
	"github.com/lorantk/campaigner/internal/service"
)

func newTestDispatcher(store *memStore, dial service.DialFunc, admin string) *service.Dispatcher {
	cfg := config.DeliveryConfig{
		Interval:           time.Minute,
		BatchSize:          2,
		ImmediateBatchSize: 10,
	}
	resolver := service.NewResolver(store, store, store)
	sender := service.NewSender(store)
	reporter := service.NewReporter(store, store, admin)
	return service.NewDispatcher(cfg, store, store, resolver, sender, reporter, dial)
}

func subscribed(emails ...string) []model.Recipient {
	out := make([]model.Recipient, 0, len(emails))
	for i, addr := range emails {
		out = append(out, model.Recipient{
			ID:                 int64(i + 1),
			Email:              addr,
			SubscriptionStatus: model.Subscribed,
		})
	}
	return out
}

func TestTick_DrainsCampaignAcrossTicks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "spring", Subject: "Hello",
		ScheduledTime: now.Add(-time.Minute),
		Status:        model.CampaignScheduled,
	})
	store.audience = subscribed("a@example.com", "b@example.com", "c@example.com")

	mailer := &fakeMailer{}
	var dials atomic.Int64
	dial := func(ctx context.Context) (service.Mailer, error) {
		dials.Add(1)
		return mailer, nil
	}
	d := newTestDispatcher(store, dial, "ops@example.com")
	ctx := context.Background()

	// First tick: audience resolved, campaign claimed, one batch out.
	d.TickAt(ctx, now)
	if got := store.campaign(1).Status; got != model.CampaignInProgress {
		t.Fatalf("after tick 1: expected in_progress, got %s", got)
	}
	if got := len(mailer.messages()); got != 2 {
		t.Fatalf("after tick 1: expected 2 emails, got %d", got)
	}

	// Second tick: remaining task goes out.
	d.TickAt(ctx, now.Add(time.Minute))
	if got := len(mailer.messages()); got != 3 {
		t.Fatalf("after tick 2: expected 3 emails, got %d", got)
	}

	// Third tick: nothing pending, campaign completes and reports.
	d.TickAt(ctx, now.Add(2*time.Minute))
	c := store.campaign(1)
	if c.Status != model.CampaignCompleted || !c.ReportSent {
		t.Fatalf("after tick 3: expected completed+reported, got status=%s report=%v", c.Status, c.ReportSent)
	}
	msgs := mailer.messages()
	if got := len(msgs); got != 4 {
		t.Fatalf("after tick 3: expected 3 campaign emails + 1 report, got %d", got)
	}
	if !strings.HasPrefix(msgs[3].Subject, "Campaign Report:") {
		t.Fatalf("expected final email to be the report, got subject %q", msgs[3].Subject)
	}

	// Completed campaigns are no longer due; no connection is opened.
	before := dials.Load()
	d.TickAt(ctx, now.Add(3*time.Minute))
	if dials.Load() != before {
		t.Fatalf("expected no dial on an idle tick")
	}

	for _, tc := range store.taskList(1) {
		if tc.Status != model.TaskSent {
			t.Fatalf("task %s: expected sent, got %s", tc.EmailSnapshot, tc.Status)
		}
	}
}

func TestTick_EmptyAudienceCompletesImmediately(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "empty", Subject: "Hello",
		ScheduledTime: now.Add(-time.Minute),
		Status:        model.CampaignDraft,
	})

	mailer := &fakeMailer{}
	d := newTestDispatcher(store, dialTo(mailer), "ops@example.com")

	d.TickAt(context.Background(), now)

	c := store.campaign(1)
	if c.Status != model.CampaignCompleted || !c.ReportSent {
		t.Fatalf("expected completed+reported, got status=%s report=%v", c.Status, c.ReportSent)
	}
	msgs := mailer.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected only the report email, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Text, "Total: 0, Sent: 0, Failed: 0") {
		t.Fatalf("expected empty totals in report, got %q", msgs[0].Text)
	}
}

func TestTick_FutureCampaignIsNotTouched(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "later", Subject: "Hello",
		ScheduledTime: now.Add(time.Hour),
		Status:        model.CampaignScheduled,
	})
	store.audience = subscribed("a@example.com")

	var dials atomic.Int64
	dial := func(ctx context.Context) (service.Mailer, error) {
		dials.Add(1)
		return &fakeMailer{}, nil
	}
	d := newTestDispatcher(store, dial, "ops@example.com")

	d.TickAt(context.Background(), now)

	if dials.Load() != 0 {
		t.Fatalf("expected no dial for a future campaign")
	}
	if got := store.campaign(1).Status; got != model.CampaignScheduled {
		t.Fatalf("expected campaign untouched, got %s", got)
	}
	if got := len(store.taskList(1)); got != 0 {
		t.Fatalf("expected no tasks created, got %d", got)
	}
}

func TestTick_DialFailureSkipsTheTick(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "spring", Subject: "Hello",
		ScheduledTime: now.Add(-time.Minute),
		Status:        model.CampaignScheduled,
	})
	store.audience = subscribed("a@example.com")

	dial := func(ctx context.Context) (service.Mailer, error) {
		return nil, fmt.Errorf("%w: connect refused", client.ErrConnection)
	}
	d := newTestDispatcher(store, dial, "ops@example.com")

	d.TickAt(context.Background(), now)

	if got := store.campaign(1).Status; got != model.CampaignScheduled {
		t.Fatalf("expected campaign left for the next tick, got %s", got)
	}
}

func TestTick_ConnectionLossLeavesTasksForNextTick(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "spring", Subject: "Hello",
		ScheduledTime: now.Add(-time.Minute),
		Status:        model.CampaignScheduled,
	})
	store.audience = subscribed("a@example.com", "b@example.com")

	var broken atomic.Bool
	broken.Store(true)
	mailer := &fakeMailer{
		sendErr: func(model.OutboundEmail) error {
			if broken.Load() {
				return fmt.Errorf("%w: reset by peer", client.ErrConnection)
			}
			return nil
		},
	}
	d := newTestDispatcher(store, dialTo(mailer), "ops@example.com")
	ctx := context.Background()

	d.TickAt(ctx, now)
	for _, tc := range store.taskList(1) {
		if tc.Status != model.TaskPending {
			t.Fatalf("task %s: expected pending after aborted tick, got %s", tc.EmailSnapshot, tc.Status)
		}
	}

	broken.Store(false)
	d.TickAt(ctx, now.Add(time.Minute))
	for _, tc := range store.taskList(1) {
		if tc.Status != model.TaskSent {
			t.Fatalf("task %s: expected sent after recovery, got %s", tc.EmailSnapshot, tc.Status)
		}
	}
}

func TestTick_ReportFailureDoesNotRollBackCompletion(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "spring", Subject: "Hello",
		ScheduledTime: now.Add(-time.Minute),
		Status:        model.CampaignScheduled,
	})

	var failReports atomic.Bool
	failReports.Store(true)
	mailer := &fakeMailer{
		sendErr: func(msg model.OutboundEmail) error {
			if failReports.Load() && strings.HasPrefix(msg.Subject, "Campaign Report:") {
				return errors.New("452 mailbox busy")
			}
			return nil
		},
	}
	d := newTestDispatcher(store, dialTo(mailer), "ops@example.com")
	ctx := context.Background()

	d.TickAt(ctx, now)

	c := store.campaign(1)
	if c.Status != model.CampaignCompleted {
		t.Fatalf("expected completed despite report failure, got %s", c.Status)
	}
	if c.ReportSent {
		t.Fatalf("expected report flag clear after failed delivery")
	}

	// The report stays available for the manual trigger.
	failReports.Store(false)
	if err := d.SendReport(ctx, 1); err != nil {
		t.Fatalf("SendReport() error: %v", err)
	}
	if !store.campaign(1).ReportSent {
		t.Fatalf("expected report flag set after manual trigger")
	}
	if err := d.SendReport(ctx, 1); err != nil {
		t.Fatalf("repeat SendReport() error: %v", err)
	}
	reports := 0
	for _, msg := range mailer.messages() {
		if strings.HasPrefix(msg.Subject, "Campaign Report:") {
			reports++
		}
	}
	if reports != 1 {
		t.Fatalf("expected exactly one delivered report, got %d", reports)
	}
}

func TestSendNow_BypassesScheduleAndSummarizes(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.addCampaign(model.Campaign{
		ID: 1, Name: "spring", Subject: "Hello",
		ScheduledTime: time.Now().Add(time.Hour),
		Status:        model.CampaignDraft,
	})
	store.audience = subscribed("a@example.com", "b@example.com")

	mailer := &fakeMailer{
		sendErr: func(msg model.OutboundEmail) error {
			if msg.To == "b@example.com" {
				return errors.New("550 user unknown")
			}
			return nil
		},
	}
	d := newTestDispatcher(store, dialTo(mailer), "ops@example.com")

	sent, failed, err := d.SendNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("SendNow() error: %v", err)
	}
	if sent != 1 || failed != 1 {
		t.Fatalf("expected sent=1 failed=1, got sent=%d failed=%d", sent, failed)
	}

	// A failed task is terminal: nothing pending remains, so the
	// campaign completes on the spot.
	if got := store.campaign(1).Status; got != model.CampaignCompleted {
		t.Fatalf("expected completed after manual drain, got %s", got)
	}

	var summary *model.OutboundEmail
	for _, msg := range mailer.messages() {
		if strings.HasPrefix(msg.Subject, "[Campaign Report]") {
			msg := msg
			summary = &msg
		}
	}
	if summary == nil {
		t.Fatalf("expected a run summary email")
	}
	if !strings.Contains(summary.Text, "- b@example.com: 550 user unknown") {
		t.Fatalf("expected failed recipient in summary, got %q", summary.Text)
	}
}

func TestSendNow_UnknownCampaign(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	d := newTestDispatcher(store, dialTo(&fakeMailer{}), "ops@example.com")

	_, _, err := d.SendNow(context.Background(), 99)
	if !errors.Is(err, service.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}
