package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lorantk/campaigner/internal/model"
	"github.com/lorantk/campaigner/internal/repo"
)

// Reporter emails campaign summaries to the operator address.
type Reporter struct {
	campaigns  repo.CampaignRepository
	tasks      repo.TaskRepository
	adminEmail string
	clock      func() time.Time
}

func NewReporter(campaigns repo.CampaignRepository, tasks repo.TaskRepository, adminEmail string) *Reporter {
	return &Reporter{
		campaigns:  campaigns,
		tasks:      tasks,
		adminEmail: adminEmail,
		clock:      time.Now,
	}
}

// SendCompletionReport delivers the one-shot per-campaign report: a
// plain-text digest with per-status totals plus a CSV attachment with
// one row per recipient task. The report flag is set only after a
// successful send, so a delivery failure leaves the report eligible for
// a later manual trigger.
func (r *Reporter) SendCompletionReport(ctx context.Context, m Mailer, campaign *model.Campaign) error {
	if campaign.ReportSent {
		return nil
	}
	if r.adminEmail == "" {
		slog.Warn("ADMIN_REPORT_EMAIL is not configured, skipping campaign report",
			"campaign_id", campaign.ID)
		return nil
	}

	tasks, err := r.tasks.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("load campaign tasks: %w", err)
	}

	var total, sent, failed int
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Recipient Email", "Status", "Failure Reason", "Sent At"})
	for _, t := range tasks {
		total++
		switch t.Status {
		case model.TaskSent:
			sent++
		case model.TaskFailed:
			failed++
		}
		sentAt := ""
		if t.SentAt != nil {
			sentAt = t.SentAt.UTC().Format(time.RFC3339)
		}
		_ = w.Write([]string{t.EmailSnapshot, string(t.Status), t.FailureReason, sentAt})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("build report csv: %w", err)
	}

	body := fmt.Sprintf(
		"Summary for campaign %q:\nTotal: %d, Sent: %d, Failed: %d\n",
		campaign.Name, total, sent, failed,
	)

	msg := model.OutboundEmail{
		To:      r.adminEmail,
		Subject: fmt.Sprintf("Campaign Report: %s", campaign.Name),
		Text:    body,
		Attachments: []model.Attachment{{
			Filename:    fmt.Sprintf("campaign_%d_report.csv", campaign.ID),
			ContentType: "text/csv",
			Content:     buf.Bytes(),
		}},
	}
	if err := m.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver campaign report: %w", err)
	}

	if err := r.campaigns.SetReportSent(ctx, campaign.ID); err != nil {
		return fmt.Errorf("persist report flag: %w", err)
	}
	slog.Info("campaign report sent", "campaign_id", campaign.ID, "to", r.adminEmail)
	return nil
}

// SendRunSummary emails the per-run digest after a manual immediate
// send. This is separate from the one-shot completion report and goes
// out after every manual run.
func (r *Reporter) SendRunSummary(ctx context.Context, m Mailer, campaign *model.Campaign, total, sent, failed int, failures []FailureDetail) error {
	if r.adminEmail == "" {
		slog.Warn("ADMIN_REPORT_EMAIL is not configured, skipping run summary",
			"campaign_id", campaign.ID)
		return nil
	}

	lines := []string{
		"Campaign Report",
		"---------------------------",
		fmt.Sprintf("Name      : %s", campaign.Name),
		fmt.Sprintf("ID        : %d", campaign.ID),
		fmt.Sprintf("Subject   : %s", campaign.Subject),
		fmt.Sprintf("Scheduled : %s", campaign.ScheduledTime.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Triggered : %s", r.clock().UTC().Format(time.RFC3339)),
		"",
		fmt.Sprintf("Total recipients considered : %d", total),
		fmt.Sprintf("Sent successfully           : %d", sent),
		fmt.Sprintf("Failed during send          : %d", failed),
		"",
	}
	if len(failures) > 0 {
		lines = append(lines, "Failed recipients:")
		for _, f := range failures {
			lines = append(lines, fmt.Sprintf("- %s: %s", f.Email, f.Reason))
		}
	} else {
		lines = append(lines, "No immediate SMTP failures recorded during this run.")
	}

	msg := model.OutboundEmail{
		To:      r.adminEmail,
		Subject: fmt.Sprintf("[Campaign Report] %s (Sent: %d, Failed: %d)", campaign.Name, sent, failed),
		Text:    strings.Join(lines, "\n"),
	}
	if err := m.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver run summary: %w", err)
	}
	return nil
}
