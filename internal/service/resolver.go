package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lorantk/campaigner/internal/repo"
)

// Resolver expands a campaign's audience into recipient tasks.
type Resolver struct {
	campaigns  repo.CampaignRepository
	recipients repo.RecipientRepository
	tasks      repo.TaskRepository
}

func NewResolver(campaigns repo.CampaignRepository, recipients repo.RecipientRepository, tasks repo.TaskRepository) *Resolver {
	return &Resolver{
		campaigns:  campaigns,
		recipients: recipients,
		tasks:      tasks,
	}
}

// Resolve ensures a pending task with an email snapshot exists for every
// subscribed recipient in the campaign's audience and returns how many
// were created. An empty group set means all subscribed recipients.
// Safe to call repeatedly: existing tasks are never touched or removed,
// even when a recipient has since left a group.
func (r *Resolver) Resolve(ctx context.Context, campaignID int64) (int, error) {
	groupIDs, err := r.campaigns.GroupIDs(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("load campaign groups: %w", err)
	}

	audience, err := r.recipients.ListSubscribed(ctx, groupIDs)
	if err != nil {
		return 0, fmt.Errorf("evaluate audience: %w", err)
	}

	created := 0
	for _, rec := range audience {
		ok, err := r.tasks.CreateIfAbsent(ctx, campaignID, rec.ID, rec.Email)
		if err != nil {
			slog.Error("failed to link recipient to campaign",
				"campaign_id", campaignID, "email", rec.Email, "err", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}
