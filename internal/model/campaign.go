package model

import "time"

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

type Campaign struct {
	ID            int64
	Name          string
	Subject       string
	Content       string
	ScheduledTime time.Time
	Status        CampaignStatus
	ReportSent    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
