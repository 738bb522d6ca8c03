package model

import "time"

// BounceRecord is an append-only audit row, one per processed bounce
// message regardless of how many tasks it matched.
type BounceRecord struct {
	ID             int64
	CampaignID     int64
	RecipientEmail string
	Reason         string
	MessageID      string
	ProcessedAt    time.Time
}
