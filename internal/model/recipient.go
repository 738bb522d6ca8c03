package model

import "time"

type SubscriptionStatus string

const (
	Subscribed   SubscriptionStatus = "subscribed"
	Unsubscribed SubscriptionStatus = "unsubscribed"
)

type Recipient struct {
	ID                 int64
	Name               string
	Email              string
	SubscriptionStatus SubscriptionStatus
	CreatedAt          time.Time
}

type RecipientGroup struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}
