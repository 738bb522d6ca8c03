package cache

import "context"

// BounceCache remembers which bounce messages have already been
// correlated, keyed by their Message-ID. The scan is at-least-once, so
// this is an optimization that short-circuits rescans, not a correctness
// requirement; the correlator stays idempotent without it.
type BounceCache interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}
