package bounce

import (
	"context"
	"io"
	"log/slog"
)

// Mailbox is the inbound transport as the scanner needs it: find bounce
// candidates, fetch their raw bodies, mark them seen. Implemented over
// IMAP in production and faked in tests.
type Mailbox interface {
	Search(ctx context.Context) ([]uint32, error)
	Fetch(ctx context.Context, id uint32) (io.Reader, error)
	MarkSeen(ctx context.Context, id uint32) error
	Close() error
}

// MailboxDialFunc opens a Mailbox; one connection per scan tick.
type MailboxDialFunc func(ctx context.Context) (Mailbox, error)

// Scanner polls the bounce inbox and feeds each candidate message to the
// correlator. Messages are marked seen once handled, processed or not,
// so the next scan does not revisit them; a crash in between simply
// reprocesses, which the correlator tolerates.
type Scanner struct {
	dial       MailboxDialFunc
	correlator *Correlator
}

func NewScanner(dial MailboxDialFunc, correlator *Correlator) *Scanner {
	return &Scanner{dial: dial, correlator: correlator}
}

// Tick runs one scan. Every failure is scoped to a single message; a bad
// bounce never stalls the rest of the mailbox.
func (s *Scanner) Tick(ctx context.Context) {
	mb, err := s.dial(ctx)
	if err != nil {
		slog.Error("bounce mailbox unavailable, skipping scan", "err", err)
		return
	}
	defer mb.Close()

	ids, err := mb.Search(ctx)
	if err != nil {
		slog.Error("bounce search failed", "err", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	slog.Info("bounce scan found candidates", "count", len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}

		raw, err := mb.Fetch(ctx, id)
		if err != nil {
			slog.Error("failed to fetch bounce message", "seq", id, "err", err)
			continue
		}

		if err := s.correlator.Process(ctx, raw); err != nil {
			slog.Error("failed to process bounce message", "seq", id, "err", err)
		}

		if err := mb.MarkSeen(ctx, id); err != nil {
			slog.Error("failed to mark bounce message seen", "seq", id, "err", err)
		}
	}
}
