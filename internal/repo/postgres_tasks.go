package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorantk/campaigner/internal/model"
)

type PostgresTaskRepo struct {
	db *sql.DB
}

func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, campaign_id, recipient_id, email_snapshot, status, sent_at, failure_reason, created_at`

func (r *PostgresTaskRepo) CreateIfAbsent(ctx context.Context, campaignID, recipientID int64, email string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recipient_tasks (campaign_id, recipient_id, email_snapshot, status, created_at)
		VALUES ($1, $2, $3, 'pending', now())
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`, campaignID, recipientID, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresTaskRepo) ListPending(ctx context.Context, campaignID int64, limit int) ([]model.RecipientTask, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+`
		FROM recipient_tasks
		WHERE campaign_id = $1
		  AND status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, campaignID, limit)
}

func (r *PostgresTaskRepo) ListByCampaign(ctx context.Context, campaignID int64) ([]model.RecipientTask, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+`
		FROM recipient_tasks
		WHERE campaign_id = $1
		ORDER BY created_at ASC, id ASC
	`, campaignID)
}

func (r *PostgresTaskRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipient_tasks
		SET status = 'sent', sent_at = $2, failure_reason = ''
		WHERE id = $1
		  AND status = 'pending'
	`, id, at)
	return err
}

func (r *PostgresTaskRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipient_tasks
		SET status = 'failed', failure_reason = $2
		WHERE id = $1
		  AND status = 'pending'
	`, id, reason)
	return err
}

func (r *PostgresTaskRepo) FailByEmail(ctx context.Context, campaignID int64, email, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recipient_tasks
		SET status = 'failed', failure_reason = $3
		WHERE campaign_id = $1
		  AND lower(email_snapshot) = lower($2)
	`, campaignID, email, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresTaskRepo) Stats(ctx context.Context, campaignID int64) (map[model.TaskStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM recipient_tasks
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.TaskStatus]int{
		model.TaskPending: 0,
		model.TaskSent:    0,
		model.TaskFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[model.TaskStatus(status)] = count
	}
	return stats, rows.Err()
}

func (r *PostgresTaskRepo) list(ctx context.Context, query string, args ...any) ([]model.RecipientTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecipientTask
	for rows.Next() {
		var t model.RecipientTask
		var status string
		var sentAt sql.NullTime
		if err := rows.Scan(
			&t.ID,
			&t.CampaignID,
			&t.RecipientID,
			&t.EmailSnapshot,
			&status,
			&sentAt,
			&t.FailureReason,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Status = model.TaskStatus(status)
		if sentAt.Valid {
			at := sentAt.Time
			t.SentAt = &at
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
