package repo

import (
	"context"
	"database/sql"

	"github.com/lorantk/campaigner/internal/model"
)

type PostgresBounceRepo struct {
	db *sql.DB
}

func NewPostgresBounceRepo(db *sql.DB) *PostgresBounceRepo {
	return &PostgresBounceRepo{db: db}
}

func (r *PostgresBounceRepo) Create(ctx context.Context, rec *model.BounceRecord) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO bounce_records (campaign_id, recipient_email, reason, message_id, processed_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, processed_at
	`, rec.CampaignID, rec.RecipientEmail, rec.Reason, rec.MessageID).Scan(&rec.ID, &rec.ProcessedAt)
}

func (r *PostgresBounceRepo) List(ctx context.Context, limit, offset int) ([]model.BounceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_email, reason, message_id, processed_at
		FROM bounce_records
		ORDER BY processed_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BounceRecord
	for rows.Next() {
		var b model.BounceRecord
		if err := rows.Scan(&b.ID, &b.CampaignID, &b.RecipientEmail, &b.Reason, &b.MessageID, &b.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
