package repo

import (
	"context"
	"database/sql"

	"github.com/lorantk/campaigner/internal/model"
)

type PostgresRecipientRepo struct {
	db *sql.DB
}

func NewPostgresRecipientRepo(db *sql.DB) *PostgresRecipientRepo {
	return &PostgresRecipientRepo{db: db}
}

func (r *PostgresRecipientRepo) ListSubscribed(ctx context.Context, groupIDs []int64) ([]model.Recipient, error) {
	var rows *sql.Rows
	var err error

	if len(groupIDs) == 0 {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, name, email, subscription_status, created_at
			FROM recipients
			WHERE subscription_status = 'subscribed'
			ORDER BY id ASC
		`)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT DISTINCT r.id, r.name, r.email, r.subscription_status, r.created_at
			FROM recipients r
			JOIN recipient_group_members m ON m.recipient_id = r.id
			WHERE r.subscription_status = 'subscribed'
			  AND m.group_id = ANY($1)
			ORDER BY r.id ASC
		`, groupIDs)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		var rec model.Recipient
		var status string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Email, &status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.SubscriptionStatus = model.SubscriptionStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}
