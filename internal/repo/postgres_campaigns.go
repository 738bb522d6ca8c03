package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorantk/campaigner/internal/model"
)

type PostgresCampaignRepo struct {
	db *sql.DB
}

func NewPostgresCampaignRepo(db *sql.DB) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{db: db}
}

const campaignColumns = `id, name, subject, content, scheduled_time, status, report_sent, created_at, updated_at`

func (r *PostgresCampaignRepo) Due(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE scheduled_time <= $1
		  AND status <> 'completed'
		ORDER BY scheduled_time ASC, id ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresCampaignRepo) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id)

	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresCampaignRepo) GroupIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id
		FROM campaign_groups
		WHERE campaign_id = $1
		ORDER BY group_id
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresCampaignRepo) MarkInProgress(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'in_progress', updated_at = now()
		WHERE id = $1
		  AND status IN ('draft', 'scheduled')
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresCampaignRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'completed', updated_at = now()
		WHERE id = $1
		  AND status = 'in_progress'
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresCampaignRepo) SetReportSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET report_sent = true, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var status string
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Subject,
		&c.Content,
		&c.ScheduledTime,
		&status,
		&c.ReportSent,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	return &c, nil
}
