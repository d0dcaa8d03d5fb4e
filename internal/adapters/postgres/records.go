package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

type RecordRepository struct {
	db DB
}

func NewRecordRepository(db DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Upsert writes the record in a single statement. xmax is zero only for a
// freshly inserted row, which tells creates from updates.
func (r *RecordRepository) Upsert(ctx context.Context, rec *domain.Record) (bool, error) {
	const q = `
		INSERT INTO user_dynamic_data (user_id, key, data, updated_time, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, key) DO UPDATE SET
			data         = EXCLUDED.data,
			updated_time = EXCLUDED.updated_time,
			updated_by   = EXCLUDED.updated_by
		RETURNING id, (xmax = 0) AS created
	`
	var created bool
	err := r.db.QueryRow(ctx, q, rec.UserID, rec.Key, []byte(rec.Data), rec.UpdatedTime, rec.UpdatedBy).
		Scan(&rec.ID, &created)
	if err != nil {
		return false, fmt.Errorf("upsert dynamic data: %w", err)
	}
	return created, nil
}

func (r *RecordRepository) Find(ctx context.Context, userID, key string) (*domain.Record, error) {
	const q = `
		SELECT id, user_id, key, data, updated_time, updated_by
		FROM user_dynamic_data
		WHERE user_id = $1 AND key = $2
	`
	var (
		rec  domain.Record
		data []byte
	)
	err := r.db.QueryRow(ctx, q, userID, key).Scan(&rec.ID, &rec.UserID, &rec.Key, &data, &rec.UpdatedTime, &rec.UpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find dynamic data: %w", err)
	}
	rec.Data = data
	return &rec, nil
}
