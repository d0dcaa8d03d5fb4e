package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

type DynamicDataService struct {
	records domain.RecordRepository
	log     *slog.Logger
	now     func() time.Time
}

func NewDynamicDataService(records domain.RecordRepository, log *slog.Logger) *DynamicDataService {
	return &DynamicDataService{records: records, log: log, now: time.Now}
}

// Upsert stores data under (userID, key) and reports whether the record was
// new.
func (s *DynamicDataService) Upsert(ctx context.Context, userID, key string, data []byte, updatedBy string) (bool, error) {
	rec, err := domain.NewRecord(userID, key, data, updatedBy, s.now().UTC())
	if err != nil {
		return false, err
	}

	created, err := s.records.Upsert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("upsert dynamic data: %w", err)
	}

	s.log.InfoContext(ctx, "dynamic data saved",
		"user_id", userID,
		"key", key,
		"created", created,
	)
	return created, nil
}

func (s *DynamicDataService) Get(ctx context.Context, userID, key string) (json.RawMessage, error) {
	rec, err := s.records.Find(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("fetch dynamic data %s/%s: %w", userID, key, err)
	}
	return rec.Data, nil
}
