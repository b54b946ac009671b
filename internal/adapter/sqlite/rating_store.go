package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/pscheid92/facerate/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RatingStore keeps the ratings table in a local SQLite file.
type RatingStore struct {
	db *gorm.DB
}

var (
	_ domain.TableStore       = (*RatingStore)(nil)
	_ domain.ConditionalStore = (*RatingStore)(nil)
	_ domain.Seeder           = (*RatingStore)(nil)
)

func NewRatingStore(db *gorm.DB) *RatingStore {
	return &RatingStore{db: db}
}

func (s *RatingStore) FetchPage(ctx context.Context, offset, limit int) ([]domain.RawRow, error) {
	var records []Rating
	err := s.db.WithContext(ctx).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings page: %w", classify(err))
	}

	out := make([]domain.RawRow, len(records))
	for i, r := range records {
		out[i] = domain.RawRow{Filename: r.Filename, Score: r.Score}
		if r.RaterID != nil {
			out[i].RaterID = *r.RaterID
		}
	}
	return out, nil
}

func (s *RatingStore) UpdateRow(ctx context.Context, u domain.RowUpdate) error {
	res := s.db.WithContext(ctx).
		Model(&Rating{}).
		Where("filename = ?", u.Filename).
		Updates(updates(u))
	if res.Error != nil {
		return fmt.Errorf("failed to update rating: %w", classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return domain.ErrRowNotFound
	}
	return nil
}

func (s *RatingStore) UpdateRowIfUnrated(ctx context.Context, u domain.RowUpdate) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&Rating{}).
		Where("filename = ? AND (score IS NULL OR score = 0)", u.Filename).
		Updates(updates(u))
	if res.Error != nil {
		return false, fmt.Errorf("failed to update rating: %w", classify(res.Error))
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Rating{}).Where("filename = ?", u.Filename).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check rating row: %w", classify(err))
	}
	if count == 0 {
		return false, domain.ErrRowNotFound
	}
	return false, nil
}

// ReplaceTable overwrites score and rater_id of every row in one transaction.
func (s *RatingStore) ReplaceTable(ctx context.Context, t domain.Table) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range t.Rows() {
			res := tx.Model(&Rating{}).
				Where("filename = ?", row.Filename).
				Updates(map[string]any{"score": row.Score, "rater_id": row.RaterID})
			if res.Error != nil {
				return fmt.Errorf("failed to replace rating %q: %w", row.Filename, classify(res.Error))
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("replace %q: %w", row.Filename, domain.ErrRowNotFound)
			}
		}
		return nil
	})
}

// Seed inserts unrated rows for new filenames in the given order.
func (s *RatingStore) Seed(ctx context.Context, filenames []string) (int, error) {
	if len(filenames) == 0 {
		return 0, nil
	}

	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range filenames {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Rating{Filename: f})
			if res.Error != nil {
				return fmt.Errorf("failed to insert rating row: %w", res.Error)
			}
			added += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *RatingStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func updates(u domain.RowUpdate) map[string]any {
	m := map[string]any{"score": u.Score}
	if u.RaterID != "" {
		m["rater_id"] = u.RaterID
	}
	return m
}

// classify marks lock contention as domain.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if containsAny(msg, "database is locked", "SQLITE_BUSY", "database table is locked") {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
