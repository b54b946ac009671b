package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/facerate/internal/domain"
)

const (
	selectPage = `SELECT filename, score, rater_id FROM ratings ORDER BY id LIMIT $1 OFFSET $2`

	updateRow = `UPDATE ratings SET score = $2, rater_id = COALESCE($3, rater_id) WHERE filename = $1`

	updateRowIfUnrated = `UPDATE ratings SET score = $2, rater_id = COALESCE($3, rater_id)
WHERE filename = $1 AND (score IS NULL OR score = 0)`

	replaceRow = `UPDATE ratings SET score = $2, rater_id = $3 WHERE filename = $1`

	rowExists = `SELECT EXISTS (SELECT 1 FROM ratings WHERE filename = $1)`

	insertRow = `INSERT INTO ratings (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`
)

// RatingStore keeps the ratings table in PostgreSQL. It offers the
// conditional write, so concurrent raters cannot overwrite each other.
type RatingStore struct {
	pool *pgxpool.Pool
}

var (
	_ domain.TableStore       = (*RatingStore)(nil)
	_ domain.ConditionalStore = (*RatingStore)(nil)
	_ domain.Seeder           = (*RatingStore)(nil)
)

func NewRatingStore(pool *pgxpool.Pool) *RatingStore {
	return &RatingStore{pool: pool}
}

func (s *RatingStore) FetchPage(ctx context.Context, offset, limit int) ([]domain.RawRow, error) {
	rows, err := s.pool.Query(ctx, selectPage, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings page: %w", classify(err))
	}
	defer rows.Close()

	var out []domain.RawRow
	for rows.Next() {
		var (
			filename string
			score    *float64
			raterID  *string
		)
		if err := rows.Scan(&filename, &score, &raterID); err != nil {
			return nil, fmt.Errorf("failed to scan rating row: %w", err)
		}

		raw := domain.RawRow{Filename: filename, Score: score}
		if raterID != nil {
			raw.RaterID = *raterID
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratings page: %w", classify(err))
	}
	return out, nil
}

func (s *RatingStore) UpdateRow(ctx context.Context, u domain.RowUpdate) error {
	tag, err := s.pool.Exec(ctx, updateRow, u.Filename, u.Score, nullable(u.RaterID))
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRowNotFound
	}
	return nil
}

func (s *RatingStore) UpdateRowIfUnrated(ctx context.Context, u domain.RowUpdate) (bool, error) {
	tag, err := s.pool.Exec(ctx, updateRowIfUnrated, u.Filename, u.Score, nullable(u.RaterID))
	if err != nil {
		return false, fmt.Errorf("failed to update rating: %w", classify(err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, rowExists, u.Filename).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check rating row: %w", classify(err))
	}
	if !exists {
		return false, domain.ErrRowNotFound
	}
	return false, nil
}

// ReplaceTable overwrites score and rater_id of every row in one transaction.
// The set of filenames is fixed, so every row of t must already exist.
func (s *RatingStore) ReplaceTable(ctx context.Context, t domain.Table) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range t.Rows() {
			batch.Queue(replaceRow, row.Filename, row.Score, row.RaterID)
		}

		results := tx.SendBatch(ctx, batch)
		for _, row := range t.Rows() {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to replace rating %q: %w", row.Filename, classify(err))
			}
			if tag.RowsAffected() == 0 {
				_ = results.Close()
				return fmt.Errorf("replace %q: %w", row.Filename, domain.ErrRowNotFound)
			}
		}
		return results.Close()
	})
}

// Seed inserts unrated rows for new filenames in the given order.
func (s *RatingStore) Seed(ctx context.Context, filenames []string) (int, error) {
	added := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, f := range filenames {
			batch.Queue(insertRow, f)
		}

		results := tx.SendBatch(ctx, batch)
		for range filenames {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert rating row: %w", err)
			}
			added += int(tag.RowsAffected())
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *RatingStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// classify marks errors that are worth retrying as domain.ErrTransient.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}
	return err
}
