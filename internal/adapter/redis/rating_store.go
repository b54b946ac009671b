package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pscheid92/facerate/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Row layout: the list ratings:filenames holds the table order, the set
// ratings:known its membership, and ratings:row:<filename> a hash with the
// optional fields score and rater_id. A row without a hash is unrated.

const (
	filenamesKey = "ratings:filenames"
	knownKey     = "ratings:known"
	rowKeyPrefix = "ratings:row:"

	fieldScore   = "score"
	fieldRaterID = "rater_id"
)

func rowKey(filename string) string {
	return rowKeyPrefix + filename
}

// seedScript appends filenames that are not yet members.
// KEYS: [1]=known set, [2]=filename list. ARGV: filenames.
var seedScript = goredis.NewScript(`
local added = 0
for _, f in ipairs(ARGV) do
  if redis.call('SADD', KEYS[1], f) == 1 then
    redis.call('RPUSH', KEYS[2], f)
    added = added + 1
  end
end
return added
`)

// updateRowScript writes the score and, when given, the rater id.
// Returns -1 when the filename is unknown.
// KEYS: [1]=known set, [2]=row hash. ARGV: [1]=filename, [2]=score, [3]=rater_id.
var updateRowScript = goredis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[2], 'score', ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[2], 'rater_id', ARGV[3])
end
return 1
`)

// updateIfUnratedScript writes like updateRowScript, but only while the
// stored score is absent, blank, zero or not a finite number. Returns 1 when
// written, 0 when the row is already rated and -1 when it is unknown.
var updateIfUnratedScript = goredis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then
  return -1
end
local n = tonumber(redis.call('HGET', KEYS[2], 'score'))
if n ~= nil and n == n and n ~= 0 and n ~= math.huge and n ~= -math.huge then
  return 0
end
redis.call('HSET', KEYS[2], 'score', ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[2], 'rater_id', ARGV[3])
end
return 1
`)

// RatingStore keeps the ratings table in Redis. Writes run as Lua scripts,
// so the conditional write is atomic.
type RatingStore struct {
	rdb *goredis.Client
}

var (
	_ domain.TableStore       = (*RatingStore)(nil)
	_ domain.ConditionalStore = (*RatingStore)(nil)
	_ domain.Seeder           = (*RatingStore)(nil)
)

func NewRatingStore(rdb *goredis.Client) *RatingStore {
	return &RatingStore{rdb: rdb}
}

func (s *RatingStore) FetchPage(ctx context.Context, offset, limit int) ([]domain.RawRow, error) {
	if limit <= 0 {
		return nil, nil
	}

	filenames, err := s.rdb.LRange(ctx, filenamesKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read filename page: %w", classify(err))
	}
	if len(filenames) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(filenames))
	for i, f := range filenames {
		cmds[i] = pipe.HMGet(ctx, rowKey(f), fieldScore, fieldRaterID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("failed to read rating rows: %w", classify(err))
	}

	out := make([]domain.RawRow, len(filenames))
	for i, f := range filenames {
		vals := cmds[i].Val()
		raw := domain.RawRow{Filename: f}
		if len(vals) == 2 {
			raw.Score = vals[0]
			if rater, ok := vals[1].(string); ok {
				raw.RaterID = rater
			}
		}
		out[i] = raw
	}
	return out, nil
}

func (s *RatingStore) UpdateRow(ctx context.Context, u domain.RowUpdate) error {
	res, err := updateRowScript.Run(ctx, s.rdb, []string{knownKey, rowKey(u.Filename)},
		u.Filename, formatScore(u.Score), u.RaterID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", classify(err))
	}
	if res < 0 {
		return domain.ErrRowNotFound
	}
	return nil
}

func (s *RatingStore) UpdateRowIfUnrated(ctx context.Context, u domain.RowUpdate) (bool, error) {
	res, err := updateIfUnratedScript.Run(ctx, s.rdb, []string{knownKey, rowKey(u.Filename)},
		u.Filename, formatScore(u.Score), u.RaterID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to update rating: %w", classify(err))
	}
	switch {
	case res < 0:
		return false, domain.ErrRowNotFound
	case res == 0:
		return false, nil
	default:
		return true, nil
	}
}

// ReplaceTable overwrites every row of t in one MULTI/EXEC block. The
// membership set is watched, so a concurrent seed aborts the replace.
func (s *RatingStore) ReplaceTable(ctx context.Context, t domain.Table) error {
	rows := t.Rows()
	filenames := make([]any, len(rows))
	for i, r := range rows {
		filenames[i] = r.Filename
	}

	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		if len(filenames) > 0 {
			known, err := tx.SMIsMember(ctx, knownKey, filenames...).Result()
			if err != nil {
				return err
			}
			for i, ok := range known {
				if !ok {
					return fmt.Errorf("replace %q: %w", rows[i].Filename, domain.ErrRowNotFound)
				}
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, r := range rows {
				key := rowKey(r.Filename)
				if r.Score != nil {
					pipe.HSet(ctx, key, fieldScore, formatScore(*r.Score))
				} else {
					pipe.HDel(ctx, key, fieldScore)
				}
				if r.RaterID != nil {
					pipe.HSet(ctx, key, fieldRaterID, *r.RaterID)
				} else {
					pipe.HDel(ctx, key, fieldRaterID)
				}
			}
			return nil
		})
		return err
	}, knownKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRowNotFound):
		return err
	case errors.Is(err, goredis.TxFailedErr):
		return fmt.Errorf("failed to replace ratings: %w: %w", domain.ErrTransient, err)
	default:
		return fmt.Errorf("failed to replace ratings: %w", classify(err))
	}
}

// Seed appends unrated rows for new filenames in the given order.
func (s *RatingStore) Seed(ctx context.Context, filenames []string) (int, error) {
	if len(filenames) == 0 {
		return 0, nil
	}
	args := make([]any, len(filenames))
	for i, f := range filenames {
		args[i] = f
	}

	added, err := seedScript.Run(ctx, s.rdb, []string{knownKey, filenamesKey}, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to seed ratings: %w", classify(err))
	}
	return added, nil
}

func (s *RatingStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// classify marks errors that are worth retrying as domain.ErrTransient.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransient) {
		return err
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "BUSY", "TRYAGAIN", "MASTERDOWN"} {
		if strings.HasPrefix(msg, prefix) {
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}
	return err
}
