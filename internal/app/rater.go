package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
)

type RaterConfig struct {
	// SelectionMaxAge bounds how stale the table may be when picking a row.
	// Commit-time checks always read fresh.
	SelectionMaxAge time.Duration
	// TrackExclusions hides rows this session already rated from selection,
	// covering for a stale snapshot that still shows them unrated.
	TrackExclusions bool
	CommitMode      domain.CommitMode
}

// Rater runs the assignment and commit protocol for rater sessions.
//
// Every method expects the session to be locked by the caller.
type Rater struct {
	view    *View
	gateway *Gateway
	images  domain.ImageStore
	cfg     RaterConfig
	metrics *metrics.RatingMetrics
	pick    func(n int) int
}

// NewRater creates a rater. m may be nil.
func NewRater(view *View, gateway *Gateway, images domain.ImageStore, cfg RaterConfig, m *metrics.RatingMetrics) *Rater {
	if cfg.CommitMode == "" {
		cfg.CommitMode = domain.CommitModeRow
	}
	return &Rater{
		view:    view,
		gateway: gateway,
		images:  images,
		cfg:     cfg,
		metrics: m,
		pick:    rand.IntN,
	}
}

// Assign returns the session's current assignment, picking a new unrated row
// uniformly at random when none is pinned. A session that has seen every row
// rated stays AllRated and causes no further store reads.
func (r *Rater) Assign(ctx context.Context, s *domain.Session) (domain.Assignment, error) {
	if s.State() == domain.SessionAllRated {
		return domain.Assignment{Progress: s.FinalProgress(), AllRated: true}, nil
	}
	if s.State() == domain.SessionCommitting {
		s.Release()
	}

	table, err := r.view.Get(ctx, r.cfg.SelectionMaxAge)
	if err != nil {
		r.countAssignment("error")
		return domain.Assignment{}, fmt.Errorf("load table: %w", err)
	}
	if table.Len() == 0 {
		r.countAssignment("empty_table")
		return domain.Assignment{}, domain.ErrEmptyTable
	}

	progress := domain.ProgressOf(table)
	r.observeProgress(progress)

	// A pinned row survives table changes; only a lost image releases it.
	// The fresh read at commit reports rows rated or removed meanwhile.
	if row, ok := s.Assigned(); ok {
		found, err := r.images.Exists(ctx, row.Filename)
		if err != nil {
			return domain.Assignment{}, fmt.Errorf("check image %q: %w", row.Filename, err)
		}
		if found {
			return domain.Assignment{Row: row, Progress: progress}, nil
		}
		r.imageMissing(ctx, row.Filename)
		s.Release()
		return r.pickRow(ctx, s, table, progress, row.Filename)
	}

	return r.pickRow(ctx, s, table, progress, "")
}

// pickRow selects a random unrated row with an image. skip names a row whose
// image is already known to be missing.
func (r *Rater) pickRow(ctx context.Context, s *domain.Session, table domain.Table, progress domain.Progress, skip string) (domain.Assignment, error) {
	var excluded map[string]struct{}
	if r.cfg.TrackExclusions {
		excluded = s.Exclusions()
	}

	candidates := UnratedRows(table, excluded)
	if len(candidates) == 0 {
		s.Complete(progress)
		r.countAssignment("all_rated")
		slog.InfoContext(ctx, "All rows rated", "session_id", s.ID.String(), "total", progress.Total)
		return domain.Assignment{Progress: progress, AllRated: true}, nil
	}

	if skip != "" {
		candidates = slices.DeleteFunc(candidates, func(row domain.Row) bool { return row.Filename == skip })
	}

	for len(candidates) > 0 {
		i := r.pick(len(candidates))
		row := candidates[i]

		found, err := r.images.Exists(ctx, row.Filename)
		if err != nil {
			return domain.Assignment{}, fmt.Errorf("check image %q: %w", row.Filename, err)
		}
		if found {
			s.Assign(row)
			r.countAssignment("assigned")
			return domain.Assignment{Row: row, Progress: progress}, nil
		}

		r.imageMissing(ctx, row.Filename)
		candidates[i] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
	}

	r.countAssignment("no_images")
	return domain.Assignment{Progress: progress}, domain.ErrNoDisplayableImages
}

// Release drops the session's assignment, e.g. when its image failed to load.
func (r *Rater) Release(s *domain.Session) {
	s.Release()
}

// Submit commits the session's pinned row with sub.Score after re-reading the
// table fresh. The session always ends Unassigned, whatever the outcome.
//
// A returned error accompanies SubmitFailed; conflicts and vanished rows are
// reported through the outcome alone.
func (r *Rater) Submit(ctx context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error) {
	if !domain.ValidScore(sub.Score) {
		return domain.Outcome{Result: domain.SubmitFailed, Score: sub.Score}, domain.ErrInvalidScore
	}

	row, err := s.BeginCommit()
	if err != nil {
		return domain.Outcome{Result: domain.SubmitFailed, Score: sub.Score}, err
	}
	defer s.Release()

	raterID := NormalizeRaterID(sub.RaterID)
	if raterID != "" {
		s.RaterName = raterID
	}

	outcome, err := r.commit(ctx, s, row, domain.RowUpdate{Filename: row.Filename, Score: sub.Score, RaterID: raterID})
	r.countSubmission(outcome.Result)
	return outcome, err
}

func (r *Rater) commit(ctx context.Context, s *domain.Session, row domain.Row, update domain.RowUpdate) (domain.Outcome, error) {
	outcome := domain.Outcome{Filename: row.Filename, Score: update.Score}
	log := slog.With("session_id", s.ID.String(), "filename", row.Filename)

	table, err := r.view.Get(ctx, 0)
	if err != nil {
		outcome.Result = domain.SubmitFailed
		return outcome, fmt.Errorf("read table before commit: %w", err)
	}

	current, ok := table.Find(row.Filename)
	if !ok {
		log.ErrorContext(ctx, "Assigned row vanished from table")
		outcome.Result = domain.SubmitVanished
		return outcome, nil
	}
	if current.Rated() {
		log.InfoContext(ctx, "Row already rated by someone else", "existing_score", *current.Score)
		outcome.Result = domain.SubmitConflict
		return outcome, nil
	}

	switch {
	case r.cfg.CommitMode == domain.CommitModeTable:
		next, werr := table.WithRating(update)
		if werr != nil {
			outcome.Result = domain.SubmitFailed
			return outcome, werr
		}
		err = r.gateway.CommitTable(ctx, next)

	case r.gateway.SupportsConditional():
		applied, cerr := r.gateway.CommitRowIfUnrated(ctx, update)
		if cerr == nil && !applied {
			log.InfoContext(ctx, "Conditional write not applied, row rated concurrently")
			r.view.Invalidate()
			outcome.Result = domain.SubmitConflict
			return outcome, nil
		}
		err = cerr

	default:
		err = r.gateway.CommitRow(ctx, update)
	}

	if err != nil {
		if errors.Is(err, domain.ErrRowNotFound) {
			log.ErrorContext(ctx, "Assigned row vanished during commit")
			outcome.Result = domain.SubmitVanished
			return outcome, nil
		}
		outcome.Result = domain.SubmitFailed
		return outcome, fmt.Errorf("commit rating: %w", err)
	}

	r.view.Invalidate()
	if r.cfg.TrackExclusions {
		s.Exclude(row.Filename)
	}

	log.InfoContext(ctx, "Rating saved", "score", update.Score)
	outcome.Result = domain.SubmitRated
	return outcome, nil
}

func (r *Rater) imageMissing(ctx context.Context, filename string) {
	slog.WarnContext(ctx, "Image missing for row, skipping", "filename", filename)
	if r.metrics != nil {
		r.metrics.ImageMisses.Inc()
	}
}

func (r *Rater) observeProgress(p domain.Progress) {
	if r.metrics != nil {
		r.metrics.RatedRows.Set(float64(p.Rated))
		r.metrics.TotalRows.Set(float64(p.Total))
	}
}

func (r *Rater) countAssignment(result string) {
	if r.metrics != nil {
		r.metrics.Assignments.WithLabelValues(result).Inc()
	}
}

func (r *Rater) countSubmission(result domain.SubmitResult) {
	if r.metrics != nil {
		r.metrics.Submissions.WithLabelValues(result.String()).Inc()
	}
}
