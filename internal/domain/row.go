package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	MinScore = 1.0
	MaxScore = 5.0
)

// Row is one image's rating record, keyed by Filename.
type Row struct {
	Filename string
	Score    *float64 // nil means unrated
	RaterID  *string
}

// Rated reports whether the row carries a score.
func (r Row) Rated() bool {
	return r.Score != nil
}

// RawRow is a row as read from a store, before score normalization.
// Score holds whatever the store returned: nil, a number, a numeric string,
// an empty string or garbage.
type RawRow struct {
	Filename string
	Score    any
	RaterID  string
}

// RowUpdate is a targeted write of one row's rating fields.
// An empty RaterID leaves the stored rater id untouched.
type RowUpdate struct {
	Filename string
	Score    float64
	RaterID  string
}

// Table is an ordered, immutable collection of rows.
// Callers must not modify the slice returned by Rows.
type Table struct {
	rows  []Row
	index map[string]int
}

// NewTable builds a table from rows in store order. It fails with
// ErrDuplicateRow if a filename appears more than once.
func NewTable(rows []Row) (Table, error) {
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		if _, dup := index[r.Filename]; dup {
			return Table{}, &DuplicateRowError{Filename: r.Filename}
		}
		index[r.Filename] = i
	}
	return Table{rows: rows, index: index}, nil
}

// MustTable is NewTable for fixtures known to be valid.
func MustTable(rows ...Row) Table {
	t, err := NewTable(rows)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Table) Rows() []Row { return t.rows }

func (t Table) Len() int { return len(t.rows) }

// Find locates a row by filename.
func (t Table) Find(filename string) (Row, bool) {
	i, ok := t.index[filename]
	if !ok {
		return Row{}, false
	}
	return t.rows[i], true
}

// RatedCount returns the number of rows that carry a score.
func (t Table) RatedCount() int {
	n := 0
	for _, r := range t.rows {
		if r.Rated() {
			n++
		}
	}
	return n
}

// WithRating returns a copy of the table with the given update applied.
// The receiver is left untouched.
func (t Table) WithRating(u RowUpdate) (Table, error) {
	i, ok := t.index[u.Filename]
	if !ok {
		return Table{}, ErrRowNotFound
	}

	rows := make([]Row, len(t.rows))
	copy(rows, t.rows)

	score := u.Score
	updated := rows[i]
	updated.Score = &score
	if u.RaterID != "" {
		rater := u.RaterID
		updated.RaterID = &rater
	}
	rows[i] = updated

	return Table{rows: rows, index: t.index}, nil
}

// DuplicateRowError reports a filename that appears twice in a store read.
type DuplicateRowError struct {
	Filename string
}

func (e *DuplicateRowError) Error() string {
	return "duplicate filename in table: " + e.Filename
}

func (e *DuplicateRowError) Unwrap() error { return ErrDuplicateRow }

// NormalizeScore collapses every "unrated" representation (nil, 0, "",
// unparsable text, NaN) to nil and returns any other value as a float.
func NormalizeScore(raw any) *float64 {
	var v float64
	switch s := raw.(type) {
	case nil:
		return nil
	case float64:
		v = s
	case float32:
		v = float64(s)
	case int:
		v = float64(s)
	case int32:
		v = float64(s)
	case int64:
		v = float64(s)
	case *float64:
		if s == nil {
			return nil
		}
		v = *s
	case json.Number:
		f, err := s.Float64()
		if err != nil {
			return nil
		}
		v = f
	case string:
		return parseScore(s)
	case *string:
		if s == nil {
			return nil
		}
		return parseScore(*s)
	case []byte:
		return parseScore(string(s))
	default:
		return nil
	}
	return scorePtr(v)
}

func parseScore(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return scorePtr(f)
}

func scorePtr(v float64) *float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ValidScore reports whether s lies in the rating domain.
func ValidScore(s float64) bool {
	return !math.IsNaN(s) && s >= MinScore && s <= MaxScore
}
