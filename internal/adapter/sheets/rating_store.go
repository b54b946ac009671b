package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
)

const (
	colFilename = "filename"
	colScore    = "score"
	colRaterID  = "rater_id"

	// headerRow is the 1-based sheet row holding the column names.
	headerRow = 1
)

// layout locates the known columns in the header row.
type layout struct {
	header   []string
	filename int
	score    int
	raterID  int // -1 when the sheet has no rater_id column
}

// RatingStore keeps the ratings table in a spreadsheet worksheet. Row 1 is
// the header; data starts at row 2.
type RatingStore struct {
	client    *client
	worksheet string

	mu     sync.Mutex
	layout *layout
	// rowOf maps filenames to 1-based sheet rows as of the last complete
	// read. It is replaced whole, never written in place.
	rowOf map[string]int
	// pages holds the rows seen per page offset while a read is in progress.
	pages map[int]map[string]int
}

var _ domain.TableStore = (*RatingStore)(nil)

func NewRatingStore(cfg Config, m *metrics.StoreMetrics) *RatingStore {
	worksheet := cfg.Worksheet
	if worksheet == "" {
		worksheet = "Sheet1"
	}
	return &RatingStore{
		client:    newClient(cfg, m),
		worksheet: worksheet,
		rowOf:     make(map[string]int),
		pages:     make(map[int]map[string]int),
	}
}

// FetchPage reads limit data rows after offset. Reading the first page
// re-reads the header, so moved columns are picked up on every full read.
func (s *RatingStore) FetchPage(ctx context.Context, offset, limit int) ([]domain.RawRow, error) {
	if limit <= 0 {
		return nil, nil
	}

	l, err := s.currentLayout(ctx, offset == 0)
	if err != nil {
		return nil, err
	}

	first := headerRow + 1 + offset
	last := first + limit - 1
	values, err := s.client.getValues(ctx, a1Range(s.worksheet, fmt.Sprintf("A%d:%s%d", first, columnLetter(len(l.header)-1), last)))
	if err != nil {
		return nil, fmt.Errorf("failed to read rows %d-%d: %w", first, last, err)
	}

	out := make([]domain.RawRow, len(values))
	seen := make(map[string]int, len(values))
	for i, cells := range values {
		raw := domain.RawRow{
			Filename: cellString(cell(cells, l.filename)),
			Score:    cell(cells, l.score),
		}
		if l.raterID >= 0 {
			raw.RaterID = cellString(cell(cells, l.raterID))
		}
		out[i] = raw

		if name := strings.TrimSpace(raw.Filename); name != "" {
			seen[name] = first + i
		}
	}

	s.recordPage(offset, seen, len(values) < limit)
	return out, nil
}

// recordPage keeps the row numbers of one page. The page that ends a read
// publishes a new index built from every page up to it.
func (s *RatingStore) recordPage(offset int, seen map[string]int, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages[offset] = seen
	if !last {
		return
	}

	offsets := slices.Sorted(maps.Keys(s.pages))
	rowOf := make(map[string]int, len(s.rowOf))
	for _, off := range offsets {
		if off > offset {
			delete(s.pages, off)
			continue
		}
		maps.Copy(rowOf, s.pages[off])
	}
	s.rowOf = rowOf
}

// UpdateRow writes the score and, when given, the rater id of the row
// located by the last read.
func (s *RatingStore) UpdateRow(ctx context.Context, u domain.RowUpdate) error {
	l, err := s.currentLayout(ctx, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	row, ok := s.rowOf[u.Filename]
	s.mu.Unlock()
	if !ok {
		return domain.ErrRowNotFound
	}

	data := []valueRange{{
		Range:  a1Range(s.worksheet, fmt.Sprintf("%s%d", columnLetter(l.score), row)),
		Values: [][]any{{u.Score}},
	}}
	if u.RaterID != "" && l.raterID >= 0 {
		data = append(data, valueRange{
			Range:  a1Range(s.worksheet, fmt.Sprintf("%s%d", columnLetter(l.raterID), row)),
			Values: [][]any{{u.RaterID}},
		})
	}

	if err := s.client.batchUpdate(ctx, data); err != nil {
		return fmt.Errorf("failed to update row %d: %w", row, err)
	}
	return nil
}

// ReplaceTable writes the score and rater cells of every row of t back to
// the sheet row it was read from. Blank rows and other columns are left
// alone.
func (s *RatingStore) ReplaceTable(ctx context.Context, t domain.Table) error {
	l, err := s.currentLayout(ctx, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	rowOf := s.rowOf
	s.mu.Unlock()

	data := make([]valueRange, 0, 2*t.Len())
	for _, r := range t.Rows() {
		row, ok := rowOf[r.Filename]
		if !ok {
			return fmt.Errorf("replace %q: %w", r.Filename, domain.ErrRowNotFound)
		}

		var score any = ""
		if r.Score != nil {
			score = *r.Score
		}
		data = append(data, valueRange{
			Range:  a1Range(s.worksheet, fmt.Sprintf("%s%d", columnLetter(l.score), row)),
			Values: [][]any{{score}},
		})

		if l.raterID >= 0 {
			var rater any = ""
			if r.RaterID != nil {
				rater = *r.RaterID
			}
			data = append(data, valueRange{
				Range:  a1Range(s.worksheet, fmt.Sprintf("%s%d", columnLetter(l.raterID), row)),
				Values: [][]any{{rater}},
			})
		}
	}
	if len(data) == 0 {
		return nil
	}

	if err := s.client.batchUpdate(ctx, data); err != nil {
		return fmt.Errorf("failed to replace table: %w", err)
	}
	return nil
}

// Ping reads the header row and checks the required columns.
func (s *RatingStore) Ping(ctx context.Context) error {
	_, err := s.currentLayout(ctx, true)
	return err
}

func (s *RatingStore) currentLayout(ctx context.Context, refresh bool) (*layout, error) {
	s.mu.Lock()
	l := s.layout
	s.mu.Unlock()
	if l != nil && !refresh {
		return l, nil
	}

	values, err := s.client.getValues(ctx, a1Range(s.worksheet, fmt.Sprintf("%d:%d", headerRow, headerRow)))
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	var header []any
	if len(values) > 0 {
		header = values[0]
	}

	l, err = parseLayout(header)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.layout = l
	s.mu.Unlock()
	return l, nil
}

func parseLayout(header []any) (*layout, error) {
	l := &layout{filename: -1, score: -1, raterID: -1}
	for i, c := range header {
		name := strings.TrimSpace(cellString(c))
		l.header = append(l.header, name)
		switch strings.ToLower(name) {
		case colFilename:
			if l.filename < 0 {
				l.filename = i
			}
		case colScore:
			if l.score < 0 {
				l.score = i
			}
		case colRaterID:
			if l.raterID < 0 {
				l.raterID = i
			}
		}
	}

	var missing []string
	if l.filename < 0 {
		missing = append(missing, colFilename)
	}
	if l.score < 0 {
		missing = append(missing, colScore)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingColumn, strings.Join(missing, ", "))
	}
	return l, nil
}

func cell(cells []any, i int) any {
	if i < 0 || i >= len(cells) {
		return nil
	}
	return cells[i]
}

func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case json.Number:
		return c.String()
	case bool:
		return strconv.FormatBool(c)
	default:
		return fmt.Sprint(c)
	}
}

// columnLetter converts a 0-based column index to A1 notation (0 -> A, 26 -> AA).
func columnLetter(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}
	return string(b)
}

// a1Range prefixes ref with the worksheet name, quoting it when needed.
func a1Range(worksheet, ref string) string {
	if strings.ContainsAny(worksheet, " '!:") {
		worksheet = "'" + strings.ReplaceAll(worksheet, "'", "''") + "'"
	}
	return worksheet + "!" + ref
}
