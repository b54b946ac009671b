package domain

// Progress is the rating progress counter shown to raters.
type Progress struct {
	Rated     int     `json:"rated"`
	Total     int     `json:"total"`
	Remaining int     `json:"remaining"`
	Fraction  float64 `json:"fraction"`
}

func NewProgress(rated, total int) Progress {
	p := Progress{Rated: rated, Total: total, Remaining: total - rated}
	if total > 0 {
		p.Fraction = float64(rated) / float64(total)
	}
	return p
}

// ProgressOf computes the progress counter for a table.
func ProgressOf(t Table) Progress {
	return NewProgress(t.RatedCount(), t.Len())
}

// Percent is Fraction scaled to 0..100 for display.
func (p Progress) Percent() float64 {
	return p.Fraction * 100
}
