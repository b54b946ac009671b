package domain

// SubmitResult describes how a rating submission ended.
type SubmitResult int

const (
	SubmitRated    SubmitResult = iota // Rating was written
	SubmitConflict                     // Another rater got there first; nothing written
	SubmitVanished                     // Row no longer exists in the table
	SubmitFailed                       // Read or write failed; safe to retry
)

func (r SubmitResult) String() string {
	switch r {
	case SubmitRated:
		return "rated"
	case SubmitConflict:
		return "conflict"
	case SubmitVanished:
		return "vanished"
	case SubmitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CommitMode selects how a rating reaches the store.
type CommitMode string

const (
	CommitModeRow   CommitMode = "row"
	CommitModeTable CommitMode = "table"
)

// ParseCommitMode converts a string to a CommitMode, defaulting to row.
func ParseCommitMode(s string) CommitMode {
	switch s {
	case "table":
		return CommitModeTable
	default:
		return CommitModeRow
	}
}

// Submission is a rater's score for the session's assigned row.
type Submission struct {
	Score   float64
	RaterID string
}

// Assignment is what the rating page renders.
type Assignment struct {
	Row      Row
	Progress Progress
	AllRated bool
}

// Outcome is the result of a submission attempt.
type Outcome struct {
	Result   SubmitResult
	Filename string
	Score    float64
}
