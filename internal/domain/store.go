package domain

import (
	"context"
	"io"
)

// TableStore is the remote tabular store holding the rating table.
// Implementations return rows in a stable order and must not retry.
type TableStore interface {
	// FetchPage returns up to limit rows starting at offset. A page shorter
	// than limit signals the end of the table.
	FetchPage(ctx context.Context, offset, limit int) ([]RawRow, error)
	UpdateRow(ctx context.Context, update RowUpdate) error
	ReplaceTable(ctx context.Context, table Table) error
	Ping(ctx context.Context) error
}

// ConditionalStore is implemented by stores offering an atomic
// "update where score is unrated" primitive.
type ConditionalStore interface {
	// UpdateRowIfUnrated writes the update only if the row is still unrated.
	// applied is false when another writer got there first.
	UpdateRowIfUnrated(ctx context.Context, update RowUpdate) (applied bool, err error)
}

// ImageStore resolves image filenames to content.
type ImageStore interface {
	// Exists reports whether filename resolves to an image.
	Exists(ctx context.Context, filename string) (bool, error)
	// Open returns the image content. Missing images yield ErrImageNotFound.
	Open(ctx context.Context, filename string) (io.ReadSeekCloser, error)
}

// Seeder is implemented by stores that can be populated with the image pool.
type Seeder interface {
	// Seed appends unrated rows for filenames not yet present, keeping the
	// given order, and returns how many were added.
	Seed(ctx context.Context, filenames []string) (added int, err error)
}
