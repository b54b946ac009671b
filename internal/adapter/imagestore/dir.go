package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pscheid92/facerate/internal/domain"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// Dir serves images from a directory. Filenames are resolved relative to
// the directory and may not escape it.
type Dir struct {
	root *os.Root
	path string
}

var _ domain.ImageStore = (*Dir)(nil)

func Open(path string) (*Dir, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image directory: %w", err)
	}
	return &Dir{root: root, path: path}, nil
}

func (d *Dir) Close() error {
	return d.root.Close()
}

func (d *Dir) Exists(_ context.Context, filename string) (bool, error) {
	name, ok := localName(filename)
	if !ok {
		return false, nil
	}

	info, err := d.root.Stat(name)
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist), isEscape(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat image %q: %w", filename, err)
	}
}

func (d *Dir) Open(_ context.Context, filename string) (io.ReadSeekCloser, error) {
	name, ok := localName(filename)
	if !ok {
		return nil, domain.ErrImageNotFound
	}

	f, err := d.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isEscape(err) {
			return nil, domain.ErrImageNotFound
		}
		return nil, fmt.Errorf("failed to open image %q: %w", filename, err)
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, domain.ErrImageNotFound
	}
	return f, nil
}

// Ping checks that the directory is still there without listing it.
func (d *Dir) Ping(_ context.Context) error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("failed to stat image directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("image directory %q is not a directory", d.path)
	}
	return nil
}

// List returns the image files directly inside the directory, sorted by name.
func (d *Dir) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list image directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func localName(filename string) (string, bool) {
	name := filepath.FromSlash(strings.TrimSpace(filename))
	if name == "" || !filepath.IsLocal(name) {
		return "", false
	}
	return name, true
}

// isEscape reports the os.Root error for paths leaving the directory,
// e.g. through a symlink.
func isEscape(err error) bool {
	return strings.Contains(err.Error(), "path escapes from parent")
}
