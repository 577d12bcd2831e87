// Package archive reads and writes project transfer archives.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxEntrySize limits amount of data ReadFile would load into memory.
const MaxEntrySize = 64 << 20

// WalkFunc is called for each file in archive visited by Walk. If an error
// is returned, processing stops.
type WalkFunc func(name string, file *zip.File) error

// Walk visits all files in the archive with names starting with prefix,
// in archive order. Archives with absolute entry names or path traversal
// components are rejected as a whole before any entry is visited.
func Walk(ctx context.Context, archive, prefix string, walkFn WalkFunc) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("unable to open archive (%s): %w", archive, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !IsSafePath(f.Name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", f.Name)
		}
	}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if err := walkFn(f.Name, f); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile returns complete content of archive entry.
func ReadFile(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxEntrySize {
		return nil, fmt.Errorf("zip entry %q is too large (%d bytes)", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read zip entry %q: %w", f.Name, err)
	}
	if len(data) > MaxEntrySize {
		return nil, fmt.Errorf("zip entry %q is too large", f.Name)
	}
	return data, nil
}

// IsSafePath returns false for names that could escape extraction
// directory: absolute paths and those containing ".." components.
func IsSafePath(name string) bool {
	if len(name) == 0 || path.IsAbs(name) || strings.HasPrefix(name, `\`) || strings.Contains(name, ":") {
		return false
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}
