package archive

import (
	"fmt"
	"io"
	"os"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/multierr"
)

// Writer creates archive file entry by entry. Archive is only complete after
// successful Close.
type Writer struct {
	out *os.File
	zw  *fixzip.Writer
}

func Create(path string) (*Writer, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create archive (%s): %w", path, err)
	}
	return &Writer{out: out, zw: fixzip.NewWriter(out)}, nil
}

// Add stores data under name.
func (w *Writer) Add(name string, data []byte) error {
	if !IsSafePath(name) {
		return fmt.Errorf("zip entry %q: unsafe path", name)
	}
	fw, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("unable to create zip entry %q: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("unable to write zip entry %q: %w", name, err)
	}
	return nil
}

// AddFile stores content of file src under name.
func (w *Writer) AddFile(name, src string) error {
	if !IsSafePath(name) {
		return fmt.Errorf("zip entry %q: unsafe path", name)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	fw, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("unable to create zip entry %q: %w", name, err)
	}
	if _, err := io.Copy(fw, in); err != nil {
		return fmt.Errorf("unable to write zip entry %q: %w", name, err)
	}
	return nil
}

// Close finishes archive and closes underlying file.
func (w *Writer) Close() error {
	return multierr.Append(w.zw.Close(), w.out.Close())
}
