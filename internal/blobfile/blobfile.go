// Package blobfile wraps the single backing file of an archive with
// absolute-offset primitives. All reads and writes go through pread/pwrite
// style calls so concurrent readers never race on a shared file position.
package blobfile

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// File is a random-access handle over the archive's backing file.
// It keeps the current length cached; the caller is responsible for
// serializing mutations (the store engine holds its lock across them).
type File struct {
	path string
	f    *os.File
	size int64
}

// Open opens the backing file at path, creating it empty if it is missing.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open backing file %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat backing file %s", path)
	}
	return &File{path: path, f: f, size: fi.Size()}, nil
}

// Path returns the backing file's path on the host filesystem.
func (b *File) Path() string {
	return b.path
}

// Size returns the current length of the backing file.
func (b *File) Size() int64 {
	return b.size
}

// ReadAt reads len(p) bytes starting at the absolute offset off.
// It implements io.ReaderAt.
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := b.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, errors.Wrapf(err, "read %d bytes at offset %d", len(p), off)
	}
	return n, err
}

// WriteAt writes p at the absolute offset off, extending the cached length
// when the write lands past the current end.
func (b *File) WriteAt(p []byte, off int64) error {
	n, err := b.f.WriteAt(p, off)
	if err != nil {
		return errors.Wrapf(err, "write %d bytes at offset %d", len(p), off)
	}
	if n < len(p) {
		return errors.Errorf("short write at offset %d: %d of %d bytes", off, n, len(p))
	}
	if end := off + int64(len(p)); end > b.size {
		b.size = end
	}
	return nil
}

// Append writes p at the current end of the file and returns the offset the
// data landed at.
func (b *File) Append(p []byte) (int64, error) {
	off := b.size
	if err := b.WriteAt(p, off); err != nil {
		return 0, err
	}
	return off, nil
}

// Truncate shrinks the file to n bytes.
func (b *File) Truncate(n int64) error {
	if err := b.f.Truncate(n); err != nil {
		return errors.Wrapf(err, "truncate to %d bytes", n)
	}
	b.size = n
	return nil
}

// Sync flushes written data to stable storage.
func (b *File) Sync() error {
	if err := b.f.Sync(); err != nil {
		return errors.Wrap(err, "sync backing file")
	}
	return nil
}

// OpenReader opens an independent read-only handle on the same path.
// Streaming read views use this so their position never interferes with the
// store's own handle.
func (b *File) OpenReader() (*os.File, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open read handle %s", b.path)
	}
	return f, nil
}

// Replace swaps the backing file for the sibling at newPath: the current
// handle is closed, the original file removed, the sibling renamed into its
// place and reopened. On rename failure it reopens the original so the handle
// stays usable.
func (b *File) Replace(newPath string) error {
	if err := b.f.Close(); err != nil {
		return errors.Wrap(err, "close old backing file")
	}
	if err := os.Remove(b.path); err != nil {
		return errors.Wrapf(err, "remove old backing file %s", b.path)
	}
	if err := os.Rename(newPath, b.path); err != nil {
		if f, openErr := os.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0644); openErr == nil {
			b.f = f
		}
		return errors.Wrapf(err, "rename %s over %s", newPath, b.path)
	}

	f, err := os.OpenFile(b.path, os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrapf(err, "reopen backing file %s", b.path)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "stat backing file %s", b.path)
	}
	b.f = f
	b.size = fi.Size()
	return nil
}

// Close releases the underlying handle.
func (b *File) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	if err != nil {
		return errors.Wrap(err, "close backing file")
	}
	return nil
}
