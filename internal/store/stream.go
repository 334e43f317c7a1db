package store

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"packfs/internal/index"
	"packfs/internal/record"
)

// OpenReader returns a stream over the payload of the object at path. The
// reader is backed by its own read-only handle on the backing file and is
// bounded to the record's payload window; the shared lock is only held while
// the entry is resolved, so the reader must be consumed before the record is
// deleted or compacted away.
func (s *Store) OpenReader(path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	e, ok := s.idx.Get(path)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	f, err := s.file.OpenReader()
	if err != nil {
		return nil, err
	}
	return &payloadReader{
		SectionReader: io.NewSectionReader(f, e.Offset, int64(e.Size)),
		f:             f,
	}, nil
}

// payloadReader bounds a fresh read handle to one record's payload window.
type payloadReader struct {
	*io.SectionReader
	f *os.File
}

func (r *payloadReader) Close() error {
	return r.f.Close()
}

// OpenWriter returns a sink that streams a new payload for path directly into
// the backing file. The record is appended with a placeholder size and the
// true size is backpatched into the header when the writer is closed.
//
// The exclusive lock is taken here and held until Close, which releases it on
// every path. Until then any other store operation blocks, so the writer
// must be closed; closing it again is a no-op.
func (s *Store) OpenWriter(path string, overwrite bool) (io.WriteCloser, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}

	if _, ok := s.idx.Get(path); ok {
		if !overwrite {
			s.mu.Unlock()
			return nil, errors.Wrap(ErrAlreadyExists, path)
		}
		if err := s.tombstoneLocked(path); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	// Compact before reserving the record: the placeholder header carries a
	// zero size, and replaying it through a compaction would lose the payload
	// streamed so far.
	if err := s.maybeCompactLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	hdr, err := record.EncodeHeader(path, 0)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	start, err := s.file.Append(hdr)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	return &payloadWriter{
		s:          s,
		path:       path,
		payloadOff: start + int64(len(hdr)),
	}, nil
}

// payloadWriter appends payload bytes after a reserved header and finishes
// the record on Close. It owns the store's exclusive lock for its lifetime.
type payloadWriter struct {
	s          *Store
	path       string
	payloadOff int64
	written    int64
	closed     bool
}

func (w *payloadWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if w.written+int64(len(p)) > record.MaxPayloadSize {
		return 0, errors.Wrapf(ErrMalformed, "payload exceeds %d bytes", int64(record.MaxPayloadSize))
	}
	if err := w.s.file.WriteAt(p, w.payloadOff+w.written); err != nil {
		return 0, err
	}
	w.written += int64(len(p))
	return len(p), nil
}

// Close backpatches the real payload size into the record header, indexes the
// record and releases the exclusive lock. A failed backpatch leaves the
// placeholder record behind as garbage; the lock is released regardless.
func (w *payloadWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.s.mu.Unlock()

	var sizeField [4]byte
	binary.BigEndian.PutUint32(sizeField[:], uint32(w.written))
	if err := w.s.file.WriteAt(sizeField[:], record.SizeFieldOffset(w.payloadOff)); err != nil {
		return errors.Wrapf(err, "backpatch size of %s", w.path)
	}
	if err := w.s.file.Sync(); err != nil {
		return err
	}
	w.s.idx.Put(w.path, index.Entry{
		Size:   uint32(w.written),
		Offset: w.payloadOff,
	})
	w.s.observeMetrics()
	return nil
}
