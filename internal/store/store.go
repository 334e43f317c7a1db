// Package store implements a single-file object archive: many logical blobs,
// identified by opaque string paths, packed into one backing file.
//
// Records are only ever appended. A delete flips the record's tombstone byte
// in place and an overwrite tombstones the old record before appending the
// replacement, so the backing file grows until a cleanup strategy decides to
// compact it (see compact.go). On open the whole file is scanned once to
// rebuild the in-memory index (see scan.go).
//
// A single reader/writer lock covers the instance: lookups and reads share
// it, every mutation and compaction takes it exclusively. Opening two stores
// on the same backing file is not supported.
package store

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"packfs/internal/blobfile"
	"packfs/internal/index"
	"packfs/internal/record"
)

// FS is the archive contract. *Store implements it; decorators such as the
// gzip wrapper accept and return it so they can be stacked.
type FS interface {
	Exists(path string) bool
	List(prefix string) []string
	Find(name string) []string
	Read(path string) ([]byte, error)
	Write(path string, data []byte, overwrite bool) error
	Delete(path string) error
	OpenReader(path string) (io.ReadCloser, error)
	OpenWriter(path string, overwrite bool) (io.WriteCloser, error)
	Close() error
}

// Stat describes one live object.
type Stat struct {
	Path string
	Size uint32
}

// Store is the archive engine over a single backing file.
type Store struct {
	mu   sync.RWMutex
	file *blobfile.File
	idx  *index.Index

	strategy CleanupStrategy
	fillRate float64

	// tombstone bookkeeping feeding the cleanup decision; zeroed by compaction
	deletedCount uint32
	deletedSize  uint64

	log     *logrus.Logger
	metrics *Metrics
	closed  bool
}

var _ FS = (*Store)(nil)

// Option configures a Store at open time.
type Option func(*Store)

// WithCleanup selects the compaction strategy and its fill rate.
func WithCleanup(strategy CleanupStrategy, fillRate float64) Option {
	return func(s *Store) {
		s.strategy = strategy
		s.fillRate = fillRate
	}
}

// WithLogger replaces the default logger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithMetrics attaches a metrics set that the store keeps updated.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Open opens the archive at path, creating the backing file if it is missing,
// and rebuilds the index by scanning it end to end.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		idx:      index.New(),
		strategy: CleanupNever,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fillRate < 0 || s.fillRate > 1 {
		return nil, errors.Errorf("fill rate %v outside [0, 1]", s.fillRate)
	}

	f, err := blobfile.Open(path)
	if err != nil {
		return nil, err
	}
	s.file = f

	if err := s.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"file":    path,
		"objects": s.idx.Len(),
		"deleted": s.deletedCount,
		"cleanup": s.strategy,
	}).Debug("archive opened")
	s.observeMetrics()
	return s, nil
}

// Exists reports whether any stored path starts with path.
func (s *Store) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Exists(path)
}

// List returns every stored path that starts with prefix. An empty prefix
// lists the whole archive.
func (s *Store) List(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.List(prefix)
}

// Find returns every stored path that ends with name, e.g. all copies of one
// file name across different directories.
func (s *Store) Find(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Find(name)
}

// Len returns the number of live objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Len()
}

// Stat returns the size of the object at path.
func (s *Store) Stat(path string) (Stat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.idx.Get(path)
	if !ok {
		return Stat{}, errors.Wrap(ErrNotFound, path)
	}
	return Stat{Path: path, Size: e.Size}, nil
}

// Read returns the payload of the object at path.
func (s *Store) Read(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	e, ok := s.idx.Get(path)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, path)
	}
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(io.NewSectionReader(s.file, e.Offset, int64(e.Size)), buf); err != nil {
		return nil, errors.Wrapf(err, "read payload of %s", path)
	}
	return buf, nil
}

// Write stores data under path. If the path is already present it is
// tombstoned and rewritten when overwrite is true, and rejected with
// ErrAlreadyExists otherwise. A successful write may trigger compaction per
// the configured cleanup strategy.
func (s *Store) Write(path string, data []byte, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.idx.Get(path); ok {
		if !overwrite {
			return errors.Wrap(ErrAlreadyExists, path)
		}
		if err := s.tombstoneLocked(path); err != nil {
			return err
		}
	}
	if err := s.appendLocked(path, data); err != nil {
		return err
	}
	if err := s.maybeCompactLocked(); err != nil {
		return err
	}
	s.observeMetrics()
	return nil
}

// Delete tombstones the object at path. The payload bytes stay in the backing
// file until the next compaction.
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.idx.Get(path); !ok {
		return errors.Wrap(ErrNotFound, path)
	}
	if err := s.tombstoneLocked(path); err != nil {
		return err
	}
	if err := s.maybeCompactLocked(); err != nil {
		return err
	}
	s.observeMetrics()
	return nil
}

// Close releases the backing file. Afterwards Read, Write, Delete, Compact,
// OpenReader and OpenWriter fail with ErrClosed; Exists, List, Find, Len and
// Stat keep answering from the in-memory index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// appendLocked writes a fresh live record for path at end-of-file and indexes
// it. Caller holds the write lock.
func (s *Store) appendLocked(path string, data []byte) error {
	hdr, err := record.EncodeHeader(path, len(data))
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(hdr)+len(data))
	buf = append(buf, hdr...)
	buf = append(buf, data...)

	off, err := s.file.Append(buf)
	if err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	s.idx.Put(path, index.Entry{
		Size:   uint32(len(data)),
		Offset: off + int64(len(hdr)),
	})
	return nil
}

// tombstoneLocked flips the tombstone byte of the live record for path,
// drops it from the index and accounts it as reclaimable. Caller holds the
// write lock and has checked the path is present.
func (s *Store) tombstoneLocked(path string) error {
	e, ok := s.idx.Get(path)
	if !ok {
		return errors.Wrap(ErrNotFound, path)
	}
	if err := s.file.WriteAt([]byte{1}, record.TombstoneByteOffset(e.Offset)); err != nil {
		return errors.Wrapf(err, "tombstone %s", path)
	}
	s.idx.Delete(path)
	s.deletedCount++
	s.deletedSize += uint64(e.Size)
	return nil
}
