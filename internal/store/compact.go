package store

import (
	"io"
	"math"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"packfs/internal/index"
	"packfs/internal/record"
)

// CleanupStrategy controls when the archive rewrites itself to drop
// tombstoned records.
type CleanupStrategy int

const (
	// CleanupNever leaves the backing file alone; space is never reclaimed.
	CleanupNever CleanupStrategy = iota
	// CleanupAlways compacts after every mutation.
	CleanupAlways
	// CleanupCheckCount compacts once tombstoned records make up a fillRate
	// share of all records.
	CleanupCheckCount
	// CleanupCheckSize compacts once tombstoned payload bytes reach fillRate
	// times the live payload bytes plus the tombstoned record count (see
	// shouldCompact).
	CleanupCheckSize
)

// String implements fmt.Stringer for logs and CLI output.
func (c CleanupStrategy) String() string {
	switch c {
	case CleanupNever:
		return "never"
	case CleanupAlways:
		return "always"
	case CleanupCheckCount:
		return "check-count"
	case CleanupCheckSize:
		return "check-size"
	default:
		return "unknown"
	}
}

// ParseCleanupStrategy maps a configuration string to its strategy.
func ParseCleanupStrategy(s string) (CleanupStrategy, error) {
	switch s {
	case "never", "":
		return CleanupNever, nil
	case "always":
		return CleanupAlways, nil
	case "check-count":
		return CleanupCheckCount, nil
	case "check-size":
		return CleanupCheckSize, nil
	default:
		return CleanupNever, errors.Errorf("unknown cleanup strategy %q", s)
	}
}

// shouldCompact evaluates the configured strategy against the tombstone
// counters. Caller holds the write lock.
//
// CheckSize mixes the deleted record count into a byte-denominated sum; that
// is the historical arithmetic of this format and changing it would shift
// compaction points for existing deployments.
func (s *Store) shouldCompact() bool {
	switch s.strategy {
	case CleanupAlways:
		return true
	case CleanupCheckCount:
		total := s.idx.Len() + int(s.deletedCount)
		return float64(s.deletedCount) >= math.Ceil(float64(total)*s.fillRate)
	case CleanupCheckSize:
		live := s.idx.LiveBytes()
		return float64(s.deletedSize) >= math.Ceil(float64(live+int64(s.deletedCount))*s.fillRate)
	default:
		return false
	}
}

// maybeCompactLocked runs a compaction when the strategy calls for one.
// Caller holds the write lock.
func (s *Store) maybeCompactLocked() error {
	if !s.shouldCompact() {
		return nil
	}
	return s.compactLocked()
}

// compactLocked rewrites every live record into a sibling file and atomically
// swaps it in place of the backing file, dropping all tombstoned records.
// Caller holds the write lock, so the rewrite is a single step with respect
// to every other store operation.
func (s *Store) compactLocked() error {
	sibling := s.file.Path() + "." + uuid.NewString()
	tmp, err := os.OpenFile(sibling, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "create compaction file %s", sibling)
	}

	// Sorted replay keeps the rewritten file deterministic: compacting an
	// already compact archive reproduces it byte for byte.
	paths := s.idx.Keys()
	sort.Strings(paths)

	newEntries := make(map[string]index.Entry, s.idx.Len())
	var off int64
	for _, path := range paths {
		e, _ := s.idx.Get(path)

		payload := make([]byte, e.Size)
		if _, err := io.ReadFull(io.NewSectionReader(s.file, e.Offset, int64(e.Size)), payload); err != nil {
			_ = tmp.Close()
			_ = os.Remove(sibling)
			return errors.Wrapf(err, "read %s during compaction", path)
		}

		hdr, err := record.EncodeHeader(path, len(payload))
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(sibling)
			return err
		}
		n, err := tmp.Write(append(hdr, payload...))
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(sibling)
			return errors.Wrapf(err, "write %s to compaction file", path)
		}
		if n != len(hdr)+len(payload) {
			_ = tmp.Close()
			_ = os.Remove(sibling)
			return errors.Errorf("short write to %s", sibling)
		}

		newEntries[path] = index.Entry{
			Size:   e.Size,
			Offset: off + int64(len(hdr)),
		}
		off += int64(n)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(sibling)
		return errors.Wrap(err, "sync compaction file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(sibling)
		return errors.Wrap(err, "close compaction file")
	}

	if err := s.file.Replace(sibling); err != nil {
		_ = os.Remove(sibling)
		return err
	}

	for path, e := range newEntries {
		s.idx.Put(path, e)
	}
	reclaimed := s.deletedSize
	dropped := s.deletedCount
	s.deletedCount = 0
	s.deletedSize = 0

	if s.metrics != nil {
		s.metrics.Compactions.Inc()
		s.metrics.ReclaimedBytes.Add(float64(reclaimed))
	}
	s.log.WithFields(logrus.Fields{
		"file":      s.file.Path(),
		"objects":   s.idx.Len(),
		"dropped":   dropped,
		"reclaimed": reclaimed,
	}).Info("archive compacted")
	return nil
}

// Compact forces a compaction regardless of the configured strategy.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.compactLocked(); err != nil {
		return err
	}
	s.observeMetrics()
	return nil
}
