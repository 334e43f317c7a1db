package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCountCompactsAtLowFillRate(t *testing.T) {
	path := archivePath(t)
	s := openTestStore(t, path, WithCleanup(CleanupCheckCount, 0.3))
	defer s.Close()

	payload := []byte("xxxx")
	require.NoError(t, s.Write("alpha", payload, true))
	require.NoError(t, s.Write("beta", payload, true))
	require.NoError(t, s.Write("gamma", payload, true))

	// 1 deleted of 3 total: 1 >= ceil(3 * 0.3) = 1, so compaction fires
	require.NoError(t, s.Delete("beta"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("beta")), "deleted path must be gone from the file")
	assert.True(t, bytes.Contains(raw, []byte("alpha")))
	assert.True(t, bytes.Contains(raw, []byte("gamma")))

	got, err := s.Read("alpha")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCheckCountHoldsAtHighFillRate(t *testing.T) {
	path := archivePath(t)
	s := openTestStore(t, path, WithCleanup(CleanupCheckCount, 0.6))
	defer s.Close()

	payload := []byte("xxxx")
	require.NoError(t, s.Write("alpha", payload, true))
	require.NoError(t, s.Write("beta", payload, true))
	require.NoError(t, s.Write("gamma", payload, true))

	// 1 deleted of 3 total: 1 < ceil(3 * 0.6) = 2, no compaction
	require.NoError(t, s.Delete("beta"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(raw, []byte("alpha")))
	assert.True(t, bytes.Contains(raw, []byte("beta")), "tombstoned record stays in the file")
	assert.True(t, bytes.Contains(raw, []byte("gamma")))
	assert.False(t, s.Exists("beta"))
}

func TestAlwaysStrategyLeavesNoTombstones(t *testing.T) {
	path := archivePath(t)
	s := openTestStore(t, path, WithCleanup(CleanupAlways, 0))
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), true))
	require.NoError(t, s.Write("b", []byte("2"), true))
	require.NoError(t, s.Write("a", []byte("3"), true))
	require.NoError(t, s.Delete("b"))

	assert.Equal(t, uint32(0), s.deletedCount)
	assert.Equal(t, uint64(0), s.deletedSize)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte{'b'}), "no trace of the deleted record")

	got, err := s.Read("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestCheckSizeStrategy(t *testing.T) {
	path := archivePath(t)
	s := openTestStore(t, path, WithCleanup(CleanupCheckSize, 0.5))
	defer s.Close()

	require.NoError(t, s.Write("keep", bytes.Repeat([]byte("k"), 10), true))
	require.NoError(t, s.Write("drop", bytes.Repeat([]byte("d"), 100), true))

	// 100 deleted bytes vs ceil((10 + 1) * 0.5) = 6, compaction fires
	require.NoError(t, s.Delete("drop"))

	assert.Equal(t, uint32(0), s.deletedCount)
	assert.Equal(t, uint64(0), s.deletedSize)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("drop")))
}

func TestForcedCompactIsIdempotent(t *testing.T) {
	path := archivePath(t)
	s := openTestStore(t, path)

	for _, p := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.Write(p, []byte("payload-"+p), true))
	}
	require.NoError(t, s.Delete("two"))
	require.NoError(t, s.Compact())

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(first, []byte("two")))

	require.NoError(t, s.Compact())
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "compacting a compact archive must reproduce it byte for byte")

	require.NoError(t, s.Close())

	// counters and contents survive a reopen of the compacted file
	s = openTestStore(t, path)
	defer s.Close()
	assert.Equal(t, uint32(0), s.deletedCount)
	assert.Equal(t, uint64(0), s.deletedSize)
	got, err := s.Read("three")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-three"), got)
}

func TestCompactionLeavesNoSiblingFiles(t *testing.T) {
	path := archivePath(t)
	s := openTestStore(t, path, WithCleanup(CleanupAlways, 0))
	defer s.Close()

	require.NoError(t, s.Write("a", []byte("1"), true))
	require.NoError(t, s.Delete("a"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "test.archive", e.Name())
	}
}

func TestRecoveredCountersFeedCompaction(t *testing.T) {
	path := archivePath(t)

	s := openTestStore(t, path)
	require.NoError(t, s.Write("a", []byte("xxxx"), true))
	require.NoError(t, s.Write("b", []byte("yyyy"), true))
	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Close())

	// reopen picks the tombstone back up from the scan
	s = openTestStore(t, path, WithCleanup(CleanupCheckCount, 0.4))
	assert.Equal(t, uint32(1), s.deletedCount)
	assert.Equal(t, uint64(4), s.deletedSize)

	// 2 deleted of 3 total: 2 >= ceil(3 * 0.4) = 2, fires on the next delete
	require.NoError(t, s.Write("c", []byte("zzzz"), true))
	require.NoError(t, s.Delete("c"))
	assert.Equal(t, uint32(0), s.deletedCount)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("xxxx")))
	require.NoError(t, s.Close())
}

func TestParseCleanupStrategy(t *testing.T) {
	for in, want := range map[string]CleanupStrategy{
		"never":       CleanupNever,
		"":            CleanupNever,
		"always":      CleanupAlways,
		"check-count": CleanupCheckCount,
		"check-size":  CleanupCheckSize,
	} {
		got, err := ParseCleanupStrategy(in)
		require.NoError(t, err, "parse %q", in)
		assert.Equal(t, want, got)
		if in != "" {
			assert.Equal(t, in, got.String())
		}
	}

	_, err := ParseCleanupStrategy("sometimes")
	assert.Error(t, err)
}
