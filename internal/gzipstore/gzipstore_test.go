package gzipstore

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packfs/internal/store"
)

func openTestStore(t *testing.T) (*Store, *store.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	inner, err := store.Open(filepath.Join(t.TempDir(), "gz.archive"), store.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	return New(inner), inner
}

func TestRoundTrip(t *testing.T) {
	gz, _ := openTestStore(t)

	payload := []byte(strings.Repeat("compressible text ", 100))
	require.NoError(t, gz.Write("doc", payload, true))

	got, err := gz.Read("doc")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStoredBytesAreCompressed(t *testing.T) {
	gz, inner := openTestStore(t)

	payload := []byte(strings.Repeat("compressible text ", 100))
	require.NoError(t, gz.Write("doc", payload, true))

	stored, err := inner.Read("doc")
	require.NoError(t, err)
	assert.NotEqual(t, payload, stored)
	assert.Less(t, len(stored), len(payload))
	// gzip magic number
	require.GreaterOrEqual(t, len(stored), 2)
	assert.Equal(t, []byte{0x1f, 0x8b}, stored[:2])
}

func TestDelegatedQueries(t *testing.T) {
	gz, _ := openTestStore(t)

	require.NoError(t, gz.Write("a/one.txt", []byte("1"), true))
	require.NoError(t, gz.Write("b/one.txt", []byte("2"), true))

	assert.True(t, gz.Exists("a/"))
	assert.ElementsMatch(t, []string{"a/one.txt", "b/one.txt"}, gz.List(""))
	assert.Len(t, gz.Find("one.txt"), 2)

	require.NoError(t, gz.Delete("a/one.txt"))
	assert.False(t, gz.Exists("a/"))
}

func TestOverwriteFlagPassesThrough(t *testing.T) {
	gz, _ := openTestStore(t)

	require.NoError(t, gz.Write("f", []byte("x"), false))
	assert.ErrorIs(t, gz.Write("f", []byte("y"), false), store.ErrAlreadyExists)

	got, err := gz.Read("f")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestStreamingRoundTrip(t *testing.T) {
	gz, _ := openTestStore(t)

	w, err := gz.OpenWriter("streamed", true)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("stream me "), 50)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := gz.OpenReader("streamed")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// plain Read goes through the same decompression
	got, err = gz.Read("streamed")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEmptyPayload(t *testing.T) {
	gz, inner := openTestStore(t)

	require.NoError(t, gz.Write("empty", []byte{}, true))

	got, err := gz.Read("empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	// even an empty payload carries a gzip envelope on disk
	stored, err := inner.Read("empty")
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
}
