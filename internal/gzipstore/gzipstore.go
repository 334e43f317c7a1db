// Package gzipstore wraps any archive with transparent gzip compression:
// payloads are compressed before they reach the inner store and decompressed
// after they leave it. Paths, listings and deletes pass straight through.
package gzipstore

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"packfs/internal/store"
)

// Store is a compressing decorator around an inner archive.
type Store struct {
	inner store.FS
}

var _ store.FS = (*Store)(nil)

// New wraps inner with gzip compression.
func New(inner store.FS) *Store {
	return &Store{inner: inner}
}

// Exists delegates to the inner archive.
func (s *Store) Exists(path string) bool {
	return s.inner.Exists(path)
}

// List delegates to the inner archive.
func (s *Store) List(prefix string) []string {
	return s.inner.List(prefix)
}

// Find delegates to the inner archive.
func (s *Store) Find(name string) []string {
	return s.inner.Find(name)
}

// Read returns the decompressed payload of the object at path.
func (s *Store) Read(path string) ([]byte, error) {
	compressed, err := s.inner.Read(path)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrapf(err, "gunzip %s", path)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(err, "gunzip %s", path)
	}
	return data, nil
}

// Write compresses data and stores it under path.
func (s *Store) Write(path string, data []byte, overwrite bool) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return errors.Wrapf(err, "gzip %s", path)
	}
	if err := zw.Close(); err != nil {
		return errors.Wrapf(err, "gzip %s", path)
	}
	return s.inner.Write(path, buf.Bytes(), overwrite)
}

// Delete delegates to the inner archive.
func (s *Store) Delete(path string) error {
	return s.inner.Delete(path)
}

// OpenReader streams the object at path through gzip decompression.
func (s *Store) OpenReader(path string) (io.ReadCloser, error) {
	rc, err := s.inner.OpenReader(path)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, errors.Wrapf(err, "gunzip %s", path)
	}
	return &readCloser{zr: zr, inner: rc}, nil
}

// OpenWriter streams a new payload for path through gzip compression. The
// inner writer's lock discipline applies: it is held until Close.
func (s *Store) OpenWriter(path string, overwrite bool) (io.WriteCloser, error) {
	wc, err := s.inner.OpenWriter(path, overwrite)
	if err != nil {
		return nil, err
	}
	return &writeCloser{zw: gzip.NewWriter(wc), inner: wc}, nil
}

// Close delegates to the inner archive.
func (s *Store) Close() error {
	return s.inner.Close()
}

type readCloser struct {
	zr    *gzip.Reader
	inner io.ReadCloser
}

func (r *readCloser) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

func (r *readCloser) Close() error {
	zerr := r.zr.Close()
	if err := r.inner.Close(); err != nil {
		return err
	}
	return zerr
}

type writeCloser struct {
	zw    *gzip.Writer
	inner io.WriteCloser
}

func (w *writeCloser) Write(p []byte) (int, error) {
	return w.zw.Write(p)
}

// Close flushes the gzip stream before closing the inner writer; the inner
// Close must run even when the flush fails, it releases the store lock.
func (w *writeCloser) Close() error {
	zerr := w.zw.Close()
	if err := w.inner.Close(); err != nil {
		return err
	}
	return zerr
}
