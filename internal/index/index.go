// Package index holds the in-memory view of the live records in an archive.
// It is a plain map with path-prefix and path-suffix queries on top; the
// store engine serializes all access with its own lock, so the index itself
// is not safe for concurrent use.
package index

import (
	"sort"
	"strings"
)

// Entry locates one live record's payload inside the backing file.
type Entry struct {
	Size   uint32 // payload length in bytes
	Offset int64  // absolute offset of the first payload byte
}

// Index maps full paths to their live record locations.
type Index struct {
	entries map[string]Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Get looks up the entry for an exact path.
func (ix *Index) Get(path string) (Entry, bool) {
	e, ok := ix.entries[path]
	return e, ok
}

// Put inserts or replaces the entry for path.
func (ix *Index) Put(path string, e Entry) {
	ix.entries[path] = e
}

// Delete removes the entry for path, returning it if it was present.
func (ix *Index) Delete(path string) (Entry, bool) {
	e, ok := ix.entries[path]
	if ok {
		delete(ix.entries, path)
	}
	return e, ok
}

// Len returns the number of live paths.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// LiveBytes sums the payload sizes of every live path.
func (ix *Index) LiveBytes() int64 {
	var total int64
	for _, e := range ix.entries {
		total += int64(e.Size)
	}
	return total
}

// Keys returns every live path in no particular order.
func (ix *Index) Keys() []string {
	keys := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		keys = append(keys, k)
	}
	return keys
}

// Exists reports whether any live path starts with prefix.
func (ix *Index) Exists(prefix string) bool {
	for k := range ix.entries {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// List returns every live path that starts with prefix. An empty prefix
// matches everything.
func (ix *Index) List(prefix string) []string {
	var out []string
	for k := range ix.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Find returns every live path that ends with name, sorted so the result is
// deterministic.
func (ix *Index) Find(name string) []string {
	var out []string
	for k := range ix.entries {
		if strings.HasSuffix(k, name) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
