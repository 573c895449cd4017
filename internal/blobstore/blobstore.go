// Package blobstore implements the content-addressed attachment store.
// Blobs live as plain files on disk, named by their digest, under a
// directory derived from the database path
// (<db-path-without-extension>-attachments).
package blobstore

import (
	"context"
	"crypto/sha1" //nolint:gosec // content-addressing digest, not a security boundary
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

const keyPrefix = "sha1-"

// DirForDatabase derives the attachments directory for a database file
// path.
func DirForDatabase(dbPath string) string {
	ext := filepath.Ext(dbPath)
	return strings.TrimSuffix(dbPath, ext) + "-attachments"
}

// Store is a content-addressed blob store rooted at Dir.
type Store struct {
	Dir string

	mu      sync.Mutex
	pending map[string]*Writer // digest -> writer awaiting install()
}

// Open ensures the store's directory exists.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{Dir: dir, pending: make(map[string]*Writer)}, nil
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.Dir, url.QueryEscape(key))
}

// Store writes bytes to the blob store, returning the content key and
// length. Idempotent: storing identical content twice returns the same
// key without duplicating bytes on disk.
func (s *Store) Store(ctx context.Context, content []byte) (key string, length int, err error) {
	sum := sha1.Sum(content) //nolint:gosec
	key = keyPrefix + base64.StdEncoding.EncodeToString(sum[:])
	path := s.pathFor(key)

	if _, err := os.Stat(path); err == nil {
		return key, len(content), nil
	}

	op := func() error {
		return os.WriteFile(path, content, 0o644)
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)); err != nil {
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}
	return key, len(content), nil
}

// Writer streams attachment bytes to a temp file; install() atomically
// places them under their content-derived key once the digest is known
// (the "follows" attachment form).
type Writer struct {
	store     *Store
	tmp       *os.File
	length    int
	digest    string
	expected  string
	installed bool
}

// OpenWriter begins streaming a new attachment body.
func (s *Store) OpenWriter() (*Writer, error) {
	tmp, err := os.CreateTemp(s.Dir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to open blob writer: %w", err)
	}
	return &Writer{store: s, tmp: tmp}, nil
}

// Write streams bytes into the pending blob.
func (w *Writer) Write(p []byte) (int, error) {
	w.length += len(p)
	return w.tmp.Write(p)
}

// RememberWriter registers a pending writer under the digest the
// replicator peer announced, so a later "follows" attachment entry can
// be resolved to it.
func (s *Store) RememberWriter(digest string, w *Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.expected = digest
	s.pending[digest] = w
}

// PendingWriter returns a previously remembered writer for digest.
func (s *Store) PendingWriter(digest string) (*Writer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.pending[digest]
	return w, ok
}

// Install computes the final digest, moves the temp file into place under
// its content key, and returns the key/length. Safe to call once.
func (w *Writer) Install() (key string, length int, err error) {
	if w.installed {
		return "", 0, fmt.Errorf("blobstore: writer already installed")
	}
	if _, err := w.tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, fmt.Errorf("failed to rewind temp blob: %w", err)
	}
	hasher := sha1.New() //nolint:gosec
	if _, err := io.Copy(hasher, w.tmp); err != nil {
		return "", 0, fmt.Errorf("failed to hash temp blob: %w", err)
	}
	key = keyPrefix + base64.StdEncoding.EncodeToString(hasher.Sum(nil))
	if w.expected != "" && w.expected != key {
		_ = w.tmp.Close()
		_ = os.Remove(w.tmp.Name())
		return "", 0, fmt.Errorf("blobstore: digest mismatch, expected %s got %s", w.expected, key)
	}

	dest := w.store.pathFor(key)
	tmpName := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp blob: %w", err)
	}

	op := func() error {
		if _, statErr := os.Stat(dest); statErr == nil {
			return nil // already present: idempotent store
		}
		return os.Rename(tmpName, dest)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)); err != nil {
		_ = os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to install blob: %w", err)
	}
	_ = os.Remove(tmpName) // no-op if rename succeeded

	w.installed = true
	w.digest = key
	if w.store.pending != nil {
		w.store.mu.Lock()
		delete(w.store.pending, w.expected)
		w.store.mu.Unlock()
	}
	return key, w.length, nil
}

// Read opens a stream over the blob stored under key.
func (s *Store) Read(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return f, nil
}

// Size returns the byte length of the blob stored under key.
func (s *Store) Size(key string) (int64, error) {
	info, err := os.Stat(s.pathFor(key))
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}
	return info.Size(), nil
}

// DeleteExcept retains only the given key set, deleting every other blob
// file in the store: the attachment-GC half of Compact.
func (s *Store) DeleteExcept(keep map[string]bool) (deleted int, err error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list blob directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "upload-") {
			continue
		}
		key, err := url.QueryUnescape(entry.Name())
		if err != nil {
			continue
		}
		if keep[key] {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, entry.Name())); err != nil {
			return deleted, fmt.Errorf("failed to delete blob %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}
