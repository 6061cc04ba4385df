// Package blobstore provides content-addressed durable storage for ingested
// image bytes. Blobs are stored under a two-level fan-out derived from their
// content hash, so the same content always lands at the same path and repeat
// writes are no-ops.
package blobstore

import (
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/logging"
)

// Store is a content-addressed blob store rooted at a single directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.Newf("blob store root directory is required").
			Category(errors.CategoryConfiguration).
			Component("blobstore").
			Build()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Newf("failed to create blob store root: %w", err).
			Category(errors.CategoryBlobStore).
			Context("root", root).
			Component("blobstore").
			Build()
	}
	return &Store{
		root:   root,
		logger: logging.ForService("blobstore"),
	}, nil
}

// PathFor returns the storage path for a content hash: the first two and next
// two hash characters as directories, then the full hash as the file name.
// Short hashes (tests, placeholders) collapse to a flat path.
func PathFor(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return path.Join(hash[0:2], hash[2:4], hash)
}

// Put writes data under its content hash and returns the storage path.
// The write is atomic (temp file + rename) and idempotent: if the blob already
// exists it is left untouched.
func (s *Store) Put(hash string, data []byte) (string, error) {
	storagePath := PathFor(hash)
	absPath := filepath.Join(s.root, filepath.FromSlash(storagePath))

	if _, err := os.Stat(absPath); err == nil {
		s.logger.Debug("blob already stored", "hash", hash, "path", storagePath)
		return storagePath, nil
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", s.wrapf(err, hash, "failed to create blob directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(absPath), "."+hash+".tmp-*")
	if err != nil {
		return "", s.wrapf(err, hash, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		// Best-effort cleanup; after a successful rename this is a no-op.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", s.wrapf(err, hash, "failed to write blob")
	}
	if err := tmp.Close(); err != nil {
		return "", s.wrapf(err, hash, "failed to close blob")
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		return "", s.wrapf(err, hash, "failed to finalize blob")
	}

	s.logger.Debug("blob stored", "hash", hash, "path", storagePath, "bytes", len(data))
	return storagePath, nil
}

// Exists reports whether a blob for the given hash is present.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(PathFor(hash))))
	return err == nil
}

// Open opens a stored blob by its storage path.
func (s *Store) Open(storagePath string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(storagePath)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("blob not found: %s", storagePath).
				Category(errors.CategoryNotFound).
				Context("path", storagePath).
				Component("blobstore").
				Build()
		}
		return nil, errors.Newf("failed to open blob: %w", err).
			Category(errors.CategoryBlobStore).
			Context("path", storagePath).
			Component("blobstore").
			Build()
	}
	return f, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) wrapf(err error, hash, msg string) error {
	return errors.Newf(msg+": %w", err).
		Category(errors.CategoryBlobStore).
		Context("hash", hash).
		Component("blobstore").
		Build()
}
