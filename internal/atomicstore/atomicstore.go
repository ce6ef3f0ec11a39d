// Package atomicstore is the Atomic Store (C2): it guarantees that a
// reader never observes a partially-written artifact. The local
// implementation follows the teacher's network.DownloadFile discipline
// (write to a same-directory temp file, fsync, then os.Rename), adapted
// from a single-shot HTTP download into a general "write arbitrary bytes
// atomically" store used by both the raw artifact writer and the
// progress ledger. The S3 implementation relies on a PutObject call
// already being atomic at the object level, grounded on the teacher's
// storage/s3aws.go uploader.
package atomicstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/weatherarchive/edr-ingest/internal/errs"
)

// Store is the minimal interface the rest of the pipeline needs from
// durable storage: atomic writes, existence checks, and reads. Both raw
// artifacts, refined partitions, and progress ledgers go through a Store.
type Store interface {
	// Put atomically writes the bytes produced by src under path.
	// Implementations must ensure a concurrent Get never observes a
	// partial write: either the old content (if any) or the full new
	// content, never a mix.
	Put(ctx context.Context, path string, src []byte) error

	// Get reads the full contents at path. Returns a *errs.IOError
	// wrapping os.ErrNotExist (or the S3 NoSuchKey equivalent) when
	// absent so callers can use errors.Is(err, os.ErrNotExist).
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether path has been written.
	Exists(ctx context.Context, path string) (bool, error)

	// Root returns the root this store was constructed with, for
	// building child paths and for diagnostics.
	Root() string
}

// New constructs a Store for root, dispatching on a "s3://" scheme to
// the S3-backed implementation and otherwise treating root as a local
// filesystem directory.
func New(ctx context.Context, root string) (Store, error) {
	if strings.HasPrefix(root, "s3://") {
		return newS3Store(ctx, root)
	}
	return newLocalStore(root)
}

// localStore implements Store against the local filesystem.
type localStore struct {
	root string
}

func newLocalStore(root string) (Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &errs.IOError{Path: root, Op: "mkdir", Err: err}
	}
	return &localStore{root: root}, nil
}

func (s *localStore) Root() string { return s.root }

func (s *localStore) resolve(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Put writes src to a temp file in the same directory as the final
// path, fsyncs it, and renames it into place. The rename is the only
// visible state transition: a reader either sees the previous file (or
// nothing) or the complete new file.
func (s *localStore) Put(ctx context.Context, path string, src []byte) error {
	final := s.resolve(path)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errs.IOError{Path: final, Op: "mkdir", Err: err}
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(final), uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &errs.IOError{Path: tmp, Op: "create", Err: err}
	}

	if _, err := io.Copy(f, bytes.NewReader(src)); err != nil {
		f.Close()
		os.Remove(tmp)
		return &errs.IOError{Path: tmp, Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &errs.IOError{Path: tmp, Op: "fsync", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &errs.IOError{Path: tmp, Op: "close", Err: err}
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return &errs.IOError{Path: final, Op: "rename", Err: err}
	}
	return nil
}

func (s *localStore) Get(ctx context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(s.resolve(path))
	if err != nil {
		return nil, &errs.IOError{Path: path, Op: "read", Err: err}
	}
	return b, nil
}

func (s *localStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.resolve(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &errs.IOError{Path: path, Op: "stat", Err: err}
}
