// Package storage is the file layer every spkid component reads and writes
// through: the preprocessed corpus (index files plus per-utterance feature
// files), model checkpoints, and prediction CSVs.
//
// Two backends exist. Local serves a directory on disk; S3Store serves a
// bucket prefix on any S3-compatible object store. OpenDir picks one from a
// location string so that configuration can name either.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// ErrBadLocation is returned by OpenDir and OpenFile for a location it cannot parse.
var ErrBadLocation = errors.New("storage: bad location")

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing. Data becomes visible under
	// path only when the writer is closed without error; a previous file
	// with the same name is replaced as a whole. The writer also
	// implements Aborter; see Abort.
	// Parent directories are created automatically.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Aborter is implemented by the writers FileStore.Write returns. Abort
// discards everything written so far and releases the writer; the file
// previously stored under the path, if any, stays in place.
type Aborter interface {
	Abort(cause error) error
}

// Abort discards w when it supports Aborter. Writers that do not are
// closed instead. Call it in place of Close when encoding fails.
func Abort(w io.WriteCloser, cause error) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort(cause)
	}
	return w.Close()
}

// OpenDir returns a store rooted at location.
//
// location is either a filesystem directory or an s3://bucket/prefix URI.
// S3 stores are configured from the environment, see NewS3FromEnv.
func OpenDir(ctx context.Context, location string) (FileStore, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, prefix, err := parseS3(location)
		if err != nil {
			return nil, err
		}
		return NewS3FromEnv(ctx, bucket, prefix)
	}
	if location == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadLocation)
	}
	return NewLocal(location)
}

// OpenFile splits a file location into a store rooted at its parent and
// the file's name within that store.
//
//	OpenFile(ctx, "runs/model.ckpt")           -> Local("runs"), "model.ckpt"
//	OpenFile(ctx, "s3://bkt/exp/1/model.ckpt") -> S3("bkt", "exp/1"), "model.ckpt"
func OpenFile(ctx context.Context, location string) (FileStore, string, error) {
	if strings.HasPrefix(location, "s3://") {
		bucket, key, err := parseS3(location)
		if err != nil {
			return nil, "", err
		}
		if key == "" {
			return nil, "", fmt.Errorf("%w: %s names a bucket, not a file", ErrBadLocation, location)
		}
		dir, name := path.Split(key)
		fs, err := NewS3FromEnv(ctx, bucket, strings.TrimSuffix(dir, "/"))
		if err != nil {
			return nil, "", err
		}
		return fs, name, nil
	}
	if location == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrBadLocation)
	}
	dir, name := filepath.Split(location)
	if name == "" {
		return nil, "", fmt.Errorf("%w: %s names a directory, not a file", ErrBadLocation, location)
	}
	if dir == "" {
		dir = "."
	}
	fs, err := NewLocal(dir)
	if err != nil {
		return nil, "", err
	}
	return fs, name, nil
}

// parseS3 splits s3://bucket/key into its parts. The key has no leading or
// trailing slash.
func parseS3(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: %s has no bucket", ErrBadLocation, uri)
	}
	return bucket, strings.Trim(key, "/"), nil
}
