// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// NewLocalFS returns a directory-backed implementation of the Storage
// interface. All objects are stored as files in dirname, which is created if
// it does not exist. Object names containing a '/' are stored in
// subdirectories.
func NewLocalFS(dirname string) (Storage, error) {
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}
	return &localFSStore{dirname: dirname}, nil
}

type localFSStore struct {
	dirname string
}

var _ Storage = (*localFSStore)(nil)

func (s *localFSStore) path(name string) string {
	return filepath.Join(s.dirname, filepath.FromSlash(name))
}

// Close is part of the Storage interface.
func (s *localFSStore) Close() error {
	return nil
}

// Get is part of the Storage interface.
func (s *localFSStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(s.path(name))
}

// GetRange is part of the Storage interface.
func (s *localFSStore) GetRange(
	ctx context.Context, name string, offset, length int64,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > stat.Size() {
		return nil, rangeError(name, offset, length, stat.Size())
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	// https://pkg.go.dev/io#ReaderAt
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Put is part of the Storage interface. The object is written to a temporary
// file which is synced and renamed into place, so a reader never observes a
// partially written object.
func (s *localFSStore) Put(ctx context.Context, name string, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	_, err = f.Write(data)
	err = errors.CombineErrors(err, f.Sync())
	err = errors.CombineErrors(err, f.Close())
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return s.syncDir(filepath.Dir(path))
}

func (s *localFSStore) syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	return errors.CombineErrors(d.Sync(), d.Close())
}

// List is part of the Storage interface.
func (s *localFSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var res []string
	err := filepath.WalkDir(s.dirname, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.dirname, path)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			res = append(res, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(res)
	return res, nil
}

// Delete is part of the Storage interface.
func (s *localFSStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !oserror.IsNotExist(err) {
		return err
	}
	return nil
}

// IsNotExistError is part of the Storage interface.
func (s *localFSStore) IsNotExistError(err error) bool {
	return oserror.IsNotExist(err)
}
