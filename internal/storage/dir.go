// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stores objects as files under Root/<bucket>/<key>. For local runs and tests
type DirStore struct {
	Root string
}

func (d DirStore) path(obj Object) string {
	return filepath.Join(d.Root, obj.Bucket, filepath.FromSlash(obj.Key))
}

func (d DirStore) Download(ctx context.Context, obj Object, fileName string) (int64, error) {
	n, err := copyFile(ctx, d.path(obj), fileName)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", obj, err)
	}
	return n, nil
}

func (d DirStore) Upload(ctx context.Context, obj Object, fileName string) error {
	if _, err := copyFile(ctx, fileName, d.path(obj)); err != nil {
		return fmt.Errorf("uploading %s: %w", obj, err)
	}
	return nil
}

func copyFile(ctx context.Context, from, to string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	src, err := os.Open(from)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(to)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(to)
		return 0, err
	}
	return n, nil
}
