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

// Package storage moves exposures and result tables between object storage and local files.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// A reference to one object in a bucket
type Object struct {
	Bucket        string
	Key           string
	RequesterPays bool // Requester is billed for the transfer, as for the public HST bucket
}

func (o Object) String() string {
	return "s3://" + o.Bucket + "/" + o.Key
}

// Moves objects to and from local files
type Store interface {
	// Download copies the object to the local file, returning the number of bytes written
	Download(ctx context.Context, obj Object, fileName string) (int64, error)

	// Upload copies the local file to the object
	Upload(ctx context.Context, obj Object, fileName string) error
}

// ParseURI splits an s3://bucket/key URI into an object reference
func ParseURI(uri string) (Object, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return Object{}, fmt.Errorf("not an s3 URI: %q", uri)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Object{}, fmt.Errorf("s3 URI lacks bucket or key: %q", uri)
	}
	return Object{Bucket: bucket, Key: key}, nil
}

// Root returns the exposure root name of a key: the part of the base name before the first underscore
func Root(key string) string {
	base := path.Base(key)
	root, _, _ := strings.Cut(base, "_")
	return root
}

// OutputKey returns the key of the result table for the exposure with the given key
func OutputKey(key string) string {
	return "results/" + Root(key) + "_sky.dat"
}
