// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/memwatch/internal/derrors"
)

// An Uploader copies a local artifact file to a remote destination under
// the given object name. Implementations must leave the local file intact
// so a failed upload can be retried.
type Uploader interface {
	Upload(ctx context.Context, localPath, name string) error
}

// ForDest returns an Uploader for the given destination. Destinations of
// the form gs://bucket/prefix upload to GCS; anything else is treated as a
// local directory, which is useful for tests and on-prem workers.
func ForDest(ctx context.Context, dest string) (_ Uploader, err error) {
	defer derrors.Wrap(&err, "ForDest(%q)", dest)
	if dest == "" {
		return nil, fmt.Errorf("%w: empty upload destination", derrors.InvalidConfiguration)
	}
	if bucket, prefix, ok := cutGSPath(dest); ok {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return &gcsUploader{bucket: c.Bucket(bucket), prefix: prefix}, nil
	}
	return &dirUploader{dir: dest}, nil
}

// cutGSPath splits a gs://bucket/prefix URL into its bucket and prefix.
func cutGSPath(dest string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(dest, "gs://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix, bucket != ""
}

type gcsUploader struct {
	bucket *storage.BucketHandle
	prefix string
}

// Upload copies the local file to the bucket under prefix/name.
func (u *gcsUploader) Upload(ctx context.Context, localPath, name string) (err error) {
	defer derrors.Wrap(&err, "gcsUploader.Upload(%q, %q)", localPath, name)
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	w := u.bucket.Object(path.Join(u.prefix, name)).NewWriter(ctx)
	if err := copyAndClose(w, f); err != nil {
		return fmt.Errorf("%w: %v", derrors.UploadError, err)
	}
	return nil
}

type dirUploader struct {
	dir string
}

// Upload copies the local file into the destination directory.
func (u *dirUploader) Upload(ctx context.Context, localPath, name string) (err error) {
	defer derrors.Wrap(&err, "dirUploader.Upload(%q, %q)", localPath, name)
	if err := os.MkdirAll(u.dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", derrors.UploadError, err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	destf, err := os.OpenFile(filepath.Join(u.dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", derrors.UploadError, err)
	}
	if err := copyAndClose(destf, f); err != nil {
		return fmt.Errorf("%w: %v", derrors.UploadError, err)
	}
	return nil
}

// copyAndClose copies r to wc and closes wc.
func copyAndClose(wc io.WriteCloser, r io.Reader) error {
	_, err := io.Copy(wc, r)
	err2 := wc.Close()
	if err == nil {
		err = err2
	}
	return err
}
