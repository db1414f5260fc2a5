// Package blobstore uploads and deletes user media (avatars, cover images)
// in an S3-compatible object store.
package blobstore

import (
	"context"
	"io"
)

// Upload describes one file to store.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

// Blob is a stored object: its public URL and the id used to delete it.
type Blob struct {
	URL string
	ID  string
}

type Store interface {
	Upload(ctx context.Context, u Upload) (Blob, error)
	Delete(ctx context.Context, id string) error
}
