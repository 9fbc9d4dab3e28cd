package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/freelance-manager/freelance-api/internal/shared"
)

const gcsWriteTimeout = 2 * time.Minute

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a storage client using Application Default Credentials, or
// the service account file when credentialsFile is set.
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("filestore: gcs bucket required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) object(name string) (*storage.ObjectHandle, string, error) {
	cleaned, err := Clean(name)
	if err != nil {
		return nil, "", err
	}
	key := cleaned
	if g.prefix != "" {
		key = Join(g.prefix, cleaned)
	}
	return g.client.Bucket(g.bucket).Object(key), key, nil
}

// Write uploads r. The object only becomes visible when the writer closes.
func (g *GCS) Write(ctx context.Context, name string, r io.Reader) error {
	obj, key, err := g.object(name)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return shared.NewIOFailure("upload", key, retryable(err), err)
	}
	if err := w.Close(); err != nil {
		return shared.NewIOFailure("finalize upload", key, retryable(err), err)
	}
	return nil
}

// Open returns a reader for name.
func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, key, err := g.object(name)
	if err != nil {
		return nil, err
	}
	rc, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, shared.NewIOFailure("open", key, retryable(err), err)
	}
	return rc, nil
}

// Exists reports whether name is stored.
func (g *GCS) Exists(ctx context.Context, name string) (bool, error) {
	obj, key, err := g.object(name)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, shared.NewIOFailure("attrs", key, retryable(err), err)
	}
	return true, nil
}

// Delete removes name. Deleting a missing object is not an error.
func (g *GCS) Delete(ctx context.Context, name string) error {
	obj, key, err := g.object(name)
	if err != nil {
		return err
	}
	err = obj.Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return shared.NewIOFailure("delete", key, retryable(err), err)
	}
	return nil
}

// retryable treats throttling, server errors and timeouts as transient.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}
