// Package blobstore uploads finished video artifacts to object storage.
// It wraps the Google Cloud Storage client: Firebase Storage buckets are
// GCS buckets under the hood, so a GCS client pointed at the Firebase
// Storage emulator host is a faithful stand-in for a hosted blob store.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Store uploads objects into one GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// Open constructs a Store against bucket, honoring FIREBASE_STORAGE_EMULATOR_HOST
// (falling back to STORAGE_EMULATOR_HOST) by redirecting the client at the
// emulator instead of production GCS.
func Open(ctx context.Context, bucket string) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blobstore: bucket name is required")
	}

	var opts []option.ClientOption
	emulatorHost := firstNonEmpty(os.Getenv("FIREBASE_STORAGE_EMULATOR_HOST"), os.Getenv("STORAGE_EMULATOR_HOST"))
	if emulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint("http://"+emulatorHost+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
		slog.Info("blobstore: using storage emulator", "host", emulatorHost)
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Close releases the underlying client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Upload writes r to objectName in the bucket with the given content type,
// per §6's `videos/{video_id}` blob contract.
func (s *Store) Upload(ctx context.Context, objectName, contentType string, r io.Reader) error {
	obj := s.client.Bucket(s.bucket).Object(objectName)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("blobstore: write object %q: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("blobstore: finalize object %q: %w", objectName, err)
	}
	slog.Info("blobstore: uploaded", "object", objectName, "content_type", contentType)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
