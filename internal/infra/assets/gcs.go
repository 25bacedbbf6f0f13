// Package assets stores post images and rendered books in a Google Cloud
// Storage bucket.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS uses application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create storage client: %w", err)
	}
	return &GCS{client: c, bucket: bucket}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// Put uploads data and returns its public URL.
func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("could not write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("could not close object writer %s: %w", key, err)
	}
	return PublicURL(g.bucket, key), nil
}

// Delete removes an object. A missing object is not an error.
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("could not delete object %s: %w", key, err)
	}
	return nil
}

func PublicURL(bucket, key string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + (&url.URL{Path: key}).EscapedPath()
}

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// ImageExt returns the file extension for an allowed image content type.
func ImageExt(contentType string) (string, bool) {
	ext, ok := imageExt[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// PostImageKey is where an uploaded post image lives; keys are grouped per
// family group so teardown can find them.
func PostImageKey(groupID, ext string) string {
	return path.Join("groups", groupID, "posts", uuid.NewString()+ext)
}
