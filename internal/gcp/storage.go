package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is left untouched and reported as backend.ErrAlreadyExists.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content io.Reader, contentType string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Warn("Object already exists, not overwriting.", "gcsObject", objectName)
			return fmt.Errorf("gs://%s/%s: %w", bucket.BucketName(), objectName, backend.ErrAlreadyExists)
		}
		slog.Error("Failed to copy content to GCS object", "gcsObject", objectName, "error", err)
		return Classify("write gs object", fmt.Errorf("failed to write to GCS: %w", err))
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Warn("Object already exists, not overwriting.", "gcsObject", objectName)
			return fmt.Errorf("gs://%s/%s: %w", bucket.BucketName(), objectName, backend.ErrAlreadyExists)
		}
		slog.Error("Failed to close GCS writer", "gcsObject", objectName, "error", err)
		return Classify("finalize gs object", fmt.Errorf("failed to finalize GCS write: %w", err))
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ParseGCSURI splits gs://bucket/prefix into its parts.
func ParseGCSURI(uri string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(uri, "gs://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

// StorageBackend serves documents from a GCS bucket and stages uploads in a
// second bucket. As a Searcher the folder is an object prefix; as an
// Uploader/Resolver it hands gs:// URIs to extractors that read GCS directly.
type StorageBackend struct {
	client        *storage.Client
	sourceBucket  string
	stagingBucket string
}

// NewStorageBackend returns a backend over the given buckets. Either bucket
// may be empty when the corresponding role is unused.
func NewStorageBackend(client *storage.Client, sourceBucket, stagingBucket string) *StorageBackend {
	return &StorageBackend{client: client, sourceBucket: sourceBucket, stagingBucket: stagingBucket}
}

// Search lists the objects under folder. Placeholder "directory" objects are
// skipped. Object names come back in lexical order.
func (b *StorageBackend) Search(ctx context.Context, folder string) ([]backend.Item, error) {
	prefix := strings.Trim(folder, "/")
	if prefix != "" {
		prefix += "/"
	}
	it := b.client.Bucket(b.sourceBucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var items []backend.Item
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, Classify("list gs://"+b.sourceBucket+"/"+prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		items = append(items, backend.Item{Name: path.Base(attrs.Name), ID: attrs.Name})
	}
	return items, nil
}

// Fetch opens the object named id in the source bucket.
func (b *StorageBackend) Fetch(ctx context.Context, id string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.sourceBucket).Object(id).NewReader(ctx)
	if err != nil {
		return nil, Classify(fmt.Sprintf("read gs://%s/%s", b.sourceBucket, id), err)
	}
	return r, nil
}

// Upload stores payload in the staging bucket under a unique object name.
// The receipt id is the object name.
func (b *StorageBackend) Upload(ctx context.Context, payload []byte, name, purpose string) (models.Receipt, error) {
	if b.stagingBucket == "" {
		return models.Receipt{}, backend.Configuration("staging bucket is not configured")
	}
	objectName := fmt.Sprintf("%s/%s/%s", purpose, uuid.NewString(), filepath.Base(name))
	contentType := mime.TypeByExtension(filepath.Ext(name))

	if err := SaveToGCSAtomically(ctx, b.client.Bucket(b.stagingBucket), objectName, bytes.NewReader(payload), contentType); err != nil {
		return models.Receipt{}, err
	}
	return models.Receipt{
		ID:   objectName,
		Name: name,
		Raw: map[string]any{
			"bucket":      b.stagingBucket,
			"object":      objectName,
			"bytes":       len(payload),
			"contentType": contentType,
			"purpose":     purpose,
		},
	}, nil
}

// Resolve returns the gs:// URI of a staged object, or backend.ErrPending if
// the object is not visible yet.
func (b *StorageBackend) Resolve(ctx context.Context, receiptID string) (string, error) {
	attrs, err := b.client.Bucket(b.stagingBucket).Object(receiptID).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("gs://%s/%s: %w", b.stagingBucket, receiptID, backend.ErrPending)
	}
	if err != nil {
		return "", Classify("stat gs://"+b.stagingBucket+"/"+receiptID, err)
	}
	return fmt.Sprintf("gs://%s/%s", attrs.Bucket, attrs.Name), nil
}

// GCSSink writes extracted texts as objects under a bucket prefix.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink returns a sink for a gs://bucket/prefix destination.
func NewGCSSink(client *storage.Client, dest string) (*GCSSink, error) {
	bucket, prefix, ok := ParseGCSURI(dest)
	if !ok {
		return nil, backend.Configuration("invalid GCS destination %q", dest)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) Write(ctx context.Context, key, text string) (string, error) {
	objectName := path.Join(s.prefix, key)
	if err := SaveToGCSAtomically(ctx, s.client.Bucket(s.bucket), objectName, strings.NewReader(text), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}

// TextObjectName derives the output file name for a source document. The
// source extension is kept so scan.pdf and scan.png stay apart.
func TextObjectName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "document"
	}
	return base + ".txt"
}
