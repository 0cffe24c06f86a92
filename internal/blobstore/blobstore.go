// Package blobstore adapts github.com/minio/minio-go/v7 to the narrow
// object-storage contract ingestion needs: original file bytes are archived
// alongside the relational/graph/vector stores. The rebuild path does not
// read them back; it works from cached extractions.
package blobstore

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

// Config holds the MinIO client configuration.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is a thin wrapper over *minio.Client scoped to one bucket, keyed by
// "<project_id>/<document_id>" so project deletion can be expressed as a
// prefix-list-then-delete sweep.
type Store struct {
	client *minio.Client
	bucket string
	log    *logrus.Logger
}

// New connects to MinIO (or any S3-compatible endpoint) and ensures the
// configured bucket exists.
func New(ctx context.Context, cfg Config, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.New()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "create minio client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "check bucket existence", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "create bucket", err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket, log: log}, nil
}

func objectKey(projectID, documentID string) string {
	return projectID + "/" + documentID
}

// Put uploads a document's original bytes.
func (s *Store) Put(ctx context.Context, projectID, documentID string, content io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(projectID, documentID), content, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, projectID, "put blob", err)
	}
	return nil
}

// Get downloads a document's original bytes. Callers must Close the result.
func (s *Store) Get(ctx context.Context, projectID, documentID string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(projectID, documentID), minio.GetObjectOptions{})
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "get blob", err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, graphragerr.New(graphragerr.GraphNotFound, projectID, "blob not found: "+documentID)
	}
	return obj, nil
}

// Delete removes a single document's blob.
func (s *Store) Delete(ctx context.Context, projectID, documentID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(projectID, documentID), minio.RemoveObjectOptions{}); err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, projectID, "delete blob", err)
	}
	return nil
}

// DeleteProject removes every blob under a project's prefix, used when a
// project is torn down entirely.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    projectID + "/",
		Recursive: true,
	})

	for obj := range objectsCh {
		if obj.Err != nil {
			return graphragerr.Wrap(graphragerr.StorageTransient, projectID, "list project blobs", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return graphragerr.Wrap(graphragerr.StorageTransient, projectID, "delete project blob "+obj.Key, err)
		}
	}
	return nil
}

// List enumerates every blob for a project, for export/rebuild flows.
func (s *Store) List(ctx context.Context, projectID string) ([]ObjectInfo, error) {
	objectsCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    projectID + "/",
		Recursive: true,
	})

	var out []ObjectInfo
	for obj := range objectsCh {
		if obj.Err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "list project blobs", obj.Err)
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}
