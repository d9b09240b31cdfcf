package state

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobStore keeps one object per trace and key in a gocloud.dev bucket,
// supporting local directories, S3, GCS, and Azure Blob Storage
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
}

var _ Store = (*BlobStore)(nil)

// OpenBlobStore opens the bucket at bucketURL, storing objects under prefix
func OpenBlobStore(
	ctx context.Context, bucketURL, prefix string,
) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBlobStore(bucket, prefix), nil
}

func NewBlobStore(bucket *blob.Bucket, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, prefix: prefix}
}

func (s *BlobStore) Get(
	ctx context.Context, traceID, key string,
) (json.RawMessage, error) {
	data, err := s.bucket.ReadAll(ctx, s.keyFor(traceID, key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *BlobStore) Set(
	ctx context.Context, traceID, key string, value json.RawMessage,
) error {
	return s.bucket.WriteAll(ctx, s.keyFor(traceID, key), value, &blob.WriterOptions{
		ContentType: "application/json",
	})
}

func (s *BlobStore) Delete(ctx context.Context, traceID, key string) error {
	err := s.bucket.Delete(ctx, s.keyFor(traceID, key))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (s *BlobStore) Clear(ctx context.Context, traceID string) error {
	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.tracePrefix(traceID),
	})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = s.bucket.Delete(ctx, obj.Key)
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) tracePrefix(traceID string) string {
	return s.prefix + url.PathEscape(traceID) + "/"
}

func (s *BlobStore) keyFor(traceID, key string) string {
	return s.tracePrefix(traceID) + url.PathEscape(key) + ".json"
}
