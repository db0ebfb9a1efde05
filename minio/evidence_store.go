package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/evidence"
)

type evidenceStore struct {
	s3Client   *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
}

// NewEvidenceStore returns an sr.EvidenceStore backed by the given S3 client.
func NewEvidenceStore(s3Client *s3.Client, bucket string) (sr.EvidenceStore, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket parameter can't be empty")
	}
	return &evidenceStore{
		s3Client:   s3Client,
		uploader:   manager.NewUploader(s3Client),
		downloader: manager.NewDownloader(s3Client),
		bucket:     bucket,
	}, nil
}

// EnsureBucket creates the evidence bucket if it does not exist yet.
func EnsureBucket(ctx context.Context, s3Client *s3.Client, bucket, region string) error {
	_, err := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		},
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("couldn't create bucket %s, details: %v", bucket, err)
	}
	return nil
}

func manifestKey(contentHash string) string {
	return contentHash + "/manifest.json"
}

func blobKey(contentHash, name string) string {
	return contentHash + "/blobs/" + name
}

// Store persists a bundle at its content address. If the address already holds
// a bundle, nothing is written: identical content lands at an identical
// address, so the stored bytes are already the right ones.
func (es *evidenceStore) Store(ctx context.Context, manifest []byte, blobs map[string][]byte) (string, error) {
	contentHash := evidence.ComputeBundleHash(manifest, blobs)

	exists, err := es.Exists(ctx, contentHash)
	if err != nil {
		return "", err
	}
	if exists {
		return contentHash, nil
	}

	for name, data := range blobs {
		if _, err := es.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(es.bucket),
			Key:    aws.String(blobKey(contentHash, name)),
			Body:   bytes.NewReader(data),
		}); err != nil {
			return "", fmt.Errorf("upload blob %s of %s, details: %v", name, contentHash, err)
		}
	}
	// The manifest goes last so a bundle is only "present" once complete.
	if _, err := es.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(es.bucket),
		Key:         aws.String(manifestKey(contentHash)),
		Body:        bytes.NewReader(manifest),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return "", fmt.Errorf("upload manifest of %s, details: %v", contentHash, err)
	}
	return contentHash, nil
}

func (es *evidenceStore) Retrieve(ctx context.Context, contentHash string) ([]byte, error) {
	return es.download(ctx, manifestKey(contentHash), contentHash)
}

func (es *evidenceStore) RetrieveBlob(ctx context.Context, contentHash, name string) ([]byte, error) {
	return es.download(ctx, blobKey(contentHash, name), contentHash)
}

func (es *evidenceStore) download(ctx context.Context, key, contentHash string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := es.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(es.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, sr.Error{
				Code:     sr.EvidenceNotFound,
				Err:      fmt.Errorf("evidence not found: %s", key),
				UserData: contentHash,
			}
		}
		return nil, fmt.Errorf("download %s, details: %v", key, err)
	}
	return buf.Bytes(), nil
}

func (es *evidenceStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	_, err := es.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(es.bucket),
		Key:    aws.String(manifestKey(contentHash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head %s, details: %v", manifestKey(contentHash), err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	// Some S3-compatible servers report a bare 404 status.
	return strings.Contains(err.Error(), "StatusCode: 404") || strings.Contains(err.Error(), "NotFound")
}
