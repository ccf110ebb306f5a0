package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/forgeos/graph/internal/errs"
)

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}

// ObjectBackend stores blobs in an S3-compatible bucket under
// blobs/{hash[0:2]}/{hash[2:4]}/{hash}. Pointing Endpoint at a GCS XML-API
// or other S3-compatible endpoint (BLOB_BACKEND=gcs) reuses this same
// client, since the retrieval pack carries no GCS-native SDK.
type ObjectBackend struct {
	client *s3.Client
	bucket string
}

// NewObjectBackend wraps an already-configured S3 client.
func NewObjectBackend(client *s3.Client, bucket string) *ObjectBackend {
	return &ObjectBackend{client: client, bucket: bucket}
}

// NewS3Client builds a minimal S3-compatible client from static credentials,
// without pulling in aws-sdk-go-v2/config's environment/IMDS credential
// chain (out of scope per DESIGN.md — this substrate takes its one bucket's
// keys from explicit configuration, not ambient cloud discovery). endpoint
// is optional; set it to point at a GCS XML-API or MinIO-compatible
// endpoint for BLOB_BACKEND=gcs.
func NewS3Client(accessKey, secretKey, region, endpoint string) *s3.Client {
	cfg := aws.Config{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey}, nil
		}),
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})
}

func objectKey(hexHash string) string {
	return fmt.Sprintf("blobs/%s/%s/%s", hexHash[:2], hexHash[2:4], hexHash)
}

func (b *ObjectBackend) Store(ctx context.Context, hexHash, content string) error {
	key := objectKey(hexHash)
	if ok, _ := b.Exists(ctx, hexHash); ok {
		return nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(content)),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	return err
}

func (b *ObjectBackend) Resolve(ctx context.Context, hexHash string) (string, error) {
	key := objectKey(hexHash)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errorsAs(err, &nsk) {
			return "", errs.NewNotFound("blob: sha256:" + hexHash)
		}
		return "", errs.NewRemoteUnavailable("s3 get", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *ObjectBackend) Exists(ctx context.Context, hexHash string) (bool, error) {
	key := objectKey(hexHash)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errorsAs(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *ObjectBackend) Delete(ctx context.Context, hexHash string) (bool, error) {
	key := objectKey(hexHash)
	exists, err := b.Exists(ctx, hexHash)
	if err != nil || !exists {
		return false, err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err == nil, err
}

func (b *ObjectBackend) Stats(ctx context.Context) (Stats, error) {
	var count int
	var total int64
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String("blobs/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Stats{}, err
		}
		for _, obj := range page.Contents {
			count++
			if obj.Size != nil {
				total += *obj.Size
			}
		}
	}
	return Stats{Backend: "object", BlobCount: count, TotalBytes: total}, nil
}
