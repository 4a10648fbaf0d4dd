// Package s3 backs a vault with an S3-compatible object store. AWS and
// MinIO both work. Object coordinates ride in user metadata so listings and
// pruning can filter without downloading payloads.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/vault"
)

// Metadata keys carried on every object. S3 lowercases user metadata keys,
// so these are lowercase from the start.
const (
	metaOwner       = "cumdach-owner"
	metaDataType    = "cumdach-data-type"
	metaTag         = "cumdach-tag"
	metaContentHash = "cumdach-content-hash"
	metaDurable     = "cumdach-durable"
	metaUploadedAt  = "cumdach-uploaded-at"
	metaUser        = "cumdach-user-meta"
)

// Config locates the bucket and credentials. Leave AccessKeyID empty to use
// the ambient AWS credential chain.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Backend implements vault.Backend on top of an S3 client.
type Backend struct {
	client *awss3.Client
	bucket string
}

// NewBackend builds an S3 client from cfg. Endpoint and UsePathStyle exist
// for MinIO and other S3-compatible stores; both stay zero for AWS.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket", vault.ErrInvalidArgument)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

func (b *Backend) Put(ctx context.Context, key string, data []byte, obj vault.Object) error {
	meta, err := encodeMetadata(obj)
	if err != nil {
		return err
	}

	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      meta,
	})
	if err != nil {
		return mapError(err)
	}

	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, vault.Object, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, vault.Object{}, mapError(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, vault.Object{}, fmt.Errorf("%w: reading object body: %v", vault.ErrBackendUnavailable, err)
	}

	obj, err := decodeMetadata(key, int64(len(data)), out.Metadata)
	if err != nil {
		return nil, vault.Object{}, err
	}

	return data, obj, nil
}

func (b *Backend) Head(ctx context.Context, key string) (vault.Object, error) {
	out, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return vault.Object{}, mapError(err)
	}

	return decodeMetadata(key, aws.ToInt64(out.ContentLength), out.Metadata)
}

// List walks the bucket under prefix and fetches each object's metadata
// with a Head call. Listings are page-sized batches of small requests, not
// payload downloads.
func (b *Backend) List(ctx context.Context, prefix string) ([]vault.Object, error) {
	paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []vault.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}

		for _, item := range page.Contents {
			obj, err := b.Head(ctx, aws.ToString(item.Key))
			if err != nil {
				// Deleted between the list page and the head call.
				if errors.Is(err, vault.ErrNotFound) {
					continue
				}
				return nil, err
			}
			objects = append(objects, obj)
		}
	}

	return objects, nil
}

// Delete removes the object at key. S3 reports success for keys that do
// not exist, so deleting an already-vanished object succeeds silently
// rather than returning vault.ErrNotFound.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapError(err)
	}

	return nil
}

func (b *Backend) Scheme() string {
	return "s3"
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func encodeMetadata(obj vault.Object) (map[string]string, error) {
	meta := map[string]string{
		metaOwner:       obj.Owner,
		metaDataType:    string(obj.DataType),
		metaContentHash: obj.ContentHash,
		metaUploadedAt:  strconv.FormatInt(obj.UploadedAt.UnixNano(), 10),
	}

	if obj.Tag != "" {
		meta[metaTag] = obj.Tag
	}
	if obj.Durable {
		meta[metaDurable] = "true"
	}
	if len(obj.Metadata) > 0 {
		encoded, err := json.Marshal(obj.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding user metadata: %v", vault.ErrInvalidArgument, err)
		}
		meta[metaUser] = string(encoded)
	}

	return meta, nil
}

func decodeMetadata(key string, size int64, meta map[string]string) (vault.Object, error) {
	obj := vault.Object{
		Key:         key,
		Size:        size,
		Owner:       meta[metaOwner],
		DataType:    healthdata.DataType(meta[metaDataType]),
		Tag:         meta[metaTag],
		ContentHash: meta[metaContentHash],
		Durable:     meta[metaDurable] == "true",
	}

	if raw := meta[metaUploadedAt]; raw != "" {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return vault.Object{}, fmt.Errorf("object %s carries a malformed upload stamp %q", key, raw)
		}
		obj.UploadedAt = time.Unix(0, nanos).UTC()
	}

	if raw := meta[metaUser]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &obj.Metadata); err != nil {
			return vault.Object{}, fmt.Errorf("object %s carries malformed user metadata: %v", key, err)
		}
	}

	return obj, nil
}

// mapError folds SDK failures into the backend error taxonomy. Missing keys
// arrive as modeled types, throttling and server faults as API error codes,
// and anything the transport could not deliver counts as unavailability so
// the vault's retry policy applies.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", vault.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", vault.ErrNotFound, err)
		case "EntityTooLarge", "QuotaExceeded":
			return fmt.Errorf("%w: %v", vault.ErrQuotaExceeded, err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "ServiceUnavailable", "InternalError":
			return fmt.Errorf("%w: %v", vault.ErrBackendUnavailable, err)
		}
		return err
	}

	return fmt.Errorf("%w: %v", vault.ErrBackendUnavailable, err)
}
