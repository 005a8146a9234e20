package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/raptscallions/storage/internal/config"
	"github.com/raptscallions/storage/internal/storageerr"
)

var _ Backend = (*S3Backend)(nil)

// Streams that cannot seek are sent in parts of this size. 5MiB is the
// smallest part S3 accepts.
const partSize = 5 * 1024 * 1024

// PresignFunc produces a pre-signed URL for method on bucket/key.
type PresignFunc func(ctx context.Context, method Method, bucket, key string, expires time.Duration) (string, error)

// S3Backend stores objects in one bucket of an S3-compatible service
// (AWS S3, MinIO, ...).
type S3Backend struct {
	client        *s3.Client
	bucket        string
	defaultExpiry time.Duration
	presign       PresignFunc
}

type s3Settings struct {
	defaultExpiry time.Duration
	presign       PresignFunc
}

type S3Option func(*s3Settings)

// WithPresignFunc replaces the SDK presigner, e.g. for deterministic tests.
func WithPresignFunc(fn PresignFunc) S3Option {
	return func(s *s3Settings) {
		s.presign = fn
	}
}

// WithDefaultExpiration sets the signed URL lifetime used when a caller does
// not pass one.
func WithDefaultExpiration(d time.Duration) S3Option {
	return func(s *s3Settings) {
		s.defaultExpiry = d
	}
}

// NewS3Backend creates the backend. The bucket and region are checked here
// rather than on first use.
//
// A custom endpoint forces path-style addressing; without one the SDK's
// virtual-hosted style applies unless ForcePathStyle is set. The client never
// retries on its own.
func NewS3Backend(ctx context.Context, cfg config.S3Config, opts ...S3Option) (*S3Backend, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, storageerr.Configuration("S3 bucket name is required", map[string]any{"field": config.EnvName("s3_bucket")})
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, storageerr.Configuration("S3 region is required", map[string]any{"field": config.EnvName("s3_region")})
	}

	settings := s3Settings{defaultExpiry: DefaultSignedURLExpiration}
	for _, opt := range opts {
		opt(&settings)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		// The SDK error may echo profile contents; keep it out of the message.
		return nil, storageerr.Storage("loading AWS configuration failed", nil, err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle || cfg.Endpoint != ""
			o.Retryer = aws.NopRetryer{}
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	b := &S3Backend{
		client:        client,
		bucket:        cfg.Bucket,
		defaultExpiry: settings.defaultExpiry,
		presign:       settings.presign,
	}
	if b.presign == nil {
		b.presign = sdkPresigner(s3.NewPresignClient(client))
	}

	return b, nil
}

func sdkPresigner(p *s3.PresignClient) PresignFunc {
	return func(ctx context.Context, method Method, bucket, key string, expires time.Duration) (string, error) {
		switch method {
		case MethodPut:
			req, err := p.PresignPutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(expires))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		default:
			req, err := p.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(expires))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		}
	}
}

// Bucket returns the target bucket name.
func (b *S3Backend) Bucket() string {
	return b.bucket
}

// Upload sends seekable bodies straight to PutObject. Other streams are read
// one part at a time: a body that fits in the first part goes out as a
// single PutObject, anything longer becomes a multipart upload.
func (b *S3Backend) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	body := in.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}

	if _, seekable := body.(io.Seeker); seekable {
		var size *int64
		if in.Size >= 0 {
			size = aws.Int64(in.Size)
		}
		return b.putObject(ctx, in, body, size)
	}

	first, err := io.ReadAll(io.LimitReader(body, partSize))
	if err != nil {
		return nil, classifyS3Error(ctx, "upload", in.Key, err)
	}
	if len(first) < partSize {
		return b.putObject(ctx, in, bytes.NewReader(first), aws.Int64(int64(len(first))))
	}
	return b.putMultipart(ctx, in, first, body)
}

func (b *S3Backend) putObject(ctx context.Context, in UploadInput, body io.Reader, size *int64) (*UploadResult, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(in.Key),
		Body:          body,
		ContentLength: size,
		Metadata:      in.Metadata,
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}

	out, err := b.client.PutObject(ctx, input)
	if err != nil {
		return nil, classifyS3Error(ctx, "upload", in.Key, err)
	}

	return &UploadResult{
		Key:  in.Key,
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

// putMultipart uploads first, which holds a full part, followed by the rest
// of body. The upload is aborted on any failure.
func (b *S3Backend) putMultipart(ctx context.Context, in UploadInput, first []byte, body io.Reader) (*UploadResult, error) {
	create := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(in.Key),
		Metadata: in.Metadata,
	}
	if in.ContentType != "" {
		create.ContentType = aws.String(in.ContentType)
	}

	created, err := b.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return nil, classifyS3Error(ctx, "upload", in.Key, err)
	}
	uploadID := created.UploadId

	abort := func(cause error) (*UploadResult, error) {
		_, abortErr := b.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(b.bucket),
			Key:      aws.String(in.Key),
			UploadId: uploadID,
		})
		if abortErr != nil {
			log.Warn().Err(abortErr).Str("key", in.Key).Msg("Failed to abort multipart upload")
		}
		return nil, classifyS3Error(ctx, "upload", in.Key, cause)
	}

	var parts []types.CompletedPart
	buf, n := first, len(first)
	for partNumber := int32(1); n > 0; partNumber++ {
		part, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(in.Key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(int64(n)),
		})
		if err != nil {
			return abort(err)
		}
		parts = append(parts, types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: aws.Int32(partNumber),
		})

		if n < len(buf) {
			break
		}
		n, err = io.ReadFull(body, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return abort(err)
		}
	}

	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(in.Key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(err)
	}

	return &UploadResult{
		Key:  in.Key,
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

func (b *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(ctx, "download", key, err)
	}
	return out.Body, nil
}

// Delete is idempotent: a not-found response counts as success.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		classified := classifyS3Error(ctx, "delete", key, err)
		if errors.Is(classified, storageerr.ErrFileNotFound) {
			return nil
		}
		return classified
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		classified := classifyS3Error(ctx, "exists", key, err)
		if errors.Is(classified, storageerr.ErrFileNotFound) {
			return false, nil
		}
		return false, classified
	}
	return true, nil
}

// SignedURL signs locally; no request is made and the key is not checked.
func (b *S3Backend) SignedURL(ctx context.Context, key string, opts SignedURLOptions) (*SignedURL, error) {
	method, expires, err := resolveSignedURLOptions(opts, b.defaultExpiry)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(expires)
	u, err := b.presign(ctx, method, b.bucket, key, expires)
	if err != nil {
		return nil, classifyS3Error(ctx, "sign", key, err)
	}
	if u == "" {
		return nil, storageerr.Storage(fmt.Sprintf("presigner returned an empty URL for %s", key), map[string]any{"key": key}, nil)
	}

	return &SignedURL{URL: u, Method: method, ExpiresAt: expiresAt}, nil
}
