package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by S3Store.
// *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store serves a bucket prefix on Amazon S3 or an S3-compatible store
// (MinIO, R2). PutObject replaces an object atomically, which gives Write
// the whole-file replacement FileStore requires.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed FileStore. Prefix is prepended to every
// object key; pass "" for none.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// S3 environment variables read by NewS3FromEnv.
const (
	EnvS3Region    = "AWS_REGION"
	EnvS3AccessKey = "AWS_ACCESS_KEY_ID"
	EnvS3SecretKey = "AWS_SECRET_ACCESS_KEY"
	EnvS3Session   = "AWS_SESSION_TOKEN"
	EnvS3Endpoint  = "AWS_ENDPOINT_URL"
)

// NewS3FromEnv builds an S3Store whose client is configured from the
// AWS_* environment variables. A custom AWS_ENDPOINT_URL switches the
// client to path-style addressing, which MinIO and most self-hosted
// stores expect.
func NewS3FromEnv(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	region := os.Getenv(EnvS3Region)
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{Region: region}
	if ak, sk := os.Getenv(EnvS3AccessKey), os.Getenv(EnvS3SecretKey); ak != "" && sk != "" {
		creds := aws.Credentials{
			AccessKeyID:     ak,
			SecretAccessKey: sk,
			SessionToken:    os.Getenv(EnvS3Session),
			Source:          "spkid-env",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		))
	} else if ak != "" || sk != "" {
		return nil, fmt.Errorf("storage: s3: both %s and %s must be set", EnvS3AccessKey, EnvS3SecretKey)
	}
	if ep := os.Getenv(EnvS3Endpoint); ep != "" {
		opts.BaseEndpoint = aws.String(ep)
		opts.UsePathStyle = true
	}
	return NewS3(s3.New(opts), bucket, prefix), nil
}

func (s *S3Store) key(p string) string {
	if s.prefix == "" {
		return p
	}
	return path.Join(s.prefix, p)
}

// String returns the store location as an s3:// URI.
func (s *S3Store) String() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

// Read opens the named object via GetObject.
// A missing key yields an error wrapping os.ErrNotExist.
func (s *S3Store) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("storage: read %s: %w", p, os.ErrNotExist)
		}
		return nil, err
	}
	return out.Body, nil
}

// Write streams data into a background PutObject through an io.Pipe.
// Close blocks until the upload finishes and returns its error.
func (s *S3Store) Write(ctx context.Context, p string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		_, w.uploadErr = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(p)),
			Body:   pr,
		})
		// Unblock pending writes when the upload fails early.
		pr.CloseWithError(w.uploadErr)
	}()
	return w, nil
}

// Delete removes the named object. Missing keys are not an error.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	return err
}

// Exists checks the named object via HeadObject.
func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type s3Writer struct {
	pw        *io.PipeWriter
	done      chan struct{}
	uploadErr error
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	w.pw.Close()
	<-w.done
	return w.uploadErr
}

// Abort fails the upload's body with cause so PutObject never completes
// and the stored object is left as it was.
func (w *s3Writer) Abort(cause error) error {
	if cause == nil {
		cause = errAborted
	}
	w.pw.CloseWithError(cause)
	<-w.done
	return nil
}

var errAborted = errors.New("storage: write aborted")

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var (
	_ FileStore = (*S3Store)(nil)
	_ Aborter   = (*s3Writer)(nil)
)
