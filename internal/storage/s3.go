package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/logger"
)

// ObjectAPI is the subset of the S3 client used by S3Backend.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible stores; enables path-style addressing
	PublicBaseURL   string // base of returned URLs; defaults to the virtual-hosted AWS URL
	ACL             string // canned ACL; empty sends none
	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend stores files in an S3 bucket and returns public URLs.
type S3Backend struct {
	client  ObjectAPI
	bucket  string
	baseURL string
	acl     types.ObjectCannedACL
	logger  *logrus.Logger
	now     func() time.Time
}

// NewS3Backend builds an S3 client from opts and the default AWS credential chain.
// Static credentials in opts take precedence over the chain.
func NewS3Backend(ctx context.Context, opts S3Options, log *logrus.Logger) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3BackendWithClient(client, opts, log), nil
}

// NewS3BackendWithClient creates an S3Backend over an existing client.
func NewS3BackendWithClient(client ObjectAPI, opts S3Options, log *logrus.Logger) *S3Backend {
	baseURL := strings.TrimSuffix(opts.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}
	return &S3Backend{
		client:  client,
		bucket:  opts.Bucket,
		baseURL: baseURL,
		acl:     types.ObjectCannedACL(opts.ACL),
		logger:  log,
		now:     time.Now,
	}
}

// Name returns "s3".
func (b *S3Backend) Name() string { return "s3" }

// Store uploads the file as <folder>/<unix millis>-<name> and returns its URL.
// The local file is removed only after the upload has been confirmed; on failure it stays on disk.
func (b *S3Backend) Store(ctx context.Context, file File, folder string) (string, error) {
	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}
	key := path.Join(cleanFolder(folder), fmt.Sprintf("%d-%s", b.now().UnixMilli(), name))

	f, err := os.Open(file.Path)
	if err != nil {
		return "", &StorageError{Backend: b.Name(), Op: "store", Ref: key, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return "", &StorageError{Backend: b.Name(), Op: "store", Ref: key, Err: err}
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if file.ContentType != "" {
		input.ContentType = aws.String(file.ContentType)
	}
	if b.acl != "" {
		input.ACL = b.acl
	}

	_, err = b.client.PutObject(ctx, input)
	f.Close()
	if err != nil {
		return "", &StorageError{Backend: b.Name(), Op: "store", Ref: key, Err: err}
	}

	ref := b.baseURL + "/" + key
	log := logger.WithReference(b.logger, b.Name(), ref)
	if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Uploaded but failed to remove local copy %s: %v", file.Path, err)
	}
	log.Debugf("Uploaded %s", file.Path)
	return ref, nil
}

// Remove deletes the object whose URL is ref.
func (b *S3Backend) Remove(ctx context.Context, ref string) error {
	key, err := b.keyFromURL(ref)
	if err != nil {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: err}
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &StorageError{Backend: b.Name(), Op: "remove", Ref: ref, Err: err}
	}
	logger.WithReference(b.logger, b.Name(), ref).Debug("Removed")
	return nil
}

func (b *S3Backend) keyFromURL(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidReference
	}
	key, ok := strings.CutPrefix(ref, b.baseURL+"/")
	if !ok || key == "" {
		return "", ErrForeignReference
	}
	return key, nil
}
