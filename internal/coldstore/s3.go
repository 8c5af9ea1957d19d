package coldstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"obscatalog/internal/errs"
	"obscatalog/internal/logger"
	"obscatalog/pkg/models"
)

// S3Config holds configuration for the S3 archive.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint     string
	UsePathStyle bool
	OpTimeout    time.Duration
}

// S3Archive stores the snapshot as a single JSON object plus a
// date-partitioned mirror for history.
type S3Archive struct {
	client    *s3.Client
	bucket    string
	prefix    string
	opTimeout time.Duration

	// snapshotETag is the ETag observed by the last LoadSnapshot; the
	// publish uses it as a write precondition so a concurrent
	// reconciler is detected instead of silently overwritten.
	snapshotETag string

	now func() time.Time
}

// NewS3Archive creates an S3-backed archive client.
func NewS3Archive(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is empty")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3ArchiveWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewS3ArchiveWithClient wraps a pre-configured S3 client.
func NewS3ArchiveWithClient(client *s3.Client, cfg S3Config) *S3Archive {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "observables"
	}
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 60 * time.Second
	}
	return &S3Archive{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

func (a *S3Archive) snapshotKey() string {
	return path.Join(a.prefix, "master.json")
}

func (a *S3Archive) datedKey(day string) string {
	return path.Join(a.prefix, "date="+day, "master.json")
}

func (a *S3Archive) markerKey(day string) string {
	return path.Join(a.prefix, "markers", day)
}

// LoadSnapshot fetches the published snapshot; a missing object is an
// empty archive, not an error.
func (a *S3Archive) LoadSnapshot(ctx context.Context) (models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.snapshotKey()),
	})
	if err != nil {
		if isNotFound(err) {
			a.snapshotETag = ""
			return models.Snapshot{}, nil
		}
		return nil, errs.StorageUnavailable("load archive snapshot", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.StorageUnavailable("read archive snapshot", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errs.StorageUnavailable("decode archive snapshot", err)
	}
	if out.ETag != nil {
		a.snapshotETag = *out.ETag
	}
	return snap, nil
}

// SaveSnapshot writes the dated mirror first, then publishes the
// snapshot with a conditional put keyed on the ETag from LoadSnapshot.
// A precondition failure means another writer published in between and
// surfaces as ReconcileConflict.
func (a *S3Archive) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	payload, err := json.Marshal(snap)
	if err != nil {
		return errs.StorageUnavailable("encode archive snapshot", err)
	}

	day := DayKey(a.now())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.datedKey(day)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errs.StorageUnavailable("stage dated snapshot", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.snapshotKey()),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	}
	if a.snapshotETag != "" {
		input.IfMatch = aws.String(a.snapshotETag)
	} else {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return errs.ReconcileConflict("snapshot superseded by a concurrent writer", err)
		}
		return errs.StorageUnavailable("publish archive snapshot", err)
	}

	logger.Infof("Published archive snapshot with %d entities to s3://%s/%s", len(snap), a.bucket, a.snapshotKey())
	return nil
}

// HasMarker reports whether the reconciliation marker for a day exists.
func (a *S3Archive) HasMarker(ctx context.Context, day string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.markerKey(day)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errs.StorageUnavailable("check reconciliation marker", err)
	}
	return true, nil
}

// WriteMarker records a completed reconciliation for a day.
func (a *S3Archive) WriteMarker(ctx context.Context, day string) error {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	body := fmt.Sprintf(`{"reconciled_at":%q}`, a.now().UTC().Format(time.RFC3339))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.markerKey(day)),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errs.StorageUnavailable("write reconciliation marker", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
