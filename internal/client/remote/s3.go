package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/golang/snappy"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
)

const versionMetaKey = "version"

// S3Config configures an S3 (or S3-compatible) authority.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
	// PullSkew is how far behind the cursor Pull looks again. A put that
	// commits after a later-stamped one is still seen within this window.
	PullSkew time.Duration
}

type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Authority stores one snappy-compressed JSON object per record under
// <prefix><entity type>/<id>. Tombstones are objects too. Writes use
// conditional puts so concurrent writers cannot overwrite each other.
//
// A record's version counts its accepted writes. The pull cursor is the
// store's LastModified, so writer clocks never order anything.
type S3Authority struct {
	client s3API
	cfg    S3Config
	origin string
}

// s3Object is the stored document.
type s3Object struct {
	EntityType string          `json:"entity_type"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Deleted    bool            `json:"deleted,omitempty"`
	Version    int64           `json:"version"`
	Origin     string          `json:"origin,omitempty"`
	Revision   int64           `json:"revision"`
}

func NewS3Authority(ctx context.Context, cfg S3Config, origin string) (*S3Authority, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return newS3Authority(s3.NewFromConfig(awsCfg, s3Opts...), cfg, origin), nil
}

func newS3Authority(client s3API, cfg S3Config, origin string) *S3Authority {
	if cfg.PullSkew <= 0 {
		cfg.PullSkew = 5 * time.Minute
	}
	return &S3Authority{client: client, cfg: cfg, origin: origin}
}

func (a *S3Authority) key(entityType, id string) string {
	return a.cfg.Prefix + entityType + "/" + id
}

func (a *S3Authority) Ping(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.cfg.Bucket)})
	return classifyS3(err)
}

func (a *S3Authority) Push(ctx context.Context, req PushRequest) (models.Ack, error) {
	rec := req.Record
	key := a.key(rec.EntityType, rec.ID)

	var current int64
	var etag *string
	head, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.cfg.Bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		current = metaVersion(head.Metadata)
		etag = head.ETag
	case isNotFound(err):
	default:
		return models.Ack{}, classifyS3(err)
	}

	if etag != nil && current != req.BaseVersion {
		return models.Ack{}, a.conflict(ctx, rec.EntityType, rec.ID)
	}

	version := current + 1

	doc := s3Object{
		EntityType: rec.EntityType,
		ID:         rec.ID,
		UpdatedAt:  rec.UpdatedAt.UTC(),
		Deleted:    rec.Deleted,
		Version:    version,
		Origin:     a.origin,
		Revision:   rec.LocalRevision,
	}
	if !rec.Deleted {
		doc.Payload = rec.Payload
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return models.Ack{}, rejected(err)
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(snappy.Encode(nil, raw)),
		ContentType: aws.String("application/x-snappy"),
		Metadata:    map[string]string{versionMetaKey: strconv.FormatInt(version, 10)},
	}
	if etag != nil {
		in.IfMatch = etag
	} else {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := a.client.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return models.Ack{}, a.conflict(ctx, rec.EntityType, rec.ID)
		}
		return models.Ack{}, classifyS3(err)
	}
	return models.Ack{Revision: rec.LocalRevision, Version: version}, nil
}

func (a *S3Authority) conflict(ctx context.Context, entityType, id string) error {
	cur, err := a.get(ctx, a.key(entityType, id))
	if err != nil {
		return err
	}
	return &ConflictError{Remote: cur}
}

func (a *S3Authority) get(ctx context.Context, key string) (models.RemoteRecord, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		return models.RemoteRecord{}, classifyS3(err)
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(out.Body)
	if err != nil {
		return models.RemoteRecord{}, transient(err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return models.RemoteRecord{}, rejected(fmt.Errorf("decode %s: %w", key, err))
	}
	var doc s3Object
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.RemoteRecord{}, rejected(fmt.Errorf("decode %s: %w", key, err))
	}
	return models.RemoteRecord{
		ID:         doc.ID,
		EntityType: doc.EntityType,
		Payload:    doc.Payload,
		UpdatedAt:  doc.UpdatedAt.UTC(),
		Deleted:    doc.Deleted,
		Version:    doc.Version,
		Origin:     doc.Origin,
	}, nil
}

// Pull lists the entity type's objects and returns those the store modified
// after since (a LastModified in unix nanos), oldest first, at most limit of
// them. Objects modified within PullSkew before since are returned again on
// top of that; the resolver drops the ones already applied.
func (a *S3Authority) Pull(ctx context.Context, entityType string, since int64, limit int) ([]models.RemoteRecord, error) {
	prefix := a.cfg.Prefix + entityType + "/"
	var notBefore int64
	if since > 0 {
		notBefore = since - a.cfg.PullSkew.Nanoseconds()
	}

	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var replay, fresh []models.RemoteRecord
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
				continue
			}
			var modified int64
			if obj.LastModified != nil {
				modified = obj.LastModified.UnixNano()
			}
			if since > 0 && modified < notBefore {
				continue
			}
			rec, err := a.get(ctx, key)
			if err != nil {
				return nil, err
			}
			rec.Cursor = modified
			if modified > since {
				fresh = append(fresh, rec)
			} else {
				replay = append(replay, rec)
			}
		}
	}

	slices.SortFunc(fresh, byCursor)
	if limit > 0 && len(fresh) > limit {
		fresh = fresh[:limit]
	}
	slices.SortFunc(replay, byCursor)
	return append(replay, fresh...), nil
}

func byCursor(x, y models.RemoteRecord) int {
	switch {
	case x.Cursor < y.Cursor:
		return -1
	case x.Cursor > y.Cursor:
		return 1
	default:
		return strings.Compare(x.ID, y.ID)
	}
}

func metaVersion(md map[string]string) int64 {
	for k, v := range md {
		if strings.EqualFold(k, versionMetaKey) {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchKey"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == 412 || re.HTTPStatusCode() == 409
	}
	return false
}

// classifyS3 sorts SDK failures into the remote error categories.
func classifyS3(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transient(err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return fmt.Errorf("%w: %s", ErrUnauthorized, ae.ErrorMessage())
		case "NoSuchBucket", "InvalidBucketName", "EntityTooLarge", "InvalidArgument", "MalformedXML":
			return rejected(err)
		}
	}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		switch code := re.HTTPStatusCode(); {
		case code == 401 || code == 403:
			return fmt.Errorf("%w: http %d", ErrUnauthorized, code)
		case code == 429 || code >= 500:
			return transient(err)
		case code >= 400:
			return rejected(err)
		}
	}
	return transient(err)
}
