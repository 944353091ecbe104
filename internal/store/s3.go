package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// maxDeleteKeys is the DeleteObjects request limit
const maxDeleteKeys = 1000

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures an S3Store
type S3Options struct {
	Bucket               string
	Region               string
	Endpoint             string
	Prefix               string
	ForcePathStyle       bool
	AccessKeyID          string
	SecretAccessKey      string
	Compression          bool
	CompressionThreshold int

	// Concurrency bounds parallel puts within one commit
	Concurrency int
}

// S3Store persists objects as individual S3 objects. A commit writes its
// objects in parallel and is not atomic across objects.
type S3Store struct {
	client      S3API
	bucket      string
	prefix      string
	concurrency int
	codec       *Codec
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewS3Client builds an S3 client from the default AWS configuration chain,
// overridden by opts
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates a store over client
func NewS3Store(client S3API, opts S3Options, logger zerolog.Logger) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3-store")
	}
	codec, err := NewCodec(opts.Compression, opts.CompressionThreshold)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	return &S3Store{
		client:      client,
		bucket:      opts.Bucket,
		prefix:      opts.Prefix,
		concurrency: opts.Concurrency,
		codec:       codec,
		logger: logger.With().
			Str("component", "s3-store").
			Str("bucket", opts.Bucket).
			Logger(),
	}, nil
}

func (s *S3Store) objectKey(id types.ObjectID) string {
	return s.prefix + "objects/" + id.Key()
}

func (s *S3Store) rootKey(name string) string {
	return s.prefix + "roots/" + name
}

func (s *S3Store) checkOpen(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewError(errors.ErrCodeInvalidState, "store is closed").
			WithComponent("s3-store").WithOperation(op)
	}
	return nil
}

// ContainsObject issues a HeadObject for id
func (s *S3Store) ContainsObject(ctx context.Context, id types.ObjectID) (bool, error) {
	if err := s.checkOpen("ContainsObject"); err != nil {
		return false, err
	}
	key := s.objectKey(id)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, s.translateError(err, "HeadObject", key)
	}
	return true, nil
}

// LoadObject fetches and decodes id
func (s *S3Store) LoadObject(ctx context.Context, id types.ObjectID) (*types.ManagedObject, error) {
	if err := s.checkOpen("LoadObject"); err != nil {
		return nil, err
	}
	data, err := s.get(ctx, s.objectKey(id))
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(data)
}

// AddNewObject writes a new object; it fails if id already exists
func (s *S3Store) AddNewObject(ctx context.Context, obj *types.ManagedObject) error {
	exists, err := s.ContainsObject(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return errors.Newf(errors.ErrCodeObjectExists, "object %d already exists", obj.ID()).
			WithComponent("s3-store").WithOperation("AddNewObject")
	}
	return s.putObject(ctx, obj)
}

// CommitObjects writes objs with bounded parallelism
func (s *S3Store) CommitObjects(ctx context.Context, objs ...*types.ManagedObject) error {
	if err := s.checkOpen("CommitObjects"); err != nil {
		return err
	}

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(s.concurrency)
	for _, obj := range objs {
		obj := obj
		p.Go(func(ctx context.Context) error {
			return s.putObject(ctx, obj)
		})
	}
	return p.Wait()
}

func (s *S3Store) putObject(ctx context.Context, obj *types.ManagedObject) error {
	data, err := s.codec.Encode(obj)
	if err != nil {
		return err
	}
	return s.put(ctx, s.objectKey(obj.ID()), data)
}

// RemoveObjects deletes ids in DeleteObjects requests of up to 1000 keys
func (s *S3Store) RemoveObjects(ctx context.Context, ids []types.ObjectID) error {
	if err := s.checkOpen("RemoveObjects"); err != nil {
		return err
	}

	for start := 0; start < len(ids); start += maxDeleteKeys {
		end := min(start+maxDeleteKeys, len(ids))

		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, id := range ids[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(s.objectKey(id))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return s.translateError(err, "DeleteObjects", s.prefix+"objects/")
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return errors.Newf(errors.ErrCodeStorageDelete, "failed to delete %d objects: %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message)).
				WithComponent("s3-store").WithOperation("DeleteObjects")
		}
	}
	return nil
}

// AddRoot binds name to id
func (s *S3Store) AddRoot(ctx context.Context, name string, id types.ObjectID) error {
	if err := s.checkOpen("AddRoot"); err != nil {
		return err
	}
	return s.put(ctx, s.rootKey(name), []byte(id.Key()))
}

// RootID resolves a root name
func (s *S3Store) RootID(ctx context.Context, name string) (types.ObjectID, error) {
	if err := s.checkOpen("RootID"); err != nil {
		return types.NullObjectID, err
	}
	data, err := s.get(ctx, s.rootKey(name))
	if err != nil {
		return types.NullObjectID, err
	}
	return types.ParseObjectKey(string(data))
}

// Roots lists and resolves every root binding
func (s *S3Store) Roots(ctx context.Context) (map[string]types.ObjectID, error) {
	if err := s.checkOpen("Roots"); err != nil {
		return nil, err
	}
	roots := make(map[string]types.ObjectID)
	prefix := s.rootKey("")
	err := s.list(ctx, prefix, func(key string) error {
		name := strings.TrimPrefix(key, prefix)
		id, err := s.RootID(ctx, name)
		if err != nil {
			return err
		}
		roots[name] = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roots, nil
}

// ObjectIDs lists every stored identifier
func (s *S3Store) ObjectIDs(ctx context.Context) (types.ObjectIDSet, error) {
	if err := s.checkOpen("ObjectIDs"); err != nil {
		return nil, err
	}
	ids := make(types.ObjectIDSet)
	prefix := s.prefix + "objects/"
	err := s.list(ctx, prefix, func(key string) error {
		id, err := types.ParseObjectKey(strings.TrimPrefix(key, prefix))
		if err != nil {
			s.logger.Warn().Str("key", key).Msg("skipping foreign key under object prefix")
			return nil
		}
		ids.Add(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Close releases codec resources; the client is owned by the caller
func (s *S3Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.codec.Close()
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read object body").
			WithComponent("s3-store").WithOperation("GetObject").WithDetail("key", key)
	}
	return data, nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return s.translateError(err, "PutObject", key)
	}
	return nil
}

func (s *S3Store) list(ctx context.Context, prefix string, fn func(key string) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return s.translateError(err, "ListObjectsV2", prefix)
		}
		for _, obj := range page.Contents {
			if err := fn(aws.ToString(obj.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *S3Store) translateError(err error, operation, key string) error {
	switch {
	case isNotFound(err):
		return errors.Wrap(err, errors.ErrCodeObjectNotFound, "object not found").
			WithComponent("s3-store").WithOperation(operation).WithDetail("key", key)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "bucket not found").
			WithComponent("s3-store").WithOperation(operation).WithDetail("bucket", s.bucket)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, "request canceled").
			WithComponent("s3-store").WithOperation(operation)
	}

	code := errors.ErrCodeStorageRead
	switch operation {
	case "PutObject":
		code = errors.ErrCodeStorageWrite
	case "DeleteObjects":
		code = errors.ErrCodeStorageDelete
	}
	return errors.Wrap(err, code, fmt.Sprintf("%s failed", operation)).
		WithComponent("s3-store").WithOperation(operation).WithDetail("key", key)
}

func isNotFound(err error) bool {
	return isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err)
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

var _ types.Store = (*S3Store)(nil)
