package publish

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

// ObjectAPI is the part of the S3 client the publisher uses.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Result describes the upload of one artifact.
type Result struct {
	Path    string
	Key     string
	Bytes   int64
	Skipped bool
	Err     error
}

// S3Publisher uploads final artifacts to a bucket, skipping objects whose
// size and MD5 already match.
type S3Publisher struct {
	client      ObjectAPI
	bucket      string
	prefix      string
	concurrency int
	logger      *logrus.Logger
}

// NewS3Publisher returns a publisher using client.
func NewS3Publisher(client ObjectAPI, bucket, prefix string, concurrency int, log *logrus.Logger) *S3Publisher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &S3Publisher{
		client:      client,
		bucket:      bucket,
		prefix:      strings.Trim(prefix, "/"),
		concurrency: concurrency,
		logger:      log,
	}
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Key returns the object key for a local artifact.
func (p *S3Publisher) Key(localPath string) string {
	if p.prefix == "" {
		return filepath.Base(localPath)
	}
	return path.Join(p.prefix, filepath.Base(localPath))
}

// PublishAll uploads every path and returns one result per path, in order.
// The error is non-nil if any upload failed.
func (p *S3Publisher) PublishAll(ctx context.Context, paths []string) ([]Result, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	type job struct {
		index int
		path  string
	}
	jobs := make(chan job, len(paths))
	results := make([]Result, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < min(p.concurrency, len(paths)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results[j.index] = Result{Path: j.path, Key: p.Key(j.path), Err: err}
					continue
				}
				results[j.index] = p.Publish(ctx, j.path)
			}
		}()
	}

	for i, localPath := range paths {
		jobs <- job{index: i, path: localPath}
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("publish failed for %d of %d files", failed, len(paths))
	}
	return results, nil
}

// Publish uploads a single artifact.
func (p *S3Publisher) Publish(ctx context.Context, localPath string) Result {
	key := p.Key(localPath)
	res := Result{Path: localPath, Key: key}
	log := p.logger.WithFields(logrus.Fields{"file": localPath, "operation": "publish", "key": key})

	info, err := os.Stat(localPath)
	if err != nil {
		res.Err = fmt.Errorf("failed to stat artifact: %w", err)
		return res
	}
	res.Bytes = info.Size()

	localHash, err := fileMD5(localPath)
	if err != nil {
		res.Err = fmt.Errorf("failed to calculate MD5: %w", err)
		return res
	}

	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		if aws.ToInt64(head.ContentLength) == res.Bytes && strings.Trim(aws.ToString(head.ETag), `"`) == localHash {
			log.Debug("Object unchanged, skipping upload")
			res.Skipped = true
			return res
		}
	case !isNotFoundError(err):
		res.Err = fmt.Errorf("failed to check S3 object: %w", err)
		return res
	}

	file, err := os.Open(localPath)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(res.Bytes),
		ContentType:   aws.String(contentType),
	}); err != nil {
		res.Err = fmt.Errorf("failed to upload to S3: %w", err)
		return res
	}

	log.WithField("bytes", res.Bytes).Info("Uploaded artifact")
	return res
}

func fileMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func isNotFoundError(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
