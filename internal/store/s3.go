package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// s3API is the subset of *s3.Client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store uploads session directories to S3 under
// <prefix>/<session-name>/. results.json is zstd-compressed and stored as
// results.json.zst when compress is set.
type S3Store struct {
	client   s3API
	bucket   string
	prefix   string
	compress bool
}

var _ Publisher = (*S3Store)(nil)

// NewS3Store creates an S3Store. The client should be initialized from the
// shared AWS config.
func NewS3Store(client *s3.Client, bucket, prefix string, compress bool) *S3Store {
	return newS3Store(client, bucket, prefix, compress)
}

func newS3Store(client s3API, bucket, prefix string, compress bool) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		compress: compress,
	}
}

// Name implements Publisher.
func (s *S3Store) Name() string {
	return "s3"
}

// SessionKey returns the object key of file within a session.
func (s *S3Store) SessionKey(session *LocalSession, file string) string {
	return path.Join(s.prefix, filepath.Base(session.Dir), file)
}

// Publish uploads every image written to the session and the results
// document. res.Location is set to the s3:// URI of the session.
func (s *S3Store) Publish(ctx context.Context, session *LocalSession, res *Results) error {
	res.Location = fmt.Sprintf("s3://%s/%s", s.bucket, s.SessionKey(session, ""))

	uploaded := 0
	for _, name := range session.Files() {
		if name == ResultsFileName {
			continue
		}
		if err := s.uploadFile(ctx, session, name); err != nil {
			return err
		}
		uploaded++
	}

	data, err := EncodeResults(res, s.compress)
	if err != nil {
		return err
	}
	name, contentType := ResultsFileName, "application/json"
	if s.compress {
		name, contentType = ResultsFileName+".zst", "application/zstd"
	}
	key := s.SessionKey(session, name)
	if err := s.put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return err
	}

	log.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("images", uploaded).
		Bool("compressed", s.compress).
		Msg("Session uploaded to S3")
	return nil
}

func (s *S3Store) uploadFile(ctx context.Context, session *LocalSession, name string) error {
	f, err := os.Open(filepath.Join(session.Dir, name))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return s.put(ctx, s.SessionKey(session, name), f, contentTypeFor(name))
}

func (s *S3Store) put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        body,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// ReadResults downloads and decodes a results document.
func (s *S3Store) ReadResults(ctx context.Context, key string) (*Results, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, key, err)
	}
	return DecodeResults(data)
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %s", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI needs a bucket and key: %s", uri)
	}
	return bucket, key, nil
}

func contentTypeFor(name string) string {
	ext := filepath.Ext(name)
	if mimeType, err := filehandler.GetMIMEType(ext); err == nil {
		return mimeType
	}
	if strings.EqualFold(ext, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
