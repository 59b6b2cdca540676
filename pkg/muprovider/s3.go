package muprovider

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // matches S3's ETag content hash, not used for security
	"encoding/hex"
	"io/ioutil"
	"log"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/function61/gokit/logex"
	"github.com/muisto-app/muisto/pkg/mutypes"
)

// credential-family backend. protocol servers that we can't speak to directly are
// fronted by an S3-compatible intermediary, so one client serves the whole family
type s3Provider struct {
	creds  mutypes.StaticCredentials
	client *s3.S3
	bucket string
	prefix string // optional key prefix under the bucket
	tested bool   // last TestConnection succeeded
	logl   *logex.Leveled
}

func newS3(creds mutypes.StaticCredentials, logger *log.Logger) (*s3Provider, error) {
	p := &s3Provider{
		logl: logex.Levels(logex.NonNil(logger)),
	}

	if err := p.Connect(context.Background(), creds); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *s3Provider) Kind() mutypes.ProviderKind {
	return mutypes.ProviderKindS3
}

func (p *s3Provider) IsAuthenticated(ctx context.Context) bool {
	return p.client != nil && p.tested
}

func (p *s3Provider) AuthorizationURL(redirect string, state string) (string, error) {
	return "", mutypes.NotSupportedErrorf("s3: authorization URL")
}

func (p *s3Provider) ExchangeCode(ctx context.Context, code string, redirect string) (*mutypes.OAuthTokenSet, error) {
	return nil, mutypes.NotSupportedErrorf("s3: code exchange")
}

func (p *s3Provider) Refresh(ctx context.Context, refreshToken string) (*mutypes.OAuthTokenSet, error) {
	return nil, mutypes.NotSupportedErrorf("s3: token refresh")
}

func (p *s3Provider) Connect(ctx context.Context, creds mutypes.StaticCredentials) error {
	if creds.Endpoint == "" || creds.Username == "" || creds.Secret == "" {
		return mutypes.ConfigurationErrorf("s3: endpoint, username and secret are all required")
	}

	bucket, prefix := splitBasePath(creds.BasePath)
	if bucket == "" {
		return mutypes.ConfigurationErrorf("s3: base path must start with bucket name")
	}

	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(creds.Endpoint),
		Region:           aws.String("us-east-1"), // S3-compatible endpoints don't care, SDK requires one
		Credentials:      credentials.NewStaticCredentials(creds.Username, creds.Secret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return mutypes.ConfigurationErrorf("s3 session: %v", err)
	}

	p.creds = creds
	p.client = s3.New(sess)
	p.bucket = bucket
	p.prefix = prefix
	p.tested = false

	return p.TestConnection(ctx)
}

func (p *s3Provider) TestConnection(ctx context.Context) error {
	if p.client == nil {
		return mutypes.ConfigurationErrorf("s3: not connected")
	}

	// we'll just want to see that the credentials work
	_, err := p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  &p.bucket,
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		p.tested = false
		return mapS3Error(err, "test connection")
	}

	p.tested = true

	return nil
}

func (p *s3Provider) Disconnect(ctx context.Context) error {
	p.client = nil
	p.tested = false

	return nil
}

func (p *s3Provider) List(ctx context.Context, path string, cursor string) ([]mutypes.RemoteFile, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: &p.bucket,
		Prefix: aws.String(p.key(path) + "/"),
	}
	if cursor != "" {
		input.ContinuationToken = &cursor
	}

	res, err := p.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return nil, "", mapS3Error(err, "list")
	}

	files := []mutypes.RemoteFile{}
	for _, obj := range res.Contents {
		files = append(files, mutypes.RemoteFile{
			ID:       *obj.Key,
			Path:     p.pathFromKey(*obj.Key),
			Checksum: trimETag(obj.ETag),
			Size:     aws.Int64Value(obj.Size),
			Folder:   strings.HasSuffix(*obj.Key, "/"),
			Modified: aws.TimeValue(obj.LastModified),
		})
	}

	nextCursor := ""
	if aws.BoolValue(res.IsTruncated) {
		nextCursor = aws.StringValue(res.NextContinuationToken)
	}

	return files, nextCursor, nil
}

// keys are the native namespace here, so object id = key
func (p *s3Provider) Get(ctx context.Context, id string) (*mutypes.RemoteFile, error) {
	res, err := p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &p.bucket,
		Key:    &id,
	})
	if err != nil {
		return nil, mapS3Error(err, "get")
	}

	return &mutypes.RemoteFile{
		ID:       id,
		Path:     p.pathFromKey(id),
		Checksum: trimETag(res.ETag),
		Size:     aws.Int64Value(res.ContentLength),
		Folder:   strings.HasSuffix(id, "/"),
		Modified: aws.TimeValue(res.LastModified),
	}, nil
}

func (p *s3Provider) GetByPath(ctx context.Context, path string) (*mutypes.RemoteFile, error) {
	return p.Get(ctx, p.key(path))
}

func (p *s3Provider) Read(ctx context.Context, id string) ([]byte, error) {
	res, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &p.bucket,
		Key:    &id,
	})
	if err != nil {
		return nil, mapS3Error(err, "read")
	}
	defer res.Body.Close()

	content, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, mutypes.TransientErrorf("read body: %v", err)
	}

	return content, nil
}

func (p *s3Provider) Write(ctx context.Context, path string, content []byte, overwrite bool) (*mutypes.RemoteFile, error) {
	key := p.key(path)

	if !overwrite {
		if _, err := p.Get(ctx, key); err == nil {
			return nil, mutypes.ConflictErrorf("%s already exists", path)
		} else if !mutypes.IsKind(err, mutypes.ErrorNotFound) {
			return nil, err
		}
	}

	res, err := p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    &key,
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return nil, mapS3Error(err, "write")
	}

	return &mutypes.RemoteFile{
		ID:       key,
		Path:     path,
		Checksum: trimETag(res.ETag),
		Size:     int64(len(content)),
	}, nil
}

func (p *s3Provider) Delete(ctx context.Context, id string) error {
	if _, err := p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: &p.bucket,
		Key:    &id,
	}); err != nil {
		return mapS3Error(err, "delete")
	}

	return nil
}

func (p *s3Provider) Move(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error) {
	moved, err := p.Copy(ctx, id, newPath)
	if err != nil {
		return nil, err
	}

	if err := p.Delete(ctx, id); err != nil {
		return nil, err
	}

	return moved, nil
}

func (p *s3Provider) Copy(ctx context.Context, id string, newPath string) (*mutypes.RemoteFile, error) {
	newKey := p.key(newPath)

	if _, err := p.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     &p.bucket,
		Key:        &newKey,
		CopySource: aws.String(url.PathEscape(p.bucket + "/" + id)),
	}); err != nil {
		return nil, mapS3Error(err, "copy")
	}

	return p.Get(ctx, newKey)
}

// "folders" are zero-byte marker objects - the usual S3 convention
func (p *s3Provider) CreateFolder(ctx context.Context, path string) (*mutypes.RemoteFile, error) {
	key := p.key(path) + "/"

	if _, err := p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    &key,
		Body:   bytes.NewReader([]byte{}),
	}); err != nil {
		return nil, mapS3Error(err, "create folder")
	}

	return &mutypes.RemoteFile{
		ID:     key,
		Path:   path,
		Folder: true,
	}, nil
}

func (p *s3Provider) Checksum(content []byte) string {
	// single-part PutObject => ETag is plain md5
	sum := md5.Sum(content) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func (p *s3Provider) key(path string) string {
	key := strings.Join(SplitPath(path), "/")
	if p.prefix != "" {
		return p.prefix + "/" + key
	}

	return key
}

func (p *s3Provider) pathFromKey(key string) string {
	return "/" + strings.TrimPrefix(strings.TrimPrefix(key, p.prefix), "/")
}

// "mybucket/muisto" => ("mybucket", "muisto")
func splitBasePath(basePath string) (string, string) {
	parts := SplitPath(basePath)
	if len(parts) == 0 {
		return "", ""
	}

	return parts[0], strings.Join(parts[1:], "/")
}

func trimETag(etag *string) string {
	return strings.Trim(aws.StringValue(etag), `"`)
}

func mapS3Error(err error, what string) error {
	if err == nil {
		return nil
	}

	if aerr, ok := err.(awserr.Error); ok {
		taxonomyErr := func() error {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
				return mutypes.NotFoundErrorf("s3 %s: %v", what, err)
			case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
				return mutypes.AuthErrorf("s3 %s: %v", what, err)
			default:
				return mutypes.TransientErrorf("s3 %s: %v", what, err)
			}
		}()

		return mutypes.WithCode(taxonomyErr, aerr.Code())
	}

	return mutypes.TransientErrorf("s3 %s: %v", what, err)
}
