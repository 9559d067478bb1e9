package sync

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of *s3.Client used by S3Remote.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Remote stores the mirrored hierarchy in an S3 bucket. A folder is a key
// prefix ending in "/" and is materialized by a zero-byte marker object with
// that key; folder and file identifiers are their full keys.
//
// Marker writes are idempotent, so concurrent creation of the same folder
// converges on one object.
//
// Recommended storage classes for infrequent access (cheapest first):
//
//	GLACIER_IR   – Glacier Instant Retrieval ($0.004/GB, millisecond access)
//	STANDARD_IA  – Standard Infrequent Access ($0.0125/GB, millisecond access)
//	STANDARD     – Standard ($0.023/GB, always available)
type S3Remote struct {
	client       s3API
	uploader     s3Uploader
	bucket       string
	prefix       string
	storageClass types.StorageClass
}

var _ Remote = (*S3Remote)(nil)

// NewS3Remote creates a new S3Remote. prefix scopes every key inside the bucket.
func NewS3Remote(client *s3.Client, bucket, prefix string, storageClass types.StorageClass) *S3Remote {
	return &S3Remote{
		client:       client,
		uploader:     manager.NewUploader(client),
		bucket:       bucket,
		prefix:       prefix,
		storageClass: storageClass,
	}
}

// childKey joins a parent folder identifier and a child name.
func (d *S3Remote) childKey(parentID, name string) string {
	if parentID == RootID {
		parentID = d.rootPrefix()
	}
	return parentID + strings.Trim(name, "/")
}

func (d *S3Remote) rootPrefix() string {
	p := strings.Trim(d.prefix, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

func (d *S3Remote) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	key := d.childKey(parentID, name) + "/"
	out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", false, err
	}
	if aws.ToInt32(out.KeyCount) == 0 && len(out.Contents) == 0 {
		return "", false, nil
	}
	return key, true, nil
}

func (d *S3Remote) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	key := d.childKey(parentID, name) + "/"
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (d *S3Remote) FindFile(ctx context.Context, parentID, name string) (string, bool, error) {
	key := d.childKey(parentID, name)
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return key, true, nil
}

func (d *S3Remote) UploadFile(ctx context.Context, parentID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := d.childKey(parentID, filepath.Base(localPath))
	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(d.bucket),
		Key:          aws.String(key),
		Body:         f,
		StorageClass: d.storageClass,
		Metadata: map[string]string{
			"mtime": strconv.FormatInt(info.ModTime().Unix(), 10),
			"size":  strconv.FormatInt(info.Size(), 10),
		},
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (d *S3Remote) DeleteFile(ctx context.Context, id string) error {
	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(id),
	})
	return err
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
