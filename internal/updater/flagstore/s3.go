// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flagstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
	"github.com/autopeer-io/vmupdater/pkg/log"
	"github.com/autopeer-io/vmupdater/pkg/options"
)

const backendS3 = "s3"

// objectPutter is the subset of the minio client used by S3Store.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type minioPutter struct {
	client *minio.Client
}

func (p minioPutter) PutObject(ctx context.Context, bucket, object string, r *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return p.client.PutObject(ctx, bucket, object, r, size, opts)
}

var _ Store = (*S3Store)(nil)

// S3Store mirrors both records into an S3 bucket so a fleet dashboard can see
// the state of every workstation. Keys are {prefix}/{record}.
type S3Store struct {
	putter objectPutter
	bucket string
	prefix string
	clock  clock.PassiveClock
}

// NewS3Store connects to the bucket described by opts. prefix usually
// identifies the workstation.
func NewS3Store(ctx context.Context, opts *options.S3Options, prefix string, clk clock.PassiveClock) (*S3Store, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", opts.BucketName)
		if err := client.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return newS3Store(minioPutter{client: client}, opts.BucketName, prefix, clk), nil
}

func newS3Store(p objectPutter, bucket, prefix string, clk clock.PassiveClock) *S3Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &S3Store{putter: p, bucket: bucket, prefix: prefix, clock: clk}
}

// WriteStatusFlag implements Store.
func (s *S3Store) WriteStatusFlag(ctx context.Context, st status.UpdateStatus) error {
	data, err := encodeFlag(st, s.clock.Now())
	if err != nil {
		return &PersistenceError{Key: StatusKey, Backend: backendS3, Err: err}
	}
	return s.put(ctx, StatusKey, data, "application/json")
}

// WriteLastUpdated implements Store.
func (s *S3Store) WriteLastUpdated(ctx context.Context) error {
	return s.put(ctx, LastUpdatedKey, encodeTimestamp(s.clock.Now()), "text/plain")
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	object := path.Join(s.prefix, key)
	_, err := s.putter.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return &PersistenceError{Key: key, Backend: backendS3, Err: err}
	}
	return nil
}
