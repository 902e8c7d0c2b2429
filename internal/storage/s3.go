// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// The subset of the S3 API used by the transfer managers
type S3API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// Stores objects in S3 with the multipart transfer managers
type S3Store struct {
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Store creates a store on the given client
func NewS3Store(client S3API) *S3Store {
	return &S3Store{
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

// Options for connecting to S3
type S3Options struct {
	Region   string // AWS region, e.g. us-east-1
	Profile  string // Shared config profile, empty for the default chain
	Endpoint string // Custom endpoint for S3-compatible stores, empty for AWS
}

// LoadAWSConfig loads the AWS configuration from the default chain, with optional region and profile
func LoadAWSConfig(ctx context.Context, opts S3Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// NewS3StoreFromConfig creates a store with a client built from the AWS configuration
func NewS3StoreFromConfig(cfg aws.Config, opts S3Options) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Store(client)
}

func (s *S3Store) Download(ctx context.Context, obj Object, fileName string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(fileName), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(fileName)
	if err != nil {
		return 0, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	}
	if obj.RequesterPays {
		input.RequestPayer = types.RequestPayerRequester
	}
	n, err := s.downloader.Download(ctx, f, input)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fileName)
		return 0, fmt.Errorf("downloading %s: %w", obj, err)
	}
	return n, nil
}

func (s *S3Store) Upload(ctx context.Context, obj Object, fileName string) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(obj.Bucket),
		Key:         aws.String(obj.Key),
		Body:        f,
		ContentType: aws.String("text/plain"),
	}
	if obj.RequesterPays {
		input.RequestPayer = types.RequestPayerRequester
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading %s: %w", obj, err)
	}
	return nil
}
