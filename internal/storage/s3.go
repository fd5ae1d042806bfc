// Package storage archives captured photos in an S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"globule-intake/pkg"
)

var ErrEmptyPhoto = errors.New("photo has no data")

// PutObjectAPI is the part of the S3 client the archive uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PhotoArchive writes photos under photos/<reg no>/.
type PhotoArchive struct {
	Client PutObjectAPI
	Bucket string
}

// NewS3 loads the default AWS configuration (environment, shared config,
// AWS_ENDPOINT_URL for local stacks) and returns an archive for bucket.
func NewS3(ctx context.Context, bucket string) (*PhotoArchive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	})
	return &PhotoArchive{Client: client, Bucket: bucket}, nil
}

// Key returns the object key for a photo taken at t.
func Key(regNo string, mimeType string, t time.Time) string {
	regNo = strings.TrimSpace(regNo)
	if regNo == "" {
		regNo = "unregistered"
	}
	return path.Join("photos", regNo, t.UTC().Format("20060102T150405")+extension(mimeType))
}

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// Archive uploads the photo and returns its key.
func (a *PhotoArchive) Archive(ctx context.Context, regNo string, p *pkg.Photo, at time.Time) (string, error) {
	if p == nil || len(p.Data) == 0 {
		return "", ErrEmptyPhoto
	}
	ct := p.MIMEType
	if ct == "" {
		ct = "image/jpeg"
	}
	key := Key(regNo, ct, at)
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Data),
		ContentType: aws.String(ct),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}
