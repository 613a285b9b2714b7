// Package s3store is the network Template Store backend spec.md §9
// anticipates ("any future network backend" implementing the same
// interface as the file backend). Ported from the teacher's s3 package:
// same credential-chain resolution, same streaming get/put, same key
// validation discipline against path traversal (here applied to the
// object key derived from a print's identity tuple rather than an S3
// "image key").
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/fingerprint"
)

// Config holds S3 client configuration for the network store backend.
type Config struct {
	Region string
	Bucket string
	// Prefix namespaces objects under this key prefix, e.g. "fprintd/".
	Prefix string
}

// Store implements store.Store against an S3-compatible object store.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	logger logrus.FieldLogger
}

// New loads AWS credentials via the SDK's default chain (env vars, shared
// credentials file, then IAM role), exactly as the teacher's s3.New does.
func New(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3store: load aws config: %w", err)
	}
	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.WithField("component", "s3store"),
	}, nil
}

func validateKeyComponent(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("s3store: invalid key component %q", name)
	}
	return nil
}

func (s *Store) objectKey(key fingerprint.Key) (string, error) {
	for _, c := range []string{key.Username, key.Driver, key.DeviceID} {
		if err := validateKeyComponent(c); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s%s/%s/%s/%s", s.prefix, key.Username, key.Driver, key.DeviceID, key.Finger.HexDigit()), nil
}

func (s *Store) userPrefix(driver, deviceID, username string) string {
	return fmt.Sprintf("%s%s/%s/%s/", s.prefix, username, driver, deviceID)
}

func (s *Store) Close() error { return nil }

func (s *Store) Save(ctx context.Context, p fingerprint.Print) error {
	objKey, err := s.objectKey(p.Key())
	if err != nil {
		return err
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3store: put %q: %w", objKey, err)
	}
	s.logger.WithField("key", objKey).Debug("saved print to s3")
	return nil
}

func (s *Store) Load(ctx context.Context, key fingerprint.Key) (fingerprint.Print, bool, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return fingerprint.Print{}, false, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return fingerprint.Print{}, false, nil
		}
		return fingerprint.Print{}, false, fmt.Errorf("s3store: get %q: %w", objKey, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fingerprint.Print{}, false, fmt.Errorf("s3store: read body %q: %w", objKey, err)
	}
	p, err := fingerprint.Unmarshal(data)
	if err != nil {
		return fingerprint.Print{}, false, err
	}
	if p.Key() != key {
		return fingerprint.Print{}, false, fmt.Errorf("s3store: stored print identity mismatch for %+v", key)
	}
	return p, true, nil
}

func (s *Store) Delete(ctx context.Context, key fingerprint.Key) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return fmt.Errorf("s3store: delete %q: %w", objKey, err)
	}
	return nil
}

func (s *Store) DiscoverPrints(ctx context.Context, driver, deviceID, username string) ([]fingerprint.Finger, error) {
	prefix := s.userPrefix(driver, deviceID, username)
	var out []fingerprint.Finger
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			digit := strings.TrimPrefix(*obj.Key, prefix)
			f, err := fingerprint.ParseFingerHexDigit(digit)
			if err != nil {
				continue
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) DiscoverUsers(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3store: list users: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, s.prefix), "/")
			if name != "" {
				seen[name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}
