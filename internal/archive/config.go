package archive

import (
	"fmt"
	"os"
	"strings"
)

const defaultRegion = "us-east-1"

// S3Config holds S3 connection settings for the chart archive.
type S3Config struct {
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	UsePathStyle    bool
}

// IsMinIO reports whether the endpoint points at a non-AWS S3 implementation.
func (c *S3Config) IsMinIO() bool {
	return c.Endpoint != "" && !strings.Contains(c.Endpoint, "amazonaws.com")
}

// LoadS3ConfigFromEnv loads archive configuration from environment variables.
// It returns nil when CHARTBOT_ARCHIVE_BUCKET is unset, meaning archiving is disabled.
//
// Environment variables:
//   - CHARTBOT_ARCHIVE_BUCKET (required to enable archiving)
//   - CHARTBOT_ARCHIVE_PREFIX (optional, default "charts")
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID (optional, leave unset to use the default credential chain)
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (optional, for MinIO: "http://localhost:9000")
//   - S3_REGION or AWS_REGION (optional, defaults to "us-east-1")
//   - S3_URL_STYLE (optional, "path" or "virtual"; path is the default for MinIO)
func LoadS3ConfigFromEnv() (*S3Config, error) {
	bucket := strings.TrimSpace(os.Getenv("CHARTBOT_ARCHIVE_BUCKET"))
	if bucket == "" {
		return nil, nil
	}

	prefix := strings.Trim(os.Getenv("CHARTBOT_ARCHIVE_PREFIX"), "/")
	if prefix == "" {
		prefix = "charts"
	}

	accessKeyID := firstEnv("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := firstEnv("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	if accessKeyID == "" && secretAccessKey != "" {
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	}
	if accessKeyID != "" && secretAccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing")
	}

	region := firstEnv("S3_REGION", "AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	cfg := &S3Config{
		Bucket:          bucket,
		Prefix:          prefix,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        firstEnv("S3_ENDPOINT", "AWS_ENDPOINT_URL"),
		Region:          region,
	}
	cfg.UsePathStyle = cfg.IsMinIO()
	if style := os.Getenv("S3_URL_STYLE"); style != "" {
		cfg.UsePathStyle = style == "path"
	}

	if cfg.IsMinIO() && (cfg.AccessKeyID == "" || cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", cfg.Endpoint)
	}
	return cfg, nil
}

// isLocalEndpoint reports whether the endpoint is a local MinIO instance, where
// the bucket is created on demand.
func isLocalEndpoint(endpoint string) bool {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.HasPrefix(endpoint, "localhost") ||
		strings.HasPrefix(endpoint, "127.0.0.1") ||
		strings.Contains(endpoint, "host.docker.internal")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
