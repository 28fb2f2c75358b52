package objectstore

import (
	"fmt"
	"strings"

	"github.com/kimhsiao/homeinventory/internal/config"
	apperrors "github.com/kimhsiao/homeinventory/internal/errors"
)

// Provider names accepted in S3_PROVIDER.
const (
	ProviderAWS    = "aws"
	ProviderR2     = "r2"
	ProviderMinIO  = "minio"
	ProviderCustom = "custom"
)

// Regional AWS S3 endpoints. Unknown regions fall back to the global endpoint.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-west-2":      "s3.eu-west-2.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-southeast-2": "s3.ap-southeast-2.amazonaws.com",
	"ca-central-1":   "s3.ca-central-1.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
}

// New builds a client for the configured provider.
//
// AWS and R2 use virtual-host style URLs; MinIO and custom endpoints use
// path style.
func New(cfg config.ObjectStoreConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.New(apperrors.ErrConfig, "S3_BUCKET is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, apperrors.New(apperrors.ErrConfig, "S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}

	c := &Config{
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		PublicURL: cfg.PublicURL,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderAWS:
		c.Region = cfg.Region
		if c.Region == "" {
			c.Region = "us-east-1"
		}
		c.Endpoint = "https://" + AWSEndpointForRegion(c.Region)
	case ProviderR2:
		if !IsValidR2AccountID(cfg.AccountID) {
			return nil, apperrors.New(apperrors.ErrConfig, fmt.Sprintf("invalid R2 account id %q", cfg.AccountID))
		}
		c.Endpoint = "https://" + R2EndpointForAccount(cfg.AccountID)
		c.Region = "auto"
	case ProviderMinIO, ProviderCustom, "":
		if cfg.Endpoint == "" {
			return nil, apperrors.New(apperrors.ErrConfig, "S3_ENDPOINT is required")
		}
		c.Endpoint = withScheme(cfg.Endpoint, cfg.UseSSL)
		c.Region = cfg.Region
		if c.Region == "" {
			c.Region = "us-east-1"
		}
		c.ForcePathStyle = true
	default:
		return nil, apperrors.New(apperrors.ErrConfig, fmt.Sprintf("unknown S3_PROVIDER %q", cfg.Provider))
	}

	return NewClient(c), nil
}

// AWSEndpointForRegion returns the S3 endpoint host for region.
func AWSEndpointForRegion(region string) string {
	if endpoint, ok := awsEndpoints[region]; ok {
		return endpoint
	}
	return "s3.amazonaws.com"
}

// R2EndpointForAccount returns the R2 endpoint host for a Cloudflare account.
func R2EndpointForAccount(accountID string) string {
	return fmt.Sprintf("%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID checks for the 32-character hex form Cloudflare issues.
func IsValidR2AccountID(accountID string) bool {
	if len(accountID) != 32 {
		return false
	}
	for _, c := range accountID {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// withScheme adds http(s):// when missing and drops a trailing slash.
func withScheme(endpoint string, useSSL bool) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return strings.TrimSuffix(endpoint, "/")
}
