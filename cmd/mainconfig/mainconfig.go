// Package mainconfig holds process wiring shared by the binaries.
package mainconfig

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
)

// LoadAWSConfig loads SDK config for the region in cfg. Static keys win over
// the default chain when both are set. AWS_ENDPOINT_OVERRIDE points every
// client (SQS, DynamoDB, S3, SES, Bedrock) at one emulator endpoint.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	key, secret := strings.TrimSpace(cfg.AWSAccessKeyID), strings.TrimSpace(cfg.AWSSecretAccessKey)
	if key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	return awsCfg, nil
}

// LazyAWSConfig defers LoadAWSConfig until the first caller needs it and
// shares the result afterwards. Deployments without AWS never load it.
func LazyAWSConfig(ctx context.Context, cfg *appconfig.Config) func() (aws.Config, error) {
	return sync.OnceValues(func() (aws.Config, error) {
		return LoadAWSConfig(ctx, cfg)
	})
}
