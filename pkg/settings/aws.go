package settings

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// LoadAWSConfig loads the default AWS configuration. When an endpoint is set, every client
// is pointed at it with static credentials taken from AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY, as used with local MinIO and DynamoDB containers.
func LoadAWSConfig(ctx context.Context, s AWS, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
	opts := append([]func(*config.LoadOptions) error{}, optFns...)
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.Endpoint != "" {
		endpoint := s.Endpoint
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				envString("AWS_ACCESS_KEY_ID", "minioadmin"),
				envString("AWS_SECRET_ACCESS_KEY", "minioadmin"),
				"")),
			config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
				})),
		)
	}
	return config.LoadDefaultConfig(ctx, opts...)
}
