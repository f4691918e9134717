// Package cloud builds the AWS configuration shared by the S3 signer and
// the payout queue.
package cloud

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig uses static credentials when both keys are set and falls
// back to the default provider chain otherwise.
func LoadAWSConfig(ctx context.Context, creds Credentials, log *slog.Logger) (aws.Config, error) {
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		log.Info("Using static AWS credentials", "region", creds.Region)
		return awsConfig.LoadDefaultConfig(ctx,
			awsConfig.WithRegion(creds.Region),
			awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID,
				creds.SecretAccessKey,
				"",
			)),
		)
	}
	log.Info("Using default AWS credential chain", "region", creds.Region)
	return awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(creds.Region))
}
