package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/baldanca/queue-pump/config"
	"github.com/baldanca/queue-pump/queue"
)

func loadAWS(ctx context.Context, c config.AWS) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func newSQS(awsCfg aws.Config, endpoint string) *queue.SQS {
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return queue.NewSQS(client)
}

func newS3(awsCfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// queueClient builds the SQS adapter, or an in-process queue holding the
// configured queues when memory is set.
func queueClient(ctx context.Context, cfg *config.Config, memory bool) (queue.Client, error) {
	if memory {
		names := make([]string, 0, len(cfg.Pumps))
		for _, p := range cfg.Pumps {
			names = append(names, p.Queue)
		}
		return queue.NewMemory(names...), nil
	}

	awsCfg, err := loadAWS(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return newSQS(awsCfg, cfg.AWS.Endpoint), nil
}
