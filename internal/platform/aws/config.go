// Package aws собирает конфигурацию SDK и узкие интерфейсы клиентов, которые используют очередь,
// хранилище DLQ и метрики. Узкие интерфейсы позволяют подменять клиентов в тестах.
package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultRegion используется, если AWS_REGION не задан.
const DefaultRegion = "us-east-1"

// LoadAWSConfig загружает конфигурацию SDK из окружения.
func LoadAWSConfig(ctx context.Context, region string) (sdkaws.Config, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = DefaultRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
