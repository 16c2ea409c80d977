package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	awsclient "github.com/vladislavdragonenkov/printme/internal/platform/aws"
)

// deadLetterItem: форма записи в таблице DynamoDB.
type deadLetterItem struct {
	JobID      string    `dynamodbav:"job_id"`
	JobType    string    `dynamodbav:"job_type"`
	Payload    string    `dynamodbav:"payload"`
	Retries    int       `dynamodbav:"retries"`
	MaxRetries int       `dynamodbav:"max_retries"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
	LastError  string    `dynamodbav:"last_error"`
	FailedAt   time.Time `dynamodbav:"failed_at"`
}

// DynamoStore хранит записи DLQ в таблице DynamoDB с ключом job_id.
type DynamoStore struct {
	client    awsclient.DynamoDBAPI
	tableName string
}

// NewDynamoStore создаёт хранилище поверх таблицы tableName.
func NewDynamoStore(client awsclient.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// Put записывает запись условно: повторная доставка той же задачи не перетирает первую запись.
func (s *DynamoStore) Put(ctx context.Context, entry domain.DeadLetterEntry) error {
	item, err := attributevalue.MarshalMap(deadLetterItem{
		JobID:      entry.Job.ID,
		JobType:    string(entry.Job.Type),
		Payload:    string(entry.Job.Payload),
		Retries:    entry.Job.Retries,
		MaxRetries: entry.Job.MaxRetries,
		CreatedAt:  entry.Job.CreatedAt,
		LastError:  entry.LastError,
		FailedAt:   entry.FailedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           sdkaws.String(s.tableName),
		Item:                item,
		ConditionExpression: sdkaws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("put dead letter: %w", err)
	}
	return nil
}

// List сканирует таблицу целиком и возвращает записи по времени отказа.
func (s *DynamoStore) List(ctx context.Context) ([]domain.DeadLetterEntry, error) {
	var (
		entries  = []domain.DeadLetterEntry{}
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         sdkaws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan dead letters: %w", err)
		}

		var items []deadLetterItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal dead letters: %w", err)
		}
		for _, item := range items {
			entries = append(entries, domain.DeadLetterEntry{
				Job: domain.Job{
					ID:         item.JobID,
					Type:       domain.JobType(item.JobType),
					Payload:    json.RawMessage(item.Payload),
					Retries:    item.Retries,
					MaxRetries: item.MaxRetries,
					CreatedAt:  item.CreatedAt,
				},
				LastError: item.LastError,
				FailedAt:  item.FailedAt,
			})
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FailedAt.Before(entries[j].FailedAt)
	})
	return entries, nil
}

var _ domain.DeadLetterStore = (*DynamoStore)(nil)
