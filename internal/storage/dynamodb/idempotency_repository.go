package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

// API — подмножество клиента DynamoDB, которое использует репозиторий.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// item — строка таблицы. expires_at в секундах используется как TTL-атрибут таблицы,
// ttl_at в миллисекундах участвует в условиях записи.
type item struct {
	PK           string    `dynamodbav:"pk"`
	RequestHash  string    `dynamodbav:"request_hash"`
	Status       string    `dynamodbav:"status"`
	HTTPStatus   int       `dynamodbav:"http_status"`
	ResponseBody []byte    `dynamodbav:"response_body,omitempty"`
	TTLAt        int64     `dynamodbav:"ttl_at"`
	ExpiresAt    int64     `dynamodbav:"expires_at"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
	UpdatedAt    time.Time `dynamodbav:"updated_at"`
}

// IdempotencyRepository хранит idempotency-ключи в таблице DynamoDB с ключом pk.
type IdempotencyRepository struct {
	client API
	table  string
	now    func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий для указанной таблицы.
func NewIdempotencyRepository(client API, table string) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		table:  table,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key, requestHash, ttlAt, now := claim.Key, claim.RequestHash, claim.TTLAt, claim.CreatedAt

	row := item{
		PK:          key,
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt.UnixMilli(),
		ExpiresAt:   ttlAt.Unix(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	av, err := attributevalue.MarshalMap(row)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency item: %w", err)
	}

	// Запись с истёкшим ttl_at считается отсутствующей и перезаписывается.
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR ttl_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err == nil {
		return row.toDomain(), nil
	}

	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return domain.IdempotencyRecord{}, fmt.Errorf("put idempotency item: %w", err)
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency item: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}

	var row item
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("unmarshal idempotency item: %w", err)
	}
	// TTL в DynamoDB удаляет строки с опозданием.
	if row.TTLAt <= r.now().UnixMilli() {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return row.toDomain(), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	now := r.now()
	updatedAt, err := attributevalue.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}
	if responseBody == nil {
		responseBody = []byte{}
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 keyOf(key),
		UpdateExpression:    aws.String("SET #status = :done, response_body = :body, http_status = :code, updated_at = :updated"),
		ConditionExpression: aws.String("attribute_exists(pk) AND ttl_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":    &types.AttributeValueMemberS{Value: string(domain.IdempotencyStatusDone)},
			":body":    &types.AttributeValueMemberB{Value: responseBody},
			":code":    &types.AttributeValueMemberN{Value: strconv.Itoa(httpStatus)},
			":updated": updatedAt,
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return domain.ErrIdempotencyKeyNotFound
		}
		return fmt.Errorf("update idempotency item: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Delete(ctx context.Context, key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       keyOf(key),
	}); err != nil {
		return fmt.Errorf("delete idempotency item: %w", err)
	}
	return nil
}

// DeleteExpired ничего не делает: строки удаляет TTL таблицы по expires_at.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: key},
	}
}

func (row item) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          row.PK,
		RequestHash:  row.RequestHash,
		Status:       domain.IdempotencyStatus(row.Status),
		ResponseBody: append([]byte(nil), row.ResponseBody...),
		HTTPStatus:   row.HTTPStatus,
		TTLAt:        time.UnixMilli(row.TTLAt).UTC(),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

var (
	_ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
	_ API                          = (*dynamodb.Client)(nil)
)
