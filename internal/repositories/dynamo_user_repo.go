package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoUserPrefix  = "USER#"
	dynamoProfileSort = "PROFILE"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the user store
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// dynamoUserItem is the single-table item layout: pk=USER#<email>, sk=PROFILE
type dynamoUserItem struct {
	PK               string     `dynamodbav:"pk"`
	SK               string     `dynamodbav:"sk"`
	Email            string     `dynamodbav:"email"`
	Name             string     `dynamodbav:"name"`
	PasswordHash     string     `dynamodbav:"password_hash"`
	FailedLoginCount int        `dynamodbav:"failedLoginCount"`
	LastLoginAt      *time.Time `dynamodbav:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `dynamodbav:"createdAt"`
	UpdatedAt        time.Time  `dynamodbav:"updatedAt"`
}

func (i *dynamoUserItem) toModel() *models.User {
	return &models.User{
		Email:            i.Email,
		Name:             i.Name,
		PasswordHash:     i.PasswordHash,
		FailedLoginCount: i.FailedLoginCount,
		LastLoginAt:      i.LastLoginAt,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

// DynamoUserRepository is the DynamoDB-backed user store
type DynamoUserRepository struct {
	client DynamoDBAPI
	table  string
	now    func() time.Time
}

func NewDynamoUserRepository(client DynamoDBAPI, table string) *DynamoUserRepository {
	return &DynamoUserRepository{client: client, table: table, now: time.Now}
}

func dynamoKey(email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: dynamoUserPrefix + email},
		"sk": &types.AttributeValueMemberS{Value: dynamoProfileSort},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (r *DynamoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            dynamoKey(email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, models.ErrNotFound
	}

	var item dynamoUserItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to decode user item: %w", err)
	}

	return item.toModel(), nil
}

// CreateIfAbsent writes the item guarded by attribute_not_exists(pk)
func (r *DynamoUserRepository) CreateIfAbsent(ctx context.Context, user *models.User) error {
	now := r.now().UTC()

	item := dynamoUserItem{
		PK:           dynamoUserPrefix + user.Email,
		SK:           dynamoProfileSort,
		Email:        user.Email,
		Name:         user.Name,
		PasswordHash: user.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to encode user item: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to put user item: %w", err)
	}

	*user = *item.toModel()
	return nil
}

func (r *DynamoUserRepository) UpdateLoginMeta(ctx context.Context, email string, meta models.LoginMeta) error {
	if err := checkLoginMeta(meta); err != nil {
		return err
	}

	expr := "SET failedLoginCount = :f, updatedAt = :u"
	values := map[string]types.AttributeValue{
		":f": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.FailedLoginCount)},
		":u": &types.AttributeValueMemberS{Value: r.now().UTC().Format(time.RFC3339Nano)},
	}
	if meta.LastLoginAt != nil {
		expr += ", lastLoginAt = :l"
		values[":l"] = &types.AttributeValueMemberS{Value: meta.LastLoginAt.UTC().Format(time.RFC3339Nano)}
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       dynamoKey(email),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to update login meta: %w", err)
	}

	return nil
}

// IncrementFailedLoginCount uses ADD so concurrent failures are not lost
func (r *DynamoUserRepository) IncrementFailedLoginCount(ctx context.Context, email string) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 dynamoKey(email),
		UpdateExpression:    aws.String("ADD failedLoginCount :one SET updatedAt = :u"),
		ConditionExpression: aws.String("attribute_exists(pk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":u":   &types.AttributeValueMemberS{Value: r.now().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, models.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment failed login count: %w", err)
	}

	var updated struct {
		FailedLoginCount int `dynamodbav:"failedLoginCount"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("failed to decode updated attributes: %w", err)
	}

	return updated.FailedLoginCount, nil
}

func (r *DynamoUserRepository) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	if err != nil {
		return fmt.Errorf("dynamodb describe table failed: %w", err)
	}
	return nil
}

// EnsureTable creates the table with on-demand billing if it does not exist
// and waits for it to become active. Intended for DynamoDB Local.
func (r *DynamoUserRepository) EnsureTable(ctx context.Context, maxWait time.Duration) (bool, error) {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	if err == nil {
		return false, nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("failed to describe table: %w", err)
	}

	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(r.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)}, maxWait); err != nil {
		return true, fmt.Errorf("table did not become active: %w", err)
	}

	return true, nil
}
