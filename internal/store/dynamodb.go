package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"smartcal/internal/model"
)

// DynamoAPI is the part of the DynamoDB client the store calls.
type DynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Dynamo stores one item per event keyed by id, with a global secondary
// index on ownerId (sort key createdAt) for listing.
type Dynamo struct {
	api   DynamoAPI
	table string
	index string
}

func NewDynamo(api DynamoAPI, table, index string) *Dynamo {
	return &Dynamo{api: api, table: table, index: index}
}

// NewDynamoClient loads the default AWS credential chain. endpoint, if
// set, points the client at dynamodb-local or localstack.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (d *Dynamo) Name() string { return "dynamodb" }

func (d *Dynamo) List(ctx context.Context, owner string) ([]model.CalendarEvent, error) {
	keyCond := expression.Key("ownerId").Equal(expression.Value(owner))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("dynamodb list: build expression: %w", err)
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		IndexName:                 aws.String(d.index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	evs := make([]model.CalendarEvent, 0)
	p := dynamodb.NewQueryPaginator(d.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb list: %w", err)
		}
		var batch []model.CalendarEvent
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("dynamodb list: unmarshal: %w", err)
		}
		evs = append(evs, batch...)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].CreatedAt.Before(evs[j].CreatedAt) })
	return evs, nil
}

func (d *Dynamo) Insert(ctx context.Context, ev model.CalendarEvent) error {
	item, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return fmt.Errorf("dynamodb insert: marshal: %w", err)
	}
	cond := expression.AttributeNotExists(expression.Name("id"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("dynamodb insert: build expression: %w", err)
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("dynamodb insert: %w", err)
	}
	return nil
}

func (d *Dynamo) Update(ctx context.Context, owner string, ev model.CalendarEvent) error {
	upd := expression.Set(expression.Name("title"), expression.Value(ev.Title)).
		Set(expression.Name("description"), expression.Value(ev.Description)).
		Set(expression.Name("color"), expression.Value(ev.Color)).
		Set(expression.Name("date"), expression.Value(ev.Date))
	cond := expression.AttributeExists(expression.Name("id")).
		And(expression.Name("ownerId").Equal(expression.Value(owner)))

	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("dynamodb update: build expression: %w", err)
	}
	_, err = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       idKey(ev.ID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionFailed(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamodb update: %w", err)
	}
	return nil
}

// Delete is conditioned on the owner. An item that is missing or belongs
// to someone else is left alone and reported as success.
func (d *Dynamo) Delete(ctx context.Context, owner, id string) error {
	cond := expression.Name("ownerId").Equal(expression.Value(owner))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("dynamodb delete: build expression: %w", err)
	}
	_, err = d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(d.table),
		Key:                       idKey(id),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("dynamodb delete: %w", err)
	}
	return nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
