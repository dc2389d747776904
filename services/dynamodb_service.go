package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"line-relay/config"
	"line-relay/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConversationArchive is a write-behind transcript of committed turns in
// DynamoDB. It is never used to rebuild conversation memory.
type ConversationArchive struct {
	db    *dynamodb.Client
	table string
	log   zerolog.Logger
}

// NewDynamoDBClient builds a client from cfg. A custom endpoint (DynamoDB
// Local) and static credentials are optional.
func NewDynamoDBClient(ctx context.Context, cfg config.ArchiveConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: cfg.Region}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{AccessKeyID: cfg.AccessKeyID, SecretAccessKey: cfg.SecretAccessKey},
		}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func NewConversationArchive(db *dynamodb.Client, table string, logger zerolog.Logger) *ConversationArchive {
	return &ConversationArchive{
		db:    db,
		table: table,
		log:   logger.With().Str("component", "archive").Str("table", table).Logger(),
	}
}

// EnsureTable creates the table if it does not exist yet.
func (a *ConversationArchive) EnsureTable(ctx context.Context) error {
	_, err := a.db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(a.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("UserID"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("Timestamp"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("UserID"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("Timestamp"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		a.log.Debug().Msg("archive table already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", a.table, err)
	}
	a.log.Info().Msg("created archive table")
	return nil
}

// SaveMessage stores one turn at time at.
func (a *ConversationArchive) SaveMessage(ctx context.Context, conversationID string, role models.Role, content string, at time.Time) (models.Conversation, error) {
	conversation := models.Conversation{
		ID:        uuid.New().String(),
		UserID:    conversationID,
		Role:      string(role),
		Content:   content,
		Timestamp: at.UTC(),
	}

	_, err := a.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item: map[string]types.AttributeValue{
			"ID":        &types.AttributeValueMemberS{Value: conversation.ID},
			"UserID":    &types.AttributeValueMemberS{Value: conversation.UserID},
			"Role":      &types.AttributeValueMemberS{Value: conversation.Role},
			"Content":   &types.AttributeValueMemberS{Value: conversation.Content},
			"Timestamp": &types.AttributeValueMemberS{Value: FormatTimestamp(conversation.Timestamp)},
		},
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("put item: %w", err)
	}
	return conversation, nil
}

// SaveExchange stores a user turn and the assistant reply. The reply gets a
// later timestamp so the pair never collides on the range key.
func (a *ConversationArchive) SaveExchange(ctx context.Context, conversationID, userText, assistantText string) error {
	now := time.Now()
	if _, err := a.SaveMessage(ctx, conversationID, models.RoleUser, userText, now); err != nil {
		return err
	}
	if _, err := a.SaveMessage(ctx, conversationID, models.RoleAssistant, assistantText, now.Add(time.Microsecond)); err != nil {
		return err
	}
	a.log.Debug().Str("conversation_id", conversationID).Msg("archived exchange")
	return nil
}

// GetRecentConversations returns up to limit most recent turns, oldest first.
func (a *ConversationArchive) GetRecentConversations(ctx context.Context, conversationID string, limit int) ([]models.Conversation, error) {
	result, err := a.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: conversationID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}

	conversations, err := parseConversations(result.Items)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].Timestamp.Before(conversations[j].Timestamp)
	})
	return conversations, nil
}

// GetAllConversations returns the whole transcript, oldest first.
func (a *ConversationArchive) GetAllConversations(ctx context.Context, conversationID string) ([]models.Conversation, error) {
	return a.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: conversationID},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// GetConversationsInPeriod returns the turns archived in [start, end].
func (a *ConversationArchive) GetConversationsInPeriod(ctx context.Context, conversationID string, start, end time.Time) ([]models.Conversation, error) {
	return a.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("UserID = :uid AND #ts BETWEEN :start AND :end"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "Timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":   &types.AttributeValueMemberS{Value: conversationID},
			":start": &types.AttributeValueMemberS{Value: FormatTimestamp(start)},
			":end":   &types.AttributeValueMemberS{Value: FormatTimestamp(end)},
		},
		ScanIndexForward: aws.Bool(true),
	})
}

// GetActiveConversations lists conversation ids with turns archived since.
func (a *ConversationArchive) GetActiveConversations(ctx context.Context, since time.Time) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:            aws.String(a.table),
		FilterExpression:     aws.String("#ts >= :ts"),
		ProjectionExpression: aws.String("UserID"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "Timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberS{Value: FormatTimestamp(since)},
		},
	}

	seen := make(map[string]bool)
	var ids []string
	for {
		result, err := a.db.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan active conversations: %w", err)
		}
		for _, item := range result.Items {
			id, ok := item["UserID"].(*types.AttributeValueMemberS)
			if !ok || seen[id.Value] {
				continue
			}
			seen[id.Value] = true
			ids = append(ids, id.Value)
		}
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *ConversationArchive) query(ctx context.Context, input *dynamodb.QueryInput) ([]models.Conversation, error) {
	var conversations []models.Conversation
	for {
		result, err := a.db.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query conversations: %w", err)
		}
		page, err := parseConversations(result.Items)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, page...)
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	return conversations, nil
}

func parseConversations(items []map[string]types.AttributeValue) ([]models.Conversation, error) {
	conversations := make([]models.Conversation, 0, len(items))
	for _, item := range items {
		conv, err := parseConversation(item)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}

func parseConversation(item map[string]types.AttributeValue) (models.Conversation, error) {
	var conv models.Conversation
	fields := []struct {
		name string
		dst  *string
	}{
		{"ID", &conv.ID},
		{"UserID", &conv.UserID},
		{"Role", &conv.Role},
		{"Content", &conv.Content},
	}
	for _, f := range fields {
		v, err := stringAttribute(item, f.name)
		if err != nil {
			return models.Conversation{}, err
		}
		*f.dst = v
	}

	raw, err := stringAttribute(item, "Timestamp")
	if err != nil {
		return models.Conversation{}, err
	}
	conv.Timestamp, err = ParseTimestamp(raw)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("attribute Timestamp %q: %w", raw, models.ErrInvalidValue)
	}
	return conv, nil
}

func stringAttribute(item map[string]types.AttributeValue, name string) (string, error) {
	switch v := item[name].(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("attribute %s is %T: %w", name, v, models.ErrInvalidType)
	}
}
