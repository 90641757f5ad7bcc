package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"goal-agent/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skPrefixConv = "CONV#"
	skPrefixGoal = "GOAL#"
	skInfixMsg   = "#MSG#"

	// maxTransactItems is DynamoDB's TransactWriteItems limit; one slot
	// goes to the conversation update.
	maxTransactItems = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps conversations and goals in one DynamoDB table. Every
// record lives in its user's partition:
//
//	USER#<user> / CONV#<session>             conversation metadata and messageCount
//	USER#<user> / CONV#<session>#MSG#<seq>   one message, seq zero-padded
//	USER#<user> / GOAL#<id>                  one goal
//
// Messages are separate items so a long history never hits the item size
// limit.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoStore over tableName.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

func userPK(userID string) string {
	return pkPrefixUser + userID
}

func convSK(sessionID string) string {
	return skPrefixConv + sessionID
}

func msgPrefix(sessionID string) string {
	return convSK(sessionID) + skInfixMsg
}

func msgSK(sessionID string, seq int) string {
	return fmt.Sprintf("%s%010d", msgPrefix(sessionID), seq)
}

func goalSK(goalID string) string {
	return skPrefixGoal + goalID
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// FindConversation reads the conversation metadata and then its messages in
// sequence order.
func (c *DynamoStore) FindConversation(ctx context.Context, sessionID, userID string) (*domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(userPK(userID), convSK(sessionID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: FindConversation decode: %w", err)
	}

	msgs, err := c.queryMessages(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return &conv, nil
}

func (c *DynamoStore) queryMessages(ctx context.Context, sessionID, userID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: msgPrefix(sessionID)},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}

	msgs := []domain.Message{}
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: FindConversation query messages: %w", err)
		}
		for i, item := range out.Items {
			msg, err := attrsToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: FindConversation message %d: %w", len(msgs)+i, err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// CreateConversation inserts a new conversation. The put is conditional on
// the key being absent, so a concurrent creator gets ErrDuplicateConversation.
func (c *DynamoStore) CreateConversation(ctx context.Context, conv domain.Conversation) (string, error) {
	if conv.SessionID == "" || conv.UserID == "" {
		return "", errors.New("repository: CreateConversation: session and user are required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return "", ErrDuplicateConversation
		}
		return "", fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return conv.ID, nil
}

// AppendMessages writes each message as its own item and advances the
// conversation's messageCount and updatedAt in one transaction. The update
// is conditional on the count read beforehand, so a concurrent append
// cancels instead of reusing sequence numbers.
func (c *DynamoStore) AppendMessages(ctx context.Context, sessionID, userID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs) >= maxTransactItems {
		return fmt.Errorf("repository: AppendMessages: %d messages exceed one transaction", len(msgs))
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  itemKey(userPK(userID), convSK(sessionID)),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("PK, messageCount"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessages get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return fmt.Errorf("repository: AppendMessages: %w", ErrNotFound)
	}
	count, err := intAttr(out.Item, "messageCount")
	if err != nil {
		return fmt.Errorf("repository: AppendMessages decode: %w", err)
	}

	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	for i, m := range msgs {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(sessionID, userID, count+i, m),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}
	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(c.tableName),
			Key:                 itemKey(userPK(userID), convSK(sessionID)),
			UpdateExpression:    aws.String("SET messageCount = :next, updatedAt = :now"),
			ConditionExpression: aws.String("attribute_exists(PK) AND (messageCount = :prev OR attribute_not_exists(messageCount))"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prev": numAttr(count),
				":next": numAttr(count + len(msgs)),
				":now":  timeAttr(msgs[len(msgs)-1].Timestamp),
			},
		},
	})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isTransactionConflict(err) {
			return fmt.Errorf("repository: AppendMessages: %w", ErrConcurrentAppend)
		}
		return fmt.Errorf("repository: AppendMessages: %w", err)
	}
	return nil
}

// InsertGoal writes a new goal and returns its id.
func (c *DynamoStore) InsertGoal(ctx context.Context, goal domain.Goal) (string, error) {
	if goal.UserID == "" {
		return "", errors.New("repository: InsertGoal: user is required")
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                goalItem(goal),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return "", fmt.Errorf("repository: InsertGoal: %w", err)
	}
	return goal.ID, nil
}

// FindGoal reads one goal owned by userID.
func (c *DynamoStore) FindGoal(ctx context.Context, id, userID string) (*domain.Goal, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(userPK(userID), goalSK(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindGoal get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	goal, err := itemToGoal(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: FindGoal decode: %w", err)
	}
	return &goal, nil
}

// ListGoals reads every goal in the user's partition and filters in
// process: DynamoDB's contains() is case-sensitive, and total has to count
// all matches anyway.
func (c *DynamoStore) ListGoals(ctx context.Context, userID string, filter domain.GoalFilter, page domain.Page) (int, []domain.Goal, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixGoal},
		},
	}

	var goals []domain.Goal
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return 0, nil, fmt.Errorf("repository: ListGoals query: %w", err)
		}
		for _, item := range out.Items {
			g, err := itemToGoal(item)
			if err != nil {
				return 0, nil, fmt.Errorf("repository: ListGoals decode: %w", err)
			}
			goals = append(goals, g)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	total, items := filterAndPage(goals, filter, page)
	return total, items, nil
}

func (c *DynamoStore) Close() error { return nil }

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func isTransactionConflict(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	for _, r := range canceled.CancellationReasons {
		if r.Code != nil && (*r.Code == "ConditionalCheckFailed" || *r.Code == "TransactionConflict") {
			return true
		}
	}
	return false
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: userPK(conv.UserID)},
		"SK":             &types.AttributeValueMemberS{Value: convSK(conv.SessionID)},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"sessionId":      &types.AttributeValueMemberS{Value: conv.SessionID},
		"userId":         &types.AttributeValueMemberS{Value: conv.UserID},
		"messageCount":   numAttr(0),
		"createdAt":      timeAttr(conv.CreatedAt),
		"updatedAt":      timeAttr(conv.UpdatedAt),
	}
}

func messageItem(sessionID, userID string, seq int, m domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(sessionID, seq)},
		"role":      &types.AttributeValueMemberS{Value: string(m.Role)},
		"content":   &types.AttributeValueMemberS{Value: m.Content},
		"timestamp": timeAttr(m.Timestamp),
	}
}

func goalItem(g domain.Goal) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: userPK(g.UserID)},
		"SK":           &types.AttributeValueMemberS{Value: goalSK(g.ID)},
		"goalId":       &types.AttributeValueMemberS{Value: g.ID},
		"name":         &types.AttributeValueMemberS{Value: g.Name},
		"targetAmount": &types.AttributeValueMemberN{Value: strconv.FormatFloat(g.TargetAmount, 'f', -1, 64)},
		"timeframe":    &types.AttributeValueMemberS{Value: g.Timeframe},
		"description":  &types.AttributeValueMemberS{Value: g.Description},
		"status":       &types.AttributeValueMemberS{Value: string(g.Status)},
		"createdAt":    timeAttr(g.CreatedAt),
		"sessionId":    &types.AttributeValueMemberS{Value: g.SessionID},
		"userId":       &types.AttributeValueMemberS{Value: g.UserID},
	}
	if g.Category != "" {
		item["category"] = &types.AttributeValueMemberS{Value: g.Category}
	}
	return item
}

// itemToConversation converts the metadata item; messages are read separately.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Conversation{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdAt, err := timeFromAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedAt, err := timeFromAttr(item, "updatedAt")
	if err != nil {
		return domain.Conversation{}, err
	}

	return domain.Conversation{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func attrsToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeFromAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Role: domain.Role(role), Content: content, Timestamp: ts}, nil
}

func itemToGoal(item map[string]types.AttributeValue) (domain.Goal, error) {
	id, err := strAttr(item, "goalId")
	if err != nil {
		return domain.Goal{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Goal{}, err
	}
	amount, err := floatAttr(item, "targetAmount")
	if err != nil {
		return domain.Goal{}, err
	}
	createdAt, err := timeFromAttr(item, "createdAt")
	if err != nil {
		return domain.Goal{}, err
	}
	name, _ := strAttr(item, "name") // allow empty
	timeframe, _ := strAttr(item, "timeframe")
	description, _ := strAttr(item, "description")
	category, _ := strAttr(item, "category")
	status, _ := strAttr(item, "status")
	sessionID, _ := strAttr(item, "sessionId")

	return domain.Goal{
		ID:           id,
		Name:         name,
		TargetAmount: amount,
		Timeframe:    timeframe,
		Description:  description,
		Category:     category,
		Status:       domain.GoalStatus(status),
		CreatedAt:    createdAt,
		SessionID:    sessionID,
		UserID:       userID,
	}, nil
}

func numAttr(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

// intAttr reads a numeric attribute; a missing one is zero.
func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(ts time.Time) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeFromAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
