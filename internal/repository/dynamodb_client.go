// Package repository persists per-subscriber pipeline state in a single
// DynamoDB table, for deployments that run more than one service instance.
// It implements the rate limiter, the conversation memory store and the
// analytics sink behind the same interfaces as the in-memory variants.
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

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/memory"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/ratelimit"
)

const (
	skRate       = "RATE#"
	skPrefixTurn = "TURN#"
	skEventMeta  = "META#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL

	admitAttempts = 3
)

// turnTimeFormat is fixed-width so the sort key ordering matches the
// chronological ordering (RFC3339Nano drops trailing zeros, which breaks
// lexicographic comparison).
const turnTimeFormat = "2006-01-02T15:04:05.000000000Z"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps one DynamoDB table holding rate-limit windows, conversation
// turns and analytics records.
type Client struct {
	api       dynamodbAPI
	tableName string
	limit     int
	window    time.Duration
	memoryCap int
	now       func() time.Time
}

type Option func(*Client)

// WithRateLimit overrides the admission limit and window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *Client) {
		c.limit = limit
		c.window = window
	}
}

// WithMemoryCap overrides the per-subscriber turn cap.
func WithMemoryCap(maxTurns int) Option {
	return func(c *Client) {
		c.memoryCap = maxTurns
	}
}

// New creates a repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		limit:     ratelimit.DefaultLimit,
		window:    ratelimit.DefaultWindow,
		memoryCap: memory.DefaultCap,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limit <= 0 || c.window <= 0 {
		return nil, errors.New("repository: rate limit and window must be positive")
	}
	if c.memoryCap <= 0 {
		return nil, errors.New("repository: memory cap must be positive")
	}
	return c, nil
}

var _ ratelimit.Limiter = (*Client)(nil)
var _ memory.Store = (*Client)(nil)

// subPK returns the partition key for a subscriber's state.
func subPK(subscriberID string) string {
	return "SUB#" + subscriberID
}

// turnSK returns the sort key for a turn. seq disambiguates the two turns
// of one exchange written at the same instant.
func turnSK(ts time.Time, seq int) string {
	return skPrefixTurn + ts.UTC().Format(turnTimeFormat) + "#" + strconv.Itoa(seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// CheckAndAdmit performs the fixed-window admission check with conditional
// writes so concurrent checks for one subscriber can never over-admit.
// "msgCount" is used instead of "count" because COUNT is a DynamoDB
// reserved word.
func (c *Client) CheckAndAdmit(ctx context.Context, subscriberID string) (ratelimit.Decision, error) {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: subPK(subscriberID)},
		"SK": &types.AttributeValueMemberS{Value: skRate},
	}

	for attempt := 0; attempt < admitAttempts; attempt++ {
		now := c.now().UTC()
		cutoff := now.Add(-c.window).UnixMilli()

		out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(c.tableName),
			Key:                 key,
			UpdateExpression:    aws.String("ADD #c :one SET windowStart = if_not_exists(windowStart, :now), #t = :ttl"),
			ConditionExpression: aws.String("attribute_not_exists(windowStart) OR (windowStart > :cutoff AND #c < :limit)"),
			ExpressionAttributeNames: map[string]string{
				"#c": "msgCount",
				"#t": "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one":    &types.AttributeValueMemberN{Value: "1"},
				":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
				":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
				":limit":  &types.AttributeValueMemberN{Value: strconv.Itoa(c.limit)},
				":ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err == nil {
			count, convErr := intAttr(out.Attributes, "msgCount")
			if convErr != nil {
				return ratelimit.Decision{}, fmt.Errorf("repository: CheckAndAdmit decode count: %w", convErr)
			}
			return ratelimit.Decision{Allowed: true, Count: count, Limit: c.limit}, nil
		}
		var condErr *types.ConditionalCheckFailedException
		if !errors.As(err, &condErr) {
			return ratelimit.Decision{}, fmt.Errorf("repository: CheckAndAdmit update: %w", err)
		}

		// The window is either full or expired; read to tell them apart.
		got, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(c.tableName),
			Key:            key,
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("repository: CheckAndAdmit read window: %w", err)
		}
		if got == nil || len(got.Item) == 0 {
			// item raced away (TTL expiry); try again
			continue
		}
		windowStart, err := int64Attr(got.Item, "windowStart")
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("repository: CheckAndAdmit decode windowStart: %w", err)
		}
		count, err := intAttr(got.Item, "msgCount")
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("repository: CheckAndAdmit decode count: %w", err)
		}

		if windowStart > cutoff {
			// window still open and full: denial does not increment
			return ratelimit.Decision{Allowed: false, Count: count, Limit: c.limit}, nil
		}

		// expired window: reset, guarded against concurrent resets
		_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(c.tableName),
			Key:                 key,
			UpdateExpression:    aws.String("SET #c = :one, windowStart = :now, #t = :ttl"),
			ConditionExpression: aws.String("windowStart = :observed"),
			ExpressionAttributeNames: map[string]string{
				"#c": "msgCount",
				"#t": "ttl",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one":      &types.AttributeValueMemberN{Value: "1"},
				":now":      &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
				":observed": &types.AttributeValueMemberN{Value: strconv.FormatInt(windowStart, 10)},
				":ttl":      &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
			},
		})
		if err == nil {
			return ratelimit.Decision{Allowed: true, Count: 1, Limit: c.limit}, nil
		}
		if !errors.As(err, &condErr) {
			return ratelimit.Decision{}, fmt.Errorf("repository: CheckAndAdmit reset window: %w", err)
		}
		// lost the reset race; re-run the increment
	}
	return ratelimit.Decision{}, errors.New("repository: CheckAndAdmit: window contention not resolved")
}

// Append persists one conversation turn.
func (c *Client) Append(ctx context.Context, subscriberID, role, content string) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.turnItem(subscriberID, role, content, c.now(), 0),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// AppendExchange writes the user turn and the assistant reply in one
// transaction so a half-exchange can never be observed.
func (c *Client) AppendExchange(ctx context.Context, subscriberID, userText, assistantText string) error {
	now := c.now()
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      c.turnItem(subscriberID, domain.RoleUser, userText, now, 0),
			}},
			{Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      c.turnItem(subscriberID, domain.RoleAssistant, assistantText, now, 1),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendExchange: %w", err)
	}
	return nil
}

// Snapshot returns the newest turns up to the memory cap, oldest first.
// Older turns beyond the cap age out through the item TTL.
func (c *Client) Snapshot(ctx context.Context, subscriberID string) ([]domain.Turn, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: subPK(subscriberID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so the limit keeps the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(c.memoryCap)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Snapshot query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Snapshot unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Record persists one analytics record. Write-once; never read back by the
// pipeline.
func (c *Client) Record(ctx context.Context, rec domain.AnalyticsRecord) error {
	if rec.ID == "" {
		return errors.New("repository: Record: record id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: "EVT#" + rec.ID},
			"SK":           &types.AttributeValueMemberS{Value: skEventMeta},
			"subscriberId": &types.AttributeValueMemberS{Value: rec.SubscriberID},
			"displayName":  &types.AttributeValueMemberS{Value: rec.DisplayName},
			"category":     &types.AttributeValueMemberS{Value: string(rec.Category)},
			"input":        &types.AttributeValueMemberS{Value: rec.Input},
			"output":       &types.AttributeValueMemberS{Value: rec.Output},
			"escalated":    &types.AttributeValueMemberBOOL{Value: rec.Escalated},
			"durationMs":   &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.DurationMs, 10)},
			"language":     &types.AttributeValueMemberS{Value: string(rec.Language)},
			"createdAt":    &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339)},
			"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Record: %w", err)
	}
	return nil
}

func (c *Client) turnItem(subscriberID, role, content string, ts time.Time, seq int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: subPK(subscriberID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(ts, seq)},
		"role":      &types.AttributeValueMemberS{Value: role},
		"content":   &types.AttributeValueMemberS{Value: content},
		"createdAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(ts.UTC().UnixMilli(), 10)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	createdAt, err := int64Attr(item, "createdAt")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.UnixMilli(createdAt).UTC(),
	}, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	n, err := int64Attr(item, key)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
