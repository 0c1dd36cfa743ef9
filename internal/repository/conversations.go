package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"capt-agent/internal/domain"
)

// Single-table layout:
//
//	CONV#<id>  META#               turn counter, last activity
//	CONV#<id>  MSG#<created>       one completed turn
//	LEAD#<id>  LEAD#               one insight request
const (
	pkPrefixConv = "CONV#"
	skPrefixMsg  = "MSG#"
	skMeta       = "META#"
	skLead       = "LEAD#"
	statusDone   = "complete"
	ttlDuration  = 30 * 24 * time.Hour
	leadDuration = 90 * 24 * time.Hour
)

var now = time.Now

// dynamodbAPI is the subset of the DynamoDB client the store calls.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter defines the state operations consumed by the agent service.
type ReadWriter interface {
	GetConversationTurnCount(ctx context.Context, conversationID string) (int, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, turn domain.Turn, turns int) error
	SaveLeadRecord(ctx context.Context, rec domain.LeadRecord) error
}

var (
	_ ReadWriter = (*Client)(nil)
	_ ReadWriter = (*Memory)(nil)
)

// Client stores conversations and lead records in one DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func convPK(conversationID string) string { return pkPrefixConv + conversationID }

func msgSK(ts time.Time) string { return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) }

func leadPK(id string) string { return skLead + id }

func (c *Client) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// GetConversationTurnCount reads the counter from the META# item. A
// conversation that was never saved has zero turns.
func (c *Client) GetConversationTurnCount(ctx context.Context, conversationID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(convPK(conversationID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: GetConversationTurnCount: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	turns, err := numAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: GetConversationTurnCount: decode turns: %w", err)
	}
	return int(turns), nil
}

// GetHistory returns up to limit of the newest turns, oldest first.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory: %w", err)
	}
	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := decodeTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory: %w", err)
		}
		turns = append(turns, turn)
	}
	slices.Reverse(turns)
	return turns, nil
}

// SaveCompletedTurn writes the turn and the conversation counter in one
// transaction. The turn item must not exist yet.
func (c *Client) SaveCompletedTurn(ctx context.Context, turn domain.Turn, turns int) error {
	if turn.ConversationID == "" {
		return errors.New("repository: SaveCompletedTurn: conversation id is required")
	}
	created := turn.CreatedAt
	if created.IsZero() {
		created = now().UTC()
	}
	expires := created.Add(ttlDuration).Unix()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                turnItem(turn, created, expires),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      c.metaItem(turn.ConversationID, turns, created, expires),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

func turnItem(turn domain.Turn, created time.Time, expires int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(turn.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(created)},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"question":       &types.AttributeValueMemberS{Value: turn.Question},
		"answer":         &types.AttributeValueMemberS{Value: turn.Answer},
		"status":         &types.AttributeValueMemberS{Value: statusDone},
		"searching":      &types.AttributeValueMemberBOOL{Value: turn.Searching},
		"grounding":      groundingAttr(turn.Grounding),
		"createdAt":      &types.AttributeValueMemberS{Value: created.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
	}
}

func (c *Client) metaItem(conversationID string, turns int, at time.Time, expires int64) map[string]types.AttributeValue {
	item := c.key(convPK(conversationID), skMeta)
	item["conversationId"] = &types.AttributeValueMemberS{Value: conversationID}
	item["lastActivity"] = &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)}
	item["turns"] = &types.AttributeValueMemberN{Value: strconv.Itoa(turns)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	return item
}

// decodeTurn requires the key and the question. Everything else may be
// missing on older items.
func decodeTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Turn{}, err
	}
	turn := domain.Turn{
		ConversationID: strings.TrimPrefix(pk, pkPrefixConv),
		Question:       question,
		Answer:         optStrAttr(item, "answer"),
		Status:         optStrAttr(item, "status"),
	}
	if b, ok := item["searching"].(*types.AttributeValueMemberBOOL); ok {
		turn.Searching = b.Value
	}
	if turn.Grounding, err = decodeGrounding(item["grounding"]); err != nil {
		return domain.Turn{}, err
	}
	if ts := optStrAttr(item, "createdAt"); ts != "" {
		if turn.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return domain.Turn{}, fmt.Errorf("repository: attribute %q: %w", "createdAt", err)
		}
	}
	return turn, nil
}

// groundingAttr stores sources as a list of {uri, title} maps. Empty titles
// are omitted.
func groundingAttr(sources []domain.GroundingSource) types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(sources))
	for _, s := range sources {
		m := map[string]types.AttributeValue{"uri": &types.AttributeValueMemberS{Value: s.URI}}
		if s.Title != "" {
			m["title"] = &types.AttributeValueMemberS{Value: s.Title}
		}
		list = append(list, &types.AttributeValueMemberM{Value: m})
	}
	return &types.AttributeValueMemberL{Value: list}
}

func decodeGrounding(av types.AttributeValue) ([]domain.GroundingSource, error) {
	if av == nil {
		return nil, nil
	}
	list, ok := av.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New(`repository: attribute "grounding" is not a list`)
	}
	if len(list.Value) == 0 {
		return nil, nil
	}
	out := make([]domain.GroundingSource, 0, len(list.Value))
	for _, v := range list.Value {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, errors.New(`repository: attribute "grounding" holds a non-map entry`)
		}
		uri, err := strAttr(m.Value, "uri")
		if err != nil {
			return nil, err
		}
		out = append(out, domain.GroundingSource{URI: uri, Title: optStrAttr(m.Value, "title")})
	}
	return out, nil
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

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	if s, ok := item[key].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numAttr(item map[string]types.AttributeValue, key string) (int64, error) {
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
