package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"capt-agent/internal/domain"
)

// SaveLeadRecord stores one insight request under LEAD#<id>. Insights are
// kept as a JSON document in a single string attribute.
func (c *Client) SaveLeadRecord(ctx context.Context, rec domain.LeadRecord) error {
	if rec.ID == "" {
		return errors.New("repository: SaveLeadRecord: id is required")
	}
	item, err := leadItem(rec)
	if err != nil {
		return fmt.Errorf("repository: SaveLeadRecord: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveLeadRecord: %w", err)
	}
	return nil
}

// leadTTL expires a record leadDuration after it was created. Records without
// a creation time are stamped now.
func leadTTL(rec domain.LeadRecord) (time.Time, int64) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = now().UTC()
	}
	if rec.TTL > 0 {
		return created, rec.TTL
	}
	return created, created.Add(leadDuration).Unix()
}

func leadItem(rec domain.LeadRecord) (map[string]types.AttributeValue, error) {
	insights := rec.Insights
	if insights == nil {
		insights = []domain.Insight{}
	}
	raw, err := json.Marshal(insights)
	if err != nil {
		return nil, fmt.Errorf("marshal insights: %w", err)
	}
	created, ttl := leadTTL(rec)
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: leadPK(rec.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skLead},
		"kind":      &types.AttributeValueMemberS{Value: string(rec.Kind)},
		"query":     &types.AttributeValueMemberS{Value: rec.Query},
		"insights":  &types.AttributeValueMemberS{Value: string(raw)},
		"degraded":  &types.AttributeValueMemberBOOL{Value: rec.Degraded},
		"createdAt": &types.AttributeValueMemberS{Value: created.UTC().Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}, nil
}
