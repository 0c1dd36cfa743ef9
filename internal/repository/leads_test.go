package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"capt-agent/internal/domain"
)

func TestSaveLeadRecord_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.LeadRecord{
		ID:        "lead-1",
		Kind:      domain.InsightCompetitor,
		Query:     "Acme",
		Insights:  []domain.Insight{{Topic: "Globex", Value: "Cheaper", Strategy: "Automate onboarding"}},
		CreatedAt: created,
	}

	require.NoError(t, c.SaveLeadRecord(context.Background(), rec))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)

	item := db.lastPutInput.Item
	require.Equal(t, "LEAD#lead-1", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "competitor", item["kind"].(*types.AttributeValueMemberS).Value)
	require.False(t, item["degraded"].(*types.AttributeValueMemberBOOL).Value)
	require.Equal(t, "2026-03-01T12:00:00Z", item["createdAt"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, strconv.FormatInt(created.Add(leadDuration).Unix(), 10), item["ttl"].(*types.AttributeValueMemberN).Value)

	var stored []domain.Insight
	require.NoError(t, json.Unmarshal([]byte(item["insights"].(*types.AttributeValueMemberS).Value), &stored))
	require.Equal(t, rec.Insights, stored)
}

func TestSaveLeadRecord_NilInsightsStoredAsEmptyArray(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.SaveLeadRecord(context.Background(), domain.LeadRecord{ID: "lead-2", Kind: domain.InsightLead, Query: "acme.com", Degraded: true}))
	require.Equal(t, "[]", db.lastPutInput.Item["insights"].(*types.AttributeValueMemberS).Value)
	require.True(t, db.lastPutInput.Item["degraded"].(*types.AttributeValueMemberBOOL).Value)
}

func TestSaveLeadRecord_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveLeadRecord(context.Background(), domain.LeadRecord{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "id is required")

	c = mustNewClient(t, &fakeDynamo{putErr: errors.New("ConditionalCheckFailedException")})
	err = c.SaveLeadRecord(context.Background(), domain.LeadRecord{ID: "lead-3", Kind: domain.InsightLead, Query: "acme.com"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveLeadRecord")
}

func TestLeadTTL(t *testing.T) {
	created, ttl := leadTTL(domain.LeadRecord{})
	require.False(t, created.IsZero())
	require.Equal(t, created.Add(leadDuration).Unix(), ttl)

	_, ttl = leadTTL(domain.LeadRecord{CreatedAt: time.Unix(100, 0), TTL: 42})
	require.Equal(t, int64(42), ttl)
}
