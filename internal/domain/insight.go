package domain

import "time"

type InsightKind string

const (
	InsightLead       InsightKind = "lead"
	InsightCompetitor InsightKind = "competitor"
)

// Insight is one topic/value/strategy triple produced by the model.
type Insight struct {
	Topic    string `json:"topic"`
	Value    string `json:"value"`
	Strategy string `json:"strategy"`
}

// LeadRecord is a persisted insight request and its outcome.
type LeadRecord struct {
	ID        string      `json:"id"`
	Kind      InsightKind `json:"kind"`
	Query     string      `json:"query"`
	Insights  []Insight   `json:"insights"`
	Degraded  bool        `json:"degraded"`
	CreatedAt time.Time   `json:"createdAt"`
	TTL       int64       `json:"-"`
}
