// Package leadbus publishes stored lead records to NATS for downstream
// follow-up automation.
package leadbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"capt-agent/internal/domain"
)

// SubjectInsights carries one message per stored insight request.
const SubjectInsights = "capt.leads.insights"

// InsightEvent is the published payload.
type InsightEvent struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Query     string           `json:"query"`
	Insights  []domain.Insight `json:"insights"`
	Degraded  bool             `json:"degraded"`
	CreatedAt time.Time        `json:"created_at"`
}

// publisher is the subset of *nats.Conn used by Client.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Client struct {
	conn    publisher
	subject string
	logger  *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.New("leadbus: url must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("capt-agent"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("leadbus: nats connect: %w", err)
	}
	return newClient(nc, logger), nil
}

func newClient(conn publisher, logger *slog.Logger) *Client {
	return &Client{conn: conn, subject: SubjectInsights, logger: logger}
}

// NotifyInsights publishes rec on SubjectInsights. Publishing is fire and
// forget; ctx is only checked before sending.
func (c *Client) NotifyInsights(ctx context.Context, rec domain.LeadRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	insights := rec.Insights
	if insights == nil {
		insights = []domain.Insight{}
	}
	payload, err := json.Marshal(InsightEvent{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		Query:     rec.Query,
		Insights:  insights,
		Degraded:  rec.Degraded,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("leadbus: marshal payload: %w", err)
	}
	if err := c.conn.Publish(c.subject, payload); err != nil {
		return fmt.Errorf("leadbus: publish %s: %w", c.subject, err)
	}
	c.logger.Debug("lead published", "subject", c.subject, "id", rec.ID)
	return nil
}

// Close flushes pending messages and closes the connection.
func (c *Client) Close() error {
	return c.conn.Drain()
}
