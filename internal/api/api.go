// Package api holds the wire types and error mapping shared by the Lambda
// handler and the development server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"capt-agent/internal/domain"
	"capt-agent/internal/transcript"
	"capt-agent/internal/usecase"
)

const (
	PathChat     = "/chat"
	PathInsights = "/insights"
	PathStep     = "/step"

	HeaderCorrelationID = "X-Correlation-Id"
)

// User-visible failure messages, one per route.
const (
	ChatFailureMessage     = transcript.FailureMessage
	InsightFailureMessage  = "EXECUTION_FAILED: System handshake interrupted. Please retry."
	StepFailureMessage     = "NETWORK_ERROR. Please retry or contact hello@nexus.ai directly."
	defaultFailureResponse = "INTERNAL_ERROR"
)

type UseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput, observer transcript.Observer) (usecase.ChatOutput, error)
	RequestInsights(ctx context.Context, kind domain.InsightKind, query string) (usecase.InsightResult, error)
	Step(ctx context.Context, history []domain.ChatMessage) (string, error)
}

type ImageRequest struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType,omitempty"`
}

type ChatRequest struct {
	ConversationID string         `json:"conversationId,omitempty"`
	Message        string         `json:"message"`
	Images         []ImageRequest `json:"images,omitempty"`
}

func (r ChatRequest) Input() usecase.ChatInput {
	in := usecase.ChatInput{ConversationID: r.ConversationID, Message: r.Message}
	for _, img := range r.Images {
		in.Images = append(in.Images, usecase.ImageInput{Data: img.Data, MIMEType: img.MIMEType})
	}
	return in
}

// ChatDone is the payload of the final "done" event.
type ChatDone struct {
	ConversationID string                   `json:"conversationId"`
	Reply          string                   `json:"reply"`
	Searching      bool                     `json:"searching"`
	Grounding      []domain.GroundingSource `json:"grounding,omitempty"`
	Failed         bool                     `json:"failed"`
}

func NewChatDone(out usecase.ChatOutput) ChatDone {
	return ChatDone{
		ConversationID: out.ConversationID,
		Reply:          out.Reply,
		Searching:      out.Searching,
		Grounding:      out.Grounding,
		Failed:         out.Failed,
	}
}

type InsightsRequest struct {
	Kind  domain.InsightKind `json:"kind"`
	Query string             `json:"query"`
}

type InsightsResponse struct {
	ID       string             `json:"id"`
	Kind     domain.InsightKind `json:"kind"`
	Query    string             `json:"query"`
	Insights []domain.Insight   `json:"insights"`
	Degraded bool               `json:"degraded"`
}

func NewInsightsResponse(res usecase.InsightResult) InsightsResponse {
	insights := res.Insights
	if insights == nil {
		insights = []domain.Insight{}
	}
	return InsightsResponse{
		ID:       res.ID,
		Kind:     res.Kind,
		Query:    res.Query,
		Insights: insights,
		Degraded: res.Degraded(),
	}
}

type StepRequest struct {
	History []domain.ChatMessage `json:"history"`
}

type StepResponse struct {
	Reply string `json:"reply"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewErrorResponse describes err to a client of route. Invalid input names
// the rejected field; everything else gets the route's static message.
func NewErrorResponse(route string, err error) ErrorResponse {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		if ue.Code == usecase.ErrorInvalidInput {
			return ErrorResponse{Error: string(ue.Code), Message: ue.Reason}
		}
		return ErrorResponse{Error: string(ue.Code), Message: failureMessage(route)}
	}
	return ErrorResponse{Error: defaultFailureResponse, Message: failureMessage(route)}
}

// Decode reads one JSON request body into v. Unknown fields are rejected so
// every transport accepts exactly the same documents.
func Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// InvalidBody is the response for a request body that does not decode.
func InvalidBody() ErrorResponse {
	return ErrorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body"}
}

func failureMessage(route string) string {
	switch route {
	case PathInsights:
		return InsightFailureMessage
	case PathStep:
		return StepFailureMessage
	default:
		return ChatFailureMessage
	}
}

// StatusFor maps a usecase error onto an HTTP status.
func StatusFor(err error) int {
	switch usecase.CodeOf(err) {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// CorrelationID returns the caller's id from headers, matched case
// insensitively, or a new one.
func CorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, HeaderCorrelationID) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
