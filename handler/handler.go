package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"capt-agent/internal/api"
	"capt-agent/internal/domain"
	"capt-agent/internal/sse"
)

// Handler serves the function URL. Chat responses stream as server-sent
// events; the other routes return a single JSON document.
type Handler struct {
	uc  api.UseCase
	log *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(uc api.UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	correlationID := api.CorrelationID(req.Headers)
	log := h.log.With("correlation_id", correlationID, "path", req.RawPath)

	if !strings.EqualFold(req.RequestContext.HTTP.Method, http.MethodPost) {
		return jsonResponse(correlationID, http.StatusMethodNotAllowed, api.ErrorResponse{Error: "METHOD_NOT_ALLOWED", Message: "use POST"}), nil
	}
	body, err := requestBody(req)
	if err != nil {
		return jsonResponse(correlationID, http.StatusBadRequest, api.InvalidBody()), nil
	}

	switch req.RawPath {
	case api.PathChat:
		return h.chat(ctx, log, correlationID, body), nil
	case api.PathInsights:
		return h.insights(ctx, log, correlationID, body), nil
	case api.PathStep:
		return h.step(ctx, log, correlationID, body), nil
	default:
		return jsonResponse(correlationID, http.StatusNotFound, api.ErrorResponse{Error: "NOT_FOUND", Message: req.RawPath}), nil
	}
}

// chat returns as soon as the first transcript snapshot exists and keeps
// writing events into the response body until the turn ends.
func (h *Handler) chat(ctx context.Context, log *slog.Logger, correlationID string, body []byte) *events.LambdaFunctionURLStreamingResponse {
	var in api.ChatRequest
	if err := api.Decode(bytes.NewReader(body), &in); err != nil {
		return jsonResponse(correlationID, http.StatusBadRequest, api.InvalidBody())
	}

	pr, pw := io.Pipe()
	ready := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		err := api.StreamChat(ctx, h.uc, in, pw, func() { close(ready) })
		if err != nil {
			failed <- err
		}
		_ = pw.Close()
	}()

	select {
	case <-ready:
		headers := map[string]string{api.HeaderCorrelationID: correlationID}
		for k, v := range sse.Headers {
			headers[k] = v
		}
		return &events.LambdaFunctionURLStreamingResponse{
			StatusCode: http.StatusOK,
			Headers:    headers,
			Body:       pr,
		}
	case err := <-failed:
		_ = pr.Close()
		log.Warn("chat rejected", "err", err)
		return jsonResponse(correlationID, api.StatusFor(err), api.NewErrorResponse(api.PathChat, err))
	}
}

func (h *Handler) insights(ctx context.Context, log *slog.Logger, correlationID string, body []byte) *events.LambdaFunctionURLStreamingResponse {
	var in api.InsightsRequest
	if err := api.Decode(bytes.NewReader(body), &in); err != nil {
		return jsonResponse(correlationID, http.StatusBadRequest, api.InvalidBody())
	}
	res, err := h.uc.RequestInsights(ctx, domain.InsightKind(strings.ToLower(string(in.Kind))), in.Query)
	if err != nil {
		log.Warn("insight request failed", "err", err)
		return jsonResponse(correlationID, api.StatusFor(err), api.NewErrorResponse(api.PathInsights, err))
	}
	return jsonResponse(correlationID, http.StatusOK, api.NewInsightsResponse(res))
}

func (h *Handler) step(ctx context.Context, log *slog.Logger, correlationID string, body []byte) *events.LambdaFunctionURLStreamingResponse {
	var in api.StepRequest
	if err := api.Decode(bytes.NewReader(body), &in); err != nil {
		return jsonResponse(correlationID, http.StatusBadRequest, api.InvalidBody())
	}
	reply, err := h.uc.Step(ctx, in.History)
	if err != nil {
		log.Warn("onboarding step failed", "err", err)
		return jsonResponse(correlationID, api.StatusFor(err), api.NewErrorResponse(api.PathStep, err))
	}
	return jsonResponse(correlationID, http.StatusOK, api.StepResponse{Reply: reply})
}

func requestBody(req events.LambdaFunctionURLRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func jsonResponse(correlationID string, status int, v any) *events.LambdaFunctionURLStreamingResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"encode response"}`)
	}
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":          "application/json",
			api.HeaderCorrelationID: correlationID,
		},
		Body: bytes.NewReader(body),
	}
}
