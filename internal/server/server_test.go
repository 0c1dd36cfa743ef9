package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"capt-agent/internal/api"
	"capt-agent/internal/domain"
	"capt-agent/internal/transcript"
	"capt-agent/internal/usecase"
)

type stubUseCase struct {
	snapshots  [][]domain.Entry
	chatOut    usecase.ChatOutput
	insightRes usecase.InsightResult
	stepReply  string
	err        error
}

func (s *stubUseCase) Chat(_ context.Context, _ usecase.ChatInput, observer transcript.Observer) (usecase.ChatOutput, error) {
	for _, snap := range s.snapshots {
		observer(snap)
	}
	return s.chatOut, s.err
}

func (s *stubUseCase) RequestInsights(_ context.Context, _ domain.InsightKind, _ string) (usecase.InsightResult, error) {
	return s.insightRes, s.err
}

func (s *stubUseCase) Step(_ context.Context, _ []domain.ChatMessage) (string, error) {
	return s.stepReply, s.err
}

func serve(t *testing.T, uc api.UseCase, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(0, uc, nil)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := serve(t, &stubUseCase{}, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, w.Header().Get(api.HeaderCorrelationID))
}

func TestNotFoundEndpoint(t *testing.T) {
	w := serve(t, &stubUseCase{}, http.MethodGet, "/nonexistent", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatEndpoint_StreamsEvents(t *testing.T) {
	uc := &stubUseCase{
		snapshots: [][]domain.Entry{{{Role: domain.RoleUser, Content: "hi"}}},
		chatOut:   usecase.ChatOutput{ConversationID: "conv-1", Reply: "Hello"},
	}
	w := serve(t, uc, http.MethodPost, api.PathChat, `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.True(t, w.Flushed)
	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "event: transcript\n"))
	require.Contains(t, body, "event: done\n")
}

func TestChatEndpoint_Errors(t *testing.T) {
	w := serve(t, &stubUseCase{}, http.MethodPost, api.PathChat, `{`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	uc := &stubUseCase{err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "gemini_rate_limited"}}
	w = serve(t, uc, http.MethodPost, api.PathChat, `{"message":"hi"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var out api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Equal(t, api.ChatFailureMessage, out.Message)
}

func TestEndpoints_RejectUnknownFields(t *testing.T) {
	uc := &stubUseCase{stepReply: "ok", chatOut: usecase.ChatOutput{Reply: "ok"}}
	bodies := map[string]string{
		api.PathChat:     `{"message":"hi","extra":true}`,
		api.PathInsights: `{"kind":"lead","query":"acme.com","extra":true}`,
		api.PathStep:     `{"history":[{"role":"user","content":"hi"}],"extra":true}`,
	}
	for path, body := range bodies {
		w := serve(t, uc, http.MethodPost, path, body)
		require.Equal(t, http.StatusBadRequest, w.Code, path)

		var out api.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		require.Equal(t, "invalid_body", out.Message, path)
	}
}

func TestInsightsEndpoint(t *testing.T) {
	uc := &stubUseCase{insightRes: usecase.InsightResult{Kind: domain.InsightLead, Query: "acme.com", Insights: []domain.Insight{{Topic: "t"}}}}
	w := serve(t, uc, http.MethodPost, api.PathInsights, `{"kind":"lead","query":"acme.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var out api.InsightsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Len(t, out.Insights, 1)

	w = serve(t, &stubUseCase{err: &usecase.Error{Code: usecase.ErrorUpstream}}, http.MethodPost, api.PathInsights, `{"kind":"lead","query":"acme.com"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStepEndpoint(t *testing.T) {
	w := serve(t, &stubUseCase{stepReply: "Budget?"}, http.MethodPost, api.PathStep, `{"history":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var out api.StepResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	require.Equal(t, "Budget?", out.Reply)

	w = serve(t, &stubUseCase{err: errors.New("boom")}, http.MethodPost, api.PathStep, `{"history":[]}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var errOut api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errOut))
	require.Equal(t, api.StepFailureMessage, errOut.Message)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	srv := NewServer(0, &stubUseCase{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
