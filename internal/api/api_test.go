package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"capt-agent/internal/domain"
	"capt-agent/internal/sse"
	"capt-agent/internal/transcript"
	"capt-agent/internal/usecase"
)

// fakeUseCase replays snapshots through the observer before returning.
type fakeUseCase struct {
	snapshots [][]domain.Entry
	chatOut   usecase.ChatOutput
	chatErr   error
	chatIn    usecase.ChatInput
}

func (f *fakeUseCase) Chat(_ context.Context, in usecase.ChatInput, observer transcript.Observer) (usecase.ChatOutput, error) {
	f.chatIn = in
	for _, s := range f.snapshots {
		observer(s)
	}
	return f.chatOut, f.chatErr
}

func (f *fakeUseCase) RequestInsights(context.Context, domain.InsightKind, string) (usecase.InsightResult, error) {
	return usecase.InsightResult{}, errors.New("not used")
}

func (f *fakeUseCase) Step(context.Context, []domain.ChatMessage) (string, error) {
	return "", errors.New("not used")
}

type event struct {
	name string
	data string
}

func parseEvents(t *testing.T, raw string) []event {
	t.Helper()
	var out []event
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, block)
		out = append(out, event{
			name: strings.TrimPrefix(lines[0], "event: "),
			data: strings.TrimPrefix(lines[1], "data: "),
		})
	}
	return out
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		code   usecase.ErrorCode
		status int
	}{
		{usecase.ErrorInvalidInput, http.StatusBadRequest},
		{usecase.ErrorRateLimited, http.StatusTooManyRequests},
		{usecase.ErrorUpstream, http.StatusBadGateway},
		{usecase.ErrorCanceled, http.StatusConflict},
		{usecase.ErrorInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, StatusFor(&usecase.Error{Code: tc.code}), tc.code)
	}
	require.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(PathChat, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"})
	require.Equal(t, ErrorResponse{Error: "INVALID_INPUT", Message: "empty_message"}, resp)

	resp = NewErrorResponse(PathInsights, &usecase.Error{Code: usecase.ErrorUpstream, Reason: "gemini_error"})
	require.Equal(t, InsightFailureMessage, resp.Message)

	resp = NewErrorResponse(PathStep, errors.New("boom"))
	require.Equal(t, ErrorResponse{Error: "INTERNAL_ERROR", Message: StepFailureMessage}, resp)

	resp = NewErrorResponse(PathChat, &usecase.Error{Code: usecase.ErrorRateLimited})
	require.Equal(t, "CORE_FAILURE: Shard unreachable.", resp.Message)
}

func TestCorrelationID(t *testing.T) {
	require.Equal(t, "corr-1", CorrelationID(map[string]string{"x-correlation-id": " corr-1 "}))
	require.NotEmpty(t, CorrelationID(nil))
	require.NotEqual(t, CorrelationID(nil), CorrelationID(nil))
}

func TestNewInsightsResponse_DegradedAndNeverNull(t *testing.T) {
	resp := NewInsightsResponse(usecase.InsightResult{Kind: domain.InsightLead, Query: "acme.com", ParseErr: errors.New("bad json")})
	require.True(t, resp.Degraded)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"insights":[]`)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	var step StepRequest
	require.NoError(t, Decode(strings.NewReader(`{"history":[{"role":"user","content":"hi"}]}`), &step))
	require.Len(t, step.History, 1)

	var in InsightsRequest
	require.Error(t, Decode(strings.NewReader(`{"kind":"lead","query":"acme.com","extra":true}`), &in))
	require.Error(t, Decode(strings.NewReader(`{`), &in))
}

func TestChatRequest_Input(t *testing.T) {
	in := ChatRequest{ConversationID: "c", Message: "m", Images: []ImageRequest{{Data: "AAA", MIMEType: "image/jpeg"}}}.Input()
	require.Equal(t, usecase.ChatInput{ConversationID: "c", Message: "m", Images: []usecase.ImageInput{{Data: "AAA", MIMEType: "image/jpeg"}}}, in)
}

func TestStreamChat_Success(t *testing.T) {
	uc := &fakeUseCase{
		snapshots: [][]domain.Entry{
			{{Role: domain.RoleUser, Content: "hi"}},
			{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleAgent, Content: "Hel", Streaming: true}},
		},
		chatOut: usecase.ChatOutput{ConversationID: "conv-1", Reply: "Hello"},
	}
	var buf bytes.Buffer
	readyCalls := 0

	err := StreamChat(context.Background(), uc, ChatRequest{Message: "hi"}, &buf, func() {
		require.Zero(t, buf.Len())
		readyCalls++
	})
	require.NoError(t, err)
	require.Equal(t, 1, readyCalls)
	require.Equal(t, "hi", uc.chatIn.Message)

	events := parseEvents(t, buf.String())
	require.Len(t, events, 3)
	require.Equal(t, sse.EventTranscript, events[0].name)
	require.Equal(t, sse.EventTranscript, events[1].name)
	require.Contains(t, events[1].data, `"streaming":true`)
	require.Equal(t, sse.EventDone, events[2].name)

	var done ChatDone
	require.NoError(t, json.Unmarshal([]byte(events[2].data), &done))
	require.Equal(t, "conv-1", done.ConversationID)
	require.Equal(t, "Hello", done.Reply)
}

func TestStreamChat_ErrorBeforeStreamIsReturned(t *testing.T) {
	uc := &fakeUseCase{chatErr: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}}
	var buf bytes.Buffer

	err := StreamChat(context.Background(), uc, ChatRequest{}, &buf, func() { t.Fatal("ready must not be called") })
	require.Equal(t, usecase.ErrorInvalidInput, usecase.CodeOf(err))
	require.Zero(t, buf.Len())
}

func TestStreamChat_ErrorAfterStreamIsAnEvent(t *testing.T) {
	uc := &fakeUseCase{
		snapshots: [][]domain.Entry{{{Role: domain.RoleAgent, Content: transcript.FailureMessage}}},
		chatOut:   usecase.ChatOutput{Failed: true},
		chatErr:   &usecase.Error{Code: usecase.ErrorUpstream, Reason: "gemini_stream_error"},
	}
	var buf bytes.Buffer

	require.NoError(t, StreamChat(context.Background(), uc, ChatRequest{Message: "hi"}, &buf, nil))
	events := parseEvents(t, buf.String())
	require.Len(t, events, 2)
	require.Equal(t, sse.EventError, events[1].name)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &resp))
	require.Equal(t, ErrorResponse{Error: "UPSTREAM_ERROR", Message: ChatFailureMessage}, resp)
}
