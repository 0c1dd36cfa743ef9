package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"capt-agent/internal/domain"
	"capt-agent/internal/transcript"
)

const (
	maxImages        = 4
	defaultImageMIME = "image/png"
)

// errSuperseded is the cancellation cause of a stream replaced by a newer
// submission for the same conversation.
var errSuperseded = errors.New("usecase: superseded by a newer message")

// ImageInput is an attachment as it arrives from a client: standard base64,
// optionally wrapped in a data URL.
type ImageInput struct {
	Data     string
	MIMEType string
}

type ChatInput struct {
	ConversationID string
	Message        string
	Images         []ImageInput
}

// ChatOutput describes the finished turn. Transcript is the final state
// including the failure entry when Failed is set.
type ChatOutput struct {
	ConversationID string
	Reply          string
	Searching      bool
	Grounding      []domain.GroundingSource
	Transcript     []domain.Entry
	Failed         bool
}

type inflightStream struct {
	gen    uint64
	cancel context.CancelCauseFunc
}

// Chat streams one message through the conversation's session. observer, when
// set, receives a full transcript snapshot after every change. A failed or
// cancelled stream returns both the partial output and an error.
func (s *AgentService) Chat(ctx context.Context, in ChatInput, observer transcript.Observer) (ChatOutput, error) {
	shown := strings.TrimSpace(in.Message)
	message := shown
	if len(in.Images) > maxImages {
		return ChatOutput{}, newError(ErrorInvalidInput, "too_many_images", nil)
	}
	images, err := decodeImages(in.Images)
	if err != nil {
		return ChatOutput{}, newError(ErrorInvalidInput, "invalid_image", err)
	}
	if message == "" {
		if len(images) == 0 {
			return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
		}
		message = visualDataPrompt
	}
	if len(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	convID := strings.TrimSpace(in.ConversationID)
	existingTurns := 0
	if convID == "" {
		convID = newUUID()
	} else {
		turnCount, err := s.state.GetConversationTurnCount(ctx, convID)
		if err != nil {
			return ChatOutput{}, newError(ErrorInternal, "state_turn_count_error", err)
		}
		existingTurns = turnCount
		if existingTurns >= maxConversationTurns {
			return ChatOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
		}
	}

	stored, err := s.state.GetHistory(ctx, convID, s.maxContextItems)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "state_history_error", err)
	}
	turns := completedTurns(stored)

	model, system := s.config()
	session, err := s.llm.StartSession(ctx, domain.SessionConfig{
		Model:             model,
		SystemInstruction: system,
		History:           turnsToChatMessages(turns),
	})
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "session_error", err)
	}

	log := s.log.With("conversation_id", convID)
	streamCtx, release := s.track(ctx, convID)
	defer release()

	t := transcript.FromTurns(turns)
	t.Subscribe(observer)
	t.Append(domain.Entry{Role: domain.RoleUser, Content: shown, Images: len(images)})

	res := transcript.Consume(streamCtx, t, session.Stream(streamCtx, message, images))
	out := ChatOutput{
		ConversationID: convID,
		Reply:          res.Content,
		Searching:      res.Searching,
		Grounding:      res.Grounding,
		Transcript:     t.Entries(),
	}

	if res.Canceled {
		reason := "stream_canceled"
		if errors.Is(context.Cause(streamCtx), errSuperseded) {
			reason = "stream_superseded"
		}
		log.Info("chat stream cancelled", "reason", reason, "chunks", res.Chunks)
		return out, newError(ErrorCanceled, reason, res.Err)
	}
	if res.Err != nil {
		out.Failed = true
		log.Warn("chat stream failed", "err", res.Err, "chunks", res.Chunks)
		return out, upstreamError(res.Err, "gemini_stream_error")
	}

	// Image turns are answered outside the session and never replayed.
	if len(images) > 0 || strings.TrimSpace(res.Content) == "" {
		return out, nil
	}
	turn := domain.Turn{
		ConversationID: convID,
		Question:       message,
		Answer:         res.Content,
		Searching:      res.Searching,
		Grounding:      res.Grounding,
	}
	if err := s.state.SaveCompletedTurn(ctx, turn, existingTurns+1); err != nil {
		return out, newError(ErrorInternal, "state_write_error", err)
	}
	log.Debug("chat turn saved", "turns", existingTurns+1, "searching", res.Searching)
	return out, nil
}

// track registers a stream for convID, cancelling any stream already running
// for it. The returned func must be called when the stream ends.
func (s *AgentService) track(ctx context.Context, convID string) (context.Context, func()) {
	streamCtx, cancel := context.WithCancelCause(ctx)

	s.inflightMu.Lock()
	s.inflightGen++
	gen := s.inflightGen
	if prev, ok := s.inflight[convID]; ok {
		prev.cancel(errSuperseded)
	}
	s.inflight[convID] = &inflightStream{gen: gen, cancel: cancel}
	s.inflightMu.Unlock()

	return streamCtx, func() {
		s.inflightMu.Lock()
		if cur, ok := s.inflight[convID]; ok && cur.gen == gen {
			delete(s.inflight, convID)
		}
		s.inflightMu.Unlock()
		cancel(nil)
	}
}

func decodeImages(in []ImageInput) ([]domain.ImagePart, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.ImagePart, 0, len(in))
	for _, img := range in {
		part, err := decodeImage(img)
		if err != nil {
			return nil, err
		}
		out = append(out, part)
	}
	return out, nil
}

// decodeImage accepts "data:<mime>;base64,<payload>" or a bare payload. The
// MIME type comes from the data URL, then the explicit field, then PNG.
func decodeImage(img ImageInput) (domain.ImagePart, error) {
	payload := strings.TrimSpace(img.Data)
	mime := strings.TrimSpace(img.MIMEType)
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return domain.ImagePart{}, errors.New("usecase: malformed data URL")
		}
		if t, _, _ := strings.Cut(header, ";"); t != "" {
			mime = t
		}
		payload = data
	}
	if payload == "" {
		return domain.ImagePart{}, errors.New("usecase: empty image payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return domain.ImagePart{}, err
	}
	if mime == "" {
		mime = defaultImageMIME
	}
	return domain.ImagePart{Data: data, MIMEType: mime}, nil
}
