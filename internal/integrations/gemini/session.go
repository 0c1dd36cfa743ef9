package gemini

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"capt-agent/internal/domain"
)

// ErrStreamConsumed is yielded when a stream is ranged over a second time.
var ErrStreamConsumed = errors.New("gemini: stream already consumed")

// Session is a chat with the portfolio assistant configuration: low
// temperature, no thinking budget and Google Search enabled.
type Session struct {
	client  *Client
	model   string
	system  string
	history []domain.ChatMessage

	mu   sync.Mutex
	chat *genai.Chat
}

// Stream sends message and yields the response as it arrives. With images
// attached the message goes out as a standalone multipart request and the
// conversation history is neither sent nor extended.
func (s *Session) Stream(ctx context.Context, message string, images []domain.ImagePart) domain.Stream {
	var used atomic.Bool
	return func(yield func(domain.Chunk, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(domain.Chunk{}, ErrStreamConsumed)
			return
		}

		sdk, err := s.client.sdk(ctx)
		if err != nil {
			yield(domain.Chunk{}, err)
			return
		}

		var responses iter.Seq2[*genai.GenerateContentResponse, error]
		if len(images) > 0 {
			responses = sdk.Models.GenerateContentStream(ctx, s.model, imageContents(message, images), &genai.GenerateContentConfig{
				SystemInstruction: systemInstruction(s.system),
				Tools:             searchTools(),
			})
		} else {
			chat, err := s.ensureChat(ctx, sdk)
			if err != nil {
				yield(domain.Chunk{}, err)
				return
			}
			responses = chat.SendMessageStream(ctx, genai.Part{Text: message})
		}

		for resp, err := range responses {
			if err != nil {
				yield(domain.Chunk{}, wrapAPIError("stream content", err))
				return
			}
			if !yield(chunkFromResponse(resp), nil) {
				return
			}
		}
	}
}

func (s *Session) ensureChat(ctx context.Context, sdk *genai.Client) (*genai.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat != nil {
		return s.chat, nil
	}
	chat, err := sdk.Chats.Create(ctx, s.model, s.chatConfig(), toContents(s.history))
	if err != nil {
		return nil, wrapAPIError("create chat", err)
	}
	s.chat = chat
	return chat, nil
}

func (s *Session) chatConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(s.system),
		Temperature:       genai.Ptr[float32](chatTemperature),
		ThinkingConfig:    &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
		Tools:             searchTools(),
	}
}

// imageContents places the images ahead of the text in a single user turn.
func imageContents(message string, images []domain.ImagePart) []*genai.Content {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(message))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func chunkFromResponse(resp *genai.GenerateContentResponse) domain.Chunk {
	if resp == nil {
		return domain.Chunk{}
	}
	chunk := domain.Chunk{Text: resp.Text()}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return chunk
	}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil {
		return chunk
	}
	for _, gc := range gm.GroundingChunks {
		if gc == nil || gc.Web == nil {
			continue
		}
		chunk.Grounding = append(chunk.Grounding, domain.GroundingSource{URI: gc.Web.URI, Title: gc.Web.Title})
	}
	if len(gm.WebSearchQueries) > 0 {
		chunk.SearchQueries = append([]string(nil), gm.WebSearchQueries...)
	}
	return chunk
}
