package domain

import (
	"context"
	"iter"
)

// Role identifies the author of a chat message as the site renders it.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ChatMessage is the provider-agnostic chat message shape used by the handlers
// and LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ImagePart is a decoded image attachment.
type ImagePart struct {
	Data     []byte
	MIMEType string
}

// GroundingSource is a web citation attached to a generated response.
type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// Chunk is one incremental piece of a streamed response.
type Chunk struct {
	Text          string
	Grounding     []GroundingSource
	SearchQueries []string
}

// Stream is a lazy, finite, single-use sequence of response chunks.
type Stream = iter.Seq2[Chunk, error]

// ChatSession is an opaque handle to a remote conversation that keeps prior
// turns server-side. Attaching images bypasses the conversation entirely.
type ChatSession interface {
	Stream(ctx context.Context, message string, images []ImagePart) Stream
}

// SessionConfig describes a conversation to open.
type SessionConfig struct {
	Model             string
	SystemInstruction string
	History           []ChatMessage
}

// CompletionRequest is a stateless one-shot completion over a full history.
type CompletionRequest struct {
	Model             string
	SystemInstruction string
	Temperature       float32
	History           []ChatMessage
}

// StructuredRequest asks for a JSON array of insights.
type StructuredRequest struct {
	Model  string
	Prompt string
	Search bool
}
