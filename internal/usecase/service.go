package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"capt-agent/internal/domain"
)

const (
	defaultMaxContext    = 20
	defaultMaxMessage    = 2000
	defaultMaxQuery      = 200
	maxConversationTurns = 10
	statusComplete       = "complete"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	StartSession(ctx context.Context, cfg domain.SessionConfig) (domain.ChatSession, error)
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
	GenerateStructured(ctx context.Context, req domain.StructuredRequest) (string, error)
}

type StateReadWriter interface {
	GetConversationTurnCount(ctx context.Context, conversationID string) (int, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, turn domain.Turn, turns int) error
	SaveLeadRecord(ctx context.Context, rec domain.LeadRecord) error
}

// InsightNotifier is told about every stored lead record.
type InsightNotifier interface {
	NotifyInsights(ctx context.Context, rec domain.LeadRecord) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Options tunes an AgentService. Zero values fall back to defaults.
type Options struct {
	MaxContextItems int
	MaxMessageLen   int
	MaxQueryLen     int
	Notifier        InsightNotifier
	Logger          *slog.Logger
}

// AgentService implements the chat, insight and onboarding operations behind
// every transport. It is safe for concurrent use.
type AgentService struct {
	params          ParamGetter
	llm             LLMClient
	state           StateReadWriter
	notifier        InsightNotifier
	log             *slog.Logger
	paramPrefix     string
	maxContextItems int
	maxMessageLen   int
	maxQueryLen     int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
	knowledge   string

	inflightMu  sync.Mutex
	inflightGen uint64
	inflight    map[string]*inflightStream
}

func NewAgentService(p ParamGetter, llm LLMClient, s StateReadWriter, paramPrefix string, opts Options) (*AgentService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if opts.MaxContextItems <= 0 {
		opts.MaxContextItems = defaultMaxContext
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = defaultMaxMessage
	}
	if opts.MaxQueryLen <= 0 {
		opts.MaxQueryLen = defaultMaxQuery
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AgentService{
		params:          p,
		llm:             llm,
		state:           s,
		notifier:        opts.Notifier,
		log:             opts.Logger,
		paramPrefix:     paramPrefix,
		maxContextItems: opts.MaxContextItems,
		maxMessageLen:   opts.MaxMessageLen,
		maxQueryLen:     opts.MaxQueryLen,
		inflight:        make(map[string]*inflightStream),
	}, nil
}

func (s *AgentService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, knowledge, err := s.loadParams(ctx)
	if err != nil {
		return err
	}

	s.model = model
	s.knowledge = knowledge
	s.cacheLoaded = true
	return nil
}

func (s *AgentService) loadParams(ctx context.Context) (model, knowledge string, err error) {
	model, err = s.params.GetParameter(ctx, s.paramPrefix+"/config/gemini_model")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load gemini model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", "", errors.New("usecase: gemini model parameter is empty")
	}
	knowledge, err = s.params.GetParameter(ctx, s.paramPrefix+"/portfolio_knowledge")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load portfolio knowledge: %w", err)
	}
	return model, knowledge, nil
}

// config returns the cached model and system instruction.
func (s *AgentService) config() (model, system string) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.model, buildSystemInstruction(s.knowledge)
}

// upstreamError classifies an LLM failure. 429 becomes RATE_LIMITED.
func upstreamError(err error, reason string) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, "gemini_rate_limited", err)
	}
	return newError(ErrorUpstream, reason, err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var now = time.Now

var newUUID = func() string {
	return uuid.NewString()
}
