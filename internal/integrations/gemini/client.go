package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"capt-agent/internal/domain"
)

const (
	defaultTimeout  = 60 * time.Second
	chatTemperature = 0.4
	idleReply       = "SYSTEM_IDLE."
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx Gemini API responses.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d %s: %s", e.StatusCode, e.Status, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// Client talks to the Gemini API through the genai SDK. The SDK client is
// created on first use so a missing credential only fails the call that
// needs it.
type Client struct {
	getter      Getter
	paramPrefix string
	apiKey      string
	baseURL     string
	httpClient  *http.Client

	sdkMu     sync.Mutex
	sdkClient *genai.Client
}

type Option func(*Client)

// WithAPIKey skips the parameter store lookup.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client. ps may be nil when the key is supplied with
// WithAPIKey; otherwise the key is read from <paramPrefix>/gemini-token.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if ps != nil && paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		getter:      ps,
		paramPrefix: paramPrefix,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-token"
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.getter == nil {
		return "", errors.New("gemini: API key is not configured")
	}
	return fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
}

// sdk returns the shared genai client, creating it on first use. Only a
// successful client is kept; a failed key lookup is retried on the next call.
func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.sdkMu.Lock()
	defer c.sdkMu.Unlock()
	if c.sdkClient != nil {
		return c.sdkClient, nil
	}

	key, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	sdk, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.sdkClient = sdk
	return sdk, nil
}

// StartSession opens a conversation seeded with history. No network call is
// made until the first message is streamed.
func (c *Client) StartSession(_ context.Context, cfg domain.SessionConfig) (domain.ChatSession, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	return &Session{
		client:  c,
		model:   cfg.Model,
		system:  cfg.SystemInstruction,
		history: append([]domain.ChatMessage(nil), cfg.History...),
	}, nil
}

// Complete runs a one-shot completion over the full history.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	sdk, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}
	resp, err := sdk.Models.GenerateContent(ctx, req.Model, toContents(req.History), &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(req.SystemInstruction),
		Temperature:       genai.Ptr(req.Temperature),
	})
	if err != nil {
		return "", wrapAPIError("generate content", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return idleReply, nil
	}
	return text, nil
}

// GenerateStructured asks for a JSON array of insights and returns the raw
// response text. Parsing is left to the caller.
func (c *Client) GenerateStructured(ctx context.Context, req domain.StructuredRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	sdk, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   insightSchema(),
	}
	if req.Search {
		cfg.Tools = searchTools()
	}
	resp, err := sdk.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", wrapAPIError("generate structured content", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func insightSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"topic":    {Type: genai.TypeString},
				"value":    {Type: genai.TypeString},
				"strategy": {Type: genai.TypeString},
			},
			Required: []string{"topic", "value", "strategy"},
		},
	}
}

func searchTools() []*genai.Tool {
	return []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
}

func systemInstruction(text string) *genai.Content {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return genai.NewContentFromText(text, genai.RoleUser)
}

// toContents maps site roles onto Gemini roles: agent turns are sent as
// "model", everything else as "user".
func toContents(history []domain.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		contents = append(contents, genai.NewContentFromText(m.Content, remoteRole(m.Role)))
	}
	return contents
}

func remoteRole(r domain.Role) genai.Role {
	if r == domain.RoleAgent {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func wrapAPIError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return fmt.Errorf("gemini: %s: %w", op, err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("gemini: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("gemini: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("gemini: API token is empty")
	}
	return tp.Token, nil
}
