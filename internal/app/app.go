// Package app assembles the agent service from configuration. Every entry
// point goes through Build so Lambda, the dev server and the CLI share one
// wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"capt-agent/internal/config"
	"capt-agent/internal/integrations/gemini"
	"capt-agent/internal/integrations/leadbus"
	"capt-agent/internal/integrations/paramstore"
	"capt-agent/internal/repository"
	"capt-agent/internal/usecase"
)

// localPrefix namespaces the in-process parameters used without SSM.
const localPrefix = "/capt-agent"

type App struct {
	Service *usecase.AgentService
	Logger  *slog.Logger

	closers []func() error
}

// NewLogger returns the JSON logger every entry point uses.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// Build creates every client cfg asks for and the service on top of them.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Logger: logger}

	var (
		params usecase.ParamGetter
		getter gemini.Getter
		state  usecase.StateReadWriter
		prefix = cfg.ParamPrefix
	)

	if cfg.NeedsAWS() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		if cfg.UsesParamStore() {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return nil, fmt.Errorf("app: create SSM client: %w", err)
			}
			params, getter = ssmClient, ssmClient
		}
		if cfg.StateBackend == config.BackendDynamoDB {
			stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
			if err != nil {
				return nil, fmt.Errorf("app: create state client: %w", err)
			}
			state = stateClient
		}
	}
	if params == nil {
		prefix = localPrefix
		params = LocalParams(cfg)
	}
	if state == nil {
		state = repository.NewMemory()
	}

	geminiOpts := []gemini.Option{gemini.WithTimeout(cfg.GeminiTimeout)}
	if cfg.GeminiAPIKey != "" {
		geminiOpts = append(geminiOpts, gemini.WithAPIKey(cfg.GeminiAPIKey))
	}
	if cfg.GeminiBaseURL != "" {
		geminiOpts = append(geminiOpts, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}
	llm, err := gemini.NewClient(getter, cfg.ParamPrefix, geminiOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create Gemini client: %w", err)
	}

	opts := usecase.Options{
		MaxContextItems: cfg.MaxContextItems,
		MaxMessageLen:   cfg.MaxMessageLen,
		MaxQueryLen:     cfg.MaxQueryLen,
		Logger:          logger,
	}
	if cfg.NatsURL != "" {
		bus, err := leadbus.NewClient(cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return nil, fmt.Errorf("app: create lead bus: %w", err)
		}
		opts.Notifier = bus
		a.closers = append(a.closers, bus.Close)
	}

	svc, err := usecase.NewAgentService(params, llm, state, prefix, opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: create agent service: %w", err)
	}
	a.Service = svc
	logger.Info("agent service ready",
		"state_backend", cfg.StateBackend,
		"param_store", cfg.UsesParamStore(),
		"lead_bus", cfg.NatsURL != "",
	)
	return a, nil
}

// LocalParams serves the model and portfolio knowledge without SSM.
func LocalParams(cfg config.Config) paramstore.Static {
	return paramstore.Static{
		localPrefix + "/config/gemini_model": cfg.GeminiModel,
		localPrefix + "/portfolio_knowledge": usecase.DefaultPortfolioKnowledge,
	}
}

// Close releases connections opened by Build.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}
