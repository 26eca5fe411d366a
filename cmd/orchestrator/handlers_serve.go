package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/agent/providers"
	"github.com/nexus-prp/runtime/internal/chatstate"
	"github.com/nexus-prp/runtime/internal/config"
	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/envelope"
	"github.com/nexus-prp/runtime/internal/observability"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/internal/registry"
	"github.com/nexus-prp/runtime/internal/runtime"
	"github.com/nexus-prp/runtime/internal/supervisorgate"
)

// runServe loads configuration, wires the registry store/server/sweeper,
// fabric, context engine, and runtime loop, and runs until a shutdown signal
// or an unrecoverable component error (spec §4.7 step 1-4).
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	slog.Info("starting orchestrator", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := newRegistryStore(ctx, cfg.Registry)
	if err != nil {
		return fmt.Errorf("failed to open registry store: %w", err)
	}

	registrySink := observability.NewRegistrySink()
	sweeper := registry.NewSweeper(store, cfg.Registry.AgentTimeout, slog.Default(), registrySink)
	if err := sweeper.Start(ctx, fmt.Sprintf("@every %s", cfg.Registry.SweepInterval)); err != nil {
		return fmt.Errorf("failed to start registry sweeper: %w", err)
	}
	defer sweeper.Stop()

	registryServer := registry.NewServer(store, cfg.Registry.AgentTimeout, slog.Default())
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.HTTPPort)),
		Handler: registryServer.Handler(),
	}

	fabric, err := newFabric(cfg.Fabric)
	if err != nil {
		return fmt.Errorf("failed to connect messaging fabric: %w", err)
	}

	provider, model, err := newLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to init LLM provider: %w", err)
	}

	blobstore, err := contextengine.NewLocalBlobstore(cfg.ContextEngine.ExternalMemoryPath)
	if err != nil {
		return fmt.Errorf("failed to init context blobstore: %w", err)
	}
	engineCfg := contextengine.Config{
		TargetContextSize:   cfg.ContextEngine.TargetContextSize,
		OptimalContextSize:  cfg.ContextEngine.OptimalContextSize,
		ContextWindowMax:    cfg.ContextEngine.ContextWindowMax,
		QualityThreshold:    cfg.ContextEngine.QualityThreshold,
		MaxToolPayloadChars: cfg.ContextEngine.MaxToolPayloadChars,
		ReducerTargetTokens: cfg.ContextEngine.ReducerTargetTokens,
		Curator: contextengine.CuratorConfig{
			TargetTokens:            cfg.ContextEngine.ReducerTargetTokens,
			ExternalizeWriteEnabled: cfg.ContextEngine.ExternalizeWriteEnabled,
			ExternalMemoryPath:      cfg.ContextEngine.ExternalMemoryPath,
		},
		Reset: contextengine.ResetConfig{
			Enabled:       cfg.ContextEngine.ContextReset.Enabled,
			Root:          cfg.ContextEngine.ContextReset.Root,
			TriggerTokens: cfg.ContextEngine.ContextReset.TriggerTokens,
			KeepTurns:     cfg.ContextEngine.ContextReset.KeepTurns,
			MinUserTurns:  cfg.ContextEngine.ContextReset.MinUserTurns,
		},
	}
	engine := contextengine.NewEngine(
		engineCfg,
		blobstore,
		contextengine.NewGovernor(),
		contextengine.HeuristicSummarizer{},
		observability.NewContextSink(),
	)

	gate := supervisorgate.NewGate()
	predictor := prp.NewPredictor(cfg.PRP.ExhaustionPredictor.Threshold)
	scheduler := prp.NewScheduler(predictor)
	driver := runtime.NewDriver(provider, model, 0)
	graph := runtime.NewGraph(engine, driver, gate, scheduler, engineCfg)

	chatStore := chatstate.NewMemoryStore()
	manager := chatstate.NewManager(chatStore)

	registryClient := runtime.NewRegistryClient(cfg.Registry.BaseURL, nil)

	profile := runtime.Profile{
		Role:          runtime.RoleOrchestrator,
		AgentID:       envelope.RecipientOrchestrator,
		Mailbox:       envelope.Mailbox(envelope.RecipientOrchestrator),
		SystemPrompt:  orchestratorSystemPrompt,
		RoutingPolicy: runtime.OrchestratorRoutingPolicy,
		MaxIterations: cfg.Runtime.Autonomous.MaxIterations,
		MaxHours:      float64(cfg.Runtime.Autonomous.MaxHours),
	}

	loop := runtime.NewLoop(profile, fabric, manager, graph, registryClient, slog.Default())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("registry http server: %w", err)
		}
	}()
	go func() {
		errCh <- loop.Run(ctx, cfg.Server.Host, cfg.Server.HTTPPort)
	}()

	slog.Info("orchestrator started",
		"http_addr", httpServer.Addr,
		"llm_provider", cfg.LLM.DefaultProvider,
		"fabric_backend", cfg.Fabric.Backend,
		"registry_store", cfg.Registry.Store,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("registry http shutdown failed: %w", err)
	}

	slog.Info("orchestrator stopped gracefully")
	return nil
}

const orchestratorSystemPrompt = `You are the orchestrator for a Perpetual Refinement Protocol run. ` +
	`You assign work to registered agents, relay supervisor decisions, and keep the refinement ` +
	`ledger moving through hypothesize -> execute -> test -> conclude.`

// newRegistryStore opens the registry.Store cfg selects.
func newRegistryStore(ctx context.Context, cfg config.RegistryConfig) (registry.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return registry.NewMemoryStore(), nil
	case "sqlite":
		return registry.NewSQLiteStore(ctx, cfg.DSN)
	case "postgres":
		return registry.NewPGStoreFromDSN(ctx, cfg.DSN, registry.DefaultPGConfig())
	default:
		return nil, fmt.Errorf("unknown registry store %q", cfg.Store)
	}
}

// newFabric connects the envelope.Fabric cfg selects.
func newFabric(cfg config.FabricConfig) (envelope.Fabric, error) {
	switch cfg.Backend {
	case "", "memory":
		return envelope.NewMemoryFabric(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return envelope.NewRedisFabric(client), nil
	default:
		return nil, fmt.Errorf("unknown fabric backend %q", cfg.Backend)
	}
}

// newLLMProvider builds the agent.LLMProvider and default model cfg selects.
func newLLMProvider(cfg config.LLMConfig) (agent.LLMProvider, string, error) {
	providerCfg := cfg.Providers[cfg.DefaultProvider]

	switch cfg.DefaultProvider {
	case "", "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		model := providerCfg.DefaultModel
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		return p, model, nil
	case "openai":
		p := providers.NewOpenAIProvider(providerCfg.APIKey)
		model := providerCfg.DefaultModel
		if model == "" {
			model = "gpt-4o"
		}
		return p, model, nil
	default:
		return nil, "", fmt.Errorf("unknown LLM provider %q", cfg.DefaultProvider)
	}
}
