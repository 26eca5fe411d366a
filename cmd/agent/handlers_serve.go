package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nexus-prp/runtime/internal/agent"
	"github.com/nexus-prp/runtime/internal/agent/providers"
	"github.com/nexus-prp/runtime/internal/chatstate"
	"github.com/nexus-prp/runtime/internal/config"
	"github.com/nexus-prp/runtime/internal/contextengine"
	"github.com/nexus-prp/runtime/internal/envelope"
	"github.com/nexus-prp/runtime/internal/observability"
	"github.com/nexus-prp/runtime/internal/prp"
	"github.com/nexus-prp/runtime/internal/runtime"
	"github.com/nexus-prp/runtime/internal/supervisorgate"
	"github.com/nexus-prp/runtime/internal/toolsurface"
	"github.com/nexus-prp/runtime/internal/workspace"
)

// runServe loads configuration, wires the fabric, context engine, workspace
// backend, and runtime loop for one agent process, registers against the
// orchestrator's registry, and runs until a shutdown signal (spec §4.7
// step 1-4).
func runServe(ctx context.Context, configPath, agentID string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if agentID == "" {
		agentID = "agent-" + uuid.NewString()[:8]
	}
	if !envelope.ValidAgentID(agentID) {
		return fmt.Errorf("invalid agent_id %q (want agent-<8 hex>)", agentID)
	}

	slog.Info("starting agent", "version", version, "commit", commit, "agent_id", agentID, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
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

	// Workspace tools (shell/container side effects) are agent-side only:
	// the orchestrator delegates execution rather than running it directly.
	// Ledger tools are not listed here; internal/runtime/graph.go binds
	// them fresh per chat_id via prp.Tools(cs.Ledger).
	backend, err := toolsurface.NewDockerBackend(ctx, toolsurface.DockerBackendConfig{})
	if err != nil {
		return fmt.Errorf("failed to init workspace backend: %w", err)
	}

	chatStore := chatstate.NewMemoryStore()
	manager := chatstate.NewManager(chatStore)

	registryClient := runtime.NewRegistryClient(cfg.Registry.BaseURL, nil)

	systemPrompt := agentSystemPrompt
	wsLoaderCfg := workspace.LoaderConfigFromConfig(cfg)
	if _, err := workspace.EnsureWorkspaceFiles(wsLoaderCfg.Root, workspace.BootstrapFilesForConfig(cfg), false); err != nil {
		slog.Warn("workspace bootstrap failed, continuing with defaults", "error", err)
	}
	if wsCtx, err := workspace.LoadWorkspace(wsLoaderCfg); err != nil {
		slog.Warn("workspace load failed, continuing without persona context", "error", err)
	} else if addendum := wsCtx.SystemPromptContext(); addendum != "" {
		systemPrompt = agentSystemPrompt + "\n\n" + addendum
	}

	profile := runtime.Profile{
		Role:          runtime.RoleAgent,
		AgentID:       agentID,
		Mailbox:       envelope.Mailbox(agentID),
		SystemPrompt:  systemPrompt,
		Tools:         toolsurface.Tools(backend),
		RoutingPolicy: runtime.DefaultAgentRoutingPolicy,
		MaxIterations: cfg.Runtime.Autonomous.MaxIterations,
		MaxHours:      float64(cfg.Runtime.Autonomous.MaxHours),
	}

	loop := runtime.NewLoop(profile, fabric, manager, graph, registryClient, slog.Default())
	loop.StartupTimeout = cfg.Registry.StartupTimeout
	loop.HeartbeatInterval = cfg.Registry.HeartbeatInterval

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("agent started", "agent_id", agentID, "llm_provider", cfg.LLM.DefaultProvider, "fabric_backend", cfg.Fabric.Backend)

	if err := loop.Run(ctx, cfg.Server.Host, cfg.Server.HTTPPort); err != nil {
		return fmt.Errorf("runtime loop: %w", err)
	}

	slog.Info("agent stopped gracefully", "agent_id", agentID)
	return nil
}

const agentSystemPrompt = `You are a worker agent in a Perpetual Refinement Protocol run. ` +
	`You hypothesize, execute, test, and conclude against your assigned task, using workspace ` +
	`tools for side effects and the refinement ledger to record your reasoning.`

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
