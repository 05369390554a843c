// Relay bot — chat-driven agent orchestration: sessions, observational
// memory, channel observer and tracker-board automation.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/relaycrew/relay/pkg/agentrunner"
	"github.com/relaycrew/relay/pkg/channel"
	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/config"
	"github.com/relaycrew/relay/pkg/executor"
	"github.com/relaycrew/relay/pkg/llm"
	"github.com/relaycrew/relay/pkg/memory"
	"github.com/relaycrew/relay/pkg/session"
	"github.com/relaycrew/relay/pkg/store"
	"github.com/relaycrew/relay/pkg/supervisor"
	"github.com/relaycrew/relay/pkg/tokens"
	"github.com/relaycrew/relay/pkg/tracker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("RELAY_CONFIG", "relay.yaml"), "Path to relay.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.Memory.RootDir)
	if err != nil {
		slog.Error("Failed to open memory store", "root", cfg.Memory.RootDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counter := tokens.Default()
	completer := llm.NewAnthropicCompleter(cfg.Anthropic.APIKey, cfg.Anthropic.Model, 4096)

	sessions := session.NewManager(st)
	sessions.StartFlusher(ctx, time.Duration(cfg.Executor.SessionFlush))

	registry := agentrunner.NewRegistry(agentrunner.Options{
		Binary:         cfg.Agent.Binary,
		WorkDir:        cfg.Agent.WorkDir,
		LogsDir:        cfg.Agent.LogsDir,
		Env:            cfg.Agent.Env,
		PermissionMode: cfg.Agent.PermissionMode,
		MCPConfigPath:  cfg.Agent.MCPConfigPath,
	})

	adapter := chat.NewSlackAdapter(cfg.Slack.BotToken)
	reactions := chat.NewReactionManager(adapter, cfg.Slack.BotUserID)
	debug := chat.NewDebugSink(adapter, cfg.Slack.DebugChannel)

	memPipeline := memory.NewPipeline(st, completer, counter, memory.Config{
		MinTurnTokens:       cfg.Memory.ObservationThreshold,
		ReflectionThreshold: cfg.Memory.ReflectionThreshold,
		ReflectionTarget:    cfg.Memory.ReflectionThreshold / 2,
		PromotionThreshold:  10,
		CompactionThreshold: cfg.Memory.CompactionThreshold,
		CompactionTarget:    cfg.Memory.CompactionThreshold * 3 / 4,
	})
	contexts := memory.NewContextBuilder(st, counter)

	// The restarter and list starter are bound after their dependents;
	// the executor only holds the interfaces.
	restarter := &processRestarter{exitCh: make(chan int, 1)}
	listStarter := &listRunStarter{}

	exec := executor.New(sessions, registry, adapter, reactions, contexts, memPipeline,
		restarter, listStarter, debug, executor.Config{
			AdminTools:         cfg.Agent.AdminTools,
			OperatorChannel:    cfg.Slack.DebugChannel,
			ContextLimitTokens: cfg.Executor.ContextLimitTokens,
		})

	rt := newRouter(sessions, exec, cfg.Channel.Channels, cfg.Slack.AdminUsers, cfg.Slack.BotUserID)

	if cfg.Channel.Enabled {
		rt.pipeline = channel.NewPipeline(st, completer, counter, adapter, reactions, debug,
			rt, rt, channel.Config{
				BotUserID:          cfg.Slack.BotUserID,
				ThresholdA:         cfg.Channel.ThresholdA,
				ThresholdB:         cfg.Channel.ThresholdB,
				DigestMaxTokens:    cfg.Channel.DigestMaxTokens,
				DigestTargetTokens: cfg.Channel.DigestTargetTokens,
				DefaultReactEmoji:  cfg.Channel.DefaultReactEmoji,
			})
	}

	var watcher *tracker.Watcher
	var listRunner *tracker.ListRunner
	if cfg.Tracker.Enabled {
		board := tracker.NewTrelloAdapter(cfg.Tracker.AppKey, cfg.Tracker.Token, cfg.Tracker.BoardID)
		listRunner = tracker.NewListRunner(st, board, exec, sessions, adapter, cfg.Slack.NotifyChannel)
		listStarter.runner = listRunner
		watcher = tracker.NewWatcher(st, board, exec, sessions, adapter, listRunner, tracker.WatcherConfig{
			PollInterval:     time.Duration(cfg.Tracker.PollInterval),
			WatchLists:       cfg.Tracker.WatchLists,
			InProgressListID: cfg.Tracker.InProgressListID,
			ReviewListID:     cfg.Tracker.ReviewListID,
			DoneListID:       cfg.Tracker.DoneListID,
			ExtraOperational: cfg.Tracker.ExtraOperational,
			NotifyChannel:    cfg.Slack.NotifyChannel,
			DMUserID:         cfg.Tracker.DMUserID,
			RunListLabelName: cfg.Tracker.RunListLabel,
		})
		watcher.Start(ctx)
	}

	gateway := chat.NewSocketGateway(cfg.Slack.BotToken, cfg.Slack.AppToken, cfg.Slack.BotUserID, rt.handle)
	gatewayErr := make(chan error, 1)
	go func() { gatewayErr <- gateway.Run(ctx) }()

	slog.Info("Relay started",
		"channel_observer", cfg.Channel.Enabled,
		"tracker", cfg.Tracker.Enabled)

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case code := <-restarter.exitCh:
		slog.Info("Restart requested by operator", "exit_code", code)
		exitCode = code
	case err := <-gatewayErr:
		if err != nil && ctx.Err() == nil {
			slog.Error("Chat gateway failed", "error", err)
			exitCode = 1
		}
	}

	// Staged shutdown: stop taking tracker work, stop agent subprocesses,
	// then persist session state.
	if watcher != nil {
		watcher.Stop()
	}
	if listRunner != nil {
		listRunner.Wait()
	}
	registry.ShutdownAll()
	sessions.Flush()
	slog.Info("Relay stopped", "exit_code", exitCode)
	os.Exit(exitCode)
}

// processRestarter implements executor.Restarter by exiting with the
// supervisor's update or restart code.
type processRestarter struct {
	exitCh chan int
}

func (p *processRestarter) RequestRestart(_ context.Context, update bool, requestedBy string) error {
	code := supervisor.ExitRestart
	if update {
		code = supervisor.ExitUpdate
	}
	slog.Info("Process restart requested", "update", update, "requested_by", requestedBy)
	select {
	case p.exitCh <- code:
	default:
	}
	return nil
}

// listRunStarter defers binding the list runner until tracker wiring has
// happened; without the tracker, list runs are rejected.
type listRunStarter struct {
	runner *tracker.ListRunner
}

func (l *listRunStarter) StartListRunByName(ctx context.Context, listName, channelID, threadTS string) error {
	if l.runner == nil {
		return errTrackerDisabled
	}
	return l.runner.StartListRunByName(ctx, listName, channelID, threadTS)
}

var errTrackerDisabled = errors.New("tracker integration is disabled")
