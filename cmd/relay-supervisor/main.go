// Relay supervisor — launches the bot ensemble, restarts children per
// their exit-code policy, polls git for upstream changes and redeploys.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/relaycrew/relay/pkg/config"
	"github.com/relaycrew/relay/pkg/supervisor"
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
	sc := cfg.Supervisor

	processes := make([]supervisor.ProcessConfig, 0, len(sc.Processes))
	for _, spec := range sc.Processes {
		logDir := spec.LogDir
		if logDir == "" {
			logDir = sc.LogDir
		}
		processes = append(processes, supervisor.ProcessConfig{
			Name:         spec.Name,
			Command:      spec.Command,
			Args:         spec.Args,
			Cwd:          spec.Cwd,
			Env:          spec.Env,
			AutoRestart:  spec.AutoRestart,
			UseExitCodes: spec.UseExitCodes,
			RestartDelay: time.Duration(spec.RestartDelay),
			LogDir:       logDir,
		})
	}

	sup := supervisor.New(supervisor.Config{
		HealthCheckInterval: time.Duration(sc.HealthCheckInterval),
		GitPollInterval:     time.Duration(sc.GitPollInterval),
		RepoDir:             sc.RepoDir,
		GitRemote:           sc.GitRemote,
		GitBranch:           sc.GitBranch,
		AgentBinary:         sc.AgentBinary,
		WebhookURL:          sc.WebhookURL,
		InstallCommand:      sc.InstallCommand,
		Processes:           processes,
	})

	dashboard := supervisor.NewDashboard(sup, sc.LogDir)
	go func() {
		slog.Info("Dashboard listening", "addr", sc.DashboardAddr)
		if err := dashboard.Serve(sc.DashboardAddr); err != nil {
			slog.Error("Dashboard failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := sup.Run(ctx)
	slog.Info("Supervisor exiting", "exit_code", code)
	os.Exit(code)
}
