package config

import "time"

// defaultConfig carries the values used when relay.yaml leaves a field
// unset. Credentials intentionally have no default.
func defaultConfig() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5",
		},
		Agent: AgentConfig{
			Binary: "claude",
			AdminTools: []string{
				"Write", "Edit", "Bash", "TodoWrite", "Read", "Glob", "Grep", "WebFetch",
			},
		},
		Memory: MemoryConfig{
			RootDir:              "memory",
			ObservationThreshold: 3000,
			ReflectionThreshold:  12000,
			CompactionThreshold:  8000,
		},
		Channel: ChannelConfig{
			ThresholdA:         600,
			ThresholdB:         2500,
			DigestMaxTokens:    2000,
			DigestTargetTokens: 1200,
			DefaultReactEmoji:  "eyes",
		},
		Executor: ExecutorConfig{
			ContextLimitTokens: 200000,
			SessionFlush:       Duration(time.Minute),
		},
		Tracker: TrackerConfig{
			PollInterval: Duration(30 * time.Second),
		},
		Supervisor: SupervisorConfig{
			GitRemote:           "origin",
			GitBranch:           "main",
			HealthCheckInterval: Duration(5 * time.Second),
			GitPollInterval:     Duration(time.Minute),
			AgentBinary:         "claude",
			DashboardAddr:       ":8420",
			LogDir:              "logs",
		},
	}
}
