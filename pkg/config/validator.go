package config

import (
	"errors"
	"fmt"
	"strings"
)

// validate checks the loaded configuration for missing required fields
// and inconsistent sections. All problems are reported at once.
func validate(cfg *Config) error {
	var problems []string

	if cfg.Slack.BotToken == "" {
		problems = append(problems, "slack.bot_token is required")
	}
	if cfg.Slack.BotUserID == "" {
		problems = append(problems, "slack.bot_user_id is required")
	}
	if cfg.Anthropic.APIKey == "" {
		problems = append(problems, "anthropic.api_key is required")
	}
	if cfg.Agent.Binary == "" {
		problems = append(problems, "agent.binary is required")
	}
	if cfg.Memory.RootDir == "" {
		problems = append(problems, "memory.root_dir is required")
	}
	if cfg.Memory.CompactionThreshold <= 0 {
		problems = append(problems, "memory.compaction_threshold must be positive")
	}

	if cfg.Channel.Enabled {
		if len(cfg.Channel.Channels) == 0 {
			problems = append(problems, "channel.channels must list at least one channel when the observer is enabled")
		}
		if cfg.Channel.ThresholdA <= 0 || cfg.Channel.ThresholdB <= cfg.Channel.ThresholdA {
			problems = append(problems, "channel thresholds must satisfy 0 < threshold_a < threshold_b")
		}
		if cfg.Channel.DigestTargetTokens > cfg.Channel.DigestMaxTokens {
			problems = append(problems, "channel.digest_target_tokens must not exceed digest_max_tokens")
		}
	}

	if cfg.Tracker.Enabled {
		if cfg.Tracker.AppKey == "" || cfg.Tracker.Token == "" || cfg.Tracker.BoardID == "" {
			problems = append(problems, "tracker.app_key, tracker.token and tracker.board_id are required when the tracker is enabled")
		}
		if len(cfg.Tracker.WatchLists) == 0 {
			problems = append(problems, "tracker.watch_lists must name at least one list when the tracker is enabled")
		}
	}

	for i, pc := range cfg.Supervisor.Processes {
		if pc.Name == "" {
			problems = append(problems, fmt.Sprintf("supervisor.processes[%d].name is required", i))
		}
		if pc.Command == "" {
			problems = append(problems, fmt.Sprintf("supervisor.processes[%d].command is required", i))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
