package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
slack:
  bot_token: xoxb-test
  bot_user_id: UBOT
anthropic:
  api_key: sk-test
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, "memory", cfg.Memory.RootDir)
	assert.Equal(t, 8000, cfg.Memory.CompactionThreshold)
	assert.Equal(t, 600, cfg.Channel.ThresholdA)
	assert.Equal(t, "eyes", cfg.Channel.DefaultReactEmoji)
	assert.Equal(t, Duration(30*time.Second), cfg.Tracker.PollInterval)
	assert.Equal(t, ":8420", cfg.Supervisor.DashboardAddr)
	assert.Equal(t, "origin", cfg.Supervisor.GitRemote)
}

func TestLoad_FileValuesWinOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
agent:
  binary: /usr/local/bin/claude
memory:
  compaction_threshold: 5000
supervisor:
  git_branch: release
`))
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.Binary)
	assert.Equal(t, 5000, cfg.Memory.CompactionThreshold)
	assert.Equal(t, "release", cfg.Supervisor.GitBranch)
	// Untouched siblings keep their defaults.
	assert.Equal(t, Duration(time.Minute), cfg.Supervisor.GitPollInterval)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RELAY_TEST_SLACK_TOKEN", "xoxb-from-env")

	cfg, err := Load(writeConfig(t, `
slack:
  bot_token: "{{.RELAY_TEST_SLACK_TOKEN}}"
  bot_user_id: UBOT
anthropic:
  api_key: sk-test
`))
	require.NoError(t, err)
	assert.Equal(t, "xoxb-from-env", cfg.Slack.BotToken)
}

func TestLoad_ParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
tracker:
  poll_interval: 45s
supervisor:
  git_poll_interval: 2m
  processes:
    - name: bot
      command: ./bin/relay
      restart_delay: 10
`))
	require.NoError(t, err)
	assert.Equal(t, Duration(45*time.Second), cfg.Tracker.PollInterval)
	assert.Equal(t, Duration(2*time.Minute), cfg.Supervisor.GitPollInterval)
	require.Len(t, cfg.Supervisor.Processes, 1)
	assert.Equal(t, Duration(10*time.Second), cfg.Supervisor.Processes[0].RestartDelay)
}

func TestLoad_DollarSignsSurvive(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
channel:
  default_react_emoji: "$pattern^$"
`))
	require.NoError(t, err)
	assert.Equal(t, "$pattern^$", cfg.Channel.DefaultReactEmoji)
}

func TestLoad_ValidationErrors(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
slack:
  bot_user_id: UBOT
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "slack.bot_token is required")
		assert.Contains(t, err.Error(), "anthropic.api_key is required")
	})

	t.Run("observer without channels", func(t *testing.T) {
		_, err := Load(writeConfig(t, minimalConfig+`
channel:
  enabled: true
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one channel")
	})

	t.Run("tracker without credentials", func(t *testing.T) {
		_, err := Load(writeConfig(t, minimalConfig+`
tracker:
  enabled: true
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tracker.app_key")
	})

	t.Run("process without command", func(t *testing.T) {
		_, err := Load(writeConfig(t, minimalConfig+`
supervisor:
  processes:
    - name: bot
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "processes[0].command is required")
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
