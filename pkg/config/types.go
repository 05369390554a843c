package config

// Config is the umbrella configuration loaded from relay.yaml.
type Config struct {
	Slack      SlackConfig      `yaml:"slack"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Agent      AgentConfig      `yaml:"agent"`
	Memory     MemoryConfig     `yaml:"memory"`
	Channel    ChannelConfig    `yaml:"channel"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// SlackConfig holds chat credentials and channel routing.
type SlackConfig struct {
	BotToken      string   `yaml:"bot_token"`
	AppToken      string   `yaml:"app_token"`
	BotUserID     string   `yaml:"bot_user_id"`
	AdminUsers    []string `yaml:"admin_users"`
	DebugChannel  string   `yaml:"debug_channel"`
	NotifyChannel string   `yaml:"notify_channel"`
}

// AnthropicConfig holds the LLM credentials for the memory and channel
// pipelines.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// AgentConfig describes the agent CLI subprocess.
type AgentConfig struct {
	Binary         string   `yaml:"binary"`
	WorkDir        string   `yaml:"work_dir"`
	LogsDir        string   `yaml:"logs_dir"`
	PermissionMode string   `yaml:"permission_mode"`
	MCPConfigPath  string   `yaml:"mcp_config_path"`
	Env            []string `yaml:"env"`
	AdminTools     []string `yaml:"admin_tools"`
}

// MemoryConfig holds the observational memory knobs.
type MemoryConfig struct {
	RootDir              string `yaml:"root_dir"`
	ObservationThreshold int    `yaml:"observation_threshold"`
	ReflectionThreshold  int    `yaml:"reflection_threshold"`
	CompactionThreshold  int    `yaml:"compaction_threshold"`
}

// ChannelConfig holds the channel-observer pipeline knobs.
type ChannelConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Channels           []string `yaml:"channels"`
	ThresholdA         int      `yaml:"threshold_a"`
	ThresholdB         int      `yaml:"threshold_b"`
	DigestMaxTokens    int      `yaml:"digest_max_tokens"`
	DigestTargetTokens int      `yaml:"digest_target_tokens"`
	DefaultReactEmoji  string   `yaml:"default_react_emoji"`
}

// ExecutorConfig holds per-turn execution knobs.
type ExecutorConfig struct {
	ContextLimitTokens int      `yaml:"context_limit_tokens"`
	OperatorChannel    string   `yaml:"operator_channel"`
	SessionFlush       Duration `yaml:"session_flush"`
}

// TrackerConfig holds the tracker-board integration knobs.
type TrackerConfig struct {
	Enabled          bool              `yaml:"enabled"`
	AppKey           string            `yaml:"app_key"`
	Token            string            `yaml:"token"`
	BoardID          string            `yaml:"board_id"`
	PollInterval     Duration          `yaml:"poll_interval"`
	WatchLists       map[string]string `yaml:"watch_lists"`
	InProgressListID string            `yaml:"in_progress_list_id"`
	ReviewListID     string            `yaml:"review_list_id"`
	DoneListID       string            `yaml:"done_list_id"`
	ExtraOperational []string          `yaml:"extra_operational"`
	RunListLabel     string            `yaml:"run_list_label"`
	DMUserID         string            `yaml:"dm_user_id"`
}

// ProcessSpec describes one supervised child process.
type ProcessSpec struct {
	Name         string            `yaml:"name"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args"`
	Cwd          string            `yaml:"cwd"`
	Env          map[string]string `yaml:"env"`
	AutoRestart  bool              `yaml:"auto_restart"`
	UseExitCodes bool              `yaml:"use_exit_codes"`
	RestartDelay Duration          `yaml:"restart_delay"`
	LogDir       string            `yaml:"log_dir"`
}

// SupervisorConfig holds the relay-supervisor settings.
type SupervisorConfig struct {
	RepoDir             string        `yaml:"repo_dir"`
	GitRemote           string        `yaml:"git_remote"`
	GitBranch           string        `yaml:"git_branch"`
	HealthCheckInterval Duration      `yaml:"health_check_interval"`
	GitPollInterval     Duration      `yaml:"git_poll_interval"`
	AgentBinary         string        `yaml:"agent_binary"`
	WebhookURL          string        `yaml:"webhook_url"`
	InstallCommand      []string      `yaml:"install_command"`
	DashboardAddr       string        `yaml:"dashboard_addr"`
	LogDir              string        `yaml:"log_dir"`
	Processes           []ProcessSpec `yaml:"processes"`
}
