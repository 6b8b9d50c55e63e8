// Package config handles monocod configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid picking up real config
// files on the developer/deploy machine.
var searchPathsFunc = defaultSearchPaths

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; otherwise this
// order is tried: ./monoco.yaml, ~/.config/monoco/monoco.yaml,
// /etc/monoco/monoco.yaml.
func DefaultSearchPaths() []string {
	return searchPathsFunc()
}

func defaultSearchPaths() []string {
	paths := []string{"monoco.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "monoco", "monoco.yaml"))
	}

	paths = append(paths, "/etc/monoco/monoco.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all monocod configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engines   EnginesConfig   `yaml:"engines"`
	Watchers  WatchersConfig  `yaml:"watchers"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Forge     ForgeConfig     `yaml:"forge"`
	Routing   RoutingConfig   `yaml:"routing"`
	Policy    PolicyConfig    `yaml:"policy"`
	Isolation IsolationConfig `yaml:"isolation"`
}

// IsolationConfig controls where the scheduler checks out a dedicated
// working directory for a session when task.metadata.isolation asks
// for one (spec.md §4.3). WorktreeRoot is resolved through
// internal/paths as the "worktree:" prefix; a session's working
// directory becomes "worktree:{issue_id or task_id}" under this root.
type IsolationConfig struct {
	WorktreeRoot string `yaml:"worktree_root"`
}

// ListenConfig defines the Broadcaster's HTTP server settings (the /ws
// websocket, the /healthz status endpoint, and /version).
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// SchedulerConfig defines AgentScheduler concurrency and timeout policy.
type SchedulerConfig struct {
	// GlobalConcurrency bounds total running sessions across all roles.
	GlobalConcurrency int `yaml:"global_concurrency"`
	// RoleConcurrency bounds concurrent sessions per role name. A role
	// absent from this map uses the scheduler's built-in default for that
	// role (architect 1, engineer 4, reviewer 2, coroner 1, mailbox 4).
	RoleConcurrency map[string]int `yaml:"role_concurrency"`
	// SubagentDepthDefault is the depth limit applied when a task does
	// not specify one explicitly.
	SubagentDepthDefault int `yaml:"subagent_depth_default"`
	// SubagentDepthMax is the hard ceiling no task may exceed regardless
	// of configuration (spec hard cap is 3; operators may raise this up
	// to 5, never disable it).
	SubagentDepthMax int `yaml:"subagent_depth_max"`
	// DefaultTimeoutSec bounds how long a session may run before the
	// scheduler terminates it and publishes SESSION_TERMINATED with
	// reason "timeout".
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// EnginesConfig lists the EngineAdapters available to the scheduler.
type EnginesConfig struct {
	Default   string         `yaml:"default"`
	Available []EngineConfig `yaml:"available"`
}

// EngineConfig describes one external CLI agent engine.
type EngineConfig struct {
	Name string `yaml:"name"` // gemini, claude, kimi, qwen, local
	// Command is the executable invoked to spawn a session.
	Command string `yaml:"command"`
	// BaseArgs are prepended to every invocation before task-specific
	// arguments (prompt, working directory, etc).
	BaseArgs []string `yaml:"base_args"`
	// UnattendedFlag is appended to the command line when the engine is
	// run without a human present (every session monocod schedules).
	UnattendedFlag string `yaml:"unattended_flag"`
	// SupportsUnattended reports whether this engine can run without
	// interactive confirmation at all; if false, the scheduler refuses
	// to schedule sessions against it.
	SupportsUnattended bool `yaml:"supports_unattended"`
	Enabled            bool `yaml:"enabled"`
}

// WatchersConfig controls the FilesystemWatcher set (C5).
type WatchersConfig struct {
	// PollIntervalSec is the fallback poll interval used when native
	// filesystem events are unavailable (e.g. network filesystems).
	PollIntervalSec int `yaml:"poll_interval_sec"`
	// MemoThreshold is the number of accumulated memo entries that
	// triggers MEMO_THRESHOLD.
	MemoThreshold int `yaml:"memo_threshold"`
	// MemoMinGapSec is the minimum time between consecutive Architect
	// spawns triggered by memo accumulation.
	MemoMinGapSec int `yaml:"memo_min_gap_sec"`
}

// MailboxConfig configures the MailboxStore's ingress/egress providers.
type MailboxConfig struct {
	Email EmailProviderConfig `yaml:"email"`
	MQTT  MQTTProviderConfig  `yaml:"mqtt"`
}

// EmailProviderConfig configures the IMAP ingress / SMTP outbound
// mailbox provider.
type EmailProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	IMAPHost     string `yaml:"imap_host"`
	IMAPPort     int    `yaml:"imap_port"`
	IMAPTLS      bool   `yaml:"imap_tls"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPStartTLS bool   `yaml:"smtp_starttls"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	// From is the address used in the From header of outbound mail and
	// compared against incoming senders to filter out self-sent copies.
	From        string `yaml:"from"`
	Mailbox     string `yaml:"mailbox"` // IMAP folder to poll, default INBOX
	DebounceSec int    `yaml:"debounce_sec"`
}

// MQTTProviderConfig configures the MQTT-bridged IM mailbox provider.
type MQTTProviderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Topic       string `yaml:"topic"`
	DebounceSec int    `yaml:"debounce_sec"`
}

// ForgeConfig configures the GitHub forge integration used by the
// Reviewer handler to enrich PR_CREATED context.
type ForgeConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// RoutingConfig lists the MessageRouter's rules in priority order.
type RoutingConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig describes one routing rule. Kind is one of command,
// mention, keyword, regex, fallback; Priority breaks ties (higher
// evaluated first). A fallback rule is always seeded even if the
// config omits one.
type RuleConfig struct {
	Kind     string `yaml:"kind"`
	Pattern  string `yaml:"pattern"`
	Role     string `yaml:"role"`
	Priority int    `yaml:"priority"`
}

// PolicyConfig configures the swarm-storm cooldown guard (C10).
type PolicyConfig struct {
	CooldownBaseSec     int `yaml:"cooldown_base_sec"`
	CooldownMaxSec      int `yaml:"cooldown_max_sec"`
	CooldownMaxAttempts int `yaml:"cooldown_max_attempts"`
}

// Configured reports whether the email provider has enough to connect.
func (c EmailProviderConfig) Configured() bool {
	return c.IMAPHost != "" && c.Username != "" && c.Password != ""
}

// Configured reports whether the MQTT provider has enough to connect.
func (c MQTTProviderConfig) Configured() bool {
	return c.BrokerURL != "" && c.Topic != ""
}

// Configured reports whether the forge integration has a token and
// target repository.
func (c ForgeConfig) Configured() bool {
	return c.Token != "" && c.Owner != "" && c.Repo != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${MONOCO_FORGE_TOKEN}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./.monoco"
	}
	if c.Scheduler.GlobalConcurrency == 0 {
		c.Scheduler.GlobalConcurrency = 4
	}
	if c.Scheduler.SubagentDepthDefault == 0 {
		c.Scheduler.SubagentDepthDefault = 3
	}
	if c.Scheduler.SubagentDepthMax == 0 {
		c.Scheduler.SubagentDepthMax = 3
	}
	if c.Scheduler.DefaultTimeoutSec == 0 {
		c.Scheduler.DefaultTimeoutSec = 1800
	}
	if c.Watchers.PollIntervalSec == 0 {
		c.Watchers.PollIntervalSec = 2
	}
	if c.Watchers.MemoThreshold == 0 {
		c.Watchers.MemoThreshold = 5
	}
	if c.Watchers.MemoMinGapSec == 0 {
		c.Watchers.MemoMinGapSec = 60
	}
	if c.Mailbox.Email.Mailbox == "" {
		c.Mailbox.Email.Mailbox = "INBOX"
	}
	if c.Mailbox.Email.IMAPPort == 0 {
		c.Mailbox.Email.IMAPPort = 993
	}
	if c.Mailbox.Email.SMTPPort == 0 {
		c.Mailbox.Email.SMTPPort = 587
		c.Mailbox.Email.SMTPStartTLS = true
	}
	if !c.Mailbox.Email.IMAPTLS && c.Mailbox.Email.IMAPPort != 143 {
		c.Mailbox.Email.IMAPTLS = true
	}
	if c.Mailbox.Email.DebounceSec == 0 {
		c.Mailbox.Email.DebounceSec = 0
	}
	if c.Mailbox.MQTT.DebounceSec == 0 {
		c.Mailbox.MQTT.DebounceSec = 30
	}
	if c.Policy.CooldownBaseSec == 0 {
		c.Policy.CooldownBaseSec = 60
	}
	if c.Policy.CooldownMaxSec == 0 {
		c.Policy.CooldownMaxSec = 1800
	}
	if c.Policy.CooldownMaxAttempts == 0 {
		c.Policy.CooldownMaxAttempts = 5
	}
	if c.Isolation.WorktreeRoot == "" {
		c.Isolation.WorktreeRoot = filepath.Join(c.DataDir, "worktrees")
	}

	hasFallback := false
	for _, r := range c.Routing.Rules {
		if r.Kind == "fallback" {
			hasFallback = true
			break
		}
	}
	if !hasFallback {
		c.Routing.Rules = append(c.Routing.Rules, RuleConfig{
			Kind:     "fallback",
			Role:     "architect",
			Priority: 0,
		})
	}

	for i := range c.Engines.Available {
		if c.Engines.Available[i].Name == "" {
			continue
		}
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.Scheduler.SubagentDepthMax > 5 {
		return fmt.Errorf("scheduler.subagent_depth_max %d exceeds the allowed ceiling of 5", c.Scheduler.SubagentDepthMax)
	}
	if c.Scheduler.SubagentDepthDefault > c.Scheduler.SubagentDepthMax {
		return fmt.Errorf("scheduler.subagent_depth_default %d exceeds subagent_depth_max %d", c.Scheduler.SubagentDepthDefault, c.Scheduler.SubagentDepthMax)
	}
	if c.Scheduler.GlobalConcurrency < 1 {
		return fmt.Errorf("scheduler.global_concurrency must be >= 1, got %d", c.Scheduler.GlobalConcurrency)
	}
	for role, n := range c.Scheduler.RoleConcurrency {
		if n < 1 {
			return fmt.Errorf("scheduler.role_concurrency[%s] must be >= 1, got %d", role, n)
		}
	}
	for i, r := range c.Routing.Rules {
		switch r.Kind {
		case "command", "mention", "keyword", "regex", "fallback":
		default:
			return fmt.Errorf("routing.rules[%d].kind %q is not one of command, mention, keyword, regex, fallback", i, r.Kind)
		}
		if r.Kind != "fallback" && r.Pattern == "" {
			return fmt.Errorf("routing.rules[%d] (%s) requires a pattern", i, r.Kind)
		}
		if r.Role == "" {
			return fmt.Errorf("routing.rules[%d] requires a role", i)
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development with a single local-engine role. All defaults are
// already applied.
func Default() *Config {
	cfg := &Config{
		Engines: EnginesConfig{
			Default: "local",
			Available: []EngineConfig{
				{
					Name:               "local",
					Command:            "monoco-agent",
					UnattendedFlag:     "--unattended",
					SupportsUnattended: true,
					Enabled:            true,
				},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
