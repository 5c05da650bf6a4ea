package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"clawd/internal/session"
)

type ProviderConfig struct {
	Kind       string `json:"kind"` // openai / openai-compatible / ollama / anthropic
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	APIKey     string `json:"api_key"`
	TimeoutMS  int    `json:"timeout_ms"`
	MaxRetries int    `json:"max_retries"`
}

type AgentRuntimeConfig struct {
	SystemPrompt  string  `json:"system_prompt"`
	MaxTurns      int     `json:"max_turns"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	ContextWindow int     `json:"context_window"`
	KeepRecent    int     `json:"keep_recent"`
}

type SessionConfig struct {
	AgentID     string `json:"agent_id"`
	DMScope     string `json:"dm_scope"` // main / per-peer / per-channel-peer
	ResetMode   string `json:"reset_mode"`
	ResetAtHour int    `json:"reset_at_hour"`
	IdleMinutes int    `json:"idle_minutes"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type WorkspaceConfig struct {
	Root          string `json:"root"`
	DailyLookback int    `json:"daily_lookback"`
}

type ToolsConfig struct {
	CommandTimeoutMS int `json:"command_timeout_ms"`
	OutputLimitBytes int `json:"output_limit_bytes"`
	CallTimeoutMS    int `json:"call_timeout_ms"`
	SearchTimeoutSec int `json:"search_timeout_sec"`
	SearchMaxResults int `json:"search_max_results"`
}

type WebhookConfig struct {
	Addr string `json:"addr"`
}

type Config struct {
	Provider  ProviderConfig     `json:"provider"`
	Agent     AgentRuntimeConfig `json:"agent"`
	Session   SessionConfig      `json:"session"`
	Storage   StorageConfig      `json:"storage"`
	Workspace WorkspaceConfig    `json:"workspace"`
	Tools     ToolsConfig        `json:"tools"`
	Webhook   WebhookConfig      `json:"webhook"`
}

type fileConfig struct {
	Provider  *ProviderConfig     `json:"provider"`
	Agent     *AgentRuntimeConfig `json:"agent"`
	Session   *SessionConfig      `json:"session"`
	Storage   *StorageConfig      `json:"storage"`
	Workspace *WorkspaceConfig    `json:"workspace"`
	Tools     *ToolsConfig        `json:"tools"`
	Webhook   *WebhookConfig      `json:"webhook"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Kind:       "openai",
			Model:      "gpt-4o-mini",
			TimeoutMS:  120000,
			MaxRetries: 3,
		},
		Agent: AgentRuntimeConfig{
			MaxTurns:      10,
			MaxTokens:     4096,
			ContextWindow: 128000,
			KeepRecent:    10,
		},
		Session: SessionConfig{
			AgentID:     "main",
			DMScope:     session.ScopeMain,
			ResetMode:   session.ResetDaily,
			ResetAtHour: 4,
		},
		Storage: StorageConfig{
			BaseDir: "~/.clawd",
		},
		Workspace: WorkspaceConfig{
			Root:          "~/.clawd/workspace",
			DailyLookback: 2,
		},
		Tools: ToolsConfig{
			CommandTimeoutMS: 60000,
			OutputLimitBytes: 1 << 20,
			SearchTimeoutSec: 15,
			SearchMaxResults: 5,
		},
		Webhook: WebhookConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// ResetPolicy 把会话配置转成存储层使用的重置策略。
// ResetPolicy converts the session section into the store's reset policy.
func (c Config) ResetPolicy() session.ResetPolicy {
	return session.ResetPolicy{
		Mode:        c.Session.ResetMode,
		AtHour:      c.Session.ResetAtHour,
		IdleMinutes: c.Session.IdleMinutes,
	}
}

// Load 合并配置：Default → 全局 ~/.clawd/config.json → 项目/显式文件 → 环境变量。
// Load layers configuration: defaults, then the global file, then the
// project or explicit file, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("CLAWD_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".clawd", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"clawd.config.json",
		".clawd/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Agent != nil {
		cfg.Agent = mergeAgent(cfg.Agent, *fc.Agent)
	}
	if fc.Session != nil {
		cfg.Session = mergeSession(cfg.Session, *fc.Session)
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.BaseDir) != "" {
			cfg.Storage.BaseDir = fc.Storage.BaseDir
		}
	}
	if fc.Workspace != nil {
		if strings.TrimSpace(fc.Workspace.Root) != "" {
			cfg.Workspace.Root = fc.Workspace.Root
		}
		if fc.Workspace.DailyLookback > 0 {
			cfg.Workspace.DailyLookback = fc.Workspace.DailyLookback
		}
	}
	if fc.Tools != nil {
		cfg.Tools = mergeTools(cfg.Tools, *fc.Tools)
	}
	if fc.Webhook != nil {
		if strings.TrimSpace(fc.Webhook.Addr) != "" {
			cfg.Webhook.Addr = fc.Webhook.Addr
		}
	}
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.Kind) != "" {
		base.Kind = override.Kind
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	return base
}

func mergeAgent(base, override AgentRuntimeConfig) AgentRuntimeConfig {
	if strings.TrimSpace(override.SystemPrompt) != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	if override.MaxTurns > 0 {
		base.MaxTurns = override.MaxTurns
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.Temperature > 0 {
		base.Temperature = override.Temperature
	}
	if override.ContextWindow != 0 {
		base.ContextWindow = override.ContextWindow
	}
	if override.KeepRecent > 0 {
		base.KeepRecent = override.KeepRecent
	}
	return base
}

func mergeSession(base, override SessionConfig) SessionConfig {
	if strings.TrimSpace(override.AgentID) != "" {
		base.AgentID = override.AgentID
	}
	if strings.TrimSpace(override.DMScope) != "" {
		base.DMScope = override.DMScope
	}
	if strings.TrimSpace(override.ResetMode) != "" {
		base.ResetMode = override.ResetMode
	}
	if override.ResetAtHour > 0 {
		base.ResetAtHour = override.ResetAtHour
	}
	if override.IdleMinutes > 0 {
		base.IdleMinutes = override.IdleMinutes
	}
	return base
}

func mergeTools(base, override ToolsConfig) ToolsConfig {
	if override.CommandTimeoutMS > 0 {
		base.CommandTimeoutMS = override.CommandTimeoutMS
	}
	if override.OutputLimitBytes > 0 {
		base.OutputLimitBytes = override.OutputLimitBytes
	}
	if override.CallTimeoutMS > 0 {
		base.CallTimeoutMS = override.CallTimeoutMS
	}
	if override.SearchTimeoutSec > 0 {
		base.SearchTimeoutSec = override.SearchTimeoutSec
	}
	if override.SearchMaxResults > 0 {
		base.SearchMaxResults = override.SearchMaxResults
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()

	if strings.TrimSpace(cfg.Provider.Kind) == "" {
		cfg.Provider.Kind = def.Provider.Kind
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries <= 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}

	if cfg.Agent.MaxTurns <= 0 {
		cfg.Agent.MaxTurns = def.Agent.MaxTurns
	}
	if cfg.Agent.KeepRecent <= 0 {
		cfg.Agent.KeepRecent = def.Agent.KeepRecent
	}

	switch cfg.Session.DMScope {
	case session.ScopeMain, session.ScopePerPeer, session.ScopePerChannelPeer:
	default:
		return fmt.Errorf("invalid dm_scope %q", cfg.Session.DMScope)
	}
	switch cfg.Session.ResetMode {
	case session.ResetDaily, session.ResetIdle, session.ResetBoth:
	default:
		return fmt.Errorf("invalid reset_mode %q", cfg.Session.ResetMode)
	}
	if cfg.Session.ResetAtHour < 0 || cfg.Session.ResetAtHour > 23 {
		return fmt.Errorf("invalid reset_at_hour %d", cfg.Session.ResetAtHour)
	}

	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	cfg.Storage.BaseDir = storageDir

	workspaceRoot, err := expandPath(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	cfg.Workspace.Root = workspaceRoot
	if cfg.Workspace.DailyLookback <= 0 {
		cfg.Workspace.DailyLookback = def.Workspace.DailyLookback
	}

	if cfg.Tools.CommandTimeoutMS <= 0 {
		cfg.Tools.CommandTimeoutMS = def.Tools.CommandTimeoutMS
	}
	if cfg.Tools.OutputLimitBytes <= 0 {
		cfg.Tools.OutputLimitBytes = def.Tools.OutputLimitBytes
	}
	if cfg.Tools.SearchTimeoutSec <= 0 {
		cfg.Tools.SearchTimeoutSec = def.Tools.SearchTimeoutSec
	}
	if cfg.Tools.SearchMaxResults <= 0 {
		cfg.Tools.SearchMaxResults = def.Tools.SearchMaxResults
	}

	if strings.TrimSpace(cfg.Webhook.Addr) == "" {
		cfg.Webhook.Addr = def.Webhook.Addr
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("CLAWD_PROVIDER")); v != "" {
		cfg.Provider.Kind = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_STORAGE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_WORKSPACE")); v != "" {
		cfg.Workspace.Root = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_MAX_TURNS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid CLAWD_MAX_TURNS: %q", v)
		}
		cfg.Agent.MaxTurns = n
	}
	if v := strings.TrimSpace(os.Getenv("CLAWD_WEBHOOK_ADDR")); v != "" {
		cfg.Webhook.Addr = v
	}

	return cfg, normalize(&cfg)
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 允许配置文件带 // 与 /* */ 注释。
// stripJSONComments lets config files carry // and /* */ comments.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
