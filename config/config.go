package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the aggregation engine.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Search      SearchConfig      `mapstructure:"search"`
	Platforms   []PlatformConfig  `mapstructure:"platforms"`
	Fallback    FallbackConfig    `mapstructure:"fallback"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Integrate   IntegrateConfig   `mapstructure:"integrate"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// SearchConfig tunes the orchestration and quiet-period detection knobs.
type SearchConfig struct {
	SamplingInterval       time.Duration `mapstructure:"sampling_interval"`
	StabilizationThreshold time.Duration `mapstructure:"stabilization_threshold"`
	AcquireTimeout         time.Duration `mapstructure:"acquire_timeout"`
	SessionTimeout         time.Duration `mapstructure:"session_timeout"`
	MaxWorkers             int           `mapstructure:"max_workers"`
	ConfidenceFloor        float64       `mapstructure:"confidence_floor"`
	FingerprintLength      int           `mapstructure:"fingerprint_length"`
	SessionTTL             time.Duration `mapstructure:"session_ttl"`
	CleanupSchedule        string        `mapstructure:"cleanup_schedule"`
}

func (s SearchConfig) Validate() error {
	if s.SamplingInterval <= 0 {
		return fmt.Errorf("search.sampling_interval must be > 0")
	}
	if s.StabilizationThreshold <= 0 {
		return fmt.Errorf("search.stabilization_threshold must be > 0")
	}
	if s.AcquireTimeout <= s.StabilizationThreshold {
		return fmt.Errorf("search.acquire_timeout must exceed search.stabilization_threshold")
	}
	if s.MaxWorkers <= 0 {
		return fmt.Errorf("search.max_workers must be > 0")
	}
	if s.ConfidenceFloor < 0 || s.ConfidenceFloor > 1 {
		return fmt.Errorf("search.confidence_floor must be within [0,1]")
	}
	if s.CleanupSchedule != "" {
		if _, err := cronexpr.Parse(s.CleanupSchedule); err != nil {
			return fmt.Errorf("search.cleanup_schedule is not a valid cron expression: %w", err)
		}
	}
	return nil
}

// PlatformConfig describes one AI chat platform: how to find its tab in a
// live browser session and, optionally, how to call it with a stored
// credential.
type PlatformConfig struct {
	Name           string   `mapstructure:"name"`
	Description    string   `mapstructure:"description"`
	Domains        []string `mapstructure:"domains"`
	InputSelector  string   `mapstructure:"input_selector"`
	SendSelector   string   `mapstructure:"send_selector"`
	ResultSelector string   `mapstructure:"result_selector"`
	ChatEndpoint   string   `mapstructure:"chat_endpoint"`
	Model          string   `mapstructure:"model"`
}

// FallbackConfig toggles individual acquisition tiers.
type FallbackConfig struct {
	AutomationEnabled bool          `mapstructure:"automation_enabled"`
	CredentialEnabled bool          `mapstructure:"credential_enabled"`
	SimulatedEnabled  bool          `mapstructure:"simulated_enabled"`
	SimulatedDelay    time.Duration `mapstructure:"simulated_delay"`
}

// BrowserConfig points at the live browser debug session used by tier 1.
type BrowserConfig struct {
	DebugURL       string        `mapstructure:"debug_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	TypingDelay    time.Duration `mapstructure:"typing_delay"`
	MaxChars       int           `mapstructure:"max_chars"`
}

// RedisConfig selects the optional redis-backed session registry.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CredentialsConfig locates the encrypted credential file for tier 2.
type CredentialsConfig struct {
	Path   string `mapstructure:"path"`
	KeyEnv string `mapstructure:"key_env"`
}

// IntegrateConfig configures the optional post-merge text integration call.
type IntegrateConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Platform returns the descriptor for a platform name, nil when unknown.
func (c *Config) Platform(name string) *PlatformConfig {
	for i := range c.Platforms {
		if c.Platforms[i].Name == name {
			return &c.Platforms[i]
		}
	}
	return nil
}

// PlatformNames lists configured platforms in declaration order.
func (c *Config) PlatformNames() []string {
	names := make([]string, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		names = append(names, p.Name)
	}
	return names
}

// LoadConfig reads configuration from disk (JSON) with ANSWERHIVE_* env
// overrides. Panics when no config can be read: a node must not come up
// half-configured.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ANSWERHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("fatal error unmarshalling config: %w", err))
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = DefaultPlatforms()
	}
	if err := cfg.Search.Validate(); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults() {
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("search.sampling_interval", "500ms")
	viper.SetDefault("search.stabilization_threshold", "5s")
	viper.SetDefault("search.acquire_timeout", "60s")
	viper.SetDefault("search.session_timeout", "5m")
	viper.SetDefault("search.max_workers", 8)
	viper.SetDefault("search.confidence_floor", 0.0)
	viper.SetDefault("search.fingerprint_length", 100)
	viper.SetDefault("search.session_ttl", "1h")
	viper.SetDefault("search.cleanup_schedule", "*/5 * * * *")
	viper.SetDefault("fallback.automation_enabled", true)
	viper.SetDefault("fallback.credential_enabled", true)
	viper.SetDefault("fallback.simulated_enabled", true)
	viper.SetDefault("fallback.simulated_delay", "150ms")
	viper.SetDefault("browser.debug_url", "http://127.0.0.1:9222")
	viper.SetDefault("browser.connect_timeout", "5s")
	viper.SetDefault("browser.typing_delay", "30ms")
	viper.SetDefault("browser.max_chars", 20000)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("credentials.path", "credentials.enc")
	viper.SetDefault("credentials.key_env", "ANSWERHIVE_CREDENTIAL_KEY")
	viper.SetDefault("integrate.base_url", "https://api.openai.com/v1")
	viper.SetDefault("integrate.model", "gpt-4o-mini")
	viper.SetDefault("integrate.temperature", 0.3)
	viper.SetDefault("integrate.max_tokens", 4000)
	viper.SetDefault("integrate.timeout", "60s")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.namespace", "answerhive")
}

// DefaultPlatforms is the platform catalog the project ships with. Selectors
// are intentionally loose: chat UIs reshuffle class names often, so each
// selector lists several candidates.
func DefaultPlatforms() []PlatformConfig {
	return []PlatformConfig{
		{
			Name:           "DeepSeek",
			Description:    "DeepSeek assistant, strong at step-by-step reasoning",
			Domains:        []string{"chat.deepseek.com", "deepseek.com"},
			InputSelector:  `textarea[placeholder], #chat-input textarea`,
			SendSelector:   `button[type="submit"], [data-testid*="send"]`,
			ResultSelector: `.message-content, [class*="message"], [class*="response"]`,
			ChatEndpoint:   "https://api.deepseek.com/chat/completions",
			Model:          "deepseek-chat",
		},
		{
			Name:           "Kimi",
			Description:    "Moonshot Kimi, long-context answers",
			Domains:        []string{"kimi.moonshot.cn", "moonshot.cn"},
			InputSelector:  `#input-area textarea, .input-textarea, textarea`,
			SendSelector:   `button[type="submit"], .send-btn, [data-testid*="send"]`,
			ResultSelector: `.message-list .message-item, [class*="answer"]`,
			ChatEndpoint:   "https://api.moonshot.cn/v1/chat/completions",
			Model:          "moonshot-v1-8k",
		},
		{
			Name:           "ChatGLM",
			Description:    "Zhipu ChatGLM",
			Domains:        []string{"chatglm.cn", "zhipuai.cn"},
			InputSelector:  `.input-box textarea, #chat-input, textarea`,
			SendSelector:   `button[type="submit"], .send-btn, .submit-btn`,
			ResultSelector: `.markdown-body, [class*="message"], .ai-message`,
		},
		{
			Name:           "Qwen",
			Description:    "Alibaba Qwen",
			Domains:        []string{"tongyi.aliyun.com", "qwen.ai"},
			InputSelector:  `textarea`,
			SendSelector:   `button[type="submit"], .send-button`,
			ResultSelector: `[class*="answer"], [class*="message"]`,
		},
		{
			Name:           "ChatGPT",
			Description:    "OpenAI ChatGPT",
			Domains:        []string{"chatgpt.com", "chat.openai.com"},
			InputSelector:  `#prompt-textarea, textarea`,
			SendSelector:   `button[data-testid="send-button"], button[type="submit"]`,
			ResultSelector: `[data-message-author-role="assistant"], .markdown`,
			ChatEndpoint:   "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
		},
		{
			Name:           "Gemini",
			Description:    "Google Gemini",
			Domains:        []string{"gemini.google.com"},
			InputSelector:  `rich-textarea, textarea`,
			SendSelector:   `button[aria-label*="Send"], button[type="submit"]`,
			ResultSelector: `message-content, [class*="response"]`,
		},
	}
}
