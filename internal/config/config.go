package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Model   ModelConfig   `mapstructure:"model"`
	Doubao  DoubaoConfig  `mapstructure:"doubao"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Qwen    QwenConfig    `mapstructure:"qwen"`
	Agent   AgentConfig   `mapstructure:"agent"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Media   MediaConfig   `mapstructure:"media"`
	Engines EnginesConfig `mapstructure:"engines"`
	Social  SocialConfig  `mapstructure:"social"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	MCP     MCPConfig     `mapstructure:"mcp"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// ModelConfig selects the chat model provider: doubao, openai or qwen.
type ModelConfig struct {
	Provider string `mapstructure:"provider"`
}

type DoubaoConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	ImageModel  string        `mapstructure:"image_model"`
	SpeechModel string        `mapstructure:"speech_model"`
	Voice       string        `mapstructure:"voice"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type QwenConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	TopP        float32       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Debug       bool          `mapstructure:"debug"`
}

type AgentConfig struct {
	SystemPrompt       string        `mapstructure:"system_prompt"`
	MaxHistoryMessages int           `mapstructure:"max_history_messages"`
	MaxSteps           int           `mapstructure:"max_steps"`
	StageTimeout       time.Duration `mapstructure:"stage_timeout"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout"`
	LogDetail          bool          `mapstructure:"log_detail"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StorageConfig struct {
	Type       string `mapstructure:"type"`
	DataDir    string `mapstructure:"data_dir"`
	DSN        string `mapstructure:"dsn"`
	CacheSize  int    `mapstructure:"cache_size"`
	BackupCron string `mapstructure:"backup_cron"`
}

// MediaConfig points at the media platform that stores, indexes and composes
// uploaded assets.
type MediaConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DownloadsDir string        `mapstructure:"downloads_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EnginesConfig struct {
	Kling       EngineConfig `mapstructure:"kling"`
	StabilityAI EngineConfig `mapstructure:"stabilityai"`
	ElevenLabs  EngineConfig `mapstructure:"elevenlabs"`
}

type SocialConfig struct {
	TikTok TikTokConfig `mapstructure:"tiktok"`
}

type TikTokConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientKey    string `mapstructure:"client_key"`
	ClientSecret string `mapstructure:"client_secret"`
	AccessToken  string `mapstructure:"access_token"`
}

type NotifyConfig struct {
	Slack   ChannelConfig `mapstructure:"slack"`
	Discord ChannelConfig `mapstructure:"discord"`
}

type ChannelConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

type MCPConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig describes one MCP server; transport is "sse" or "stdio".
type MCPServerConfig struct {
	Name      string   `mapstructure:"name"`
	Transport string   `mapstructure:"transport"`
	URL       string   `mapstructure:"url"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Env       []string `mapstructure:"env"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	applyEnvFallbacks(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg = c
	return cfg, nil
}

func Get() *Config {
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("model.provider", "doubao")
	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.max_history_messages", 50)
	v.SetDefault("agent.stage_timeout", 5*time.Minute)
	v.SetDefault("agent.turn_timeout", 30*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cleanup_interval", time.Hour)
	v.SetDefault("storage.type", "disk")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
	v.SetDefault("media.downloads_dir", "./downloads")
	v.SetDefault("media.timeout", 2*time.Minute)
	v.SetDefault("mcp.timeout", 30*time.Second)
}

// Values from the config file win; the bare environment variables fill the gaps.
func applyEnvFallbacks(c *Config) {
	fallback(&c.Doubao.APIKey, "DOUBAO_API_KEY", "ARK_API_KEY")
	fallback(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	fallback(&c.Qwen.APIKey, "DASHSCOPE_API_KEY", "QWEN_API_KEY")
	fallback(&c.Media.APIKey, "VIDEO_DB_API_KEY", "MEDIA_API_KEY")
	fallback(&c.Engines.Kling.APIKey, "KLING_API_KEY")
	fallback(&c.Engines.StabilityAI.APIKey, "STABILITYAI_API_KEY")
	fallback(&c.Engines.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	fallback(&c.Social.TikTok.ClientKey, "TIKTOK_CLIENT_KEY")
	fallback(&c.Social.TikTok.ClientSecret, "TIKTOK_CLIENT_SECRET")
	fallback(&c.Social.TikTok.AccessToken, "TIKTOK_ACCESS_TOKEN")
	fallback(&c.Notify.Slack.Token, "SLACK_BOT_TOKEN")
	fallback(&c.Notify.Discord.Token, "DISCORD_BOT_TOKEN")
}

func fallback(dst *string, keys ...string) {
	if *dst != "" {
		return
	}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "doubao", "openai", "qwen":
	default:
		return fmt.Errorf("unsupported model provider %q", c.Model.Provider)
	}
	switch c.Storage.Type {
	case "memory", "disk", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Agent.MaxSteps <= 0 {
		return errors.New("agent.max_steps must be positive")
	}
	for _, s := range c.MCP.Servers {
		if s.Name == "" {
			return errors.New("mcp server without name")
		}
		if s.Transport != "sse" && s.Transport != "stdio" {
			return fmt.Errorf("mcp server %s: unsupported transport %q", s.Name, s.Transport)
		}
	}
	return nil
}
