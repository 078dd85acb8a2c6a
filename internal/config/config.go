package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Agent   AgentConfig   `mapstructure:"agent"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Client  ClientConfig  `mapstructure:"client"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// LLMConfig 模型提供方配置，provider 可选 groq / openai / ark / qwen
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	ChatModel       string        `mapstructure:"chat_model"`
	PlaygroundModel string        `mapstructure:"playground_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float32       `mapstructure:"temperature"`
	TopP            float32       `mapstructure:"top_p"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DebugRequest    bool          `mapstructure:"debug_request"`
	Models          []ModelOption `mapstructure:"models"`
}

type ModelOption struct {
	ID   string `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
}

type AgentConfig struct {
	SystemPrompt       string `mapstructure:"system_prompt"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages"`
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
	Type           string        `mapstructure:"type"`
	DataDir        string        `mapstructure:"data_dir"`
	CacheSize      int           `mapstructure:"cache_size"`
	BackupInterval time.Duration `mapstructure:"backup_interval"`
	BackupKeep     int           `mapstructure:"backup_keep"`
}

// ClientConfig chatctl 使用的客户端配置
type ClientConfig struct {
	BackendURL     string              `mapstructure:"backend_url"`
	Model          string              `mapstructure:"model"`
	RequestTimeout time.Duration       `mapstructure:"request_timeout"`
	ExportDir      string              `mapstructure:"export_dir"`
	Storage        ClientStorageConfig `mapstructure:"storage"`
	Stream         StreamConfig        `mapstructure:"stream"`
	Voice          VoiceConfig         `mapstructure:"voice"`
}

type ClientStorageConfig struct {
	Type string `mapstructure:"type"` // memory / file / sqlite
	Path string `mapstructure:"path"`
}

type StreamConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type VoiceConfig struct {
	SilenceThreshold float64       `mapstructure:"silence_threshold"`
	SilenceTimeout   time.Duration `mapstructure:"silence_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RestartDelay     time.Duration `mapstructure:"restart_delay"`
	CaptureCommand   []string      `mapstructure:"capture_command"`
	RecognizeCommand []string      `mapstructure:"recognize_command"`
	SpeakCommand     []string      `mapstructure:"speak_command"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.chat_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.playground_model", "llama3-8b-8192")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization"})
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cleanup_interval", time.Hour)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
	v.SetDefault("storage.backup_keep", 5)

	v.SetDefault("client.backend_url", "http://localhost:10000")
	v.SetDefault("client.model", "llama-3.3-70b-versatile")
	v.SetDefault("client.request_timeout", 2*time.Minute)
	v.SetDefault("client.export_dir", ".")
	v.SetDefault("client.storage.type", "file")
	v.SetDefault("client.storage.path", ".chatdeck/session.json")
	v.SetDefault("client.stream.min_delay", 10*time.Millisecond)
	v.SetDefault("client.stream.max_delay", 40*time.Millisecond)
	v.SetDefault("client.voice.silence_threshold", 10.0)
	v.SetDefault("client.voice.silence_timeout", 3*time.Second)
	v.SetDefault("client.voice.poll_interval", 16*time.Millisecond)
	v.SetDefault("client.voice.restart_delay", 500*time.Millisecond)
}

// Load 读取配置文件；configPath 为空或文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	// 配置文件优先，如果配置文件中没有设置，则使用环境变量
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "ark":
			c.LLM.APIKey = os.Getenv("ARK_API_KEY")
		case "qwen":
			c.LLM.APIKey = os.Getenv("DASHSCOPE_API_KEY")
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			c.LLM.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}

	if len(c.LLM.Models) == 0 {
		c.LLM.Models = DefaultModels()
	}

	cfg = c
	return c, nil
}

func Get() *Config {
	return cfg
}

// DefaultModels 前端可选的模型列表
func DefaultModels() []ModelOption {
	return []ModelOption{
		{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile"},
		{ID: "qwen/qwen3-32b", Name: "Qwen 3 32B"},
		{ID: "mistral-saba-24b", Name: "Mistral Saba 24B"},
		{ID: "llama3-70b-8192", Name: "Llama 3 70B"},
		{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant"},
		{ID: "deepseek-r1-distill-llama-70b", Name: "DeepSeek R1 70B"},
		{ID: "meta-llama/llama-4-maverick-17b-128e-instruct", Name: "Llama 4 Maverick 17B"},
	}
}
