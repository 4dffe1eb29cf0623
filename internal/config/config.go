package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv   = "DIET_DIARY_CONFIG"
	dbPathEnv       = "DIET_DIARY_DB_PATH"
	logLevelEnv     = "DIET_DIARY_LOG_LEVEL"
	geminiAPIKeyEnv = "GEMINI_API_KEY"
	geminiModelEnv  = "GEMINI_MODEL"
)

// DefaultPrompt asks the model for one standard food name plus two search terms.
const DefaultPrompt = `너는 전문 영양사야. 사진 속 음식을 보고 한국 식품안전관리인증원 DB에 검색하기 가장 좋은 표준 명칭으로 대답해줘. 예를 들어 '돈가스'보다는 '돈까스', '제육'보다는 '제육볶음'이라고 대답해
이 사진의 음식을 분석해서:
1. 가장 가능성 높은 이름 1개
2. 검색에 도움될만한 연관 키워드 2개
를 쉼표로 구분해서 한글로만 알려줘. (예: 돈까스, 고기튀김, 커틀릿)`

// Config holds high-level settings required across the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Session     SessionConfig     `yaml:"session"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr joins host and port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RecognitionConfig defines how to contact the Gemini generateContent API.
type RecognitionConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"apiKey"`
	Prompt   string        `yaml:"prompt"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration from path (or $DIET_DIARY_CONFIG when path is
// empty) over the defaults and applies environment overrides. A missing path
// is not an error; an unreadable or malformed file is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dbPathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Recognition.APIKey = v
	}
	if v := os.Getenv(geminiModelEnv); v != "" {
		c.Recognition.Model = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Server.Host != "" {
		base.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		base.Server.Port = override.Server.Port
	}

	if override.Database.Path != "" {
		base.Database.Path = override.Database.Path
	}

	if override.Recognition.Endpoint != "" {
		base.Recognition.Endpoint = override.Recognition.Endpoint
	}
	if override.Recognition.Model != "" {
		base.Recognition.Model = override.Recognition.Model
	}
	if override.Recognition.APIKey != "" {
		base.Recognition.APIKey = override.Recognition.APIKey
	}
	if override.Recognition.Prompt != "" {
		base.Recognition.Prompt = override.Recognition.Prompt
	}
	if override.Recognition.Timeout > 0 {
		base.Recognition.Timeout = override.Recognition.Timeout
	}

	if override.Session.TTL > 0 {
		base.Session.TTL = override.Session.TTL
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8011},
		Database: DatabaseConfig{Path: "diet_diary.db"},
		Recognition: RecognitionConfig{
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
			Model:    "gemini-flash-latest",
			Prompt:   DefaultPrompt,
			Timeout:  60 * time.Second,
		},
		Session: SessionConfig{TTL: 12 * time.Hour},
		Logging: LoggingConfig{Level: "info"},
	}
}
