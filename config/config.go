// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ollacode/ollacode/diff"
	"github.com/ollacode/ollacode/unifiedllm"
)

// Config holds all application configuration.
type Config struct {
	OllamaHost       string
	Model            string
	ToolProtocol     string // "native" or "text"
	WorkspaceDir     string
	MaxContextTokens int
	CompactMode      bool
	CommandTimeout   time.Duration
	Match            diff.MatchOptions

	Telegram TelegramConfig

	// AuditDB is the SQLite file for the tool audit trail; empty disables it.
	AuditDB string
	// DataDir holds logs. Defaults to <workspace>/.ollacode.
	DataDir  string
	LogLevel string
	Debug    bool
}

// TelegramConfig configures the Telegram front end.
type TelegramConfig struct {
	Token string
	// AllowedUsers restricts the bot to these user ids; empty allows everyone.
	AllowedUsers []int64
}

// Load reads a .env file from the working directory, if present, and then
// configuration from environment variables. Variables already set in the
// environment take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() (*Config, error) {
	allowed, err := parseUserIDs(getEnv("TELEGRAM_ALLOWED_USERS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: TELEGRAM_ALLOWED_USERS: %w", err)
	}

	cfg := &Config{
		OllamaHost:       strings.TrimRight(getEnv("OLLAMA_HOST", unifiedllm.DefaultOllamaHost), "/"),
		Model:            getEnv("OLLAMA_MODEL", "qwen3-coder:30b"),
		ToolProtocol:     strings.ToLower(getEnv("TOOL_PROTOCOL", "")),
		WorkspaceDir:     getEnv("WORKSPACE_DIR", "."),
		MaxContextTokens: getEnvInt("MAX_CONTEXT_TOKENS", 8192),
		CompactMode:      getEnvBool("COMPACT_MODE", true),
		CommandTimeout:   time.Duration(getEnvInt("COMMAND_TIMEOUT_SECONDS", 60)) * time.Second,
		Match: diff.MatchOptions{
			Fuzzy:              getEnvBool("FUZZY_MATCH", true),
			CollapseWhitespace: getEnvBool("FUZZY_COLLAPSE_WHITESPACE", true),
			MaxFuzzyLines:      getEnvInt("FUZZY_MAX_LINES", 200),
		},
		Telegram: TelegramConfig{
			Token:        getEnv("TELEGRAM_BOT_TOKEN", ""),
			AllowedUsers: allowed,
		},
		AuditDB:  getEnv("AUDIT_DB", ""),
		DataDir:  getEnv("DATA_DIR", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnvBool("DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all configuration fields are usable.
func (c *Config) Validate() error {
	if c.OllamaHost == "" {
		return fmt.Errorf("OLLAMA_HOST cannot be empty")
	}
	if !strings.HasPrefix(c.OllamaHost, "http://") && !strings.HasPrefix(c.OllamaHost, "https://") {
		return fmt.Errorf("OLLAMA_HOST must be an http(s) URL, got %q", c.OllamaHost)
	}
	if c.Model == "" {
		return fmt.Errorf("OLLAMA_MODEL cannot be empty")
	}
	switch c.ToolProtocol {
	case "", unifiedllm.ToolProtocolNative, unifiedllm.ToolProtocolText:
	default:
		return fmt.Errorf("TOOL_PROTOCOL must be %q or %q, got %q",
			unifiedllm.ToolProtocolNative, unifiedllm.ToolProtocolText, c.ToolProtocol)
	}
	if c.WorkspaceDir == "" {
		return fmt.Errorf("WORKSPACE_DIR cannot be empty")
	}
	if c.MaxContextTokens < 1024 {
		return fmt.Errorf("MAX_CONTEXT_TOKENS must be >= 1024")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT_SECONDS must be > 0")
	}
	if c.Match.MaxFuzzyLines <= 0 {
		return fmt.Errorf("FUZZY_MAX_LINES must be > 0")
	}
	return nil
}

// ResolvedDataDir returns DataDir, defaulting to .ollacode in the workspace.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(c.WorkspaceDir, ".ollacode")
}

// UserAllowed reports whether a Telegram user may use the bot.
func (c TelegramConfig) UserAllowed(id int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, allowed := range c.AllowedUsers {
		if allowed == id {
			return true
		}
	}
	return false
}

func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a user id", field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
