package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads at startup.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Catalog CatalogConfig
	Agent   AgentConfig
	Session SessionConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	sessionCfg, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Catalog: loadCatalogConfig(),
		Agent:   agent,
		Session: sessionCfg,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the external chat/vision model.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stream      bool
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: set ARK_API_KEY + Model or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}, nil
}

// CatalogConfig points at the static product dataset and its image assets.
type CatalogConfig struct {
	Path     string
	ImageDir string
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:     getEnvOrDefault("CATALOG_PATH", "products.json"),
		ImageDir: getEnvOrDefault("IMAGE_DIR", "images"),
	}
}

// AgentConfig bounds the dialogue workflows.
type AgentConfig struct {
	ResultLimit   int
	MaxImageBytes int
	Timeout       time.Duration
	MaxRetries    int
}

func loadAgentConfig() (AgentConfig, error) {
	resultLimit := 3
	if override, err := parseOptionalIntEnv("AGENT_RESULT_LIMIT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		resultLimit = *override
	}

	maxImageBytes := 5 << 20
	if override, err := parseOptionalIntEnv("AGENT_MAX_IMAGE_BYTES"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		maxImageBytes = *override
	}

	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("AGENT_TIMEOUT_SECONDS"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		timeoutSeconds = *override
	}

	maxRetries := 2
	if override, err := parseOptionalIntEnv("AGENT_MAX_RETRIES"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override >= 0 {
		maxRetries = *override
	}

	return AgentConfig{
		ResultLimit:   resultLimit,
		MaxImageBytes: maxImageBytes,
		Timeout:       time.Duration(timeoutSeconds) * time.Second,
		MaxRetries:    maxRetries,
	}, nil
}

// SessionConfig sets the optional session cap and idle eviction policy.
// Both default to disabled; eviction is deployment policy, not a hidden
// default.
type SessionConfig struct {
	MaxCount int
	IdleTTL  time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	maxCount := 0
	if override, err := parseOptionalIntEnv("SESSION_MAX_COUNT"); err != nil {
		return SessionConfig{}, err
	} else if override != nil && *override > 0 {
		maxCount = *override
	}

	idleSeconds := 0
	if override, err := parseOptionalIntEnv("SESSION_IDLE_TTL_SECONDS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil && *override > 0 {
		idleSeconds = *override
	}

	return SessionConfig{
		MaxCount: maxCount,
		IdleTTL:  time.Duration(idleSeconds) * time.Second,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
