package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"

	// MaxLLMRetries は LLM_MAX_RETRIES と LLM_JSON_MAX_RETRIES の上限
	MaxLLMRetries = 10
)

type Config struct {
	// LLM provider
	LLMProvider        string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiEndpoint     string
	AnthropicAuthToken string
	AnthropicBaseURL   string
	AnthropicModel     string

	// リトライ設定
	LLMMaxRetries     int
	LLMJSONMaxRetries int
	LLMDegradeOnFatal bool

	// 生成プロファイル設定
	TextMaxTokens   int
	JSONMaxTokens   int
	TextTemperature float64
	JSONTemperature float64
	TopP            float64
	TopK            int

	// ストレージ設定
	StorageBackend string
	RedisURL       string
	RedisPrefix    string
	SQLitePath     string

	// タグ辞書設定
	TagCacheTTL       time.Duration
	TagDictionaryFile string

	// 自動タグ付け用のポートフォリオプレビュー
	PortfolioPreview bool

	// Slack alerts
	SlackBotToken       string
	SlackChannelID      string
	SlackErrorChannelID string
}

// LoadEnvironment loads the .env file at envPath, or data/.env when envPath is empty.
// A missing file is not fatal: on Cloud Run everything comes from the environment.
func LoadEnvironment(envPath string) {
	if envPath == "" {
		envPath = getFilePath(".env")
	}

	if err := godotenv.Load(envPath); err != nil {
		log.Printf(".envファイルが見つかりません（環境変数のみ使用）: %s", envPath)
		return
	}
	log.Printf(".envファイル読み込み成功: %s", envPath)
}

func LoadConfig() *Config {
	return &Config{
		LLMProvider:        stringWithDefault(os.Getenv("LLM_PROVIDER"), ProviderGemini),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        stringWithDefault(os.Getenv("GEMINI_MODEL"), "gemini-2.5-flash"),
		GeminiEndpoint:     os.Getenv("GEMINI_ENDPOINT"),
		AnthropicAuthToken: os.Getenv("ANTHROPIC_AUTH_TOKEN"),
		AnthropicBaseURL:   os.Getenv("ANTHROPIC_BASE_URL"),
		AnthropicModel:     os.Getenv("ANTHROPIC_DEFAULT_MODEL"),

		LLMMaxRetries:     clampInt(parseIntWithDefault(os.Getenv("LLM_MAX_RETRIES"), 3), 0, MaxLLMRetries),
		LLMJSONMaxRetries: clampInt(parseIntWithDefault(os.Getenv("LLM_JSON_MAX_RETRIES"), 3), 0, MaxLLMRetries),
		LLMDegradeOnFatal: parseBool(os.Getenv("LLM_DEGRADE_ON_FATAL"), false),

		TextMaxTokens:   parseIntWithDefault(os.Getenv("LLM_TEXT_MAX_TOKENS"), 2048),
		JSONMaxTokens:   parseIntWithDefault(os.Getenv("LLM_JSON_MAX_TOKENS"), 4096),
		TextTemperature: parseFloatWithDefault(os.Getenv("LLM_TEXT_TEMPERATURE"), 0.4),
		JSONTemperature: parseFloatWithDefault(os.Getenv("LLM_JSON_TEMPERATURE"), 0.2),
		TopP:            parseFloatWithDefault(os.Getenv("LLM_TOP_P"), 0.8),
		TopK:            parseIntWithDefault(os.Getenv("LLM_TOP_K"), 40),

		StorageBackend: stringWithDefault(os.Getenv("STORAGE_BACKEND"), StorageMemory),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPrefix:    stringWithDefault(os.Getenv("REDIS_PREFIX"), DefaultRedisPrefix),
		SQLitePath:     stringWithDefault(os.Getenv("SQLITE_PATH"), DefaultSQLiteFile),

		TagCacheTTL:       time.Duration(parseIntWithDefault(os.Getenv("TAG_CACHE_TTL_MINUTES"), 5)) * time.Minute,
		TagDictionaryFile: stringWithDefault(os.Getenv("TAG_DICTIONARY_FILE"), TagDictionaryFileName),

		PortfolioPreview: parseBool(os.Getenv("PORTFOLIO_PREVIEW"), false),

		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:      os.Getenv("SLACK_CHANNEL_ID"),
		SlackErrorChannelID: os.Getenv("SLACK_ERROR_CHANNEL_ID"),
	}
}

func stringWithDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBool(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func parseIntWithDefault(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func clampInt(value, lo, hi int) int {
	return min(max(value, lo), hi)
}

func parseFloatWithDefault(value string, defaultValue float64) float64 {
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// ResolveDataPath returns name unchanged when it is absolute or names a
// directory, and otherwise locates it in the data directory.
func ResolveDataPath(name string) string {
	if filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}
	return getFilePath(name)
}

// getFilePath prefers data/<filename> in the working directory and falls back
// to the data/ directory next to the executable.
func getFilePath(filename string) string {
	localPath := filepath.Join("data", filename)
	if _, err := os.Stat(localPath); err == nil {
		return localPath
	}

	exePath, err := os.Executable()
	if err != nil {
		return localPath
	}
	return filepath.Join(filepath.Dir(exePath), "data", filename)
}
