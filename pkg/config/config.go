package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Model          string  `yaml:"model"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
	CandidateCount int     `yaml:"candidate_count"`
	Language       string  `yaml:"language"`
	StreamBuffer   int     `yaml:"stream_buffer"`
}

type EmbedderConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type IndexConfig struct {
	Provider    string `yaml:"provider"`
	URL         string `yaml:"url"`
	Collection  string `yaml:"collection"`
	TablePrefix string `yaml:"table_prefix"`
}

type ProcessorConfig struct {
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      *int   `yaml:"chunk_overlap"` // nil means the default, 0 means none
	Splitter          string `yaml:"splitter"`
	FallbackChunkSize int    `yaml:"fallback_chunk_size"`
}

const defaultChunkOverlap = 50

func (p ProcessorConfig) Overlap() int {
	if p.ChunkOverlap == nil {
		return defaultChunkOverlap
	}
	return *p.ChunkOverlap
}

type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

type ScraperConfig struct {
	RateLimit      float64       `yaml:"rate_limit"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
	AllowPrivate   bool          `yaml:"allow_private"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type WatchConfig struct {
	Dir        string   `yaml:"dir"`
	OwnerID    string   `yaml:"owner_id"`
	Extensions []string `yaml:"extensions"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Watch     WatchConfig     `yaml:"watch"`
}

func LoadConfig(path string) (*Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/recall/config.yaml"),
			"/etc/recall/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

// Default returns a configuration with every default applied and no
// environment overrides.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "gemini"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.Model = "mistral"
		} else {
			config.LLM.Model = "gemini-1.5-flash"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2048
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.CandidateCount == 0 {
		config.LLM.CandidateCount = 1
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Language == "" {
		config.LLM.Language = "English"
	}
	if config.LLM.StreamBuffer == 0 {
		config.LLM.StreamBuffer = 16
	}

	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "bge-m3"
	}
	if config.Embedder.Dimension == 0 {
		config.Embedder.Dimension = 1024
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Database.MaxConns == 0 {
		config.Database.MaxConns = 10
	}

	if config.Index.Provider == "" {
		config.Index.Provider = "pgvector"
	}
	if config.Index.URL == "" {
		config.Index.URL = "http://localhost:8000"
	}
	if config.Index.Collection == "" {
		config.Index.Collection = "notes"
	}
	if config.Index.TablePrefix == "" {
		config.Index.TablePrefix = "fragments_"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 500
	}
	if config.Processor.ChunkOverlap == nil {
		overlap := defaultChunkOverlap
		config.Processor.ChunkOverlap = &overlap
	}
	if config.Processor.Splitter == "" {
		config.Processor.Splitter = "recursive"
	}
	if config.Processor.FallbackChunkSize == 0 {
		config.Processor.FallbackChunkSize = 500
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}
	if config.Retrieval.MaxContextChars == 0 {
		config.Retrieval.MaxContextChars = 8000
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "recall/1.0"
	}
	if config.Scraper.MaxBodyBytes == 0 {
		config.Scraper.MaxBodyBytes = 10 << 20
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{"*"}
	}
	if config.Server.TurnTimeout == 0 {
		config.Server.TurnTimeout = 5 * time.Minute
	}

	if config.Redis.LockTTL == 0 {
		config.Redis.LockTTL = 10 * time.Minute
	}

	if len(config.Watch.Extensions) == 0 {
		config.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx"}
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if chromaURL := os.Getenv("CHROMA_URL"); chromaURL != "" {
		config.Index.URL = chromaURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if secret := os.Getenv("RECALL_JWT_SECRET"); secret != "" {
		config.Server.JWTSecret = secret
	}
}
