package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "API key is required for the gemini provider (set GEMINI_API_KEY)",
			})
		}
	case "ollama":
		if !validURL(c.LLM.BaseURL) {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.CandidateCount != 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.candidate_count",
			Message: "candidate_count must be 1",
		})
	}

	if c.LLM.StreamBuffer < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.stream_buffer",
			Message: "stream_buffer must be positive",
		})
	}

	// Validate Embedder config
	if !validURL(c.Embedder.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid embedder base URL",
		})
	}

	if c.Embedder.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	// Validate Index config
	switch c.Index.Provider {
	case "pgvector", "memory":
	case "chroma":
		if !validURL(c.Index.URL) {
			errors = append(errors, ValidationError{
				Field:   "index.url",
				Message: "invalid Chroma URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "index.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.Index.Provider),
		})
	}

	if !collectionPattern(c.Index.Collection) {
		errors = append(errors, ValidationError{
			Field:   "index.collection",
			Message: "collection must contain only lowercase letters, digits and underscores",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if overlap := c.Processor.Overlap(); overlap < 0 || overlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Processor.Splitter != "recursive" && c.Processor.Splitter != "fixed" {
		errors = append(errors, ValidationError{
			Field:   "processor.splitter",
			Message: "splitter must be recursive or fixed",
		})
	}

	if c.Processor.FallbackChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.fallback_chunk_size",
			Message: "fallback_chunk_size must be positive",
		})
	}

	// Validate Retrieval config
	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	// Validate Scraper config
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	// Validate watch extensions format
	for _, ext := range c.Watch.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errors = append(errors, ValidationError{
				Field:   "watch.extensions",
				Message: fmt.Sprintf("invalid extension format: %s", ext),
			})
		}
	}

	return errors
}

func collectionPattern(name string) bool {
	if name == "" || len(name) > 48 {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
