package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

type Config struct {
	AppPort        int    `yaml:"app_port"`
	LogLevel       string `yaml:"log_level"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
}

type EmbeddingConfig struct {
	// Provider is one of azure, openai, tei or hash.
	Provider   string  `yaml:"provider"`
	APIKey     string  `yaml:"api_key"`
	Endpoint   string  `yaml:"endpoint"`
	Deployment string  `yaml:"deployment"`
	APIVersion string  `yaml:"api_version"`
	TEIURL     string  `yaml:"tei_url"`
	BatchSize  int     `yaml:"batch_size"`
	Dimension  int     `yaml:"dimension"`
	RPS        float64 `yaml:"requests_per_second"`
	MaxRetries int     `yaml:"max_retries"`
}

// LLMConfig is the chat deployment used for structured fact sheet
// extraction. Extraction is disabled while Deployment is empty.
type LLMConfig struct {
	// Provider is azure or openai.
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	Endpoint    string  `yaml:"endpoint"`
	Deployment  string  `yaml:"deployment"`
	APIVersion  string  `yaml:"api_version"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
}

func (c LLMConfig) Enabled() bool {
	return c.Deployment != ""
}

type IndexConfig struct {
	// Backend is memory or qdrant.
	Backend    string `yaml:"backend"`
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
}

type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

func Default() *Config {
	return &Config{
		AppPort:        8080,
		LogLevel:       "info",
		MaxUploadBytes: 20 << 20,
		Embedding: EmbeddingConfig{
			Provider:   "azure",
			APIVersion: "2024-02-01",
			BatchSize:  16,
			Dimension:  256,
			RPS:        5,
			MaxRetries: 5,
		},
		LLM: LLMConfig{
			Provider:   "azure",
			APIVersion: "2024-12-01-preview",
			MaxTokens:  1024,
			MaxRetries: 3,
		},
		Index: IndexConfig{
			Backend:    "memory",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE, or config.yaml when present) and environment variables, in
// that order. A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := Default()

	path, required := os.Getenv("CONFIG_FILE"), true
	if path == "" {
		path, required = defaultConfigFile, false
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			var n int
			n, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("environment variable %s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("APP_PORT", &c.AppPort)
	setString("LOG_LEVEL", &c.LogLevel)

	setString("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	setString("OPENAI_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	setString("OPENAI_EMBEDDING_ENDPOINT", &c.Embedding.Endpoint)
	setString("OPENAI_EMBEDDING_DEPLOYMENT", &c.Embedding.Deployment)
	setString("OPENAI_API_VERSION", &c.Embedding.APIVersion)
	setString("TEI_URL", &c.Embedding.TEIURL)
	setInt("EMBED_MAX_RETRIES", &c.Embedding.MaxRetries)

	setString("LLM_PROVIDER", &c.LLM.Provider)
	setString("OPENAI_API_KEY", &c.LLM.APIKey)
	setString("OPENAI_API_ENDPOINT", &c.LLM.Endpoint)
	setString("OPENAI_DEPLOYMENT_NAME", &c.LLM.Deployment)
	setString("OPENAI_API_VERSION", &c.LLM.APIVersion)
	setInt("EXTRACT_MAX_RETRIES", &c.LLM.MaxRetries)

	setString("INDEX_BACKEND", &c.Index.Backend)
	setString("QDRANT_HOST", &c.Index.QdrantHost)
	setInt("QDRANT_PORT", &c.Index.QdrantPort)

	setInt("CHUNK_SIZE", &c.Chunking.ChunkSize)
	setInt("CHUNK_OVERLAP", &c.Chunking.ChunkOverlap)

	if err != nil {
		return err
	}

	if v := os.Getenv("EMBED_RPS"); v != "" {
		rps, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return fmt.Errorf("environment variable EMBED_RPS: %w", perr)
		}
		c.Embedding.RPS = rps
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return fmt.Errorf("environment variable MAX_UPLOAD_BYTES: %w", perr)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.AppPort <= 0 || c.AppPort > 65535 {
		return fmt.Errorf("invalid app port %d", c.AppPort)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload bytes %d", c.MaxUploadBytes)
	}
	if c.Chunking.ChunkSize <= 0 || c.Chunking.ChunkOverlap < 0 ||
		c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("invalid chunking: size %d, overlap %d", c.Chunking.ChunkSize, c.Chunking.ChunkOverlap)
	}

	switch c.Embedding.Provider {
	case "azure":
		if c.Embedding.APIKey == "" || c.Embedding.Endpoint == "" || c.Embedding.Deployment == "" {
			return errors.New("azure embeddings need OPENAI_EMBEDDING_API_KEY, OPENAI_EMBEDDING_ENDPOINT and OPENAI_EMBEDDING_DEPLOYMENT")
		}
	case "openai":
		if c.Embedding.APIKey == "" {
			return errors.New("openai embeddings need OPENAI_EMBEDDING_API_KEY")
		}
	case "tei":
		if c.Embedding.TEIURL == "" {
			return errors.New("tei embeddings need TEI_URL")
		}
	case "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	if c.LLM.Enabled() {
		switch c.LLM.Provider {
		case "azure":
			if c.LLM.APIKey == "" || c.LLM.Endpoint == "" {
				return errors.New("azure chat model needs OPENAI_API_KEY and OPENAI_API_ENDPOINT")
			}
		case "openai":
			if c.LLM.APIKey == "" {
				return errors.New("openai chat model needs OPENAI_API_KEY")
			}
		default:
			return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
		}
		if c.LLM.MaxRetries <= 0 {
			return fmt.Errorf("invalid llm max retries %d", c.LLM.MaxRetries)
		}
	}

	switch c.Index.Backend {
	case "memory":
	case "qdrant":
		if c.Index.QdrantHost == "" || c.Index.QdrantPort <= 0 {
			return errors.New("qdrant backend needs QDRANT_HOST and QDRANT_PORT")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	return nil
}
