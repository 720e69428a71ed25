package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL        string  `yaml:"base_url"`
		Model          string  `yaml:"model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
		SystemTemplate string  `yaml:"system_template"`
	} `yaml:"llm"`

	Embedding struct {
		BaseURL       string `yaml:"base_url"`
		Model         string `yaml:"model"`
		Dimension     int    `yaml:"dimension"`
		QueryPrefix   string `yaml:"query_prefix"`
		PassagePrefix string `yaml:"passage_prefix"`
		Normalize     bool   `yaml:"normalize"`
		CacheSize     int    `yaml:"cache_size"`
	} `yaml:"embedding"`

	Database struct {
		URL       string `yaml:"url"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Chunker struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"chunker"`

	Search struct {
		TopK int `yaml:"top_k"`
	} `yaml:"search"`

	Server struct {
		Port       int    `yaml:"port"`
		APIKey     string `yaml:"api_key"`
		RequireKey bool   `yaml:"require_key"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/sift/config.yaml"),
			"/etc/sift/config.yaml",
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
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.CacheSize == 0 {
		config.Embedding.CacheSize = 10000
	}

	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 800
	}
	if config.Chunker.ChunkOverlap == 0 {
		config.Chunker.ChunkOverlap = 100
	}

	if config.Search.TopK == 0 {
		config.Search.TopK = 5
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedding.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := os.Getenv("SIFT_API_KEY"); key != "" {
		config.Server.APIKey = key
		config.Server.RequireKey = true
	}
}
