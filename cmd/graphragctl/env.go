package main

import (
	"os"
	"strconv"
	"time"

	"github.com/vasic-digital/graphrag-core/internal/config"
)

// infraConfig holds the connection details for the backing stores and the
// LLM-compatible endpoint, none of which internal/config models — those
// are external-collaborator concerns, left for this entrypoint to read
// from the environment rather than for the core to own.
type infraConfig struct {
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool
	VectorSize   uint64

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	EmbedModel     string
	RequestTimeout time.Duration
}

func loadInfraConfig() infraConfig {
	return infraConfig{
		Neo4jURI:      getenv("GRAPHRAG_NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:     getenv("GRAPHRAG_NEO4J_USER", "neo4j"),
		Neo4jPassword: getenv("GRAPHRAG_NEO4J_PASSWORD", ""),

		QdrantHost:   getenv("GRAPHRAG_QDRANT_HOST", "localhost"),
		QdrantPort:   getenvInt("GRAPHRAG_QDRANT_PORT", 6334),
		QdrantAPIKey: getenv("GRAPHRAG_QDRANT_APIKEY", ""),
		QdrantUseTLS: getenvBool("GRAPHRAG_QDRANT_TLS", false),
		VectorSize:   uint64(getenvInt("GRAPHRAG_VECTOR_SIZE", 1536)),

		MinioEndpoint:  getenv("GRAPHRAG_MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getenv("GRAPHRAG_MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("GRAPHRAG_MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getenvBool("GRAPHRAG_MINIO_SSL", false),
		MinioBucket:    getenv("GRAPHRAG_MINIO_BUCKET", "graphrag-documents"),

		LLMBaseURL:     getenv("GRAPHRAG_LLM_BASE_URL", "http://localhost:8080/v1"),
		LLMAPIKey:      getenv("GRAPHRAG_LLM_API_KEY", ""),
		LLMModel:       getenv("GRAPHRAG_LLM_MODEL", "gpt-4o-mini"),
		EmbedModel:     getenv("GRAPHRAG_EMBED_MODEL", "text-embedding-3-small"),
		RequestTimeout: time.Duration(getenvInt("GRAPHRAG_LLM_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

// loadCoreConfig reads the storage backend and DSN from the environment;
// every other config.Config tunable takes its SetDefaults value.
func loadCoreConfig() config.Config {
	var cfg config.Config
	cfg.Storage.Backend = getenv("GRAPHRAG_STORAGE_BACKEND", "postgres")
	cfg.Storage.DSN = getenv("GRAPHRAG_STORAGE_DSN", "")
	cfg.SetDefaults()
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
