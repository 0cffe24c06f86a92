// Package config holds the recognized configuration as a struct-of-structs,
// one sub-struct per concern, each with a SetDefaults method instead of a
// package-wide default table. Loading config from the environment or a file
// is left to callers; this package only defines the shape the core
// consumes. cmd/graphragctl's loadInfraConfig and loadCoreConfig are the one
// place that actually reads the environment.
package config

import "time"

// Config aggregates every recognized tunable.
type Config struct {
	Extraction  ExtractionConfig
	Entity      EntityConfig
	Keyword     KeywordConfig
	Query       QueryConfig
	Graph       GraphConfig
	Rerank      RerankConfig
	Description DescriptionConfig
	Schedule    ScheduleConfig
	Storage     StorageConfig
	Synthesis   SynthesisConfig
}

// SetDefaults fills every zero-valued field across all sections.
func (c *Config) SetDefaults() {
	c.Extraction.SetDefaults()
	c.Entity.SetDefaults()
	c.Keyword.SetDefaults()
	c.Query.SetDefaults()
	c.Graph.SetDefaults()
	c.Rerank.SetDefaults()
	c.Description.SetDefaults()
	c.Schedule.SetDefaults()
	c.Storage.SetDefaults()
	c.Synthesis.SetDefaults()
}

// ExtractionConfig controls entity/relation extraction.
type ExtractionConfig struct {
	// GleaningMaxPasses is the number of follow-up "missed entities" LLM
	// calls run after the initial extraction pass.
	GleaningMaxPasses int
}

func (c *ExtractionConfig) SetDefaults() {
	if c.GleaningMaxPasses <= 0 {
		c.GleaningMaxPasses = 1
	}
}

// EntityConfig controls entity description/provenance bookkeeping.
type EntityConfig struct {
	DescriptionMaxTokens int
	MaxSourceIDs         int
}

func (c *EntityConfig) SetDefaults() {
	if c.DescriptionMaxTokens <= 0 {
		c.DescriptionMaxTokens = 500
	}
	if c.MaxSourceIDs <= 0 {
		c.MaxSourceIDs = 50
	}
}

// KeywordConfig controls query keyword extraction caching.
type KeywordConfig struct {
	CacheTTL time.Duration
}

func (c *KeywordConfig) SetDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 3600 * time.Second
	}
}

// QueryConfig controls the context-assembly token budget.
type QueryConfig struct {
	MaxContextTokens int
	EntityRatio      float64
	RelationRatio    float64
	ChunkRatio       float64
}

func (c *QueryConfig) SetDefaults() {
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 4000
	}
	if c.EntityRatio == 0 && c.RelationRatio == 0 && c.ChunkRatio == 0 {
		c.EntityRatio = 0.4
		c.RelationRatio = 0.3
		c.ChunkRatio = 0.3
	}
}

// GraphConfig controls graph-store batching.
type GraphConfig struct {
	BatchSize int
}

func (c *GraphConfig) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
}

// RerankConfig controls the reranker adapter.
type RerankConfig struct {
	Enabled          bool
	Provider         string
	MinScore         float64
	FallbackTimeout  time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *RerankConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "none"
	}
	if c.MinScore == 0 {
		c.MinScore = 0.1
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = 2000 * time.Millisecond
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// DescriptionConfig controls the map-reduce summarizer thresholds.
type DescriptionConfig struct {
	ForceSummaryCount  int
	SummaryContextSize int
	MaxMapIterations   int
	SummaryMaxTokens   int
	Separator          string
}

func (c *DescriptionConfig) SetDefaults() {
	if c.ForceSummaryCount <= 0 {
		c.ForceSummaryCount = 6
	}
	if c.SummaryContextSize <= 0 {
		c.SummaryContextSize = 10000
	}
	if c.MaxMapIterations <= 0 {
		c.MaxMapIterations = 3
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 500
	}
	if c.Separator == "" {
		c.Separator = " | "
	}
}

// ScheduleConfig controls the ingestion scheduler.
type ScheduleConfig struct {
	Marking    time.Duration
	Processing time.Duration
	BatchSize  int
}

func (c *ScheduleConfig) SetDefaults() {
	if c.Marking <= 0 {
		c.Marking = 5 * time.Second
	}
	if c.Processing <= 0 {
		c.Processing = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
}

// StorageConfig selects the relational backend implementation via a
// configuration-driven factory rather than runtime feature detection.
type StorageConfig struct {
	// Backend is "postgres" or "sqlite".
	Backend string
	DSN     string
}

func (c *StorageConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "postgres"
	}
}

// SynthesisConfig controls the final answer-generation call.
type SynthesisConfig struct {
	MaxTokens int
	Model     string
}

func (c *SynthesisConfig) SetDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
}
