// Command graphragctl is a small operator CLI exercising the core
// ingestion and query surface end to end: it wires the relational,
// graph, and vector stores from the environment and runs one of a
// handful of subcommands against a project.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"github.com/vasic-digital/graphrag-core/internal/blobstore"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/extract"
	"github.com/vasic-digital/graphrag-core/internal/graphstore"
	"github.com/vasic-digital/graphrag-core/internal/ingest"
	"github.com/vasic-digital/graphrag-core/internal/keyword"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/namespace"
	"github.com/vasic-digital/graphrag-core/internal/query"
	"github.com/vasic-digital/graphrag-core/internal/store"
	"github.com/vasic-digital/graphrag-core/internal/summarize"
	"github.com/vasic-digital/graphrag-core/internal/synth"
	"github.com/vasic-digital/graphrag-core/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Debug("could not load .env file")
		}
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	log := logrus.New()
	ctx := context.Background()

	var err error
	switch subcommand {
	case "ingest":
		err = runIngest(ctx, args, log)
	case "ingest-status":
		err = runIngestStatus(ctx, args, log)
	case "query":
		err = runQuery(ctx, args, log)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", subcommand)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: graphragctl <ingest|ingest-status|query> [flags]")
}

// runIngest archives one file's original bytes, registers it as a document,
// and runs the ingestion scheduler just long enough to process it.
func runIngest(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	projectID := fs.String("project", "", "project id")
	path := fs.String("file", "", "path to the file to ingest")
	docType := fs.String("type", string(domain.DocumentFile), "document type: FILE|TEXT|WEBSITE|CODE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" || *path == "" {
		return fmt.Errorf("-project and -file are required")
	}

	content, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	infra := loadInfraConfig()
	coreCfg := loadCoreConfig()

	docs, err := store.Open(ctx, coreCfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Endpoint: infra.MinioEndpoint, AccessKey: infra.MinioAccessKey,
		SecretKey: infra.MinioSecretKey, UseSSL: infra.MinioUseSSL, Bucket: infra.MinioBucket,
	}, log)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	driver, err := neo4j.NewDriverWithContext(infra.Neo4jURI, neo4j.BasicAuth(infra.Neo4jUser, infra.Neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("connect neo4j: %w", err)
	}
	defer driver.Close(ctx)
	ns := namespace.NewManager(driver)
	graph := graphstore.New(ns, 0, 0)

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host: infra.QdrantHost, Port: infra.QdrantPort, APIKey: infra.QdrantAPIKey, UseTLS: infra.QdrantUseTLS,
	})
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	vectors, err := vectorstore.New(ctx, qdrantClient, "graphrag_vectors", infra.VectorSize)
	if err != nil {
		return fmt.Errorf("open vector collection: %w", err)
	}

	provider := newOpenAICompatibleClient(infra.LLMBaseURL, infra.LLMAPIKey, infra.RequestTimeout)
	generator := &llmclient.RetryingGenerator{Inner: provider, ProjectID: *projectID}
	extractor := extract.New(generator, docs, extract.Config{
		Model: infra.LLMModel, MaxTokens: coreCfg.Entity.DescriptionMaxTokens, GleaningPasses: coreCfg.Extraction.GleaningMaxPasses,
	})
	summarizer := summarize.New(generator, docs, coreCfg.Description)

	scheduler := ingest.New(docs, docs, graph, vectors, blobs, ns, provider, infra.EmbedModel,
		extractor, summarizer, coreCfg.Schedule, coreCfg.Entity, "", log)

	doc := &domain.Document{
		ID: uuid.NewString(), ProjectID: *projectID, Type: domain.DocumentType(*docType),
		Status: domain.StatusNotProcessed, FileName: filepath.Base(*path), Content: string(content),
	}
	if err := docs.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	if err := blobs.Put(ctx, *projectID, doc.ID, bytes.NewReader(content), int64(len(content)), ""); err != nil {
		return fmt.Errorf("archive original bytes: %w", err)
	}

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop(30 * time.Second)

	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			got, err := docs.GetDocument(ctx, *projectID, doc.ID)
			if err != nil {
				return fmt.Errorf("poll document: %w", err)
			}
			if got.Status == domain.StatusProcessed {
				color.New(color.FgGreen, color.Bold).Printf("document %s processed\n", doc.ID)
				return nil
			}
		}
	}
}

func runIngestStatus(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("ingest-status", flag.ExitOnError)
	projectID := fs.String("project", "", "project id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID == "" {
		return fmt.Errorf("-project is required")
	}

	coreCfg := loadCoreConfig()
	docs, err := store.Open(ctx, coreCfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	documents, err := docs.ListDocuments(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	counts := map[string]int{}
	for _, d := range documents {
		counts[string(d.Status)]++
	}

	bold := color.New(color.Bold)
	bold.Printf("project %s: %d documents\n", *projectID, len(documents))
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	green.Printf("  processed:     %d\n", counts["PROCESSED"])
	yellow.Printf("  processing:    %d\n", counts["PROCESSING"])
	cyan.Printf("  not_processed: %d\n", counts["NOT_PROCESSED"])
	return nil
}

func runQuery(ctx context.Context, args []string, log *logrus.Logger) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	projectID := fs.String("project", "", "project id")
	question := fs.String("q", "", "question text")
	mode := fs.String("mode", string(query.ModeHybrid), "retrieval mode: LOCAL|GLOBAL|HYBRID|MIX|NAIVE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *question == "" {
		return fmt.Errorf("-q is required")
	}

	infra := loadInfraConfig()
	coreCfg := loadCoreConfig()

	docs, err := store.Open(ctx, coreCfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	driver, err := neo4j.NewDriverWithContext(infra.Neo4jURI, neo4j.BasicAuth(infra.Neo4jUser, infra.Neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("connect neo4j: %w", err)
	}
	defer driver.Close(ctx)
	ns := namespace.NewManager(driver)
	graph := graphstore.New(ns, 0, 0)

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   infra.QdrantHost,
		Port:   infra.QdrantPort,
		APIKey: infra.QdrantAPIKey,
		UseTLS: infra.QdrantUseTLS,
	})
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}
	vectors, err := vectorstore.New(ctx, qdrantClient, "graphrag_vectors", infra.VectorSize)
	if err != nil {
		return fmt.Errorf("open vector collection: %w", err)
	}

	provider := newOpenAICompatibleClient(infra.LLMBaseURL, infra.LLMAPIKey, infra.RequestTimeout)
	generator := &llmclient.RetryingGenerator{Inner: provider, ProjectID: *projectID}

	kwExtractor := keyword.New(generator, docs, infra.LLMModel, coreCfg.Keyword)
	executor := query.New(provider, infra.EmbedModel, vectors, graph, docs, docs, kwExtractor, coreCfg.Query)
	synthesizer := synth.New(generator, coreCfg.Synthesis)

	result, err := executor.Run(ctx, *projectID, *question, query.Mode(*mode))
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}

	response, err := synthesizer.Answer(ctx, *question, result.Context, result.Chunks)
	if err != nil {
		return fmt.Errorf("synthesize answer: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Println("Answer:")
	fmt.Println(response.Text)

	if len(response.Citations) > 0 {
		fmt.Println()
		color.New(color.Faint).Println("Sources:")
		for _, c := range response.Citations {
			fmt.Printf("  [%d] %s (doc %s, chunk %d)\n", c.Number, c.Label, c.DocumentID, c.ChunkIndex)
		}
	}

	log.WithFields(logrus.Fields{
		"tokens_used":   result.TokensUsed,
		"items_skipped": result.ItemsSkipped,
	}).Debug("query complete")
	return nil
}
