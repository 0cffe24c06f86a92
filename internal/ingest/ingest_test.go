package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/extract"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/summarize"
)

type fakeDocs struct {
	mu        sync.Mutex
	pending   []*domain.Document
	completed []string
	failed    []string
}

func (f *fakeDocs) CreateDocument(ctx context.Context, doc *domain.Document) error { return nil }
func (f *fakeDocs) GetDocument(ctx context.Context, projectID, id string) (*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) ListDocuments(ctx context.Context, projectID string) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) DeleteDocument(ctx context.Context, projectID, id string) error { return nil }

func (f *fakeDocs) LeaseBatch(ctx context.Context, batchSize int) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := batchSize
	if n > len(f.pending) {
		n = len(f.pending)
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeDocs) CompleteDocument(ctx context.Context, projectID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeDocs) FailDocument(ctx context.Context, projectID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

type fakeChunks struct {
	mu     sync.Mutex
	stored map[string][]*domain.Chunk
}

func (f *fakeChunks) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = make(map[string][]*domain.Chunk)
	}
	f.stored[documentID] = chunks
	return nil
}
func (f *fakeChunks) ListChunks(ctx context.Context, projectID, documentID string) ([]*domain.Chunk, error) {
	return nil, nil
}
func (f *fakeChunks) GetChunks(ctx context.Context, projectID string, chunkIDs []string) ([]*domain.Chunk, error) {
	return nil, nil
}
func (f *fakeChunks) DeleteChunksForDocument(ctx context.Context, projectID, documentID string) error {
	return nil
}

type fakeGraph struct {
	mu        sync.Mutex
	entities  []domain.Entity
	relations []domain.Relation
}

func (f *fakeGraph) UpsertEntities(ctx context.Context, projectID string, entities []domain.Entity, separator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities = append(f.entities, entities...)
	return nil
}

func (f *fakeGraph) UpsertRelation(ctx context.Context, projectID string, r domain.Relation, separator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relations = append(f.relations, r)
	return nil
}

type fakeVectors struct {
	mu          sync.Mutex
	chunkRows   []domain.VectorRow
	entityRows  []domain.VectorRow
	hasDocument map[string]bool
}

func (f *fakeVectors) UpsertChunks(ctx context.Context, projectID string, rows []domain.VectorRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkRows = append(f.chunkRows, rows...)
	return nil
}

func (f *fakeVectors) UpsertEntities(ctx context.Context, projectID string, rows []domain.VectorRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityRows = append(f.entityRows, rows...)
	return nil
}

func (f *fakeVectors) HasDocument(ctx context.Context, projectID, documentID string) (bool, error) {
	return f.hasDocument[documentID], nil
}

type fakeNamespace struct {
	mu      sync.Mutex
	created map[string]bool
}

func (f *fakeNamespace) Exists(ctx context.Context, projectID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[projectID], nil
}

func (f *fakeNamespace) Create(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		f.created = make(map[string]bool)
	}
	f.created[projectID] = true
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, model string, inputs []string) ([][]float32, llmclient.TokenUsage, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2}
	}
	return out, llmclient.TokenUsage{}, nil
}

type fakeExtractor struct {
	result extract.Result
	err    error
}

func (f fakeExtractor) Chunk(ctx context.Context, projectID string, chunk domain.Chunk, sourceFilePath string) (extract.Result, error) {
	return f.result, f.err
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, projectID, name string, descriptions []string) (summarize.Result, error) {
	joined := ""
	for i, d := range descriptions {
		if i > 0 {
			joined += " | "
		}
		joined += d
	}
	return summarize.Result{Description: joined}, nil
}

func baseScheduleConfig() config.ScheduleConfig {
	cfg := config.ScheduleConfig{Marking: 20 * time.Millisecond, Processing: 20 * time.Millisecond, BatchSize: 10}
	cfg.SetDefaults()
	return cfg
}

func baseEntityConfig() config.EntityConfig {
	cfg := config.EntityConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestRunDocumentChunksEmbedsExtractsAndCompletes(t *testing.T) {
	docs := &fakeDocs{}
	chunks := &fakeChunks{}
	graph := &fakeGraph{}
	vectors := &fakeVectors{hasDocument: map[string]bool{}}
	ns := &fakeNamespace{}
	extractor := fakeExtractor{result: extract.Result{
		Entities:  []domain.Entity{{Name: "Alice", Type: "PERSON", Description: "a person", SourceChunkIDs: []string{"x"}}},
		Relations: nil,
	}}

	sched := New(docs, chunks, graph, vectors, nil, ns, fakeEmbedder{}, "embed-model", extractor, fakeSummarizer{},
		baseScheduleConfig(), baseEntityConfig(), " | ", nil)

	doc := &domain.Document{ID: "d1", ProjectID: "p1", Type: domain.DocumentText, Content: "Alice lives in Springfield and works at a diner."}
	err := sched.runDocument(context.Background(), doc)
	require.NoError(t, err)

	assert.NotEmpty(t, chunks.stored["d1"])
	assert.NotEmpty(t, vectors.chunkRows)
	require.Len(t, graph.entities, 1)
	assert.Equal(t, "Alice", graph.entities[0].Name)
	assert.NotEmpty(t, vectors.entityRows)
	assert.True(t, ns.created["p1"])
}

func TestRunDocumentSkipsRecoveredDocument(t *testing.T) {
	docs := &fakeDocs{}
	chunks := &fakeChunks{}
	graph := &fakeGraph{}
	vectors := &fakeVectors{hasDocument: map[string]bool{"d1": true}}
	ns := &fakeNamespace{}
	extractor := fakeExtractor{}

	sched := New(docs, chunks, graph, vectors, nil, ns, fakeEmbedder{}, "m", extractor, fakeSummarizer{},
		baseScheduleConfig(), baseEntityConfig(), " | ", nil)

	doc := &domain.Document{ID: "d1", ProjectID: "p1", Content: "hello"}
	err := sched.runDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, chunks.stored)
}

func TestRunDocumentBinaryContentIsVacuousSuccess(t *testing.T) {
	docs := &fakeDocs{}
	chunks := &fakeChunks{}
	graph := &fakeGraph{}
	vectors := &fakeVectors{hasDocument: map[string]bool{}}
	ns := &fakeNamespace{}
	extractor := fakeExtractor{}

	sched := New(docs, chunks, graph, vectors, nil, ns, fakeEmbedder{}, "m", extractor, fakeSummarizer{},
		baseScheduleConfig(), baseEntityConfig(), " | ", nil)

	doc := &domain.Document{ID: "d2", ProjectID: "p1", FileName: "binary.exe", Content: "MZ\x00\x00\x00\x00"}
	err := sched.runDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, chunks.stored)
}

func TestRunDocumentPropagatesExtractionFailure(t *testing.T) {
	docs := &fakeDocs{}
	chunks := &fakeChunks{}
	graph := &fakeGraph{}
	vectors := &fakeVectors{hasDocument: map[string]bool{}}
	ns := &fakeNamespace{}
	extractor := fakeExtractor{err: assertErr{"boom"}}

	sched := New(docs, chunks, graph, vectors, nil, ns, fakeEmbedder{}, "m", extractor, fakeSummarizer{},
		baseScheduleConfig(), baseEntityConfig(), " | ", nil)

	doc := &domain.Document{ID: "d3", ProjectID: "p1", Content: "some prose content here"}
	err := sched.runDocument(context.Background(), doc)
	assert.Error(t, err)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestSchedulerMarksDocumentProcessedEndToEnd(t *testing.T) {
	docs := &fakeDocs{pending: []*domain.Document{
		{ID: "d1", ProjectID: "p1", Content: "Alice lives in Springfield."},
	}}
	chunks := &fakeChunks{}
	graph := &fakeGraph{}
	vectors := &fakeVectors{hasDocument: map[string]bool{}}
	ns := &fakeNamespace{}
	extractor := fakeExtractor{result: extract.Result{
		Entities: []domain.Entity{{Name: "Alice", Type: "PERSON", Description: "a person"}},
	}}

	sched := New(docs, chunks, graph, vectors, nil, ns, fakeEmbedder{}, "m", extractor, fakeSummarizer{},
		baseScheduleConfig(), baseEntityConfig(), " | ", nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))

	deadline := time.After(2 * time.Second)
	for {
		docs.mu.Lock()
		done := len(docs.completed) == 1
		docs.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("document was never marked processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	require.NoError(t, sched.Stop(time.Second))
	assert.Equal(t, "d1", docs.completed[0])
}
