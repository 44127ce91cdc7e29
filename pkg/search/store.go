package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/philippgille/chromem-go"

	"github.com/arcana-forge/arcana/pkg/chunker"
)

// Search strategies.
const (
	StrategyVector  = "vector"
	StrategyKeyword = "keyword"
	StrategyHybrid  = "hybrid"
)

// Retrieval defaults and clamps.
const (
	DefaultTopK  = 5
	DefaultAlpha = 0.6
	DefaultRRFK  = 60

	MinTopK = 1
	MaxTopK = 10
)

const collectionName = "default"

// Store is the per-workspace hybrid retrieval index: a chromem dense
// vector collection and a bleve BM25 index colocated under the workspace
// storage root. Writes take the write lock so concurrent readers observe
// either the old or the new full record set of a source, never a mix.
type Store struct {
	mu       sync.RWMutex
	db       *chromem.DB
	vectors  *chromem.Collection
	keywords *keywordIndex
	embedder Embedder
	dim      int
	logger   hclog.Logger
}

// Config holds store configuration.
type Config struct {
	// VectorDir is the chromem persistence directory. Empty uses an
	// in-memory database (tests).
	VectorDir string

	// KeywordIndexPath is the bleve index path. Empty uses an in-memory
	// index (tests).
	KeywordIndexPath string

	// Embedder generates record and query vectors.
	Embedder Embedder

	// Dim is the previously recorded embedding dimension (0 = not yet
	// recorded; the first write sets it).
	Dim int

	Logger hclog.Logger
}

// Options control one search call.
type Options struct {
	TopK     int
	Alpha    float64
	RRFK     int
	Strategy string
}

// Result is one scored search hit.
type Result struct {
	Record chunker.Record
	Score  float64
}

// Stats reports the live index counters.
type Stats struct {
	ObjectCount int64
	VectorCount int64
	Dim         int
}

// Open opens (or creates) the hybrid store for a workspace.
func Open(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.VectorDir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.VectorDir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
	}

	embedder := cfg.Embedder
	embedOne := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return vecs[0], nil
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, embedOne)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector collection: %w", err)
	}

	keywords, err := openKeywordIndex(cfg.KeywordIndexPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:       db,
		vectors:  collection,
		keywords: keywords,
		embedder: cfg.Embedder,
		dim:      cfg.Dim,
		logger:   cfg.Logger.Named("hybrid-store"),
	}, nil
}

// Close releases the keyword index. The vector store needs no cleanup.
func (s *Store) Close() error {
	return s.keywords.close()
}

// Replace swaps all records of one source for the given set. New ids are
// upserted first, then pre-existing ids absent from the new set are
// deleted, so a reader never observes less than one complete set.
func (s *Store) Replace(ctx context.Context, sourceType, sourceID string, records []chunker.Record) error {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		}
		if err := s.checkDim(vectors); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldIDs, err := s.keywords.idsBySource(sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}

	newIDs := make(map[string]bool, len(records))
	keywordDocs := make(map[string]keywordDoc, len(records))

	for i, rec := range records {
		id := rec.ID()
		newIDs[id] = true

		metadata, err := rec.Metadata()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
		}

		// chromem has no upsert; delete-then-add under the write lock.
		_ = s.vectors.Delete(ctx, nil, nil, id)
		if err := s.vectors.AddDocument(ctx, chromem.Document{
			ID:        id,
			Content:   rec.Text,
			Embedding: vectors[i],
			Metadata:  metadata,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
		}

		keywordDocs[id] = keywordDoc{
			SourceType: rec.SourceType,
			SourceID:   rec.SourceID,
			ChunkOrd:   rec.ChunkOrd,
			Title:      rec.Title,
			URL:        rec.URL,
			Text:       rec.Text,
		}
	}

	if err := s.keywords.indexBatch(keywordDocs); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}

	var stale []string
	for _, id := range oldIDs {
		if !newIDs[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.vectors.Delete(ctx, nil, nil, stale...); err != nil {
			return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
		}
		if err := s.keywords.deleteBatch(stale); err != nil {
			return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
		}
	}

	s.logger.Debug("replaced source records",
		"source_type", sourceType,
		"source_id", sourceID,
		"records", len(records),
		"removed_stale", len(stale),
	)

	return nil
}

// DeleteBySource removes every record of one source from both indices.
func (s *Store) DeleteBySource(ctx context.Context, sourceType, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.keywords.idsBySource(sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}
	return s.deleteIDs(ctx, ids)
}

// DeleteBySourceType removes every record of one source type. Used by
// disconnect flows.
func (s *Store) DeleteBySourceType(ctx context.Context, sourceType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.keywords.idsBySourceType(sourceType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}
	return s.deleteIDs(ctx, ids)
}

func (s *Store) deleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.vectors.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}
	if err := s.keywords.deleteBatch(ids); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexWriteFailed, err)
	}
	return nil
}

// Search runs retrieval with the given options, applying defaults and
// clamps: k in [1,10], alpha in (0,1].
func (s *Store) Search(ctx context.Context, queryText string, opts Options) ([]Result, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	k := opts.TopK
	if k == 0 {
		k = DefaultTopK
	}
	if k < MinTopK {
		k = MinTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	alpha := opts.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha > 1 {
		alpha = 1
	}
	if alpha < 0 {
		return nil, fmt.Errorf("alpha must be in (0, 1], got %v", opts.Alpha)
	}

	rrfK := opts.RRFK
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch strategy {
	case StrategyVector:
		hits, err := s.vectorSearch(ctx, queryText, k)
		if err != nil {
			return nil, err
		}
		return s.collectResults(ctx, hits, nil), nil

	case StrategyKeyword:
		hits, err := s.keywords.search(ctx, queryText, k)
		if err != nil {
			return nil, err
		}
		return s.collectResults(ctx, nil, hits), nil

	case StrategyHybrid:
		// Oversample both lists to give RRF room.
		oversample := int(math.Ceil(float64(k) / alpha))
		if oversample < k {
			oversample = k
		}

		vectorHits, err := s.vectorSearch(ctx, queryText, oversample)
		if err != nil {
			return nil, err
		}
		keywordHits, err := s.keywords.search(ctx, queryText, oversample)
		if err != nil {
			return nil, err
		}

		vectorIDs := make([]string, len(vectorHits))
		for i, h := range vectorHits {
			vectorIDs[i] = h.ID
		}
		keywordIDs := make([]string, len(keywordHits))
		for i, h := range keywordHits {
			keywordIDs[i] = h.ID
		}

		fused := reciprocalRankFusion(vectorIDs, keywordIDs, alpha, rrfK)
		if len(fused) > k {
			fused = fused[:k]
		}

		byID := make(map[string]chromem.Result, len(vectorHits))
		for _, h := range vectorHits {
			byID[h.ID] = h
		}
		kwByID := make(map[string]keywordHit, len(keywordHits))
		for _, h := range keywordHits {
			kwByID[h.ID] = h
		}

		results := make([]Result, 0, len(fused))
		for _, f := range fused {
			rec, ok := s.recordForID(ctx, f.id, byID, kwByID)
			if !ok {
				continue
			}
			results = append(results, Result{Record: rec, Score: f.score})
		}
		return results, nil

	default:
		return nil, fmt.Errorf("unknown search strategy %q", strategy)
	}
}

// Stats reports live counters for the index metadata row.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vectorCount := int64(s.vectors.Count())

	ids, err := s.keywords.allIDs()
	if err != nil {
		return Stats{}, err
	}
	sources := make(map[string]bool)
	for _, id := range ids {
		// ids have the form {source_type}:{source_id}:{chunk_ord}.
		if i := strings.LastIndex(id, ":"); i > 0 {
			sources[id[:i]] = true
		}
	}

	return Stats{
		ObjectCount: int64(len(sources)),
		VectorCount: vectorCount,
		Dim:         s.dim,
	}, nil
}

// vectorSearch embeds the query and runs dense similarity search. The
// requested size is clamped to the collection size; an empty collection
// returns no hits.
func (s *Store) vectorSearch(ctx context.Context, queryText string, n int) ([]chromem.Result, error) {
	count := s.vectors.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}

	vecs, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	hits, err := s.vectors.QueryEmbedding(ctx, vecs[0], n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

// collectResults converts single-strategy hits to results, scored by
// their native similarity/BM25 score.
func (s *Store) collectResults(ctx context.Context, vectorHits []chromem.Result, keywordHits []keywordHit) []Result {
	results := make([]Result, 0, len(vectorHits)+len(keywordHits))

	for _, h := range vectorHits {
		rec, ok := s.recordFromVector(h)
		if !ok {
			continue
		}
		results = append(results, Result{Record: rec, Score: float64(h.Similarity)})
	}
	for _, h := range keywordHits {
		results = append(results, Result{Record: recordFromKeyword(h), Score: h.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.SourceID < results[j].Record.SourceID
	})

	return results
}

// recordForID materializes the full record for a fused hit, preferring
// the vector side (which carries the structural metadata).
func (s *Store) recordForID(ctx context.Context, id string, vecHits map[string]chromem.Result, kwHits map[string]keywordHit) (chunker.Record, bool) {
	if h, ok := vecHits[id]; ok {
		return s.recordFromVector(h)
	}
	if h, ok := kwHits[id]; ok {
		return recordFromKeyword(h), true
	}
	// Hit came from one list but was evicted since; fetch directly.
	doc, err := s.vectors.GetByID(ctx, id)
	if err != nil {
		return chunker.Record{}, false
	}
	rec, err := chunker.DecodeMetadata(doc.Metadata)
	if err != nil {
		return chunker.Record{}, false
	}
	rec.Text = doc.Content
	return *rec, true
}

func (s *Store) recordFromVector(h chromem.Result) (chunker.Record, bool) {
	rec, err := chunker.DecodeMetadata(h.Metadata)
	if err != nil {
		s.logger.Warn("dropping hit with undecodable metadata", "id", h.ID, "error", err)
		return chunker.Record{}, false
	}
	rec.Text = h.Content
	return *rec, true
}

func recordFromKeyword(h keywordHit) chunker.Record {
	return chunker.Record{
		SourceType: h.Doc.SourceType,
		SourceID:   h.Doc.SourceID,
		ChunkOrd:   h.Doc.ChunkOrd,
		Title:      h.Doc.Title,
		URL:        h.Doc.URL,
		Text:       h.Doc.Text,
	}
}

// checkDim records the embedding dimension on first write and rejects
// writes of a different dimension afterwards.
func (s *Store) checkDim(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	got := len(vectors[0])
	for _, v := range vectors {
		if len(v) != got {
			return fmt.Errorf("%w: inconsistent vector sizes %d and %d", ErrDimMismatch, got, len(v))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = got
		return nil
	}
	if s.dim != got {
		return fmt.Errorf("%w: index has dimension %d, write has %d", ErrDimMismatch, s.dim, got)
	}
	return nil
}
