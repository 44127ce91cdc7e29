package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcana-forge/arcana/pkg/chunker"
)

// hashEmbedder is a deterministic embedder: texts sharing words produce
// nearby vectors, so similarity search behaves sensibly in tests.
type hashEmbedder struct {
	dim   int
	mu    sync.Mutex
	calls int
	err   error
}

func (e *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	dim := e.dim
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		dim = 16
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[int(h.Sum32())%dim] += 1
		}
		var norm float32
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			n := float32(math.Sqrt(float64(norm)))
			for j := range vec {
				vec[j] /= n
			}
		} else {
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, *hashEmbedder) {
	t.Helper()
	embedder := &hashEmbedder{dim: 16}
	store, err := Open(Config{Embedder: embedder})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, embedder
}

func record(sourceType, sourceID string, ord int, title, text string) chunker.Record {
	return chunker.Record{
		SourceType:  sourceType,
		SourceID:    sourceID,
		ChunkOrd:    ord,
		Title:       title,
		URL:         fmt.Sprintf("https://example.com/%s", sourceID),
		Text:        text,
		WorkspaceID: "ws-1",
		IngestedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestReplaceAndSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Replace(ctx, "notion", "page-1", []chunker.Record{
		record("notion", "page-1", 0, "Q3 Review", "revenue grew 18% in Q3"),
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, "revenue grew", Options{TopK: 5, Strategy: StrategyHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "page-1", results[0].Record.SourceID)
	assert.Contains(t, results[0].Record.Text, "18%")
}

func TestReplaceIsComplete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, "notion", "page-1", []chunker.Record{
		record("notion", "page-1", 0, "Old", "zebras stampede northward yearly"),
		record("notion", "page-1", 1, "Old", "second old chunk body text"),
	}))

	// Replace with a single new record; the old ord-1 chunk must vanish.
	require.NoError(t, store.Replace(ctx, "notion", "page-1", []chunker.Record{
		record("notion", "page-1", 0, "New", "quarterly budget planning document"),
	}))

	results, err := store.Search(ctx, "zebras stampede northward", Options{TopK: 10, Strategy: StrategyKeyword})
	require.NoError(t, err)
	assert.Empty(t, results, "no hits from the prior record set")

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ObjectCount)
	assert.Equal(t, int64(1), stats.VectorCount)
}

func TestReplaceIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	records := []chunker.Record{
		record("notion", "page-1", 0, "Doc", "alpha beta gamma"),
		record("notion", "page-1", 1, "Doc", "delta epsilon zeta"),
	}

	require.NoError(t, store.Replace(ctx, "notion", "page-1", records))
	require.NoError(t, store.Replace(ctx, "notion", "page-1", records))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ObjectCount)
	assert.Equal(t, int64(2), stats.VectorCount)
}

func TestDeleteBySource(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, "gdrive", "file-1", []chunker.Record{
		record("gdrive", "file-1", 0, "B.pdf", "unique phrase walrus accounting"),
	}))
	require.NoError(t, store.Replace(ctx, "notion", "page-1", []chunker.Record{
		record("notion", "page-1", 0, "Keep", "unrelated content kept here"),
	}))

	require.NoError(t, store.DeleteBySource(ctx, "gdrive", "file-1"))

	results, err := store.Search(ctx, "walrus accounting", Options{Strategy: StrategyKeyword})
	require.NoError(t, err)
	assert.Empty(t, results)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ObjectCount)
}

func TestDeleteBySourceType(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, "notion", "p1", []chunker.Record{
		record("notion", "p1", 0, "N1", "notion body one"),
	}))
	require.NoError(t, store.Replace(ctx, "notion", "p2", []chunker.Record{
		record("notion", "p2", 0, "N2", "notion body two"),
	}))
	require.NoError(t, store.Replace(ctx, "gdrive", "f1", []chunker.Record{
		record("gdrive", "f1", 0, "D1", "drive body survives"),
	}))

	require.NoError(t, store.DeleteBySourceType(ctx, "notion"))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ObjectCount)
	assert.Equal(t, int64(1), stats.VectorCount)
}

func TestSearchAlphaExtremes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("p%d", i)
		require.NoError(t, store.Replace(ctx, "notion", id, []chunker.Record{
			record("notion", id, 0, fmt.Sprintf("Doc %d", i),
				fmt.Sprintf("document number %d discusses budget item %d", i, i)),
		}))
	}

	// alpha=1.0 must order like pure vector search.
	hybrid, err := store.Search(ctx, "budget item 3", Options{TopK: 5, Alpha: 1.0, Strategy: StrategyHybrid})
	require.NoError(t, err)
	vector, err := store.Search(ctx, "budget item 3", Options{TopK: 5, Strategy: StrategyVector})
	require.NoError(t, err)

	require.NotEmpty(t, hybrid)
	require.NotEmpty(t, vector)
	assert.Equal(t, vector[0].Record.ID(), hybrid[0].Record.ID())

	// alpha near zero must order like pure keyword search.
	nearZero, err := store.Search(ctx, "budget item 3", Options{TopK: 5, Alpha: 0.001, Strategy: StrategyHybrid})
	require.NoError(t, err)
	keyword, err := store.Search(ctx, "budget item 3", Options{TopK: 5, Strategy: StrategyKeyword})
	require.NoError(t, err)

	require.NotEmpty(t, nearZero)
	require.NotEmpty(t, keyword)
	assert.Equal(t, keyword[0].Record.ID(), nearZero[0].Record.ID())
}

func TestSearchClamps(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, "notion", "p1", []chunker.Record{
		record("notion", "p1", 0, "Doc", "some text body"),
	}))

	// TopK above the clamp is accepted and clamped to 10.
	_, err := store.Search(ctx, "text", Options{TopK: 100})
	assert.NoError(t, err)

	// TopK=1 returns exactly one record.
	require.NoError(t, store.Replace(ctx, "notion", "p2", []chunker.Record{
		record("notion", "p2", 0, "Doc2", "some text body too"),
	}))
	results, err := store.Search(ctx, "text body", Options{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// Alpha boundaries are accepted.
	_, err = store.Search(ctx, "text", Options{Alpha: 1.0})
	assert.NoError(t, err)
	_, err = store.Search(ctx, "text", Options{Alpha: 0.0001})
	assert.NoError(t, err)

	// Empty query is rejected.
	_, err = store.Search(ctx, "   ", Options{})
	assert.Error(t, err)
}

func TestDimMismatch(t *testing.T) {
	embedder := &hashEmbedder{dim: 16}
	store, err := Open(Config{Embedder: embedder})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Replace(ctx, "notion", "p1", []chunker.Record{
		record("notion", "p1", 0, "Doc", "first write sets dimension"),
	}))

	embedder.mu.Lock()
	embedder.dim = 32
	embedder.mu.Unlock()

	err = store.Replace(ctx, "notion", "p2", []chunker.Record{
		record("notion", "p2", 0, "Doc", "second write with wrong dimension"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestEmbeddingFailureSurfaces(t *testing.T) {
	embedder := &hashEmbedder{dim: 16, err: assert.AnError}
	store, err := Open(Config{Embedder: embedder})
	require.NoError(t, err)
	defer store.Close()

	err = store.Replace(context.Background(), "notion", "p1", []chunker.Record{
		record("notion", "p1", 0, "Doc", "body"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestReplaceAtomicUnderConcurrentSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	old := []chunker.Record{
		record("notion", "p1", 0, "Doc", "version aaa chunk one"),
		record("notion", "p1", 1, "Doc", "version aaa chunk two"),
	}
	fresh := []chunker.Record{
		record("notion", "p1", 0, "Doc", "version bbb chunk one"),
		record("notion", "p1", 1, "Doc", "version bbb chunk two"),
	}
	require.NoError(t, store.Replace(ctx, "notion", "p1", old))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if i%2 == 0 {
				_ = store.Replace(ctx, "notion", "p1", fresh)
			} else {
				_ = store.Replace(ctx, "notion", "p1", old)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		results, err := store.Search(ctx, "version chunk", Options{TopK: 10, Strategy: StrategyKeyword})
		require.NoError(t, err)

		versions := make(map[string]bool)
		for _, res := range results {
			if strings.Contains(res.Record.Text, "aaa") {
				versions["aaa"] = true
			}
			if strings.Contains(res.Record.Text, "bbb") {
				versions["bbb"] = true
			}
		}
		assert.LessOrEqual(t, len(versions), 1, "reader must never observe a mixed record set")
	}
	<-done
}

func TestRRFOrderingDeterministicTies(t *testing.T) {
	fused := reciprocalRankFusion(
		[]string{"notion:b:0", "notion:a:0"},
		[]string{"notion:a:0", "notion:b:0"},
		0.5, 60,
	)
	require.Len(t, fused, 2)
	// Symmetric ranks with alpha=0.5 tie; source id ascending breaks it.
	assert.Equal(t, "notion:a:0", fused[0].id)
	assert.Equal(t, "notion:b:0", fused[1].id)
}

func TestRRFAbsentContributesZero(t *testing.T) {
	fused := reciprocalRankFusion([]string{"x"}, nil, 0.6, 60)
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.6/61.0, fused[0].score, 1e-9)
}

func TestBuildContextTruncates(t *testing.T) {
	long := strings.Repeat("body text ", 50)
	results := []Result{
		{Record: chunker.Record{Title: "First", URL: "https://x/1", Text: long}},
		{Record: chunker.Record{Title: "Second", URL: "https://x/2", Text: long}},
		{Record: chunker.Record{Title: "Third", URL: "https://x/3", Text: long}},
	}

	out := BuildContextN(results, 1100)
	assert.Contains(t, out, "[1] First")
	assert.Contains(t, out, "[2] Second")
	assert.NotContains(t, out, "[3] Third", "lowest-ranked record dropped to meet budget")
	assert.LessOrEqual(t, len(out), 1100)
}

func TestBuildContextFormat(t *testing.T) {
	out := BuildContext([]Result{
		{Record: chunker.Record{Title: "Q3 Review", URL: "https://notion.so/p1", Text: "revenue grew 18%"}},
	})
	assert.Equal(t, "[1] Q3 Review\nhttps://notion.so/p1\nrevenue grew 18%", out)
}
