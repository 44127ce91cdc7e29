package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcana-forge/arcana/pkg/chunker"
	"github.com/arcana-forge/arcana/pkg/llm"
	"github.com/arcana-forge/arcana/pkg/notion"
	"github.com/arcana-forge/arcana/pkg/search"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// fakeSearcher serves canned results and counts calls.
type fakeSearcher struct {
	results []search.Result
	calls   int
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakePublisher records published pages.
type fakePublisher struct {
	pages []string
	err   error
}

func (f *fakePublisher) CreatePage(ctx context.Context, parentPageID, title string, blocks []map[string]interface{}) (*notion.CreatedPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pages = append(f.pages, title)
	return &notion.CreatedPage{ID: "page-new", URL: "https://notion.so/page-new"}, nil
}

func q3Results() []search.Result {
	return []search.Result{{
		Record: chunker.Record{
			SourceType: chunker.SourceTypeNotion,
			SourceID:   "p1",
			ChunkOrd:   0,
			Title:      "Q3 Review",
			URL:        "https://notion.so/q3-review",
			Text:       "revenue grew 18% in Q3",
		},
		Score: 0.9,
	}}
}

func testOrchestrator(t *testing.T, mock *llm.MockClient, searcher Searcher, publisher Publisher) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		LLM:                   mock,
		Searcher:              searcher,
		Publisher:             publisher,
		ChatDeployment:        "chat-dep",
		FinalAnswerDeployment: "final-dep",
		DocGenMaxTokens:       800,
	})
	require.NoError(t, err)
	return o
}

func wsCtx() workspace.Context {
	return workspace.NewContext("ws-1", "acme", "/data")
}

func TestRunPureSearch(t *testing.T) {
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"search","use_rag":false,"instructions":""}`).
		Enqueue("chat-dep", "Revenue grew 18% in Q3, per the Q3 Review.").
		Enqueue("final-dep", "Revenue grew **18%** in Q3 — see the Q3 Review.")

	searcher := &fakeSearcher{results: q3Results()}
	o := testOrchestrator(t, mock, searcher, nil)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "how much did revenue grow in Q3?")
	require.NoError(t, err)

	assert.Equal(t, ModeSearch, result.Mode)
	assert.Contains(t, result.Result.Answer, "18")
	assert.Equal(t, "https://notion.so/q3-review", result.Result.TopURL)
	require.NotEmpty(t, result.Result.Citations)
	assert.Equal(t, "notion:p1:0", result.Result.Citations[0].ChunkID)
	assert.Equal(t, 1, searcher.calls)
	assert.Equal(t, 1, mock.Calls("final-dep"), "final answer uses the distinct deployment")
}

func TestRunGenerateWithRAG(t *testing.T) {
	doc := "# Weekly Report\n\nBased on the Q3 Review, revenue grew 18%."
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"generate","use_rag":true,"instructions":"write a one-page weekly report"}`).
		Enqueue("chat-dep", doc).
		Enqueue("final-dep", "I've written the weekly report and published it to Notion: https://notion.so/page-new")

	searcher := &fakeSearcher{results: q3Results()}
	publisher := &fakePublisher{}
	o := testOrchestrator(t, mock, searcher, publisher)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "write a one-page weekly report based on the Q3 Review")
	require.NoError(t, err)

	assert.Equal(t, ModeGenerate, result.Mode)
	assert.True(t, result.Decision.UseRAG)
	assert.Equal(t, doc, result.GeneratedDocument)
	require.NotNil(t, result.NotionPage)
	assert.Equal(t, "https://notion.so/page-new", result.NotionPage.URL)
	assert.Equal(t, []string{"Weekly Report"}, publisher.pages, "title taken from the first heading")
	assert.Equal(t, 1, searcher.calls, "prepare_rag retrieved once")

	// The generator received the retrieved context and citation ids.
	var generateReq *llm.MockRequest
	for i := range mock.Requests {
		req := mock.Requests[i]
		if req.Deployment == "chat-dep" && len(req.Messages) == 2 &&
			strings.HasPrefix(req.Messages[0].Content, generateSystemPrompt) {
			generateReq = &mock.Requests[i]
		}
	}
	require.NotNil(t, generateReq)
	assert.Contains(t, generateReq.Messages[1].Content, "Q3 Review")
	assert.Contains(t, generateReq.Messages[1].Content, "notion:p1:0")
}

func TestRunGenerateWithoutRAG(t *testing.T) {
	doc := "# Meeting Template\n\n## Agenda\n\n- item"
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"generate","use_rag":false,"instructions":"draft a blank meeting template"}`).
		Enqueue("chat-dep", doc).
		Enqueue("final-dep", "Here's your meeting template.")

	searcher := &fakeSearcher{results: q3Results()}
	publisher := &fakePublisher{}
	o := testOrchestrator(t, mock, searcher, publisher)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "draft a blank meeting template")
	require.NoError(t, err)

	assert.Equal(t, ModeGenerate, result.Mode)
	assert.False(t, result.Decision.UseRAG)
	assert.Equal(t, doc, result.GeneratedDocument)
	assert.Equal(t, 0, searcher.calls, "no retrieval without RAG")
	assert.NotContains(t, result.GeneratedDocument, "Q3 Review")
}

func TestRunChat(t *testing.T) {
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"chat","use_rag":false,"instructions":""}`).
		Enqueue("chat-dep", "Hello! How can I help?").
		Enqueue("final-dep", "Hello! How can I help?")

	searcher := &fakeSearcher{}
	o := testOrchestrator(t, mock, searcher, nil)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "hello")
	require.NoError(t, err)

	assert.Equal(t, ModeChat, result.Mode)
	assert.NotEmpty(t, result.Result.Answer)
	assert.Equal(t, 0, searcher.calls, "chat makes no retrieval calls")
	assert.Nil(t, result.NotionPage)
}

func TestRunDecideParseFailureFallsBackToChat(t *testing.T) {
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `certainly! here's my classification: search`).
		Enqueue("chat-dep", "I'm here to help.").
		Enqueue("final-dep", "I'm here to help.")

	searcher := &fakeSearcher{}
	o := testOrchestrator(t, mock, searcher, nil)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "gibberish request")
	require.NoError(t, err)

	assert.Equal(t, ModeChat, result.Mode, "non-conforming decide output routes to chat")
	assert.Equal(t, 0, searcher.calls)
}

func TestRunDecideUnknownModeFallsBackToChat(t *testing.T) {
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"summon","use_rag":false}`).
		Enqueue("chat-dep", "hi").
		Enqueue("final-dep", "hi")

	o := testOrchestrator(t, mock, &fakeSearcher{}, nil)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "do the thing")
	require.NoError(t, err)
	assert.Equal(t, ModeChat, result.Mode)
}

func TestRunGenerateLengthRetry(t *testing.T) {
	doc := "# Short Doc\n\nSummarized content."
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"generate","use_rag":false,"instructions":"write"}`).
		EnqueueCompletion("chat-dep", &llm.Completion{Content: "partial...", FinishReason: llm.FinishLength}).
		Enqueue("chat-dep", doc).
		Enqueue("final-dep", "Done: Short Doc.")

	o := testOrchestrator(t, mock, &fakeSearcher{}, &fakePublisher{})

	result, err := o.Run(context.Background(), wsCtx(), "u1", "write")
	require.NoError(t, err)

	assert.Equal(t, doc, result.GeneratedDocument, "second attempt succeeded")

	// The retry carried the summarize-first instruction and a raised budget.
	var sawRetry bool
	for _, req := range mock.Requests {
		if len(req.Messages) > 0 && req.Messages[0].Role == "system" &&
			req.Opts.MaxTokens == 1600 {
			assert.Contains(t, req.Messages[0].Content, "Summarize first")
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestRunGenerateRepeatedOverflowFallsBack(t *testing.T) {
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"generate","use_rag":false,"instructions":"write"}`).
		EnqueueCompletion("chat-dep", &llm.Completion{Content: "partial...", FinishReason: llm.FinishLength}).
		EnqueueCompletion("chat-dep", &llm.Completion{Content: "partial again...", FinishReason: llm.FinishLength}).
		Enqueue("final-dep", generateFallbackAnswer)

	publisher := &fakePublisher{}
	o := testOrchestrator(t, mock, &fakeSearcher{}, publisher)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "write")
	require.NoError(t, err, "repeated overflow is not a hard error")

	assert.Empty(t, result.GeneratedDocument)
	assert.Empty(t, publisher.pages, "nothing published on fallback")
	assert.NotEmpty(t, result.Result.Answer)
}

func TestRunPublishFailureDegrades(t *testing.T) {
	doc := "# Doc\n\nbody"
	mock := llm.NewMockClient().
		Enqueue("chat-dep", `{"mode":"generate","use_rag":false,"instructions":"write"}`).
		Enqueue("chat-dep", doc).
		Enqueue("final-dep", "Here's the document (publishing failed).")

	publisher := &fakePublisher{err: fmt.Errorf("notion unavailable")}
	o := testOrchestrator(t, mock, &fakeSearcher{}, publisher)

	result, err := o.Run(context.Background(), wsCtx(), "u1", "write")
	require.NoError(t, err)

	assert.Equal(t, doc, result.GeneratedDocument)
	assert.Nil(t, result.NotionPage)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := testOrchestrator(t, llm.NewMockClient(), &fakeSearcher{}, nil)
	_, err := o.Run(ctx, wsCtx(), "u1", "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunTerminatesWithinOneVisitPerNode(t *testing.T) {
	// Every route visits final_answer exactly once and ends.
	for _, decision := range []string{
		`{"mode":"search"}`,
		`{"mode":"generate","use_rag":true}`,
		`{"mode":"generate","use_rag":false}`,
		`{"mode":"chat"}`,
	} {
		mock := llm.NewMockClient().Enqueue("chat-dep", decision)
		mock.Default = "# T\n\nok"

		o := testOrchestrator(t, mock, &fakeSearcher{results: q3Results()}, &fakePublisher{})
		result, err := o.Run(context.Background(), wsCtx(), "u1", "q")
		require.NoError(t, err, decision)
		require.NotNil(t, result.Result, decision)
	}
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "Weekly Report", documentTitle("# Weekly Report\n\nbody", "q"))
	assert.Equal(t, "Section", documentTitle("text\n## Section\n", "q"))
	assert.Equal(t, "my query", documentTitle("no heading here", "my query"))
}
