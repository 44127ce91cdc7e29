package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/arcana-forge/arcana/pkg/llm"
	"github.com/arcana-forge/arcana/pkg/notion"
	"github.com/arcana-forge/arcana/pkg/search"
)

// decide classifies the query. A response that fails schema validation
// routes to chat instead of erroring: a misrouted request is still
// answerable, a dead one is not.
func (o *Orchestrator) decide(ctx context.Context, state *State) error {
	completion, err := o.cfg.LLM.Chat(ctx, o.cfg.ChatDeployment, []llm.Message{
		{Role: "system", Content: decideSystemPrompt},
		{Role: "user", Content: state.Query},
	}, llm.ChatOptions{JSONMode: true, MaxTokens: 300})
	if err != nil {
		return err
	}

	decision, err := parseDecision(completion.Content)
	if err != nil {
		o.logger.Warn("decide output failed validation, falling back to chat", "error", err)
		decision = &Decision{Mode: ModeChat}
	}

	state.Decision = decision
	state.Mode = decision.Mode
	return nil
}

// parseDecision validates the classifier's structured output. Code
// fences are tolerated; anything else non-conforming is rejected.
func parseDecision(content string) (*Decision, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var decision Decision
	if err := json.Unmarshal([]byte(trimmed), &decision); err != nil {
		return nil, fmt.Errorf("non-JSON decision: %w", err)
	}

	switch decision.Mode {
	case ModeSearch, ModeGenerate, ModeChat:
	default:
		return nil, fmt.Errorf("unknown mode %q", decision.Mode)
	}
	return &decision, nil
}

// search retrieves context and composes a grounded answer.
func (o *Orchestrator) search(ctx context.Context, state *State) error {
	retrieval, err := o.retrieve(ctx, state.Query)
	if err != nil {
		return err
	}
	state.Retrieval = retrieval

	completion, err := o.cfg.LLM.Chat(ctx, o.cfg.ChatDeployment, []llm.Message{
		{Role: "system", Content: searchSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Context documents:\n\n%s\n\nQuestion: %s", retrieval.Context, state.Query)},
	}, llm.ChatOptions{})
	if err != nil {
		return err
	}

	state.draft = completion.Content
	state.Result = &Answer{
		Citations: retrieval.Citations,
		TopURL:    retrieval.TopURL,
	}
	return nil
}

// prepareRAG retrieves context and citation candidates for the
// downstream generator.
func (o *Orchestrator) prepareRAG(ctx context.Context, state *State) error {
	retrieval, err := o.retrieve(ctx, state.Query)
	if err != nil {
		return err
	}
	state.Retrieval = retrieval
	return nil
}

// retrieve runs hybrid search and builds the truncated context block.
// The top-ranked record's URL becomes top_url; equal fused scores are
// already broken deterministically by source id ascending.
func (o *Orchestrator) retrieve(ctx context.Context, query string) (*Retrieval, error) {
	results, err := o.cfg.Searcher.Search(ctx, query, search.Options{
		TopK:     o.cfg.TopK,
		Alpha:    o.cfg.Alpha,
		RRFK:     o.cfg.RRFK,
		Strategy: search.StrategyHybrid,
	})
	if err != nil {
		return nil, err
	}

	retrieval := &Retrieval{Context: search.BuildContext(results)}
	for _, res := range results {
		snippet := res.Record.Text
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		retrieval.Citations = append(retrieval.Citations, Citation{
			ChunkID: res.Record.ID(),
			Title:   res.Record.Title,
			URL:     res.Record.URL,
			Snippet: snippet,
		})
	}
	if len(results) > 0 {
		retrieval.TopURL = results[0].Record.URL
	}
	return retrieval, nil
}

// generate produces the Markdown document. A length overflow is retried
// once with a raised budget and a summarize-first instruction; a second
// overflow degrades to a polite fallback rather than a hard error.
func (o *Orchestrator) generate(ctx context.Context, state *State) error {
	instructions := state.Query
	if state.Decision != nil && state.Decision.Instructions != "" {
		instructions = state.Decision.Instructions
	}

	userPrompt := "Instructions: " + instructions
	if state.Retrieval != nil && state.Retrieval.Context != "" {
		var cites strings.Builder
		for _, c := range state.Retrieval.Citations {
			fmt.Fprintf(&cites, "- %s: %s (%s)\n", c.ChunkID, c.Title, c.URL)
		}
		userPrompt = fmt.Sprintf(
			"Context documents:\n\n%s\n\nCitation candidates:\n%s\nInstructions: %s",
			state.Retrieval.Context, cites.String(), instructions,
		)
	}

	document, err := o.generateOnce(ctx, userPrompt, o.cfg.DocGenMaxTokens, false)
	if errors.Is(err, llm.ErrLengthExceeded) {
		document, err = o.generateOnce(ctx, userPrompt, o.cfg.DocGenMaxTokens*2, true)
		if errors.Is(err, llm.ErrLengthExceeded) {
			o.logger.Warn("generator overflowed twice, emitting fallback")
			state.draft = generateFallbackAnswer
			return nil
		}
	}
	if err != nil {
		return err
	}

	state.GeneratedDocument = document
	state.draft = document
	return nil
}

func (o *Orchestrator) generateOnce(ctx context.Context, userPrompt string, maxTokens int, retry bool) (string, error) {
	system := generateSystemPrompt
	if retry {
		system += "\n\n" + generateRetryPrompt
	}

	completion, err := o.cfg.LLM.Chat(ctx, o.cfg.ChatDeployment, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userPrompt},
	}, llm.ChatOptions{MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	if completion.FinishReason == llm.FinishLength {
		return "", llm.ErrLengthExceeded
	}
	return completion.Content, nil
}

// createPage publishes the generated Markdown to Notion. Publish
// failures degrade the run, they do not kill it: the document is still
// returned in the execution result.
func (o *Orchestrator) createPage(ctx context.Context, state *State) error {
	if o.cfg.Publisher == nil || state.GeneratedDocument == "" {
		return nil
	}

	title := documentTitle(state.GeneratedDocument, state.Query)
	blocks := notion.MarkdownToBlocks(state.GeneratedDocument)

	page, err := o.cfg.Publisher.CreatePage(ctx, o.cfg.ParentPageID, title, blocks)
	if err != nil {
		o.logger.Warn("failed to publish generated page", "error", err)
		return nil
	}

	state.NotionPage = &NotionPage{ID: page.ID, URL: page.URL}
	return nil
}

// documentTitle takes the document's first heading, falling back to the
// query.
func documentTitle(markdown, query string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
	}
	title := strings.TrimSpace(query)
	if len(title) > 80 {
		title = title[:80]
	}
	return title
}

// chat produces a short conversational reply with no retrieval.
func (o *Orchestrator) chat(ctx context.Context, state *State) error {
	completion, err := o.cfg.LLM.Chat(ctx, o.cfg.ChatDeployment, []llm.Message{
		{Role: "system", Content: chatSystemPrompt},
		{Role: "user", Content: state.Query},
	}, llm.ChatOptions{MaxTokens: 300})
	if err != nil {
		return err
	}
	state.draft = completion.Content
	return nil
}

// finalAnswer post-processes the draft through the dedicated deployment,
// honoring any caller-supplied final message instructions.
func (o *Orchestrator) finalAnswer(ctx context.Context, state *State) error {
	system := finalAnswerSystemPrompt
	if state.Decision != nil && state.Decision.FinalMessageInstructions != "" {
		system += "\n\nCaller instructions: " + state.Decision.FinalMessageInstructions
	}

	userPrompt := "Draft:\n\n" + state.draft
	if state.NotionPage != nil {
		userPrompt += fmt.Sprintf("\n\nThe document was published to Notion at %s; mention this with the link.", state.NotionPage.URL)
	}

	completion, err := o.cfg.LLM.Chat(ctx, o.cfg.FinalAnswerDeployment, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userPrompt},
	}, llm.ChatOptions{})
	if err != nil {
		return err
	}

	if state.Result == nil {
		state.Result = &Answer{}
	}
	state.Result.Answer = completion.Content
	return nil
}
