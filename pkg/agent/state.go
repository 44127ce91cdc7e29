// Package agent implements the query orchestration graph: a decision
// classifier routing each request through retrieval, generation, and
// finalization nodes over shared per-request state.
package agent

import (
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// Execution modes chosen by the decide node.
const (
	ModeSearch   = "search"
	ModeGenerate = "generate"
	ModeChat     = "chat"
)

// Decision is the decide node's structured output.
type Decision struct {
	Mode                     string `json:"mode"`
	UseRAG                   bool   `json:"use_rag"`
	Instructions             string `json:"instructions"`
	FinalMessageInstructions string `json:"final_message_instructions,omitempty"`
}

// Citation is one retrieval hit offered to the generator and surfaced
// with answers.
type Citation struct {
	ChunkID string `json:"chunk_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Retrieval carries retrieved context between nodes.
type Retrieval struct {
	Context   string
	Citations []Citation
	TopURL    string
}

// Answer is the user-facing result of a run.
type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`
	TopURL    string     `json:"top_url,omitempty"`
}

// NotionPage identifies a page published by the create_page node.
type NotionPage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// State is the mutable record passed through the graph. It is created
// per request, mutated only by node execution, and discarded when the
// run completes; nothing is shared across requests.
type State struct {
	Query     string
	Workspace workspace.Context
	UserID    string

	Decision          *Decision
	Retrieval         *Retrieval
	Result            *Answer
	GeneratedDocument string
	Mode              string
	NotionPage        *NotionPage

	// draft is the raw node output final_answer post-processes.
	draft string
}

// ExecutionResult is the run's aggregate, returned to the REST adapter.
type ExecutionResult struct {
	Mode              string      `json:"mode"`
	Result            *Answer     `json:"result"`
	NotionPage        *NotionPage `json:"notion_page,omitempty"`
	Decision          *Decision   `json:"decision"`
	GeneratedDocument string      `json:"generated_document,omitempty"`
}
