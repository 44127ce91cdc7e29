package agent

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/arcana-forge/arcana/pkg/llm"
	"github.com/arcana-forge/arcana/pkg/notion"
	"github.com/arcana-forge/arcana/pkg/search"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// Node names. The graph is a table of node functions plus a router;
// execution is a plain loop with an at-most-once visit guard.
const (
	nodeDecide      = "decide"
	nodeSearch      = "search"
	nodePrepareRAG  = "prepare_rag"
	nodeGenerate    = "generate"
	nodeCreatePage  = "create_page"
	nodeChat        = "chat"
	nodeFinalAnswer = "final_answer"
	nodeEnd         = "END"
)

// Searcher is the retrieval capability the graph reads from.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Publisher publishes generated documents upstream. *notion.Client
// implements it; a nil publisher skips publication.
type Publisher interface {
	CreatePage(ctx context.Context, parentPageID, title string, blocks []map[string]interface{}) (*notion.CreatedPage, error)
}

// Config holds orchestrator dependencies and tuning.
type Config struct {
	LLM      llm.Client
	Searcher Searcher

	// Publisher receives generated documents; nil disables create_page.
	Publisher    Publisher
	ParentPageID string

	// ChatDeployment serves decide/search/generate/chat;
	// FinalAnswerDeployment is the distinct post-processing deployment.
	ChatDeployment        string
	FinalAnswerDeployment string

	// Retrieval defaults for the search and prepare_rag nodes.
	TopK  int
	Alpha float64
	RRFK  int

	// DocGenMaxTokens bounds the generate node's output.
	DocGenMaxTokens int

	Logger hclog.Logger
}

// Orchestrator runs the agent graph.
type Orchestrator struct {
	cfg    Config
	nodes  map[string]func(context.Context, *State) error
	logger hclog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.ChatDeployment == "" {
		return nil, fmt.Errorf("chat deployment is required")
	}
	if cfg.FinalAnswerDeployment == "" {
		cfg.FinalAnswerDeployment = cfg.ChatDeployment
	}
	if cfg.DocGenMaxTokens <= 0 {
		cfg.DocGenMaxTokens = 1200
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	o := &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.Named("agent"),
	}
	o.nodes = map[string]func(context.Context, *State) error{
		nodeDecide:      o.decide,
		nodeSearch:      o.search,
		nodePrepareRAG:  o.prepareRAG,
		nodeGenerate:    o.generate,
		nodeCreatePage:  o.createPage,
		nodeChat:        o.chat,
		nodeFinalAnswer: o.finalAnswer,
	}
	return o, nil
}

// Run executes one request through the graph. Cancellation is checked
// before every node; each node is visited at most once.
func (o *Orchestrator) Run(ctx context.Context, wctx workspace.Context, userID, query string) (*ExecutionResult, error) {
	state := &State{
		Query:     query,
		Workspace: wctx,
		UserID:    userID,
	}

	visited := make(map[string]bool)
	current := nodeDecide

	for current != nodeEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if visited[current] {
			return nil, fmt.Errorf("graph revisited node %s", current)
		}
		visited[current] = true

		node, ok := o.nodes[current]
		if !ok {
			return nil, fmt.Errorf("unknown graph node %s", current)
		}

		o.logger.Debug("executing node", "node", current)
		if err := node(ctx, state); err != nil {
			return nil, fmt.Errorf("node %s failed: %w", current, err)
		}

		current = o.route(current, state)
	}

	if state.Decision == nil {
		return nil, fmt.Errorf("run ended without a routing decision")
	}
	if state.Result == nil {
		return nil, fmt.Errorf("run ended without a result")
	}

	return &ExecutionResult{
		Mode:              state.Mode,
		Result:            state.Result,
		NotionPage:        state.NotionPage,
		Decision:          state.Decision,
		GeneratedDocument: state.GeneratedDocument,
	}, nil
}

// route maps the node just executed to the next one.
func (o *Orchestrator) route(current string, state *State) string {
	switch current {
	case nodeDecide:
		if state.Decision == nil {
			return nodeEnd
		}
		switch state.Decision.Mode {
		case ModeSearch:
			return nodeSearch
		case ModeGenerate:
			if state.Decision.UseRAG {
				return nodePrepareRAG
			}
			return nodeGenerate
		default:
			return nodeChat
		}

	case nodeSearch, nodeChat, nodeCreatePage:
		return nodeFinalAnswer

	case nodePrepareRAG:
		return nodeGenerate

	case nodeGenerate:
		return nodeCreatePage

	default:
		return nodeEnd
	}
}
