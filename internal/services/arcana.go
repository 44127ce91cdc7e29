// Package services wires the core subsystems into the inbound contract
// the REST adapter exposes: ingest, disconnect, and query.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/arcana-forge/arcana/internal/config"
	"github.com/arcana-forge/arcana/pkg/agent"
	"github.com/arcana-forge/arcana/pkg/auth"
	"github.com/arcana-forge/arcana/pkg/chunker"
	"github.com/arcana-forge/arcana/pkg/gdrive"
	"github.com/arcana-forge/arcana/pkg/llm"
	"github.com/arcana-forge/arcana/pkg/models"
	"github.com/arcana-forge/arcana/pkg/notion"
	"github.com/arcana-forge/arcana/pkg/search"
	"github.com/arcana-forge/arcana/pkg/sync"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// RequestBudget is the overall per-request time budget.
const RequestBudget = 120 * time.Second

// ErrRequestTimeout is surfaced when a request exceeds its budget.
var ErrRequestTimeout = errors.New("request exceeded time budget")

// notionEndpoint is Notion's OAuth token endpoint.
var notionEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.notion.com/v1/oauth/authorize",
	TokenURL: "https://api.notion.com/v1/oauth/token",
}

// Service is the workspace knowledge & agent core facade. Sync workers
// run inline on the request that triggers them; a per-workspace lock
// serializes same-workspace sync runs.
type Service struct {
	cfg    *config.Config
	db     *gorm.DB
	fs     afero.Fs
	llm    llm.Client
	embed  llm.Embedder
	logger hclog.Logger

	storesMu stdsync.Mutex
	stores   map[string]*search.Store

	locksMu   stdsync.Mutex
	syncLocks map[string]*stdsync.Mutex
}

// ServiceConfig holds facade dependencies. LLM and Embedder default to
// the factory-built clients for the configured provider.
type ServiceConfig struct {
	Config   *config.Config
	DB       *gorm.DB
	FS       afero.Fs
	LLM      llm.Client
	Embedder llm.Embedder
	Logger   hclog.Logger
}

// NewService creates the core facade.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	factoryCfg := llm.FactoryConfig{
		Provider:        cfg.Config.LLM.Provider,
		APIKey:          cfg.Config.LLM.APIKey,
		BaseURL:         cfg.Config.LLM.BaseURL,
		AnthropicAPIKey: cfg.Config.LLM.AnthropicAPIKey,
		Logger:          cfg.Logger,
	}
	if cfg.LLM == nil {
		client, err := llm.NewClient(factoryCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		cfg.LLM = client
	}
	if cfg.Embedder == nil {
		embedder, err := llm.NewEmbedder(factoryCfg, cfg.Config.LLM.EmbedDeployment)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		cfg.Embedder = embedder
	}

	return &Service{
		cfg:       cfg.Config,
		db:        cfg.DB,
		fs:        cfg.FS,
		llm:       cfg.LLM,
		embed:     cfg.Embedder,
		logger:    cfg.Logger.Named("arcana"),
		stores:    make(map[string]*search.Store),
		syncLocks: make(map[string]*stdsync.Mutex),
	}, nil
}

// Workspace builds the workspace context under the configured root.
func (s *Service) Workspace(workspaceID, slug string) workspace.Context {
	return workspace.NewContext(workspaceID, slug, s.cfg.WorkspaceStorageRoot)
}

// IngestNotion runs a full or incremental Notion pull for a workspace.
func (s *Service) IngestNotion(ctx context.Context, wctx workspace.Context, credential *models.OAuthCredential, mode string) (*sync.Result, error) {
	if mode != sync.ModeFull && mode != sync.ModeIncremental {
		return nil, fmt.Errorf("invalid ingest mode %q", mode)
	}
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}

	unlock := s.lockWorkspace(wctx.WorkspaceID)
	defer unlock()

	ctx, cancel, done := s.withBudget(ctx)
	defer cancel()

	store, err := s.workspaceStore(wctx)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenProvider(auth.Config{
		DB:           s.db,
		Credential:   credential,
		ClientID:     s.cfg.Notion.ClientID,
		ClientSecret: s.cfg.Notion.ClientSecret,
		Endpoint:     notionEndpoint,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}

	client, err := notion.NewClient(notion.ClientConfig{Tokens: tokens, Logger: s.logger})
	if err != nil {
		return nil, err
	}

	worker, err := sync.NewNotionWorker(sync.NotionWorkerConfig{
		DB:      s.db,
		API:     client,
		Index:   store,
		Chunker: s.newChunker(),
		FS:      s.fs,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, err
	}

	result, err := worker.Pull(ctx, wctx, credential.DataSourceID, mode)
	s.refreshIndexMetadata(wctx, store, err)
	return result, done(err)
}

// IngestDrive runs a Drive bootstrap or incremental sync for a
// workspace. rootFolderID scopes reachability.
func (s *Service) IngestDrive(ctx context.Context, wctx workspace.Context, credential *models.OAuthCredential, rootFolderID string) (*sync.Result, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}

	unlock := s.lockWorkspace(wctx.WorkspaceID)
	defer unlock()

	ctx, cancel, done := s.withBudget(ctx)
	defer cancel()

	store, err := s.workspaceStore(wctx)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenProvider(auth.Config{
		DB:           s.db,
		Credential:   credential,
		ClientID:     s.cfg.Google.ClientID,
		ClientSecret: s.cfg.Google.ClientSecret,
		Endpoint:     oauthgoogle.Endpoint,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}

	client, err := gdrive.NewClient(ctx, gdrive.ClientConfig{Tokens: tokens, Logger: s.logger})
	if err != nil {
		return nil, err
	}

	worker, err := sync.NewDriveWorker(sync.DriveWorkerConfig{
		DB:      s.db,
		API:     client,
		Index:   store,
		Chunker: s.newChunker(),
		FS:      s.fs,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, err
	}

	result, err := worker.Sync(ctx, wctx, credential.DataSourceID, rootFolderID)
	s.refreshIndexMetadata(wctx, store, err)
	return result, done(err)
}

// Disconnect removes a source type from the workspace index and wipes
// its credentials and sync state.
func (s *Service) Disconnect(ctx context.Context, sourceType string, wctx workspace.Context) error {
	unlock := s.lockWorkspace(wctx.WorkspaceID)
	defer unlock()

	store, err := s.workspaceStore(wctx)
	if err != nil {
		return err
	}

	switch sourceType {
	case chunker.SourceTypeNotion:
		ids, err := s.dataSourceIDs(wctx.WorkspaceID, &models.NotionSyncState{})
		if err != nil {
			return err
		}
		err = sync.DisconnectNotion(ctx, s.db, store, ids)
		s.refreshIndexMetadata(wctx, store, err)
		return err

	case chunker.SourceTypeGDrive:
		ids, err := s.dataSourceIDs(wctx.WorkspaceID, &models.DriveSyncState{})
		if err != nil {
			return err
		}
		err = sync.DisconnectDrive(ctx, s.db, store, ids)
		s.refreshIndexMetadata(wctx, store, err)
		return err

	default:
		return fmt.Errorf("unknown source type %q", sourceType)
	}
}

// QueryOptions are optional retrieval overrides for one query.
type QueryOptions struct {
	TopK  int
	Alpha float64
}

// Query routes one user query through the agent graph.
func (s *Service) Query(ctx context.Context, wctx workspace.Context, userID, query string, opts *QueryOptions) (*agent.ExecutionResult, error) {
	if err := validation.Validate(strings.TrimSpace(query),
		validation.Required.Error("query cannot be empty"),
		validation.Length(1, 4000),
	); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	ctx, cancel, done := s.withBudget(ctx)
	defer cancel()

	store, err := s.workspaceStore(wctx)
	if err != nil {
		return nil, err
	}

	topK := s.cfg.Retrieval.TopK
	alpha := s.cfg.Retrieval.HybridAlpha
	if opts != nil {
		if opts.TopK > 0 {
			topK = opts.TopK
		}
		if opts.Alpha > 0 {
			alpha = opts.Alpha
		}
	}

	orchestrator, err := agent.New(agent.Config{
		LLM:                   s.llm,
		Searcher:              store,
		Publisher:             s.notionPublisher(ctx, wctx),
		ChatDeployment:        s.cfg.LLM.ChatDeployment,
		FinalAnswerDeployment: s.cfg.LLM.FinalAnswerDeployment,
		TopK:                  topK,
		Alpha:                 alpha,
		RRFK:                  s.cfg.Retrieval.HybridRRFK,
		DocGenMaxTokens:       s.cfg.LLM.DocGenMaxTokens,
		Logger:                s.logger,
	})
	if err != nil {
		return nil, err
	}

	result, err := orchestrator.Run(ctx, wctx, userID, query)
	return result, done(err)
}

// Close releases every cached workspace store.
func (s *Service) Close() error {
	s.storesMu.Lock()
	defer s.storesMu.Unlock()
	for id, store := range s.stores {
		if err := store.Close(); err != nil {
			s.logger.Warn("failed to close workspace store", "workspace_id", id, "error", err)
		}
		delete(s.stores, id)
	}
	return nil
}

// workspaceStore opens (or returns the cached) hybrid store for a
// workspace, seeding the recorded embedding dimension from the index
// metadata row.
func (s *Service) workspaceStore(wctx workspace.Context) (*search.Store, error) {
	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	if store, ok := s.stores[wctx.WorkspaceID]; ok {
		return store, nil
	}

	if err := wctx.EnsureLayout(s.fs); err != nil {
		return nil, err
	}

	dim := 0
	if s.db != nil {
		meta := &models.RAGIndex{WorkspaceID: wctx.WorkspaceID, IndexName: "default"}
		if err := meta.Get(s.db); err == nil {
			dim = meta.Dim
		}
	}

	// chromem and bleve manage their own files directly on the OS
	// filesystem; on any other afero backend (tests) the indexes run
	// in memory.
	vectorDir := wctx.VectorDir()
	keywordPath := wctx.KeywordIndexPath()
	if _, ok := s.fs.(*afero.OsFs); !ok {
		vectorDir = ""
		keywordPath = ""
	}

	store, err := search.Open(search.Config{
		VectorDir:        vectorDir,
		KeywordIndexPath: keywordPath,
		Embedder:         s.embed,
		Dim:              dim,
		Logger:           s.logger,
	})
	if err != nil {
		return nil, err
	}

	s.stores[wctx.WorkspaceID] = store
	return store, nil
}

// refreshIndexMetadata records live counters and status on the
// workspace's index row after a mutation.
func (s *Service) refreshIndexMetadata(wctx workspace.Context, store *search.Store, runErr error) {
	if s.db == nil {
		return
	}

	stats, err := store.Stats()
	if err != nil {
		s.logger.Warn("failed to read index stats", "error", err)
		return
	}

	status := models.RAGIndexStatusReady
	if runErr != nil && errors.Is(runErr, search.ErrIndexWriteFailed) {
		status = models.RAGIndexStatusFailed
	}

	meta := &models.RAGIndex{
		WorkspaceID: wctx.WorkspaceID,
		IndexName:   "default",
		Engine:      "chroma",
		StorageURI:  wctx.StorageRoot,
		Dim:         stats.Dim,
		Status:      status,
		ObjectCount: stats.ObjectCount,
		VectorCount: stats.VectorCount,
	}
	if err := meta.Upsert(s.db); err != nil {
		s.logger.Warn("failed to update index metadata", "error", err)
	}
}

// notionPublisher builds a publisher from the workspace's Notion
// credential, if one is connected.
func (s *Service) notionPublisher(ctx context.Context, wctx workspace.Context) agent.Publisher {
	if s.db == nil {
		return nil
	}

	ids, err := s.dataSourceIDs(wctx.WorkspaceID, &models.NotionSyncState{})
	if err != nil || len(ids) == 0 {
		return nil
	}

	credential := &models.OAuthCredential{Provider: models.ProviderNotion, DataSourceID: ids[0]}
	if err := credential.Get(s.db); err != nil {
		return nil
	}

	tokens, err := auth.NewTokenProvider(auth.Config{
		DB:           s.db,
		Credential:   credential,
		ClientID:     s.cfg.Notion.ClientID,
		ClientSecret: s.cfg.Notion.ClientSecret,
		Endpoint:     notionEndpoint,
		Logger:       s.logger,
	})
	if err != nil {
		return nil
	}

	client, err := notion.NewClient(notion.ClientConfig{Tokens: tokens, Logger: s.logger})
	if err != nil {
		return nil
	}
	return client
}

// dataSourceIDs lists the data sources of one provider state table for
// a workspace.
func (s *Service) dataSourceIDs(workspaceID string, model interface{}) ([]string, error) {
	if s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.Model(model).
		Where("workspace_id = ?", workspaceID).
		Pluck("data_source_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	return ids, nil
}

// newChunker builds a chunker from the retrieval configuration.
func (s *Service) newChunker() *chunker.Chunker {
	return chunker.New(chunker.Config{
		ChunkSize:    s.cfg.Retrieval.ChunkSize,
		OverlapRatio: s.cfg.Retrieval.OverlapRatio,
		Logger:       s.logger,
	})
}

// lockWorkspace serializes sync work per workspace.
func (s *Service) lockWorkspace(workspaceID string) func() {
	s.locksMu.Lock()
	lock, ok := s.syncLocks[workspaceID]
	if !ok {
		lock = &stdsync.Mutex{}
		s.syncLocks[workspaceID] = lock
	}
	s.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// withBudget applies the request budget and returns a classifier that
// maps deadline expiry to ErrRequestTimeout.
func (s *Service) withBudget(ctx context.Context) (context.Context, context.CancelFunc, func(error) error) {
	budgeted, cancel := context.WithTimeout(ctx, RequestBudget)
	done := func(err error) error {
		if err != nil && errors.Is(budgeted.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		return err
	}
	return budgeted, cancel, done
}
