package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/arcana-forge/arcana/pkg/chunker"
	"github.com/arcana-forge/arcana/pkg/models"
	"github.com/arcana-forge/arcana/pkg/notion"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// Pull modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// NotionAPI is the slice of the Notion client the worker consumes.
type NotionAPI interface {
	SearchPages(ctx context.Context, cursor string) (*notion.SearchPage, error)
	BlockTree(ctx context.Context, blockID string) ([]notion.Block, error)
}

// NotionWorker pulls pages from Notion and commits them per page:
// enumerate -> fetch blocks -> build records -> commit -> advance.
// Enumeration is resumable from the persisted cursor; a provider 429
// parks the cursor and backs off before re-entering enumeration.
type NotionWorker struct {
	db      *gorm.DB
	api     NotionAPI
	index   Index
	chunker *chunker.Chunker
	fs      afero.Fs
	now     func() time.Time
	logger  hclog.Logger
}

// NotionWorkerConfig holds Notion worker dependencies.
type NotionWorkerConfig struct {
	DB      *gorm.DB
	API     NotionAPI
	Index   Index
	Chunker *chunker.Chunker
	FS      afero.Fs // audit sink; nil disables audit records

	// Now overrides the clock in tests.
	Now func() time.Time

	Logger hclog.Logger
}

// NewNotionWorker creates a Notion sync worker.
func NewNotionWorker(cfg NotionWorkerConfig) (*NotionWorker, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("notion API is required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunker.New(chunker.Config{})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &NotionWorker{
		db:      cfg.DB,
		api:     cfg.API,
		index:   cfg.Index,
		chunker: cfg.Chunker,
		fs:      cfg.FS,
		now:     cfg.Now,
		logger:  cfg.Logger.Named("notion-sync"),
	}, nil
}

// Pull runs one full or incremental pull for a data source. Per-page
// failures are recorded as skipped and do not abort the batch. Sync
// state only advances on batch completion, so a cancelled run resumes
// from the parked cursor.
func (w *NotionWorker) Pull(ctx context.Context, wctx workspace.Context, dataSourceID, mode string) (*Result, error) {
	result := &Result{StartedAt: w.now()}

	state := &models.NotionSyncState{DataSourceID: dataSourceID}
	if w.db != nil {
		if err := state.Get(w.db); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load notion sync state: %w", err)
		}
	}
	state.WorkspaceID = wctx.WorkspaceID

	if until := state.RateLimitedUntil; until != nil && until.After(w.now()) {
		if err := w.waitUntil(ctx, *until); err != nil {
			return result, err
		}
	}

	full := mode == ModeFull
	var since *time.Time
	if !full {
		since = state.Since
	}

	var maxEdited time.Time
	if since != nil {
		maxEdited = *since
	}

	cursor := state.NextCursor
	done := false

	for !done {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := w.searchWithBackoff(ctx, state, cursor)
		if err != nil {
			result.finish(w.now())
			return result, err
		}

		for _, page := range batch.Pages {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			// Enumeration is ordered by last_edited_time descending, so
			// the first already-seen page ends an incremental pull.
			if since != nil && !page.LastEditedTime.After(*since) {
				done = true
				break
			}

			chunks, err := w.pullPage(ctx, wctx, page)
			if err != nil {
				w.logger.Warn("skipping page", "page_id", page.ID, "error", err)
				result.Skipped = append(result.Skipped, page.ID)
				result.Failures = append(result.Failures, Failure{SourceID: page.ID, Reason: err.Error()})
				continue
			}
			if chunks == 0 {
				result.Skipped = append(result.Skipped, page.ID)
				continue
			}

			result.IngestedChunks += chunks
			if page.LastEditedTime.After(maxEdited) {
				maxEdited = page.LastEditedTime
			}
		}

		if !done && batch.HasMore && batch.NextCursor != "" {
			cursor = batch.NextCursor
			w.persistCursor(state, cursor)
		} else {
			done = true
		}
	}

	// Advance the high-water mark only after the batch completes.
	if !maxEdited.IsZero() {
		edited := maxEdited
		state.Since = &edited
	}
	state.NextCursor = ""
	state.RateLimitedUntil = nil
	if full {
		now := w.now()
		state.LastFullSync = &now
	}
	if w.db != nil {
		if err := state.Upsert(w.db); err != nil {
			return result, fmt.Errorf("failed to persist notion sync state: %w", err)
		}
	}

	err := result.finish(w.now())
	if auditErr := writeAudit(w.fs, wctx, "notion", result); auditErr != nil {
		w.logger.Warn("failed to write audit record", "error", auditErr)
	}

	w.logger.Info("notion pull complete",
		"data_source_id", dataSourceID,
		"mode", mode,
		"ingested_chunks", result.IngestedChunks,
		"skipped", len(result.Skipped),
	)

	return result, err
}

// pullPage fetches, renders, chunks, and commits one page. Returns the
// number of chunks committed; zero means the page rendered empty.
func (w *NotionWorker) pullPage(ctx context.Context, wctx workspace.Context, page notion.Page) (int, error) {
	blocks, err := w.api.BlockTree(ctx, page.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch blocks: %w", err)
	}

	segments := notion.RenderSegments(blocks, w.logger)
	records := w.chunker.BuildRecords(chunker.Page{
		SourceType:  chunker.SourceTypeNotion,
		SourceID:    page.ID,
		Title:       page.Title(),
		URL:         page.URL,
		WorkspaceID: wctx.WorkspaceID,
		Segments:    segments,
	})
	if len(records) == 0 {
		return 0, nil
	}

	if err := w.index.Replace(ctx, chunker.SourceTypeNotion, page.ID, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// searchWithBackoff runs one enumeration call, retrying transient
// provider failures and honoring 429 retry hints. The rate-limit park
// time is persisted before waiting so an aborted run resumes correctly.
func (w *NotionWorker) searchWithBackoff(ctx context.Context, state *models.NotionSyncState, cursor string) (*notion.SearchPage, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var batch *notion.SearchPage
	operation := func() error {
		var err error
		batch, err = w.api.SearchPages(ctx, cursor)
		if err == nil {
			return nil
		}

		var rateErr *notion.RateLimitError
		if errors.As(err, &rateErr) {
			until := w.now().Add(rateErr.RetryAfter)
			state.RateLimitedUntil = &until
			state.NextCursor = cursor
			if w.db != nil {
				if persistErr := state.Upsert(w.db); persistErr != nil {
					w.logger.Warn("failed to persist rate-limit state", "error", persistErr)
				}
			}
			if waitErr := w.waitUntil(ctx, until); waitErr != nil {
				return backoff.Permanent(waitErr)
			}
			return err // retry after the park
		}

		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("notion enumeration failed: %w", err)
	}

	state.RateLimitedUntil = nil
	return batch, nil
}

func (w *NotionWorker) persistCursor(state *models.NotionSyncState, cursor string) {
	state.NextCursor = cursor
	if w.db == nil {
		return
	}
	if err := state.Upsert(w.db); err != nil {
		w.logger.Warn("failed to persist enumeration cursor", "error", err)
	}
}

// waitUntil sleeps until the deadline or context cancellation.
func (w *NotionWorker) waitUntil(ctx context.Context, until time.Time) error {
	wait := until.Sub(w.now())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DisconnectNotion removes every Notion record from the index and wipes
// the credential and sync state rows of the given data sources.
func DisconnectNotion(ctx context.Context, db *gorm.DB, index Index, dataSourceIDs []string) error {
	if err := index.DeleteBySourceType(ctx, chunker.SourceTypeNotion); err != nil {
		return err
	}

	if db != nil {
		if err := models.DeleteCredentialsByProvider(db, models.ProviderNotion, dataSourceIDs); err != nil {
			return fmt.Errorf("failed to delete notion credentials: %w", err)
		}
		if err := db.Where("data_source_id IN ?", dataSourceIDs).
			Delete(&models.NotionSyncState{}).Error; err != nil {
			return fmt.Errorf("failed to delete notion sync state: %w", err)
		}
	}
	return nil
}
