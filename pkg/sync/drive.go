package sync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/arcana-forge/arcana/pkg/chunker"
	"github.com/arcana-forge/arcana/pkg/gdrive"
	"github.com/arcana-forge/arcana/pkg/models"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// DriveWorker syncs Google Drive files into the index: a one-time
// bootstrap enumeration, then Changes-API-driven incremental pulls with
// snapshot reconciliation.
type DriveWorker struct {
	db      *gorm.DB
	api     gdrive.API
	index   Index
	chunker *chunker.Chunker
	fs      afero.Fs
	now     func() time.Time
	logger  hclog.Logger
}

// DriveWorkerConfig holds Drive worker dependencies.
type DriveWorkerConfig struct {
	DB      *gorm.DB
	API     gdrive.API
	Index   Index
	Chunker *chunker.Chunker
	FS      afero.Fs // exported artifacts and audit records; nil disables both

	// Now overrides the clock in tests.
	Now func() time.Time

	Logger hclog.Logger
}

// NewDriveWorker creates a Drive sync worker.
func NewDriveWorker(cfg DriveWorkerConfig) (*DriveWorker, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("drive API is required")
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

	return &DriveWorker{
		db:      cfg.DB,
		api:     cfg.API,
		index:   cfg.Index,
		chunker: cfg.Chunker,
		fs:      cfg.FS,
		now:     cfg.Now,
		logger:  cfg.Logger.Named("gdrive-sync"),
	}, nil
}

// Sync runs one pull for a data source: a bootstrap when no start page
// token has been recorded yet, otherwise an incremental Changes pull.
func (w *DriveWorker) Sync(ctx context.Context, wctx workspace.Context, dataSourceID, rootFolderID string) (*Result, error) {
	state := &models.DriveSyncState{DataSourceID: dataSourceID}
	if w.db != nil {
		if err := state.Get(w.db); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load drive sync state: %w", err)
		}
	}
	state.WorkspaceID = wctx.WorkspaceID

	if state.StartPageToken == "" {
		return w.bootstrap(ctx, wctx, state, rootFolderID)
	}
	return w.incremental(ctx, wctx, state, rootFolderID)
}

// bootstrap enumerates every supported file under the workspace root,
// ingests each, and records the Changes cursor taken before enumeration
// so edits made during the bootstrap replay on the first incremental.
func (w *DriveWorker) bootstrap(ctx context.Context, wctx workspace.Context, state *models.DriveSyncState, rootFolderID string) (*Result, error) {
	result := &Result{StartedAt: w.now()}

	token, err := w.api.GetStartPageToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get start page token: %w", err)
	}

	files, err := w.api.ListFolderTree(ctx, rootFolderID)
	if err != nil {
		return nil, fmt.Errorf("drive enumeration failed: %w", err)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		w.ingestFile(ctx, wctx, state.DataSourceID, file, result)
	}

	now := w.now()
	state.StartPageToken = token
	state.BootstrappedAt = &now
	state.LastSynced = &now
	if w.db != nil {
		if err := state.Upsert(w.db); err != nil {
			return result, fmt.Errorf("failed to persist drive sync state: %w", err)
		}
	}

	err = result.finish(w.now())
	if auditErr := writeAudit(w.fs, wctx, "gdrive", result); auditErr != nil {
		w.logger.Warn("failed to write audit record", "error", auditErr)
	}

	w.logger.Info("drive bootstrap complete",
		"data_source_id", state.DataSourceID,
		"files", len(files),
		"ingested_chunks", result.IngestedChunks,
	)

	return result, err
}

// incremental consumes the Changes feed from the persisted cursor.
func (w *DriveWorker) incremental(ctx context.Context, wctx workspace.Context, state *models.DriveSyncState, rootFolderID string) (*Result, error) {
	result := &Result{StartedAt: w.now()}

	changes, err := w.api.ListChanges(ctx, state.StartPageToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	for _, change := range changes.Changes {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		w.applyChange(ctx, wctx, state.DataSourceID, rootFolderID, change, result)
	}

	now := w.now()
	if changes.NewStartPageToken != "" {
		state.StartPageToken = changes.NewStartPageToken
	}
	state.LastSynced = &now
	if w.db != nil {
		if err := state.Upsert(w.db); err != nil {
			return result, fmt.Errorf("failed to persist drive sync state: %w", err)
		}
	}

	err = result.finish(w.now())
	if auditErr := writeAudit(w.fs, wctx, "gdrive", result); auditErr != nil {
		w.logger.Warn("failed to write audit record", "error", auditErr)
	}

	w.logger.Info("drive incremental sync complete",
		"data_source_id", state.DataSourceID,
		"changes", len(changes.Changes),
		"ingested_chunks", result.IngestedChunks,
		"removed", len(result.Removed),
	)

	return result, err
}

// applyChange classifies one change and reconciles index and snapshot.
func (w *DriveWorker) applyChange(ctx context.Context, wctx workspace.Context, dataSourceID, rootFolderID string, change gdrive.Change, result *Result) {
	snapshot := &models.DriveFileSnapshot{DataSourceID: dataSourceID, FileID: change.FileID}
	hasSnapshot := false
	if w.db != nil {
		if err := snapshot.Get(w.db); err == nil {
			hasSnapshot = true
		}
	}

	// REMOVED / TRASHED.
	if change.Removed || (change.File != nil && change.File.Trashed) {
		if hasSnapshot {
			w.removeFile(ctx, change.FileID, snapshot, result)
		}
		return
	}
	if change.File == nil {
		return
	}
	file := *change.File

	if !gdrive.IsSupported(file.MimeType) {
		result.Skipped = append(result.Skipped, file.ID)
		return
	}

	// MOVED out of scope behaves like a removal; moved in or ADDED like
	// a modification.
	reachable, err := w.api.IsReachable(ctx, file.ID, rootFolderID)
	if err != nil {
		result.Failures = append(result.Failures, Failure{SourceID: file.ID, Reason: err.Error()})
		return
	}
	if !reachable {
		if hasSnapshot {
			w.removeFile(ctx, file.ID, snapshot, result)
		}
		return
	}

	if hasSnapshot && !needsReindex(snapshot, file) {
		// Metadata-only change (rename, link): refresh the snapshot row
		// without re-emitting records.
		w.writeSnapshot(dataSourceID, file)
		return
	}

	w.ingestFile(ctx, wctx, dataSourceID, file, result)
}

// needsReindex implements the re-index decision: binary files compare
// md5 checksums, Google-native files compare (version, modifiedTime),
// and a missing snapshot always re-indexes.
func needsReindex(snapshot *models.DriveFileSnapshot, file gdrive.File) bool {
	if gdrive.IsGoogleNative(file.MimeType) {
		return file.Version > snapshot.Version ||
			file.ModifiedTime.After(snapshot.ModifiedTime)
	}
	return file.MD5Checksum != snapshot.MD5Checksum
}

// ingestFile exports, extracts, chunks, and commits one file, then
// writes its snapshot. Failures are recorded per source.
func (w *DriveWorker) ingestFile(ctx context.Context, wctx workspace.Context, dataSourceID string, file gdrive.File, result *Result) {
	page, err := w.buildPage(ctx, wctx, file)
	if err != nil {
		w.logger.Warn("skipping file", "file_id", file.ID, "name", file.Name, "error", err)
		result.Skipped = append(result.Skipped, file.ID)
		result.Failures = append(result.Failures, Failure{SourceID: file.ID, Reason: err.Error()})
		return
	}

	records := w.chunker.BuildRecords(*page)
	if len(records) == 0 {
		result.Skipped = append(result.Skipped, file.ID)
		return
	}

	if err := w.index.Replace(ctx, chunker.SourceTypeGDrive, file.ID, records); err != nil {
		w.logger.Warn("index write failed", "file_id", file.ID, "error", err)
		result.Failures = append(result.Failures, Failure{SourceID: file.ID, Reason: err.Error()})
		return
	}

	w.writeSnapshot(dataSourceID, file)
	result.IngestedChunks += len(records)
}

// buildPage exports the file and renders it into a chunkable page.
// DOCX and Google Docs additionally retain word/document.xml.
func (w *DriveWorker) buildPage(ctx context.Context, wctx workspace.Context, file gdrive.File) (*chunker.Page, error) {
	pdf, err := w.api.ExportPDF(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("pdf export failed: %w", err)
	}

	artifactPath := w.saveArtifact(wctx, file.ID, pdf)

	page := &chunker.Page{
		SourceType:  chunker.SourceTypeGDrive,
		SourceID:    file.ID,
		Title:       file.Name,
		URL:         file.WebViewLink,
		WorkspaceID: wctx.WorkspaceID,
		FilePath:    artifactPath,
	}

	var text string
	if gdrive.HasOpenXMLStructure(file.MimeType) {
		docx, err := w.api.ExportDOCX(ctx, file)
		if err != nil {
			return nil, fmt.Errorf("docx export failed: %w", err)
		}
		documentXML, err := gdrive.ExtractOpenXML(docx)
		if err != nil {
			return nil, fmt.Errorf("openxml extraction failed: %w", err)
		}
		page.StructuredFormat = chunker.StructuredFormatOpenXML
		page.StructuredText = documentXML
		text = gdrive.OpenXMLToText(documentXML)
	} else {
		text, err = gdrive.ExtractPDFText(pdf)
		if err != nil {
			return nil, fmt.Errorf("pdf text extraction failed: %w", err)
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		page.Segments = append(page.Segments, chunker.Segment{
			Type: "paragraph",
			Text: para,
		})
	}

	return page, nil
}

// saveArtifact writes the exported PDF under the workspace artifact
// directory. Artifact write failures are logged, not fatal: the index
// owns the projection, not the export.
func (w *DriveWorker) saveArtifact(wctx workspace.Context, fileID string, pdf []byte) string {
	if w.fs == nil {
		return ""
	}
	if err := w.fs.MkdirAll(wctx.DrivePDFDir(), 0o755); err != nil {
		w.logger.Warn("failed to create artifact directory", "error", err)
		return ""
	}
	artifactPath := path.Join(wctx.DrivePDFDir(), fileID+".pdf")
	if err := afero.WriteFile(w.fs, artifactPath, pdf, 0o644); err != nil {
		w.logger.Warn("failed to write artifact", "file_id", fileID, "error", err)
		return ""
	}
	return artifactPath
}

func (w *DriveWorker) writeSnapshot(dataSourceID string, file gdrive.File) {
	if w.db == nil {
		return
	}
	snapshot := &models.DriveFileSnapshot{
		DataSourceID: dataSourceID,
		FileID:       file.ID,
		Name:         file.Name,
		MimeType:     file.MimeType,
		MD5Checksum:  file.MD5Checksum,
		Version:      file.Version,
		ModifiedTime: file.ModifiedTime,
		WebViewLink:  file.WebViewLink,
		LastSynced:   w.now(),
	}
	if err := snapshot.Upsert(w.db); err != nil {
		w.logger.Warn("failed to write snapshot", "file_id", file.ID, "error", err)
	}
}

func (w *DriveWorker) removeFile(ctx context.Context, fileID string, snapshot *models.DriveFileSnapshot, result *Result) {
	if err := w.index.DeleteBySource(ctx, chunker.SourceTypeGDrive, fileID); err != nil {
		result.Failures = append(result.Failures, Failure{SourceID: fileID, Reason: err.Error()})
		return
	}
	if w.db != nil {
		if err := snapshot.Delete(w.db); err != nil {
			w.logger.Warn("failed to delete snapshot", "file_id", fileID, "error", err)
		}
	}
	result.Removed = append(result.Removed, fileID)
}

// DisconnectDrive removes every Drive record from the index and wipes
// the credential, snapshot, and sync state rows of the given data
// sources.
func DisconnectDrive(ctx context.Context, db *gorm.DB, index Index, dataSourceIDs []string) error {
	if err := index.DeleteBySourceType(ctx, chunker.SourceTypeGDrive); err != nil {
		return err
	}

	if db != nil {
		if err := models.DeleteCredentialsByProvider(db, models.ProviderGoogle, dataSourceIDs); err != nil {
			return fmt.Errorf("failed to delete google credentials: %w", err)
		}
		if err := db.Where("data_source_id IN ?", dataSourceIDs).
			Delete(&models.DriveFileSnapshot{}).Error; err != nil {
			return fmt.Errorf("failed to delete drive snapshots: %w", err)
		}
		if err := db.Where("data_source_id IN ?", dataSourceIDs).
			Delete(&models.DriveSyncState{}).Error; err != nil {
			return fmt.Errorf("failed to delete drive sync state: %w", err)
		}
	}
	return nil
}
