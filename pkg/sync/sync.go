// Package sync implements the provider sync workers: change-driven,
// resumable ingestion from Notion and Google Drive into the per-workspace
// retrieval index.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/arcana-forge/arcana/pkg/chunker"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// Result statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
)

// Failure records one source that could not be ingested.
type Failure struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// Result aggregates one sync run. Per-source failures do not abort the
// batch; they are collected here and the run reports partial success.
type Result struct {
	Status         string    `json:"status"`
	IngestedChunks int       `json:"ingested_chunks"`
	Skipped        []string  `json:"skipped,omitempty"`
	Removed        []string  `json:"removed,omitempty"`
	Failures       []Failure `json:"failures,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// finish stamps the result status from its failure list and returns the
// accumulated failure error, if any.
func (r *Result) finish(now time.Time) error {
	r.FinishedAt = now
	r.Status = StatusOK

	if len(r.Failures) == 0 {
		return nil
	}
	r.Status = StatusPartial

	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, fmt.Errorf("source %s: %s", f.SourceID, f.Reason))
	}
	return merr.ErrorOrNil()
}

// Index is the slice of the retrieval store the workers write through.
type Index interface {
	Replace(ctx context.Context, sourceType, sourceID string, records []chunker.Record) error
	DeleteBySource(ctx context.Context, sourceType, sourceID string) error
	DeleteBySourceType(ctx context.Context, sourceType string) error
}

// writeAudit appends the run summary as one JSONL line under the
// workspace audit directory. Audit failures never fail the sync.
func writeAudit(fs afero.Fs, wctx workspace.Context, source string, result *Result) error {
	if fs == nil {
		return nil
	}
	if err := fs.MkdirAll(wctx.AuditDir(), 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(result)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("%s/%s.jsonl", wctx.AuditDir(), source)
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
