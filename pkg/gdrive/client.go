package gdrive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/arcana-forge/arcana/pkg/auth"
)

// File is the provider-agnostic view of one Drive file, carrying exactly
// the fields the sync worker's re-index decision needs.
type File struct {
	ID           string
	Name         string
	MimeType     string
	MD5Checksum  string
	Version      int64
	ModifiedTime time.Time
	WebViewLink  string
	Parents      []string
	Trashed      bool
}

// Change is one entry from the Changes API.
type Change struct {
	FileID  string
	Removed bool
	File    *File
}

// ChangeList is the drained Changes feed plus the cursor for next time.
type ChangeList struct {
	Changes           []Change
	NewStartPageToken string
}

// API is the Drive surface the sync worker consumes. *Client implements
// it against the real service; tests substitute a fake.
type API interface {
	ListFolderTree(ctx context.Context, rootFolderID string) ([]File, error)
	GetStartPageToken(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, pageToken string) (*ChangeList, error)
	ExportPDF(ctx context.Context, file File) ([]byte, error)
	ExportDOCX(ctx context.Context, file File) ([]byte, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	IsReachable(ctx context.Context, fileID, rootFolderID string) (bool, error)
}

const fileFields = "id,name,mimeType,md5Checksum,version,modifiedTime,webViewLink,parents,trashed"

// Client wraps the Drive v3 service.
type Client struct {
	svc    *drive.Service
	logger hclog.Logger
}

var _ API = (*Client)(nil)

// tokenSource adapts the refresh-aware token provider to oauth2.
type tokenSource struct {
	ctx    context.Context
	tokens auth.TokenProvider
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	token, err := t.tokens.AccessToken(t.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token}, nil
}

// ClientConfig holds Drive client configuration.
type ClientConfig struct {
	Tokens  auth.TokenProvider
	Timeout time.Duration // per-call HTTP timeout (default: 60s)
	Logger  hclog.Logger
}

// NewClient creates a Drive client. Tokens are fetched per request, so a
// refresh mid-sync is picked up transparently.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := oauth2.NewClient(ctx, &tokenSource{ctx: ctx, tokens: cfg.Tokens})
	httpClient.Timeout = cfg.Timeout

	svc, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{svc: svc, logger: cfg.Logger.Named("gdrive-client")}, nil
}

// ListFolderTree enumerates every supported file reachable under the
// root folder, walking subfolders breadth-first.
func (c *Client) ListFolderTree(ctx context.Context, rootFolderID string) ([]File, error) {
	var files []File
	queue := []string{rootFolderID}
	seen := map[string]bool{rootFolderID: true}

	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]

		query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
		pageToken := ""
		for {
			call := c.svc.Files.List().
				Q(query).
				Fields("nextPageToken", "files("+fileFields+")").
				PageSize(1000).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			resp, err := call.Do()
			if err != nil {
				return nil, fmt.Errorf("failed to list folder %s: %w", folderID, err)
			}

			for _, f := range resp.Files {
				if f.MimeType == MimeFolder {
					if !seen[f.Id] {
						seen[f.Id] = true
						queue = append(queue, f.Id)
					}
					continue
				}
				if !IsSupported(f.MimeType) {
					continue
				}
				files = append(files, convertFile(f))
			}

			if resp.NextPageToken == "" {
				break
			}
			pageToken = resp.NextPageToken
		}
	}

	return files, nil
}

// GetStartPageToken fetches the Changes API cursor for "now".
func (c *Client) GetStartPageToken(ctx context.Context) (string, error) {
	resp, err := c.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get start page token: %w", err)
	}
	return resp.StartPageToken, nil
}

// ListChanges drains the Changes feed from pageToken and returns the new
// cursor to persist.
func (c *Client) ListChanges(ctx context.Context, pageToken string) (*ChangeList, error) {
	out := &ChangeList{}

	for pageToken != "" {
		resp, err := c.svc.Changes.List(pageToken).
			Fields("nextPageToken", "newStartPageToken", "changes(fileId,removed,file("+fileFields+"))").
			IncludeRemoved(true).
			PageSize(100).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list changes: %w", err)
		}

		for _, ch := range resp.Changes {
			change := Change{FileID: ch.FileId, Removed: ch.Removed}
			if ch.File != nil {
				f := convertFile(ch.File)
				change.File = &f
			}
			out.Changes = append(out.Changes, change)
		}

		if resp.NewStartPageToken != "" {
			out.NewStartPageToken = resp.NewStartPageToken
		}
		pageToken = resp.NextPageToken
	}

	return out, nil
}

// ExportPDF renders a file to PDF. Google-native files use the Export
// API directly; Office uploads are converted via a server-side copy into
// the matching Google editor type first, then exported and the copy
// removed. Plain PDFs download as-is.
func (c *Client) ExportPDF(ctx context.Context, file File) ([]byte, error) {
	switch {
	case file.MimeType == MimePDF:
		return c.Download(ctx, file.ID)

	case IsGoogleNative(file.MimeType):
		return c.export(ctx, file.ID, MimeExportPDF)

	default:
		nativeMime, ok := officeToNativeMime[file.MimeType]
		if !ok {
			return nil, fmt.Errorf("unsupported MIME type for PDF export: %s", file.MimeType)
		}

		copied, err := c.svc.Files.Copy(file.ID, &drive.File{MimeType: nativeMime}).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s via copy: %w", file.ID, err)
		}
		defer func() {
			if err := c.svc.Files.Delete(copied.Id).Context(ctx).Do(); err != nil {
				c.logger.Warn("failed to delete conversion copy", "file_id", copied.Id, "error", err)
			}
		}()

		return c.export(ctx, copied.Id, MimeExportPDF)
	}
}

// ExportDOCX retrieves the OpenXML form of a document: Google Docs are
// exported, uploaded DOCX files download as-is.
func (c *Client) ExportDOCX(ctx context.Context, file File) ([]byte, error) {
	switch file.MimeType {
	case MimeDOCX:
		return c.Download(ctx, file.ID)
	case MimeGoogleDoc:
		return c.export(ctx, file.ID, MimeDOCX)
	default:
		return nil, fmt.Errorf("no OpenXML form for MIME type %s", file.MimeType)
	}
}

// Download fetches an uploaded file's raw bytes.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// IsReachable walks the parent chain of a file and reports whether it
// passes through the workspace root folder.
func (c *Client) IsReachable(ctx context.Context, fileID, rootFolderID string) (bool, error) {
	seen := map[string]bool{}
	queue := []string{fileID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == rootFolderID {
			return true, nil
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		f, err := c.svc.Files.Get(id).Fields("id,parents").Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("failed to resolve parents of %s: %w", id, err)
		}
		queue = append(queue, f.Parents...)
	}

	return false, nil
}

func (c *Client) export(ctx context.Context, fileID, mimeType string) ([]byte, error) {
	resp, err := c.svc.Files.Export(fileID, mimeType).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s as %s: %w", fileID, mimeType, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// convertFile maps the Drive API file to the worker's view. Drive
// timestamps are RFC 3339 but arrive as strings; dateparse tolerates the
// fractional-second variants the API emits.
func convertFile(f *drive.File) File {
	modified, err := dateparse.ParseAny(f.ModifiedTime)
	if err != nil {
		modified = time.Time{}
	}
	return File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		MD5Checksum:  f.Md5Checksum,
		Version:      f.Version,
		ModifiedTime: modified,
		WebViewLink:  f.WebViewLink,
		Parents:      f.Parents,
		Trashed:      f.Trashed,
	}
}
