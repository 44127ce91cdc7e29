package workspace

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/iancoleman/strcase"
	"github.com/spf13/afero"
)

// Subdirectory layout under each workspace storage root.
const (
	VectorDirName    = "chroma"
	KeywordIndexName = "bm25.index"
	DrivePDFDirName  = "googledrive/pdf"
	AuditDirName     = "jsonl"
)

// Context identifies one tenant-isolated workspace and its storage root.
// It is handed to the core by the account layer; the core never creates
// workspaces on its own.
type Context struct {
	// WorkspaceID is the stable workspace identifier.
	WorkspaceID string

	// Slug is the human-readable workspace slug.
	Slug string

	// StorageRoot is the absolute per-workspace directory,
	// computed as <root>/<sanitized slug>.
	StorageRoot string
}

// NewContext builds a workspace context rooted under root.
func NewContext(workspaceID, slug, root string) Context {
	sanitized := SanitizeSlug(slug)
	if sanitized == "" {
		sanitized = SanitizeSlug(workspaceID)
	}
	return Context{
		WorkspaceID: workspaceID,
		Slug:        slug,
		StorageRoot: path.Join(root, sanitized),
	}
}

// VectorDir returns the dense vector store directory.
func (c Context) VectorDir() string {
	return path.Join(c.StorageRoot, VectorDirName)
}

// KeywordIndexPath returns the BM25 keyword index path.
func (c Context) KeywordIndexPath() string {
	return path.Join(c.StorageRoot, KeywordIndexName)
}

// DrivePDFDir returns the directory holding exported Drive PDF artifacts.
func (c Context) DrivePDFDir() string {
	return path.Join(c.StorageRoot, DrivePDFDirName)
}

// AuditDir returns the directory holding debug/audit JSONL records.
func (c Context) AuditDir() string {
	return path.Join(c.StorageRoot, AuditDirName)
}

// EnsureLayout creates the storage root and its subdirectories.
func (c Context) EnsureLayout(fs afero.Fs) error {
	for _, dir := range []string{
		c.StorageRoot,
		c.VectorDir(),
		c.DrivePDFDir(),
		c.AuditDir(),
	} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}
	return nil
}

// SanitizeSlug converts a workspace slug into a filesystem-safe directory
// name: ASCII letters, digits, spaces, hyphens and underscores are kept,
// every other rune is dropped, and the rest is converted to snake case
// (so spaces and hyphens become underscores).
func SanitizeSlug(slug string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
			return r
		case unicode.IsDigit(r):
			return r
		case r == '-' || r == '_' || r == ' ':
			return r
		default:
			return -1
		}
	}, slug)

	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}
	return strcase.ToSnake(cleaned)
}
