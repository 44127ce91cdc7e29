// Package api is the thin REST adapter over the core facade. Handlers
// translate JSON to facade calls and error kinds to status codes; no
// business logic lives here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/arcana-forge/arcana/internal/server"
	"github.com/arcana-forge/arcana/internal/services"
	"github.com/arcana-forge/arcana/pkg/auth"
	"github.com/arcana-forge/arcana/pkg/models"
	"github.com/arcana-forge/arcana/pkg/search"
	"github.com/arcana-forge/arcana/pkg/sync"
	"github.com/arcana-forge/arcana/pkg/workspace"
)

// workspaceRef identifies the tenant in every request body.
type workspaceRef struct {
	WorkspaceID string `json:"workspace_id"`
	Slug        string `json:"workspace_slug"`
}

// credentialRef selects a stored provider credential.
type credentialRef struct {
	Provider     string `json:"provider"`
	DataSourceID string `json:"data_source_id"`
}

// NewRouter builds the API mux.
func NewRouter(srv server.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/ingest/notion", IngestNotionHandler(srv))
	mux.Handle("/api/v1/ingest/gdrive", IngestDriveHandler(srv))
	mux.Handle("/api/v1/disconnect", DisconnectHandler(srv))
	mux.Handle("/api/v1/query", QueryHandler(srv))
	return mux
}

// IngestNotionHandler triggers a Notion pull.
func IngestNotionHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			workspaceRef
			credentialRef
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Mode == "" {
			req.Mode = sync.ModeIncremental
		}

		wctx, credential, ok := resolve(srv, w, req.workspaceRef, models.ProviderNotion, req.DataSourceID)
		if !ok {
			return
		}

		result, err := srv.Core.IngestNotion(r.Context(), wctx, credential, req.Mode)
		respondSync(srv, w, result, err)
	})
}

// IngestDriveHandler triggers a Drive bootstrap or incremental sync.
func IngestDriveHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			workspaceRef
			credentialRef
			RootFolderID string `json:"root_folder_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		wctx, credential, ok := resolve(srv, w, req.workspaceRef, models.ProviderGoogle, req.DataSourceID)
		if !ok {
			return
		}

		result, err := srv.Core.IngestDrive(r.Context(), wctx, credential, req.RootFolderID)
		respondSync(srv, w, result, err)
	})
}

// DisconnectHandler removes a source type from the workspace.
func DisconnectHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			workspaceRef
			SourceType string `json:"source_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		wctx := srv.Core.Workspace(req.WorkspaceID, req.Slug)
		if err := srv.Core.Disconnect(r.Context(), req.SourceType, wctx); err != nil {
			writeError(srv, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// QueryHandler routes a user query through the agent graph.
func QueryHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			workspaceRef
			UserID string `json:"user_id"`
			Query  string `json:"query"`
			TopK   int    `json:"top_k,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		wctx := srv.Core.Workspace(req.WorkspaceID, req.Slug)

		var opts *services.QueryOptions
		if req.TopK > 0 {
			opts = &services.QueryOptions{TopK: req.TopK}
		}

		result, err := srv.Core.Query(r.Context(), wctx, req.UserID, req.Query, opts)
		if err != nil {
			writeError(srv, w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

// resolve loads the workspace context and credential row for a request.
func resolve(srv server.Server, w http.ResponseWriter, ref workspaceRef, provider, dataSourceID string) (workspace.Context, *models.OAuthCredential, bool) {
	wctx := srv.Core.Workspace(ref.WorkspaceID, ref.Slug)

	if ref.WorkspaceID == "" || dataSourceID == "" {
		http.Error(w, "workspace_id and data_source_id are required", http.StatusBadRequest)
		return wctx, nil, false
	}

	credential := &models.OAuthCredential{Provider: provider, DataSourceID: dataSourceID}
	if err := credential.Get(srv.DB); err != nil {
		http.Error(w, "unknown credential", http.StatusNotFound)
		return wctx, nil, false
	}
	return wctx, credential, true
}

// respondSync writes a sync result, degrading to 207 for partial runs.
func respondSync(srv server.Server, w http.ResponseWriter, result *sync.Result, err error) {
	if result == nil && err != nil {
		writeError(srv, w, err)
		return
	}

	status := http.StatusOK
	if result != nil && result.Status == sync.StatusPartial {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// writeError maps error kinds to status codes.
func writeError(srv server.Server, w http.ResponseWriter, err error) {
	srv.Logger.Error("request failed", "error", err)

	switch {
	case errors.Is(err, auth.ErrAuthExpired):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "reconnect-required",
		})
	case errors.Is(err, services.ErrRequestTimeout):
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	case errors.Is(err, search.ErrDimMismatch):
		http.Error(w, "index dimension mismatch", http.StatusInternalServerError)
	case isValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func isValidation(err error) bool {
	var vErr validation.Error
	return errors.As(err, &vErr)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
