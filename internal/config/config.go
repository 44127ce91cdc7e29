// Package config loads the server configuration from an HCL file and
// applies environment-variable overrides for the deployment-tunable
// keys.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `hcl:"listen_addr,optional"`

	// WorkspaceStorageRoot is the filesystem root holding per-workspace
	// storage directories.
	WorkspaceStorageRoot string `hcl:"workspace_storage_root,optional"`

	Database  *Database  `hcl:"database,block"`
	LLM       *LLM       `hcl:"llm,block"`
	Retrieval *Retrieval `hcl:"retrieval,block"`
	Notion    *OAuthApp  `hcl:"notion,block"`
	Google    *OAuthApp  `hcl:"google,block"`
}

// Database selects and configures the state store.
type Database struct {
	// Driver is "sqlite" or "postgres".
	Driver string `hcl:"driver,optional"`

	// Path is the SQLite database path.
	Path string `hcl:"path,optional"`

	// PostgreSQL settings.
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
}

// LLM configures the model provider and its deployments.
type LLM struct {
	// Provider is "openai" (default), "anthropic", or "mock".
	Provider string `hcl:"provider,optional"`

	APIKey          string `hcl:"api_key,optional"`
	BaseURL         string `hcl:"base_url,optional"`
	AnthropicAPIKey string `hcl:"anthropic_api_key,optional"`

	// Deployments per purpose; final_answer is intentionally distinct
	// from the planning/generation deployment.
	ChatDeployment        string `hcl:"chat_deployment,optional"`
	EmbedDeployment       string `hcl:"embed_deployment,optional"`
	FinalAnswerDeployment string `hcl:"final_answer_deployment,optional"`

	// DocGenMaxTokens bounds the document generator's output.
	DocGenMaxTokens int `hcl:"doc_gen_max_tokens,optional"`
}

// Retrieval tunes hybrid search and chunking.
type Retrieval struct {
	TopK         int     `hcl:"top_k,optional"`
	HybridAlpha  float64 `hcl:"hybrid_alpha,optional"`
	HybridRRFK   int     `hcl:"hybrid_rrf_k,optional"`
	ChunkSize    int     `hcl:"chunk_size,optional"`
	OverlapRatio float64 `hcl:"chunk_overlap_ratio,optional"`
}

// OAuthApp holds one provider's OAuth application settings.
type OAuthApp struct {
	ClientID     string `hcl:"client_id,optional"`
	ClientSecret string `hcl:"client_secret,optional"`
	RedirectURI  string `hcl:"redirect_uri,optional"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		ListenAddr:           ":8700",
		WorkspaceStorageRoot: ".arcana/workspaces",
		Database:             &Database{Driver: "sqlite", Path: ".arcana/arcana.db"},
		LLM: &LLM{
			Provider:              "openai",
			ChatDeployment:        "gpt-4o",
			EmbedDeployment:       "text-embedding-3-small",
			FinalAnswerDeployment: "gpt-4o-mini",
			DocGenMaxTokens:       1200,
		},
		Retrieval: &Retrieval{
			TopK:         5,
			HybridAlpha:  0.6,
			HybridRRFK:   60,
			OverlapRatio: 0.10,
		},
		Notion: &OAuthApp{},
		Google: &OAuthApp{},
	}
}

// Load reads the HCL file (optional) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parsed := &Config{}
			if err := hclsimple.DecodeFile(path, nil, parsed); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			cfg.merge(parsed)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// merge overlays non-zero values from other. The llm and retrieval blocks
// are merged field by field; a database, notion or google block replaces
// the default block as a whole.
func (c *Config) merge(other *Config) {
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.WorkspaceStorageRoot != "" {
		c.WorkspaceStorageRoot = other.WorkspaceStorageRoot
	}
	if other.Database != nil {
		c.Database = other.Database
	}
	if other.LLM != nil {
		base := c.LLM
		c.LLM = other.LLM
		if c.LLM.Provider == "" {
			c.LLM.Provider = base.Provider
		}
		if c.LLM.ChatDeployment == "" {
			c.LLM.ChatDeployment = base.ChatDeployment
		}
		if c.LLM.EmbedDeployment == "" {
			c.LLM.EmbedDeployment = base.EmbedDeployment
		}
		if c.LLM.FinalAnswerDeployment == "" {
			c.LLM.FinalAnswerDeployment = base.FinalAnswerDeployment
		}
		if c.LLM.DocGenMaxTokens == 0 {
			c.LLM.DocGenMaxTokens = base.DocGenMaxTokens
		}
	}
	if other.Retrieval != nil {
		base := c.Retrieval
		c.Retrieval = other.Retrieval
		if c.Retrieval.TopK == 0 {
			c.Retrieval.TopK = base.TopK
		}
		if c.Retrieval.HybridAlpha == 0 {
			c.Retrieval.HybridAlpha = base.HybridAlpha
		}
		if c.Retrieval.HybridRRFK == 0 {
			c.Retrieval.HybridRRFK = base.HybridRRFK
		}
		if c.Retrieval.OverlapRatio == 0 {
			c.Retrieval.OverlapRatio = base.OverlapRatio
		}
	}
	if other.Notion != nil {
		c.Notion = other.Notion
	}
	if other.Google != nil {
		c.Google = other.Google
	}
}

// applyEnv applies the deployment-tunable environment keys.
func (c *Config) applyEnv() {
	setString(&c.WorkspaceStorageRoot, "WORKSPACE_STORAGE_ROOT")

	setInt(&c.Retrieval.TopK, "TOP_K")
	setFloat(&c.Retrieval.HybridAlpha, "HYBRID_ALPHA")
	setInt(&c.Retrieval.HybridRRFK, "HYBRID_RRF_K")
	setFloat(&c.Retrieval.OverlapRatio, "RAG_CHUNK_OVERLAP_RATIO")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.LLM.ChatDeployment, "CHAT_DEPLOYMENT")
	setString(&c.LLM.EmbedDeployment, "EMBED_DEPLOYMENT")
	setString(&c.LLM.FinalAnswerDeployment, "FINAL_ANSWER_DEPLOYMENT")
	setInt(&c.LLM.DocGenMaxTokens, "DOC_GEN_MAX_TOKENS")

	setString(&c.Notion.ClientID, "NOTION_CLIENT_ID")
	setString(&c.Notion.ClientSecret, "NOTION_CLIENT_SECRET")
	setString(&c.Notion.RedirectURI, "NOTION_REDIRECT_URI")

	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Google.RedirectURI, "GOOGLE_REDIRECT_URI")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}
