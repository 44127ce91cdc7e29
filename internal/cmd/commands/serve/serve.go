// Package serve implements the serve command: it wires the database,
// LLM provider, and core facade, and runs the HTTP adapter.
package serve

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/arcana-forge/arcana/internal/api"
	"github.com/arcana-forge/arcana/internal/config"
	"github.com/arcana-forge/arcana/internal/db"
	"github.com/arcana-forge/arcana/internal/server"
	"github.com/arcana-forge/arcana/internal/services"
)

// Command is the serve command.
type Command struct {
	log hclog.Logger
	ui  cli.Ui

	flagConfig string
}

// NewCommand creates the serve command.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{log: log, ui: ui}
}

// Synopsis returns the one-line command summary.
func (c *Command) Synopsis() string {
	return "Run the Arcana server"
}

// Help returns the command help text.
func (c *Command) Help() string {
	return `Usage: arcana serve [options]

  Starts the Arcana knowledge-assistant server.

Options:

  -config=<path>
      Path to the HCL configuration file (default: arcana.hcl).
`
}

// Run executes the command.
func (c *Command) Run(args []string) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.StringVar(&c.flagConfig, "config", "arcana.hcl", "configuration file path")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(c.flagConfig)
	if err != nil {
		c.ui.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}

	database, err := db.New(cfg.Database)
	if err != nil {
		c.ui.Error(fmt.Sprintf("error opening database: %v", err))
		return 1
	}

	core, err := services.NewService(services.ServiceConfig{
		Config: cfg,
		DB:     database,
		Logger: c.log,
	})
	if err != nil {
		c.ui.Error(fmt.Sprintf("error building core: %v", err))
		return 1
	}
	defer core.Close()

	srv := server.Server{
		Core:   core,
		Config: cfg,
		DB:     database,
		Logger: c.log,
	}

	c.log.Info("starting server", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, api.NewRouter(srv)); err != nil {
		c.ui.Error(fmt.Sprintf("server error: %v", err))
		return 1
	}
	return 0
}
