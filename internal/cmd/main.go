package cmd

import (
	"bufio"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/arcana-forge/arcana/internal/cmd/commands/serve"
	"github.com/arcana-forge/arcana/internal/version"
)

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	cliName := args[0]

	log := hclog.New(&hclog.LoggerOptions{
		Name: cliName,
	})

	if len(args) == 2 &&
		(args[1] == "-version" ||
			args[1] == "-v") {
		args = []string{cliName, "version"}
	}

	// If no subcommand is provided, default to 'serve'.
	if len(args) == 1 {
		args = append(args, "serve")
	}

	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := &cli.CLI{
		Name:    cliName,
		Args:    args[1:],
		Version: version.Version,
		Commands: map[string]cli.CommandFactory{
			"serve": func() (cli.Command, error) {
				return serve.NewCommand(log, ui), nil
			},
			"version": func() (cli.Command, error) {
				return &versionCommand{ui: ui}, nil
			},
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		log.Error("error running command", "error", err)
		return 1
	}

	return exitCode
}

// versionCommand prints the release version.
type versionCommand struct {
	ui cli.Ui
}

func (c *versionCommand) Help() string     { return "Usage: arcana version" }
func (c *versionCommand) Synopsis() string { return "Print the version" }

func (c *versionCommand) Run(args []string) int {
	c.ui.Output(version.Version)
	return 0
}
