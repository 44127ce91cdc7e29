package main

import (
	"os"

	"github.com/arcana-forge/arcana/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
