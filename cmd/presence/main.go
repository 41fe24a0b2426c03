package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/dotops/presence/internal/cli"
)

func main() {
	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
