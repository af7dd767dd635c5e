package main

import (
	"os"

	"github.com/peerdex/peerdex/cmd"
	"github.com/peerdex/peerdex/cmd/search"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	searchCmd := search.NewSearchCommand()
	rootCmd.AddCommand(searchCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
