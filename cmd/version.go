package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/peerdex/peerdex/internal/build"
)

// NewVersionCommand returns the command to get the peerdex version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the Peerdex version",
		Long:  "Return the Peerdex version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("Peerdex Version %s Date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
