// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with PEERDEX, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("PEERDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/peerdex", "$HOME/.peerdex", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	_ = viper.ReadInConfig()

	return &cobra.Command{
		Use:   "peerdex",
		Short: "A tiered identity search engine over a decentralized social graph",
		Long: `A tiered identity search engine over a decentralized social graph.

Peerdex expands the follow graph outward from a seed identity and resolves
every discovered pubkey to a profile through a waterfall of increasingly
expensive sources, streaming query matches as they are found.`,
	}
}
