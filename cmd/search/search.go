// Package search implements the peerdex search command: it runs one search
// over a JSON graph fixture and streams the matches to stdout.
package search

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peerdex/peerdex/cmd/util"
	"github.com/peerdex/peerdex/pkg/fetch"
	"github.com/peerdex/peerdex/pkg/fetch/fetchtest"
	"github.com/peerdex/peerdex/pkg/identity"
	"github.com/peerdex/peerdex/pkg/logger"
	"github.com/peerdex/peerdex/pkg/match"
	"github.com/peerdex/peerdex/pkg/search"
	"github.com/peerdex/peerdex/pkg/storage"
	"github.com/peerdex/peerdex/pkg/storage/badgercache"
	"github.com/peerdex/peerdex/pkg/storage/memory"
)

// Config holds every tunable of the search command.
type Config struct {
	// Fixture is the path of the JSON graph fixture to search over.
	Fixture string

	// Cache selects the graph cache backend, "memory" or "badger".
	Cache string

	// CachePath is the badger directory when Cache is "badger".
	CachePath string

	// Latency adds a simulated per-fetch network delay.
	Latency time.Duration

	// Breaker wraps the fetch client with per-concern circuit breakers.
	Breaker bool

	MaxRadius    int
	ResultTarget int
	BatchSize    int
	TierTimeout  time.Duration

	LogFormat string
	LogLevel  string
}

func DefaultConfig() Config {
	return Config{
		Cache:     "memory",
		MaxRadius: search.DefaultMaxRadius,
		LogFormat: "text",
		LogLevel:  "none",
	}
}

// NewSearchCommand returns the command to run one search over a fixture.
func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a social graph fixture for identities matching a query",
		Long: `Search a social graph fixture for identities matching a query.

The graph is expanded outward from the fixture's user while every discovered
pubkey is resolved through the tier waterfall; matches stream to stdout as
they are found, cheapest tier first.`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	bindSearchFlags(cmd)
	return cmd
}

func bindSearchFlags(command *cobra.Command) {
	defaults := DefaultConfig()
	flags := command.Flags()

	flags.String("fixture", defaults.Fixture, "the path of the JSON graph fixture to search over")
	util.MustBindPFlag("search.fixture", flags.Lookup("fixture"))
	util.MustBindEnv("search.fixture", "PEERDEX_SEARCH_FIXTURE")

	flags.String("cache", defaults.Cache, "the graph cache backend to use (memory or badger)")
	util.MustBindPFlag("search.cache", flags.Lookup("cache"))
	util.MustBindEnv("search.cache", "PEERDEX_SEARCH_CACHE")

	flags.String("cache-path", defaults.CachePath, "the directory for the badger cache")
	util.MustBindPFlag("search.cache-path", flags.Lookup("cache-path"))
	util.MustBindEnv("search.cache-path", "PEERDEX_SEARCH_CACHE_PATH")

	flags.Duration("latency", defaults.Latency, "a simulated per-fetch network delay")
	util.MustBindPFlag("search.latency", flags.Lookup("latency"))
	util.MustBindEnv("search.latency", "PEERDEX_SEARCH_LATENCY")

	flags.Bool("breaker", defaults.Breaker, "wrap the fetch client with per-concern circuit breakers")
	util.MustBindPFlag("search.breaker", flags.Lookup("breaker"))
	util.MustBindEnv("search.breaker", "PEERDEX_SEARCH_BREAKER")

	flags.Int("max-radius", defaults.MaxRadius, "the maximum number of hops to expand out from the seed set")
	util.MustBindPFlag("search.max-radius", flags.Lookup("max-radius"))
	util.MustBindEnv("search.max-radius", "PEERDEX_SEARCH_MAX_RADIUS")

	flags.Int("result-target", defaults.ResultTarget, "complete the search early after this many matches (0 runs to exhaustion)")
	util.MustBindPFlag("search.result-target", flags.Lookup("result-target"))
	util.MustBindEnv("search.result-target", "PEERDEX_SEARCH_RESULT_TARGET")

	flags.Int("batch-size", defaults.BatchSize, "the number of candidates resolved per batch")
	util.MustBindPFlag("search.batch-size", flags.Lookup("batch-size"))
	util.MustBindEnv("search.batch-size", "PEERDEX_SEARCH_BATCH_SIZE")

	flags.Duration("tier-timeout", defaults.TierTimeout, "the per-batch deadline of each network tier")
	util.MustBindPFlag("search.tier-timeout", flags.Lookup("tier-timeout"))
	util.MustBindEnv("search.tier-timeout", "PEERDEX_SEARCH_TIER_TIMEOUT")

	flags.String("log-format", defaults.LogFormat, "the log format to output logs in (text or json)")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "PEERDEX_LOG_FORMAT")

	flags.String("log-level", defaults.LogLevel, "the log level (none, debug, info, warn, error)")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "PEERDEX_LOG_LEVEL")
}

func configFromViper() Config {
	return Config{
		Fixture:      viper.GetString("search.fixture"),
		Cache:        viper.GetString("search.cache"),
		CachePath:    viper.GetString("search.cache-path"),
		Latency:      viper.GetDuration("search.latency"),
		Breaker:      viper.GetBool("search.breaker"),
		MaxRadius:    viper.GetInt("search.max-radius"),
		ResultTarget: viper.GetInt("search.result-target"),
		BatchSize:    viper.GetInt("search.batch-size"),
		TierTimeout:  viper.GetDuration("search.tier-timeout"),
		LogFormat:    viper.GetString("log.format"),
		LogLevel:     viper.GetString("log.level"),
	}
}

func runSearch(command *cobra.Command, args []string) error {
	cfg := configFromViper()
	query := args[0]

	if cfg.Fixture == "" {
		return fmt.Errorf("a graph fixture is required, pass one with --fixture")
	}

	log, err := logger.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	fx, err := fetchtest.LoadFixture(cfg.Fixture)
	if err != nil {
		return err
	}

	cache, err := openCache(cfg, log)
	if err != nil {
		return err
	}
	defer cache.Close()

	if cfg.Latency > 0 {
		fx.Client.SetLatency(cfg.Latency)
	}
	var client fetch.Client = fx.Client
	if cfg.Breaker {
		client = fetch.NewBreakerClient(client, fetch.DefaultBreakerConfig(), log)
	}

	opts := []search.EngineOpt{search.WithLogger(log)}
	if len(fx.Groups) > 0 {
		opts = append(opts, search.WithGroupSource(identity.NewStaticGroups(fx.Groups...)))
	}

	engine := search.NewEngine(
		identity.NewMemoryStore(fx.Contacts...),
		cache,
		client,
		match.NewFoldMatcher(),
		opts...,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	handle := engine.Search(ctx, query, fx.SearchSeeds(),
		search.WithMaxRadius(cfg.MaxRadius),
		search.WithResultTarget(cfg.ResultTarget),
		search.WithBatchSize(cfg.BatchSize),
		search.WithTierTimeout(cfg.TierTimeout),
	)

	out := command.OutOrStdout()
	count := 0
	for res := range handle.Results() {
		count++
		fmt.Fprintf(out, "%-14s %6.2f  %-24s %s\n",
			res.Tier, res.Score, res.Profile.BestName(), res.PubKey)
	}
	<-handle.Done()

	fmt.Fprintf(out, "\n%d result(s) in %s (search %s)\n",
		count, time.Since(started).Round(time.Millisecond), handle.ID())
	return nil
}

func openCache(cfg Config, log logger.Logger) (storage.GraphCache, error) {
	switch cfg.Cache {
	case "", "memory":
		return memory.New()
	case "badger":
		if cfg.CachePath == "" {
			return nil, fmt.Errorf("the badger cache requires --cache-path")
		}
		return badgercache.Open(cfg.CachePath, badgercache.WithLogger(log))
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache)
	}
}
