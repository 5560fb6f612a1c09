package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/abramin/namelens/internal/cache"
	"github.com/abramin/namelens/internal/config"
	"github.com/abramin/namelens/internal/logging"
	"github.com/abramin/namelens/internal/mapping"
	"github.com/abramin/namelens/internal/query"
	"github.com/abramin/namelens/internal/source"
	"github.com/abramin/namelens/internal/store"
)

var (
	cfgFile string
	cfg     *config.Config
	app     *App
)

var rootCmd = &cobra.Command{
	Use:   "namelens",
	Short: "namelens - Look up obfuscated and readable symbol names by version",
	Long: `namelens maps intermediate symbol names to their human-readable names
for a given release version.

Mapping archives are read from the data directory (and downloaded from a
mirror when one is configured). Each version's database is built once on
first use and shared by every lookup after that.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return errors.Errorf("failed to load config: %w", err)
		}

		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		ctx := logging.Setup(cmd.Context(), cmd.ErrOrStderr(), logging.Options{Level: level, Color: cfg.UseColor()})
		cmd.SetContext(ctx)

		// A failed command skips PersistentPostRunE.
		if app != nil {
			_ = app.Close()
		}
		app, err = NewApp(cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		err := app.Close()
		app = nil
		return err
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./namelens.yaml)")
}

// App wires the components every command uses.
type App struct {
	Fetcher  Fetcher
	Store    *store.Store
	Cache    *cache.Cache
	Service  *query.Service
	Registry *prometheus.Registry
}

// Fetcher resolves and lists versions.
type Fetcher interface {
	mapping.Fetcher
	Versions(ctx context.Context) ([]string, error)
	LatestVersion(ctx context.Context) (string, error)
}

// NewApp builds the fetcher, store, cache and query service described by c.
func NewApp(c *config.Config) (*App, error) {
	dir := source.NewDir(c.DataDir)
	var fetcher Fetcher = dir
	if c.Remote.BaseURL != "" {
		fetcher = source.NewRemote(dir, c.Remote.BaseURL, c.Remote.UserAgent, source.WithVersionsTTL(c.Remote.VersionsTTL))
	}

	st, err := store.Open(c.Database)
	if err != nil {
		return nil, errors.Errorf("opening store: %w", err)
	}
	slog.Debug("store opened", "path", st.DBPath())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ch := cache.New(mapping.NewBuilder(fetcher),
		cache.WithVersionLister(fetcher),
		cache.WithMetrics(cache.NewMetrics(reg)),
		cache.WithBuildHook(query.RecordBuilds(st)),
	)

	return &App{
		Fetcher:  fetcher,
		Store:    st,
		Cache:    ch,
		Service:  query.New(ch, st, fetcher, query.WithWait(c.LookupWait)),
		Registry: reg,
	}, nil
}

// drainTimeout bounds how long Close waits for detached builds.
const drainTimeout = 30 * time.Second

// Close waits for running builds to record their history, then releases the
// store.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.Cache.Drain(ctx); err != nil {
		slog.Warn("closing with builds still running", "error", err)
	}
	return a.Store.Close()
}
