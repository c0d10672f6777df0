package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"rollcall/internal/adapters/metrics"
	"rollcall/internal/adapters/storage"
	auditStore "rollcall/internal/adapters/storage/audit"
	memberStore "rollcall/internal/adapters/storage/member"
	transitionStore "rollcall/internal/adapters/storage/transition"
	"rollcall/internal/adapters/terrain"
	"rollcall/internal/config"
)

var (
	rootFlagDB    string
	rootFlagRanks string

	// cfg is loaded once per invocation by setupCommand.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rostersync",
	Short: "Reconcile a unit roster against the local member records",
	Long: `rostersync compares the roster held by the national membership system
with the members recorded locally, and shows or applies the resulting plan.

Settings come from ROLLCALL_* environment variables, with .env.local and
.env in the working directory loaded first.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupCommand,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlagDB, "db", "", "SQLite database path (default $ROLLCALL_DB)")
	rootCmd.PersistentFlags().StringVar(&rootFlagRanks, "ranks", "", "rank table YAML file (default $ROLLCALL_RANKS_FILE)")
}

func setupCommand(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	if rootFlagDB != "" {
		c.DBPath = rootFlagDB
	}
	if rootFlagRanks != "" {
		if c.Ranks, err = config.LoadRanks(rootFlagRanks); err != nil {
			return err
		}
		c.RanksFile = rootFlagRanks
	}
	slog.SetDefault(config.NewLogger(c))
	cfg = c
	return nil
}

// syncEnv holds what a plan or apply run needs from the outside world.
type syncEnv struct {
	db          *sql.DB
	members     *memberStore.SQLiteStore
	transitions *transitionStore.SQLiteStore
	audit       *auditStore.SQLiteStore
	source      terrain.Source
	metrics     *metrics.Metrics
}

// openSyncEnv opens the database and the roster source. A non-empty file
// overrides the configured source.
func openSyncEnv(ctx context.Context, file string) (*syncEnv, error) {
	if file == "" {
		file = cfg.RosterFile
	}
	source, err := terrain.NewSource(ctx, file, terrain.ClientConfig{
		BaseURL:           cfg.TerrainURL,
		Token:             cfg.TerrainToken,
		ClientID:          cfg.TerrainClientID,
		ClientSecret:      cfg.TerrainClientSecret,
		TokenURL:          cfg.TerrainTokenURL,
		RequestsPerSecond: cfg.TerrainRPS,
	})
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.DBPath, err)
	}
	m := metrics.New(nil)
	timed := storage.NewTimedDB(db, m, cfg.SlowQuery)
	return &syncEnv{
		db:          db,
		members:     memberStore.NewSQLiteStore(timed),
		transitions: transitionStore.NewSQLiteStore(timed),
		audit:       auditStore.NewSQLiteStore(timed),
		source:      source,
		metrics:     m,
	}, nil
}

func (e *syncEnv) Close() error {
	return e.db.Close()
}
