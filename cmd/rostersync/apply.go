package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"rollcall/internal/application/orchestrators"
	"rollcall/internal/domain/account"
	"rollcall/internal/domain/rostersync"
)

// cliActorID marks audit events written from the command line.
const cliActorID = "cli"

var (
	applyFlagUnit        string
	applyFlagExternal    string
	applyFlagDryRun      bool
	applyFlagActor       string
	applyFlagLockTimeout time.Duration
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the sync plan for one unit",
	Long: `Rebuild the sync plan for a unit from current data and write it.

New members are added and field changes and transitions recorded, one
transaction per member. A row that fails is reported and the rest still
apply. Runs against the same database take turns on a lock file in
ROLLCALL_LOCK_DIR.`,
	Example: `  rostersync apply --unit 4021 --dry-run
  rostersync apply --unit 4021 --actor jo@example.org`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVar(&applyFlagUnit, "unit", "", "unit id to reconcile (required)")
	applyCmd.Flags().StringVar(&applyFlagExternal, "external", "", "roster export to read instead of the configured source")
	applyCmd.Flags().BoolVar(&applyFlagDryRun, "dry-run", false, "report what would be written without writing")
	applyCmd.Flags().StringVar(&applyFlagActor, "actor", os.Getenv("USER"), "name recorded in the audit trail")
	applyCmd.Flags().DurationVar(&applyFlagLockTimeout, "lock-timeout", 30*time.Second, "how long to wait for another apply to finish")
	_ = applyCmd.MarkFlagRequired("unit")
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if !applyFlagDryRun {
		unlock, err := lockDatabase(ctx, applyFlagLockTimeout)
		if err != nil {
			return err
		}
		defer unlock()
	}

	env, err := openSyncEnv(ctx, applyFlagExternal)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := orchestrators.ExecuteApplySync(ctx, orchestrators.ApplySyncInput{
		UnitID:     applyFlagUnit,
		ActorID:    cliActorID,
		ActorEmail: applyFlagActor,
		ActorRole:  account.RoleAdmin,
		DryRun:     applyFlagDryRun,
		UserAgent:  "rostersync",
	}, orchestrators.ApplySyncDeps{
		Source:          env.source,
		MemberStore:     env.members,
		TransitionStore: env.transitions,
		AuditStore:      env.audit,
		Reconciler:      rostersync.New(cfg.Ranks),
		Metrics:         env.metrics,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	verb := "applied"
	if res.DryRun {
		verb = "dry run"
	}
	fmt.Fprintf(out, "unit %s (%s): %d added, %d updated, %d transitions\n",
		res.UnitID, verb, res.Added, res.Updated, res.Transitions)
	for _, d := range res.Diagnostics {
		if d.Kind == rostersync.DiagnosticSkip {
			continue
		}
		fmt.Fprintf(out, "  %s row %d %s: %s\n", d.Kind, d.Row, d.ExternalID, d.Reason)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  failed %s %s: %s\n", e.ExternalID, e.Name, e.Message)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d plan entries could not be written", len(res.Errors))
	}
	return nil
}

// lockDatabase takes an exclusive lock named after the database file.
func lockDatabase(ctx context.Context, timeout time.Duration) (func(), error) {
	abs, err := filepath.Abs(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	path := filepath.Join(cfg.LockDir, "rostersync-"+filepath.Base(abs)+".lock")
	lock := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another apply holds %s", path)
	}
	return func() { _ = lock.Unlock() }, nil
}
