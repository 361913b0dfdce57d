package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/meetsync/internal/ledger"
	"github.com/agentworkforce/meetsync/internal/notify"
	"github.com/agentworkforce/meetsync/internal/syncer"
)

func newSyncCmd(a *app) *cobra.Command {
	var (
		dryRun       bool
		lookbackDays int
		testIDs      bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "sync [meeting-id...]",
		Short: "Run one sync pass, or sync only the given meetings",
		Long: "Without arguments, syncs every finished meeting from the lookback window.\n" +
			"With meeting ids, fetches exactly those meetings and skips discovery.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if cmd.Flags().Changed("lookback-days") {
				a.cfg.Sync.LookbackDays = lookbackDays
			}
			ids := args
			if len(ids) == 0 && testIDs {
				if len(a.cfg.Sync.TestMeetingIDs) == 0 {
					return fmt.Errorf("--test-ids given but sync.test_meeting_ids is empty")
				}
				ids = a.cfg.Sync.TestMeetingIDs
			}

			s, l, err := a.buildSyncer(dryRun, a.notifier())
			if err != nil {
				return err
			}
			defer a.closeLedger(l)

			var res syncer.Result
			if len(ids) > 0 {
				res, err = s.RunTargeted(cmd.Context(), ids)
			} else {
				res, err = s.RunOnce(cmd.Context())
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.deps.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				a.printResult(res)
			}
			if !res.OK() {
				return fmt.Errorf("%w: %d of %d meetings failed", ErrSyncFailed, res.Errors, res.Candidates)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be synced without writing notes or the ledger")
	cmd.Flags().IntVar(&lookbackDays, "lookback-days", 0, "days of history to scan (overrides sync.lookback_days)")
	cmd.Flags().BoolVar(&testIDs, "test-ids", false, "sync sync.test_meeting_ids instead of discovering meetings")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	return cmd
}

// buildSyncer opens the ledger and client. The caller closes the ledger.
func (a *app) buildSyncer(dryRun bool, n notify.Notifier) (*syncer.Syncer, *ledger.Ledger, error) {
	client, err := a.newClient()
	if err != nil {
		return nil, nil, err
	}
	var writer syncer.NoteWriter
	if !dryRun {
		w, err := a.newWriter()
		if err != nil {
			return nil, nil, err
		}
		writer = w
	}
	l, err := a.openLedger()
	if err != nil {
		return nil, nil, err
	}
	s, err := syncer.NewSyncer(client, l, writer, syncer.Options{
		LookbackDays: a.cfg.Sync.LookbackDays,
		PageSize:     a.cfg.Sync.BatchSize,
		DryRun:       dryRun,
		Verbose:      a.cfg.Debug,
		Notifier:     n,
		Logger:       a.logger,
	})
	if err != nil {
		a.closeLedger(l)
		return nil, nil, err
	}
	return s, l, nil
}

func (a *app) closeLedger(l *ledger.Ledger) {
	if err := l.Close(); err != nil {
		a.logger.Printf("closing ledger: %v", err)
	}
}

func (a *app) printResult(res syncer.Result) {
	prefix := ""
	if res.DryRun {
		prefix = "[dry-run] "
	}
	a.printf("%s%d candidates, %d already synced, %d processed, %d not ready, %d errors\n",
		prefix, res.Candidates, res.AlreadyKnown, res.Processed, res.NotReady, res.Errors)
	for _, path := range res.Notes {
		a.printf("  wrote %s\n", path)
	}
	for _, id := range res.Pending {
		a.printf("  would sync %s\n", id)
	}
	for _, f := range res.Failures {
		a.printf("  failed %s (%s): %s\n", f.ID, f.Stage, f.Error)
	}
}
