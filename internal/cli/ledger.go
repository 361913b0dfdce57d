package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/meetsync/internal/ledger"
)

type statusOutput struct {
	ledger.Stats
	LastPollTime *time.Time `json:"lastPollTime,omitempty"`
	Config       string     `json:"config,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many meetings have been synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			defer a.closeLedger(l)

			out := statusOutput{Stats: l.Stats(), Config: a.cfg.Source}
			if t, ok := l.MetadataTime(ledger.MetadataLastPollTime); ok {
				out.LastPollTime = &t
			}
			if asJSON {
				enc := json.NewEncoder(a.deps.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			a.printf("ledger:          %s\n", out.Location)
			a.printf("synced meetings: %d\n", out.TotalProcessed)
			a.printf("last sync:       %s\n", formatOptionalTime(out.LastSync))
			a.printf("last poll:       %s\n", formatOptionalTime(out.LastPollTime))
			if out.Config != "" {
				a.printf("config:          %s\n", out.Config)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the configuration and the Fireflies API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.printf("vault:     %s\n", a.cfg.Obsidian.VaultPath)
			client, err := a.newClient()
			if err != nil {
				return err
			}
			if _, err := client.TestConnection(cmd.Context()); err != nil {
				return fmt.Errorf("fireflies connection failed: %w", err)
			}
			a.printf("fireflies: connected (%s)\n", a.cfg.Fireflies.APIURL)
			return nil
		},
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find notes in the vault whose meetings are missing from the ledger",
		Long: "Scans the notes folder for meeting_id frontmatter and lists ids the ledger\n" +
			"does not know. With --apply they are recorded so they are never synced again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.ValidateVault(); err != nil {
				return err
			}
			w, err := a.newWriter()
			if err != nil {
				return err
			}
			ids, err := w.ScanMeetingIDs()
			if err != nil {
				return fmt.Errorf("scan %s: %w", w.Dir(), err)
			}
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			defer a.closeLedger(l)

			var missing []string
			for _, id := range ids {
				if !l.IsProcessed(id) {
					missing = append(missing, id)
				}
			}
			a.printf("%d notes scanned, %d missing from the ledger\n", len(ids), len(missing))
			for _, id := range missing {
				a.printf("  %s\n", id)
			}
			if !apply || len(missing) == 0 {
				return nil
			}
			if err := l.MarkManyProcessed(missing); err != nil {
				return fmt.Errorf("record reconciled meetings: %w", err)
			}
			a.printf("recorded %d meetings\n", len(missing))
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "record the missing ids in the ledger")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every synced meeting",
		Long:  "Clears the ledger. The next sync rewrites notes for the whole lookback window,\nadding (n) suffixes where notes already exist.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the ledger without --yes")
			}
			l, err := a.openLedger()
			if err != nil {
				return err
			}
			defer a.closeLedger(l)
			before := l.Stats().TotalProcessed
			if err := l.Clear(); err != nil {
				return err
			}
			a.printf("cleared %d meetings from %s\n", before, l.Location())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the ledger")
	return cmd
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
