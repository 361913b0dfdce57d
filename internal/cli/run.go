package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/meetsync/internal/config"
	"github.com/agentworkforce/meetsync/internal/httpapi"
	"github.com/agentworkforce/meetsync/internal/notify"
	"github.com/agentworkforce/meetsync/internal/syncer"
	"github.com/agentworkforce/meetsync/internal/trigger"
)

const controlShutdownTimeout = 5 * time.Second

func newRunCmd(a *app) *cobra.Command {
	var (
		interval     time.Duration
		jitter       float64
		controlAddr  string
		controlToken string
		triggerFile  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for finished meetings until interrupted",
		Long: "Polls Fireflies on an interval and writes a note for every finished meeting.\n" +
			"SIGUSR1, touching the trigger file or POST /v1/sync starts a pass immediately.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("interval") {
				if interval < time.Second || interval%time.Second != 0 {
					return fmt.Errorf("%w: --interval must be a whole number of seconds, got %s", config.ErrInvalid, interval)
				}
				a.cfg.Sync.PollingIntervalSeconds = int(interval / time.Second)
			}
			if cmd.Flags().Changed("jitter") {
				a.cfg.Sync.Jitter = jitter
			}
			if cmd.Flags().Changed("control-addr") {
				a.cfg.Control.Addr = controlAddr
			}
			if cmd.Flags().Changed("control-token") {
				a.cfg.Control.Token = controlToken
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if triggerFile == "" {
				triggerFile = a.cfg.TriggerFile()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runLoop(ctx, triggerFile)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (overrides sync.polling_interval_seconds)")
	cmd.Flags().Float64Var(&jitter, "jitter", 0, "poll interval jitter ratio (0.0-1.0)")
	cmd.Flags().StringVar(&controlAddr, "control-addr", "", "serve the control API on this address, e.g. 127.0.0.1:8787")
	cmd.Flags().StringVar(&controlToken, "control-token", "", "bearer token required by the control API")
	cmd.Flags().StringVar(&triggerFile, "trigger-file", "", "file whose creation requests a sync (default <vault>/.meetsync-now)")
	return cmd
}

func (a *app) runLoop(ctx context.Context, triggerFile string) error {
	var hub *notify.Hub
	var extra []notify.Notifier
	if a.cfg.Control.Addr != "" {
		hub = notify.NewHub(a.logger)
		extra = append(extra, hub)
	}
	s, l, err := a.buildSyncer(false, a.notifier(extra...))
	if err != nil {
		return err
	}
	defer a.closeLedger(l)
	a.logger.Printf("meetsync starting: vault %s, folder %s, ledger %s", a.cfg.Obsidian.VaultPath, a.cfg.Obsidian.FirefliesFolder, l.Location())

	tr := trigger.New()
	go trigger.NotifySignal(ctx, tr, a.logger)
	go func() {
		if err := trigger.WatchFile(ctx, tr, triggerFile, a.logger); err != nil {
			a.logger.Printf("trigger file disabled: %v", err)
		}
	}()

	if hub != nil {
		srv := &http.Server{
			Addr: a.cfg.Control.Addr,
			Handler: httpapi.NewServer(l, s, tr, hub, httpapi.ServerConfig{
				Token:        a.cfg.Control.Token,
				RateLimitMax: 30,
				Logger:       a.logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			a.logger.Printf("control API listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Printf("ERROR: control API stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), controlShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return s.Loop(ctx, syncer.LoopOptions{
		Interval: a.cfg.PollInterval(),
		Jitter:   a.cfg.Sync.Jitter,
		Trigger:  tr.C(),
	})
}
