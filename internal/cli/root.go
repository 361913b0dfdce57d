// Package cli wires configuration, the Fireflies client, the ledger and the
// vault writer into meetsync's commands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/meetsync/internal/config"
	"github.com/agentworkforce/meetsync/internal/fireflies"
	"github.com/agentworkforce/meetsync/internal/ledger"
	"github.com/agentworkforce/meetsync/internal/notify"
	"github.com/agentworkforce/meetsync/internal/vault"
	"github.com/agentworkforce/meetsync/internal/version"
)

// ErrSyncFailed marks a run that finished with per-meeting errors.
var ErrSyncFailed = errors.New("sync finished with errors")

// Dependencies are the process-level inputs. Zero values fall back to the
// real process environment.
type Dependencies struct {
	Stdout     io.Writer
	Stderr     io.Writer
	Env        func(string) (string, bool)
	HTTPClient *http.Client
}

type globalFlags struct {
	configPath string
	envFile    string
	vaultPath  string
	ledgerDSN  string
	debug      bool
}

type app struct {
	deps   Dependencies
	flags  globalFlags
	cfg    config.Config
	logger *log.Logger
}

func NewRootCmd(deps Dependencies) *cobra.Command {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	a := &app{deps: deps, logger: log.New(deps.Stderr, "", log.LstdFlags)}

	rootCmd := &cobra.Command{
		Use:           "meetsync",
		Short:         "Sync Fireflies meeting summaries into an Obsidian vault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.SetOut(deps.Stdout)
	rootCmd.SetErr(deps.Stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (.toml, .json, .jsonc or .yaml)")
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&a.flags.vaultPath, "vault", "", "Obsidian vault path (overrides OBSIDIAN_VAULT_PATH)")
	pf.StringVar(&a.flags.ledgerDSN, "ledger", "", "ledger DSN: file path, file://, sqlite://, postgres:// or memory://")
	pf.BoolVar(&a.flags.debug, "debug", false, "verbose per-meeting logging")

	rootCmd.AddCommand(
		newRunCmd(a),
		newSyncCmd(a),
		newStatusCmd(a),
		newCheckCmd(a),
		newReconcileCmd(a),
		newResetCmd(a),
		newInitCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	if cmd.Annotations["skipConfig"] == "true" {
		return nil
	}
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: a.flags.configPath,
		EnvFile:    a.flags.envFile,
		Env:        a.deps.Env,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.flags.vaultPath != "" {
		cfg.Obsidian.VaultPath = config.ExpandHome(a.flags.vaultPath)
	}
	if a.flags.ledgerDSN != "" {
		cfg.Ledger.DSN = a.flags.ledgerDSN
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = a.flags.debug
	}
	a.cfg = cfg
	if cfg.Source != "" && cfg.Debug {
		a.logger.Printf("loaded config from %s", cfg.Source)
	}
	return nil
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	l, err := ledger.Open(a.cfg.Ledger.DSN, ledger.Options{Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return l, nil
}

func (a *app) newClient() (*fireflies.Client, error) {
	return fireflies.NewClient(fireflies.Options{
		BaseURL:     a.cfg.Fireflies.APIURL,
		APIKey:      a.cfg.Fireflies.APIKey,
		HTTPClient:  a.deps.HTTPClient,
		MaxAttempts: a.cfg.Fireflies.RetryAttempts,
		Logger:      a.logger,
	})
}

func (a *app) newWriter() (*vault.Writer, error) {
	opts := vault.WriterOptions{
		VaultPath:      a.cfg.Obsidian.VaultPath,
		Folder:         a.cfg.Obsidian.FirefliesFolder,
		MaxTitleLength: a.cfg.Obsidian.MaxFilenameLength,
		Logger:         a.logger,
	}
	if a.cfg.Obsidian.TemplatePath != "" {
		renderer, err := vault.NewTemplateRenderer(a.cfg.Obsidian.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("load note template: %w", err)
		}
		opts.Renderer = renderer
	}
	return vault.NewWriter(opts)
}

// notifier always logs; desktop notifications follow the config.
func (a *app) notifier(extra ...notify.Notifier) notify.Notifier {
	all := notify.Multi{notify.Log{Logger: a.logger}}
	desktop := notify.NewDesktop(notify.DesktopOptions{
		Enabled:     a.cfg.Notifications.Enabled,
		ShowSuccess: a.cfg.Notifications.ShowSuccess,
		ShowErrors:  a.cfg.Notifications.ShowErrors,
		Logger:      a.logger,
	})
	if desktop.Enabled() {
		all = append(all, desktop)
	}
	return append(all, extra...)
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.deps.Stdout, format, args...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.printf("%s\n", version.Full())
			return nil
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a starter config file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExamplePath()
			if len(args) == 1 {
				path = config.ExpandHome(args[0])
			}
			if err := config.WriteExample(path); err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%s already exists", path)
				}
				return err
			}
			a.printf("wrote %s\n", path)
			return nil
		},
	}
}
