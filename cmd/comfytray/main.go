package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/comfytray"
	"github.com/loykin/comfytray/internal/env"
	"github.com/loykin/comfytray/internal/logger"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for running the supervisor itself.
type RunFlags struct {
	Headless     bool
	NoAutoLaunch bool
	LogLevel     string
}

// APIFlags selects the control API of a running instance.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags, runFlags)
	root.AddCommand(
		createStatusCommand(globalFlags, apiFlags),
		createRestartCommand(globalFlags, apiFlags),
		createOpenTabCommand(globalFlags, apiFlags),
		createVersionCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "comfytray",
		Short: "Tray supervisor for the ComfyUI service",
		Long: `comfytray launches ComfyUI, watches that it is reachable and keeps a tray icon
with its status. Only one instance runs per user session.

Examples:
  comfytray                          # launch with tray icon
  comfytray --headless               # no tray, status goes to the log
  comfytray --config comfytray.toml
  comfytray status                   # query a running instance (needs [api] enabled)`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSupervisor(cmd, flags, runFlags)
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.Flags().BoolVar(&runFlags.Headless, "headless", false, "run without a tray icon")
	root.Flags().BoolVar(&runFlags.NoAutoLaunch, "no-auto-launch", false, "do not open a browser tab on first start")
	root.Flags().StringVar(&runFlags.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	return root
}

func runSupervisor(cmd *cobra.Command, flags *GlobalFlags, runFlags *RunFlags) error {
	cfg, err := comfytray.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if runFlags.LogLevel != "" {
		cfg.Log.Level = runFlags.LogLevel
	}
	log, closer, err := logger.New(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	defer detachFromConsole(log)()

	app, err := comfytray.New(cfg, log, comfytray.Options{
		Headless:     runFlags.Headless,
		NoAutoLaunch: runFlags.NoAutoLaunch,
	})
	if errors.Is(err, comfytray.ErrAlreadyRunning) {
		log.Info("already running", "lock", cfg.Lock.Name)
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "control API base URL (default from [api] config)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "request timeout (default 10s; restart waits for the stop)")
}

// apiURL derives the control API base URL from the config unless given.
func apiURL(global *GlobalFlags, f *APIFlags) (string, error) {
	if f.APIUrl != "" {
		return strings.TrimRight(f.APIUrl, "/"), nil
	}
	cfg, err := comfytray.LoadConfig(global.ConfigPath)
	if err != nil {
		return "", err
	}
	base := strings.Trim(strings.TrimSpace(cfg.API.BasePath), "/")
	u := "http://" + cfg.API.Listen
	if base != "" {
		u += "/" + base
	}
	return u, nil
}

func createStatusCommand(global *GlobalFlags, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := apiURL(global, f)
			if err != nil {
				return err
			}
			snap, err := NewAPIClient(u, f.APITimeout).GetStatus()
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), snap, f.JSON)
		},
	}
	addAPIFlags(cmd, f)
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the raw JSON snapshot")
	return cmd
}

func printStatus(w io.Writer, snap comfytray.Snapshot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	p := snap.Process
	_, err := fmt.Fprintf(w, "%s\nurl:     %s\nprocess: %s (pid %d, starts %d, kills %d)\n",
		snap.Tooltip, snap.URL, p.State, p.PID, p.Starts, p.Kills)
	if err == nil && p.Exit != "" {
		_, err = fmt.Fprintf(w, "exit:    %s\n", p.Exit)
	}
	return err
}

func createRestartCommand(global *GlobalFlags, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the service of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := apiURL(global, f)
			if err != nil {
				return err
			}
			timeout := f.APITimeout
			if timeout == 0 {
				timeout = time.Minute
			}
			if err := NewAPIClient(u, timeout).Restart(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "restarted")
			return err
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createOpenTabCommand(global *GlobalFlags, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open-tab",
		Short: "Open the web UI through a running instance",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			u, err := apiURL(global, f)
			if err != nil {
				return err
			}
			return NewAPIClient(u, f.APITimeout).OpenTab()
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createVersionCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(w, "comfytray %s\n", comfytray.Version); err != nil {
				return err
			}
			cfg, err := comfytray.LoadConfig(global.ConfigPath)
			if err != nil || cfg.Service.Version == "" {
				return nil
			}
			ext, internal := env.SplitVersion(cfg.Service.Version)
			if internal == "" {
				internal = ext
			}
			_, err = fmt.Fprintf(w, "%s %s (package %s)\n", cfg.Service.DisplayName, ext, internal)
			return err
		},
	}
}
