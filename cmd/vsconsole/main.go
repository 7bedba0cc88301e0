package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/craquehouse/vintagestory-server-sub003/internal/api"
	"github.com/craquehouse/vintagestory-server-sub003/internal/config"
	"github.com/craquehouse/vintagestory-server-sub003/internal/console"
	"github.com/craquehouse/vintagestory-server-sub003/internal/logs"
	"github.com/craquehouse/vintagestory-server-sub003/internal/session"
	"github.com/craquehouse/vintagestory-server-sub003/internal/tui"
)

// version is set by the build system.
var version = "dev"

var (
	flagConfig    string
	flagAPIURL    string
	flagToken     string
	flagLogLevel  string
	flagLogToFile bool
	flagLogDir    string
	flagTail      string
)

var rootCmd = &cobra.Command{
	Use:     "vsconsole",
	Short:   "Interactive console panel for a Vintage Story game server",
	Long:    "vsconsole attaches to a game-server host API and provides a live server console with command entry, plus read-only tailing of the server's log files.",
	Version: version,
	RunE:    runConsole,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file (default ~/.vsconsole/config.json)")
	rootCmd.Flags().StringVar(&flagAPIURL, "api-url", "", "base URL of the host API (overrides config)")
	rootCmd.Flags().StringVar(&flagToken, "token", "", "bearer token for the host API (overrides config)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.Flags().BoolVar(&flagLogToFile, "log-to-file", true, "write panel logs to the log directory")
	rootCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "directory for panel log files (default ~/.vsconsole/logs)")
	rootCmd.Flags().StringVar(&flagTail, "tail", "", "start on a read-only tail of the named log file instead of the live console")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()
	sugar.Infow("Starting console panel", "version", version, "api_url", cfg.APIURL)

	backoff := console.DefaultBackoff()
	if cfg.Reconnect != nil {
		backoff = console.Backoff{
			Initial: cfg.Reconnect.InitialDelay(),
			Max:     cfg.Reconnect.MaxDelay(),
		}
	}

	client := api.NewClient(cfg.APIURL, cfg.Token, sugar.Named("api"))
	tracker := api.NewTracker()
	sink := tui.NewProgramSink()

	orch := session.NewOrchestrator(sink, session.Options{
		NewLive: func() session.LiveConn {
			return console.NewLiveConnection(console.LiveConfig{
				URL:     cfg.ConsoleWebSocketURL(),
				Token:   cfg.Token,
				Backoff: backoff,
			}, sugar.Named("live"))
		},
		NewLogStream: func(file string) session.LogConn {
			return console.NewLogStreamConnection(console.LogStreamConfig{
				BaseURL:  cfg.APIURL,
				TailPath: cfg.LogTailPath,
				Token:    cfg.Token,
				File:     file,
				Backoff:  backoff,
			}, sugar.Named("logstream"))
		},
		ProcessState: tracker.Process,
		OnChange:     sink.Refresh,
	}, sugar.Named("session"))
	defer orch.Close()

	pollCtx, stopPolling := context.WithCancel(context.Background())
	defer stopPolling()
	client.StartPolling(pollCtx, cfg.StatusInterval(), func(status api.ServerStatus) {
		tracker.Update(status)
		sink.Refresh()
	})

	model := tui.NewModel(orch, client, sugar.Named("tui"))
	program := tea.NewProgram(model, tea.WithAltScreen())
	sink.SetProgram(program)

	initial := session.LiveSource()
	if flagTail != "" {
		initial = session.LogSource(flagTail)
	}
	// Program.Send blocks until Run is processing messages, and the first
	// state notifications arrive synchronously from SelectSource.
	go orch.SelectSource(initial)

	if _, err := program.Run(); err != nil {
		sugar.Errorw("Panel exited with error", "error", err)
		return err
	}
	sugar.Info("Panel shut down")
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFromFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flagAPIURL != "" {
		cfg.APIURL = flagAPIURL
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) (*zap.Logger, error) {
	logCfg := cfg.Logging
	if logCfg == nil {
		logCfg = logs.DefaultLogConfig()
	}
	// Console output would fight the TUI for the terminal.
	logCfg.EnableConsole = false
	logCfg.EnableFile = flagLogToFile
	if flagLogLevel != "" {
		logCfg.Level = flagLogLevel
	}
	if flagLogDir != "" {
		logCfg.LogDir = flagLogDir
	}
	return logs.SetupLogger(logCfg)
}
