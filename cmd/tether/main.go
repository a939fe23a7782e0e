// Command tether runs the shell session MCP server on stdin/stdout.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/tether/cli"
	"github.com/zhubert/tether/config"
	"github.com/zhubert/tether/logger"
	"github.com/zhubert/tether/mcp"
	"github.com/zhubert/tether/registry"
)

var version = "dev"

var (
	flagDebug   bool
	flagLogFile string
	flagConfig  string
)

func main() {
	root := &cobra.Command{
		Use:           "tether",
		Short:         "Persistent shell sessions over MCP",
		Long:          "tether manages long-lived interactive shell sessions and exposes them as MCP tools over stdin/stdout.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "log file path (default: state dir logs/tether.log)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: config dir config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the MCP server on stdin/stdout",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Check which shells are available for sessions",
			RunE: func(cmd *cobra.Command, args []string) error {
				results := cli.CheckAll(cli.DefaultPrerequisites())
				fmt.Print(cli.FormatCheckResults(results))
				return cli.ValidateRequired(cli.DefaultPrerequisites())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFrom(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cli.ValidateShell(cfg.DefaultShell); err != nil {
		return err
	}

	if flagDebug || cfg.Debug {
		logger.SetDebug(true)
	}
	logPath := flagLogFile
	if logPath == "" {
		logPath, err = logger.DefaultLogPath()
		if err != nil {
			return fmt.Errorf("failed to resolve log path: %w", err)
		}
	}
	if err := logger.Init(logPath); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()

	log := logger.WithComponent("main")
	log.Info("tether starting", "version", version, "default_timeout_ms", cfg.DefaultTimeoutMs)

	reg := registry.New(cfg.DefaultShell, time.Duration(cfg.CloseGraceSeconds)*time.Second)
	defer reg.CloseAll()

	// Close sessions on SIGINT/SIGTERM even though the normal exit path is
	// stdin EOF from the MCP client.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			log.Info("signal received, shutting down", "signal", sig)
			reg.CloseAll()
			logger.Close()
			os.Exit(0)
		case <-done:
		}
	}()
	defer close(done)

	server := mcp.NewServer(os.Stdin, os.Stdout, reg, cfg.DefaultTimeoutMs)
	return server.Run()
}
