package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskstream/internal/config"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/pairing"
	"github.com/breeze-rmm/deskstream/internal/server/connection"
	"github.com/breeze-rmm/deskstream/pkg/deskstream"

	// Registers the cgo-backed H.264 encoder with internal/codec; a build
	// without cgo silently drops this import and the host falls back to
	// advertising only the software passthrough codec.
	_ "github.com/breeze-rmm/deskstream/internal/codec/openh264"
)

var (
	version = "0.1.0"
	cfgFile string
	listen  string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "deskstream-server",
	Short: "deskstream remote desktop host",
	Long:  `deskstream-server shares this machine's desktop to a single paired client over a PIN-authenticated, low-latency stream.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the host process",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskstream-server v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+configDefaultHint()+")")
	runCmd.Flags().StringVar(&listen, "listen", "", "override the configured listen address")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func configDefaultHint() string {
	return "/etc/deskstream/deskstream.toml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// consoleApprove prompts the operator on stdout/stdin to confirm a
// pairing PIN, mirroring the synchronous console prompt in
// original_source/src/server/Connection.cpp's pairing flow.
func consoleApprove(pin pairing.PIN, hostname string) bool {
	fmt.Printf("\nIncoming pairing request from %q.\nPIN: %s\nApprove? [y/N]: ", hostname, pin)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}

func runServer() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}

	initLogging(cfg)
	log.Info("starting deskstream-server", "version", version, "listen", cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := deskstream.RunServer(ctx, cfg, connection.Approver(consoleApprove)); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
