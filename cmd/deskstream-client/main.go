package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/deskstream/internal/client/decode"
	"github.com/breeze-rmm/deskstream/internal/client/hostlist"
	"github.com/breeze-rmm/deskstream/internal/client/session"
	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/config"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/pairing"
	"github.com/breeze-rmm/deskstream/internal/server/identity"
	"github.com/breeze-rmm/deskstream/internal/server/knownclients"
	"github.com/breeze-rmm/deskstream/internal/wire"
	"github.com/breeze-rmm/deskstream/internal/workerpool"
	"github.com/breeze-rmm/deskstream/pkg/deskstream"

	// Registers the cgo-backed H.264 decoder with internal/codec; see the
	// matching import in cmd/deskstream-server/main.go.
	_ "github.com/breeze-rmm/deskstream/internal/codec/openh264"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "deskstream-client",
	Short: "deskstream remote desktop client",
	Long:  `deskstream-client connects to a paired deskstream-server and presents its desktop.`,
}

var connectCmd = &cobra.Command{
	Use:   "connect <label>",
	Short: "Connect to a remembered host by label, or a new host with --address",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runConnect(args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered hosts",
	Run: func(cmd *cobra.Command, args []string) {
		listHosts()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskstream-client v%s\n", version)
	},
}

var address string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/deskstream/deskstream.toml)")
	connectCmd.Flags().StringVar(&address, "address", "", "host:port to dial for a new or moved host")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func hostsPath(cfg *config.Config) string {
	return filepath.Join(cfg.ConfigDir, "hosts.toml")
}

func listHosts() {
	cfg := loadConfig()
	hl := hostlist.Open(hostsPath(cfg))
	for _, e := range hl.All() {
		fmt.Printf("%-20s %-24s last connected %s\n", e.Label, e.Address, e.LastConnected)
	}
}

func runConnect(label string) {
	cfg := loadConfig()
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	hl := hostlist.Open(hostsPath(cfg))
	entry, known := hl.Get(label)
	if !known {
		if address == "" {
			fmt.Fprintf(os.Stderr, "unknown host %q; pass --address host:port to add it\n", label)
			os.Exit(1)
		}
		entry = hostlist.Entry{Label: label, Address: address}
	} else if address != "" {
		entry.Address = address
	}

	hostname, _ := os.Hostname()
	id, err := identity.Load(cfg.ConfigDir, cfg.Brand, hostname)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load client identity: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	// Audio handling runs off the receive-loop goroutine on a small worker
	// pool, so it never stalls reading the next packet off the wire; two
	// workers is enough since audio frames arrive far more often than
	// they need parallel handling.
	audioPool := workerpool.New(2, 32)
	defer func() {
		audioPool.StopAccepting()
		audioPool.Drain(ctx)
	}()

	// No video dimensions are known until QueryHostCapsResponse; the
	// decoder's software passthrough doesn't need them ahead of time, so
	// the pipeline runs against codec.VideoCodecNone, the same codec the
	// stream is negotiated with below; it is never rebuilt.
	dec, err := decode.New(decode.Config{Video: codec.VideoConfig{Codec: codec.VideoCodecNone}}, audioPool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start decode pipeline: %v\n", err)
		os.Exit(1)
	}
	dec.Start(ctx)
	defer dec.Close()

	go logDecodedFrames(ctx, dec)

	handlers := session.Handlers{
		OnPINNeeded: func(pin pairing.PIN) {
			fmt.Printf("Pairing PIN: %s\nConfirm this matches the PIN shown on the host.\n", pin)
		},
		OnAuthResult: func(ok bool, status wire.Status) {},
		OnDesktopFrame: func(f frame.Frame[frame.Bitstream]) {
			dec.PushVideo(f)
		},
		OnAudioFrame: func(pcm []byte, channels uint32) {
			dec.PushAudio(pcm, channels)
		},
		OnDisconnected: func(err error) {
			log.Warn("disconnected", "error", err)
			cancel()
		},
	}

	sess, err := deskstream.ConnectToHost(ctx, id, entry, handlers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := hl.Remember(label, entry.Address, knownclients.Fingerprint(sess.RemoteCertificate())); err != nil {
		log.Warn("failed to persist host entry", "error", err)
	}
	if err := hl.TouchLastConnected(label); err != nil {
		log.Warn("failed to update last connected", "error", err)
	}

	log.Info("connected", "label", label, "address", entry.Address)

	caps, err := sess.QueryHostCaps(ctx, string(codec.VideoCodecNone))
	if err != nil {
		fmt.Fprintf(os.Stderr, "query host caps failed: %v\n", err)
		os.Exit(1)
	}
	width, height := caps.NativeWidth, caps.NativeHeight
	if err := sess.ConfigureStream(ctx, width, height, caps.NativeFPSNum, caps.NativeFPSDen, string(codec.VideoCodecNone)); err != nil {
		fmt.Fprintf(os.Stderr, "configure stream failed: %v\n", err)
		os.Exit(1)
	}
	if err := sess.StartStream(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start stream failed: %v\n", err)
		os.Exit(1)
	}
	log.Info("streaming", "width", width, "height", height)

	<-ctx.Done()
}

// logDecodedFrames drains the decode pipeline's output channels. Actual
// presentation is this binary's external-collaborator boundary; this just
// proves frames are flowing and keeps the channels from filling.
func logDecodedFrames(ctx context.Context, dec *decode.Pipeline) {
	var frames, audio int
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-dec.Frames():
			if !ok {
				return
			}
			_ = f
			frames++
		case a, ok := <-dec.Audio():
			if !ok {
				return
			}
			_ = a
			audio++
		case <-ticker.C:
			if frames > 0 || audio > 0 {
				log.Debug("decode throughput", "frames", frames, "audioChunks", audio)
			}
		}
	}
}
