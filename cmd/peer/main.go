package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Huddle/internal/adapters/channel"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/session"
)

var (
	flagBridge    string
	flagDirectory string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "huddle-peer <room>",
	Short: "Headless Huddle peer",
	Long: `Joins a Huddle room through the push bridge, negotiates WebRTC
connections with every other member and relays chat lines read from stdin.

Type /peers to list the current peers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), domain.RoomName(args[0]))
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagBridge, "bridge", "", "bridge connect URL (overrides peer.bridge_url)")
	rootCmd.Flags().StringVar(&flagDirectory, "directory", "", "directory base URL (overrides peer.directory_url)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("peer exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, room domain.RoomName) error {
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagBridge != "" {
		cfg.Peer.BridgeURL = flagBridge
	}
	if flagDirectory != "" {
		cfg.Peer.DirectoryURL = flagDirectory
	}

	engines, err := rtc.NewFactory(cfg.Peer)
	if err != nil {
		return err
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	ch, err := channel.Dial(dialCtx, cfg.Peer.BridgeURL, cfg.Peer.DirectoryURL)
	dialCancel()
	if err != nil {
		return err
	}
	defer ch.Close()

	ctrl := session.New(session.Config{
		Room:      room,
		KeepAlive: cfg.Peer.KeepAlive,
		Channel:   ch,
		Engines:   engines.New,
		OnChat: func(e session.ChatEntry) {
			if e.Author == session.SomeoneElse {
				fmt.Printf("[%d] %s: %s\n", e.ID, e.From, e.Text)
			}
		},
	})

	go readStdin(ctx, ctrl)
	if err := ctrl.Run(ctx, ch.Inbound()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readStdin(ctx context.Context, ctrl *session.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "/peers" {
			peers, err := ctrl.Peers(ctx)
			if err != nil {
				return
			}
			for _, p := range peers {
				fmt.Printf("%d\t%s\t%s\tmedia=%t packets=%d bytes=%d\n", p.ID, p.URL, p.State, p.HasMedia, p.Packets, p.Bytes)
			}
			continue
		}
		if err := ctrl.SendChat(ctx, line); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("chat not sent")
			if errors.Is(err, session.ErrStopped) {
				return
			}
		}
	}
}
