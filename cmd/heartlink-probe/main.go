package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/heartlink/heartlink-realtime/internal/app"
	"github.com/heartlink/heartlink-realtime/internal/auth"
	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/chat"
	"github.com/heartlink/heartlink-realtime/internal/config"
	"github.com/heartlink/heartlink-realtime/internal/log"
	"github.com/heartlink/heartlink-realtime/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		serverURL  string
		userID     string
		token      string
		peerID     string
	)

	cmd := &cobra.Command{
		Use:   "heartlink-probe",
		Short: "Open a live session against a HeartLink server and exchange events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := config.Load(nil, configPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", cfgPath).Str("server", cfg.ServerURL).Msg("starting probe")

			return runProbe(cmd.Context(), cfg, logger, auth.Identity{UserID: userID, Token: token}, peerID)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&serverURL, "server", "", "websocket server URL (overrides config)")
	cmd.Flags().StringVar(&userID, "user", "probe-user", "user id for the handshake")
	cmd.Flags().StringVar(&token, "token", "", "identity token for the handshake")
	cmd.Flags().StringVar(&peerID, "peer", "", "recipient user id for outbound messages")

	return cmd
}

func runProbe(parent context.Context, cfg config.Config, logger *zerolog.Logger, identity auth.Identity, peerID string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := app.New(cfg, identity, logger)
	if err != nil {
		return err
	}
	messenger := client.Messenger

	unsubs := []func(){
		messenger.OnMessageReceived(func(d wire.MessageReceivedData) {
			fmt.Printf("[%s] %s\n", d.SenderID, d.Content)
		}),
		messenger.OnUserTyping(func(d wire.UserTypingData) {
			fmt.Printf("%s is typing...\n", d.UserID)
		}),
		messenger.OnNewLike(func(d wire.NewLikeData) {
			fmt.Printf("%s liked you\n", d.SenderID)
		}),
		client.Calls.OnIncomingCall(func(d wire.IncomingCallData) {
			fmt.Printf("incoming %s call from %s (id %s)\n", d.CallType, d.CallerID, d.CallID)
		}),
		client.Bus.Subscribe(bus.KindStateChanged, func(ev bus.Event) {
			logger.Info().Str("state", fmt.Sprint(ev.Data)).Msg("connection state")
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	fmt.Println("Session starting. Type messages and press Enter to send. Ctrl+C to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case err := <-runErr:
			return err
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" || peerID == "" {
				continue
			}
			messenger.SendTyping(peerID, text)
			msg, err := messenger.SendMessage(ctx, peerID, text, chat.TypeText, nil)
			if err != nil {
				logger.Warn().Err(err).Msg("send failed")
				continue
			}
			fmt.Printf("-> %s [%s]\n", msg.Content, msg.Status)
		}
	}
}
