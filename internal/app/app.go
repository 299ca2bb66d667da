package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/heartlink/heartlink-realtime/internal/auth"
	"github.com/heartlink/heartlink-realtime/internal/bus"
	"github.com/heartlink/heartlink-realtime/internal/call"
	"github.com/heartlink/heartlink-realtime/internal/chat"
	"github.com/heartlink/heartlink-realtime/internal/config"
	"github.com/heartlink/heartlink-realtime/internal/session"
)

// App wires the event bus, connection manager and messaging services into
// one client runtime.
type App struct {
	Bus       *bus.Bus
	Session   *session.Manager
	Messenger *chat.Service
	Calls     *call.Relay

	identity auth.Identity
	log      *zerolog.Logger
}

// New constructs the client runtime from configuration. Nothing is dialed
// until Run.
func New(cfg config.Config, identity auth.Identity, logger *zerolog.Logger) (*App, error) {
	if err := identity.Validate(time.Now()); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	b := bus.New(logger)
	mgr := session.NewManager(cfg.ServerURL, session.DialWebsocket, b, logger, session.Options{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		LivenessTimeout:      cfg.LivenessTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
	})
	messenger := chat.NewService(mgr, b, logger, identity.UserID, chat.Options{
		AckTimeout:     cfg.MessageAckTimeout,
		TypingDebounce: cfg.TypingDebounce,
	})
	relay := call.NewRelay(mgr, b, logger, identity.UserID, call.Options{
		AnswerTimeout: cfg.CallAnswerTimeout,
	})

	return &App{
		Bus:       b,
		Session:   mgr,
		Messenger: messenger,
		Calls:     relay,
		identity:  identity,
		log:       logger,
	}, nil
}

// Run connects the session and blocks until the context is cancelled or
// the session fails for good (auth rejection or reconnect exhaustion).
func (a *App) Run(ctx context.Context) error {
	fatal := make(chan error, 1)
	unsubExhausted := a.Bus.Subscribe(bus.KindReconnectExhausted, func(ev bus.Event) {
		select {
		case fatal <- session.ErrReconnectExhausted:
		default:
		}
	})
	unsubAuth := a.Bus.Subscribe(bus.KindAuthFailed, func(ev bus.Event) {
		err := ev.Err
		if err == nil {
			err = session.ErrAuthRejected
		}
		select {
		case fatal <- err:
		default:
		}
	})
	defer unsubExhausted()
	defer unsubAuth()

	if err := a.Session.Connect(ctx, a.identity); err != nil {
		a.cleanup()
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case err := <-fatal:
		a.cleanup()
		return err
	case <-ctx.Done():
		a.log.Info().Msg("shutting down session")
		a.cleanup()
		return nil
	}
}

// cleanup tears the services down in reverse construction order.
func (a *App) cleanup() {
	a.Calls.Close()
	a.Messenger.Close()
	if err := a.Session.Disconnect(); err != nil {
		a.log.Warn().Err(err).Msg("disconnect")
	}
}
