package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/dmclient/internal/accounts"
	"github.com/alexjbarnes/dmclient/internal/config"
	apperrors "github.com/alexjbarnes/dmclient/internal/errors"
	"github.com/alexjbarnes/dmclient/internal/logging"
	"github.com/alexjbarnes/dmclient/internal/push"
	"github.com/alexjbarnes/dmclient/internal/reconcile"
	"github.com/alexjbarnes/dmclient/platform"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("dmclient starting",
		slog.String("version", Version),
		slog.String("device", cfg.DeviceName),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := accounts.Open(cfg.AccountsDB)
	if err != nil {
		return fmt.Errorf("opening accounts store: %w", err)
	}
	defer store.Close()

	if err := seedAccount(store, cfg, logger); err != nil {
		return err
	}

	creds, err := store.Active()
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthUnavailable) {
			return fmt.Errorf("no account configured: set DM_ACCOUNT_UID, DM_ACCOUNT_SESSION and DM_ACCOUNT_CSRF: %w", err)
		}
		return fmt.Errorf("reading active account: %w", err)
	}
	logger.Info("active account", slog.Int64("uid", creds.UID))

	httpClient := &http.Client{Timeout: 30 * time.Second}
	api := platform.NewClient(httpClient, cfg.APIHost, store)

	state := reconcile.NewStore()
	engine := reconcile.NewEngine(api, state, store, logNotifier{logger}, cfg.MessagePageSize, logger)

	if err := engine.LoadSessions(ctx); err != nil {
		return fmt.Errorf("loading initial sessions: %w", err)
	}
	logger.Info("session list loaded",
		slog.Int("sessions", len(state.Sessions())),
		slog.Int("total_unread", state.TotalUnread()),
	)

	manager := push.NewManager(push.Config{
		Host:  cfg.PushHost,
		Creds: store,
	}, logger)
	defer manager.Disconnect()

	manager.OnConnected(func() {
		logger.Info("push channel up")
	})
	manager.OnDisconnected(func(err error) {
		if err != nil {
			logger.Warn("push channel down", slog.String("error", err.Error()))
		}
	})
	manager.OnEvent(func(ev push.Event) {
		engine.HandleEvent(ctx, ev)
	})

	engine.OnSessionsChanged(func() {
		logger.Debug("sessions changed", slog.Int("total_unread", state.TotalUnread()))
	})
	engine.OnMessage(func(m platform.Message) {
		logger.Debug("message added",
			slog.Int64("sender", m.SenderUID),
			slog.String("msg_key", m.MsgKey),
		)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := manager.Connect(gctx); err != nil {
			// Dial failures reconnect on their own; only a missing
			// account is fatal here.
			if errors.Is(err, apperrors.ErrAuthUnavailable) {
				return err
			}
			logger.Warn("initial connect failed", slog.String("error", err.Error()))
		}
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// seedAccount installs credentials from the environment into the
// accounts store. Once stored, the store is authoritative.
func seedAccount(store *accounts.Store, cfg *config.Config, logger *slog.Logger) error {
	if cfg.SeedUID == 0 {
		return nil
	}

	if err := store.Put(accounts.Account{
		UID:          cfg.SeedUID,
		SessionToken: cfg.SeedSessionToken,
		CSRF:         cfg.SeedCSRF,
		AddedAt:      time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("seeding account: %w", err)
	}

	if err := store.SetActive(cfg.SeedUID); err != nil {
		return fmt.Errorf("activating seeded account: %w", err)
	}

	logger.Info("seeded account from environment", slog.Int64("uid", cfg.SeedUID))

	return nil
}

// logNotifier is the headless notification sink: it logs where a
// desktop embedding would raise a system notification.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(senderName string, msg platform.Message) {
	n.logger.Info("new message",
		slog.String("from", senderName),
		slog.Int64("sender_uid", msg.SenderUID),
		slog.Int("msg_type", int(msg.MsgType)),
	)
}
