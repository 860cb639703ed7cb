package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/wagate/internal/audit"
	"github.com/KafClaw/wagate/internal/broadcast"
	"github.com/KafClaw/wagate/internal/config"
	"github.com/KafClaw/wagate/internal/credstore"
	"github.com/KafClaw/wagate/internal/dispatch"
	"github.com/KafClaw/wagate/internal/gateway"
	"github.com/KafClaw/wagate/internal/logging"
	"github.com/KafClaw/wagate/internal/session"
	"github.com/KafClaw/wagate/internal/whatsapp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader(cmd, "wagate gateway")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logging.Setup(cfg.Log)

	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	creds, closeCreds, err := credstore.Open(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer closeCreds()

	rec, closeAudit, err := audit.Open(cfg, logging.Component(log, "audit"))
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	events := broadcast.New(cfg.Gateway.SubscriberBuffer, logging.Component(log, "broadcast"))
	opener := whatsapp.NewOpener(deviceDir(cfg), logging.Component(log, "whatsapp"))
	reg := session.NewRegistry(session.Deps{
		Opener: opener,
		Creds:  creds,
		Events: events,
		Audit:  rec,
		Reconnect: session.ReconnectPolicy{
			Initial:     cfg.Session.ReconnectInitial,
			Max:         cfg.Session.ReconnectMax,
			Multiplier:  cfg.Session.ReconnectMultiplier,
			Jitter:      cfg.Session.ReconnectJitter,
			MaxAttempts: cfg.Session.MaxReconnectAttempts,
		},
		ReadReceipts: cfg.Session.SendReadReceipts,
		Log:          logging.Component(log, "session"),
	})
	disp := dispatch.New(reg, rec, cfg.Session.CommandTimeout, logging.Component(log, "dispatch"))
	gw := gateway.New(cfg.Gateway, reg, disp, events, logging.Component(log, "gateway"))

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	if cfg.Session.RestoreOnBoot {
		g.Go(func() error {
			n, err := reg.Restore(gctx)
			if err != nil {
				log.Warn().Err(err).Msg("session restore incomplete")
			}
			log.Info().Int("sessions", n).Msg("sessions restored")
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		return shutdown(srv, reg, events, closeAudit, cfg.Gateway.ShutdownTimeout, log)
	})
	return g.Wait()
}

// shutdown stops streams before the listener so long-lived SSE and
// WebSocket handlers return and Shutdown does not wait on them.
func shutdown(srv *http.Server, reg *session.Registry, events *broadcast.Broadcaster, closeAudit func(context.Context) error, timeout time.Duration, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	events.Close()
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := reg.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if err := closeAudit(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("shutdown finished with errors")
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func deviceDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "devices")
}
