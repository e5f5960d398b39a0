// The daemon owns every Telegram session and serves them to sync
// processes over local RPC. Run it once per machine; sync commands find
// it by pinging the RPC port and fall back to a direct session when it is
// not running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"tgmirror/internal/config"
	"tgmirror/internal/database"
	"tgmirror/internal/rpc"
	"tgmirror/internal/telegram"
)

type options struct {
	config.Common
	config.RPC
	SentryDSN string `long:"sentry-dsn" env:"TGMIRROR_SENTRY_DSN" description:"Optional Sentry DSN for error reporting"`
}

func main() {
	var opts options
	config.Parse(&opts)

	log, err := opts.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN}); err != nil {
			log.Warn("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := run(&opts, log); err != nil {
		sentry.CaptureException(err)
		log.Fatal("daemon failed", zap.Error(err))
	}
}

func run(opts *options, log *zap.Logger) error {
	if err := opts.EnsureDirs(); err != nil {
		return err
	}
	db, err := database.Open(opts.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := telegram.NewManager(db, opts.SessionDir(), opts.MediaDir(), log)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	server := rpc.NewServer(manager, log)
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	if err := server.Run(ctx, addr); err != nil {
		return err
	}
	log.Info("daemon stopped")
	return nil
}
