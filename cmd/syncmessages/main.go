// syncmessages runs a forward sync: everything newer than the local
// mirror for every active channel, plus a bounded retry of earlier media
// failures. Designed for cron; overlapping runs are harmless.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tgmirror/internal/config"
	"tgmirror/internal/database"
	"tgmirror/internal/media"
	"tgmirror/internal/sync"
)

type options struct {
	config.Common
	config.RPC
	RetryLimit int `long:"retry-limit" default:"5" description:"Max pending media retries per channel per run"`
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

	if err := run(&opts, log); err != nil {
		log.Fatal("message sync failed", zap.Error(err))
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

	transport, closeTransport, err := sync.Dial(ctx, db, opts.Host, opts.Port, opts.SessionDir(), opts.MediaDir(), log)
	if err != nil {
		return err
	}
	defer closeTransport()

	engine := &sync.ForwardEngine{
		DB:         db,
		Transport:  transport,
		Resolver:   &media.Resolver{DB: db, MediaDir: opts.MediaDir(), Log: log},
		Log:        log,
		RetryLimit: opts.RetryLimit,
	}
	return engine.Run(ctx)
}
