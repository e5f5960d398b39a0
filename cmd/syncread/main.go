// syncread reconciles read state for every active channel in both
// directions.
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
	"tgmirror/internal/sync"
)

type options struct {
	config.Common
	config.RPC
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
		log.Fatal("read sync failed", zap.Error(err))
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

	engine := &sync.ReadEngine{DB: db, Transport: transport, Log: log}
	return engine.Run(ctx)
}
