// synchistory extends the mirror backwards for channels marked
// download_all, in small batches with a pause between rounds. It exits on
// its own once every channel's history is complete.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tgmirror/internal/config"
	"tgmirror/internal/database"
	"tgmirror/internal/media"
	"tgmirror/internal/sync"
)

type options struct {
	config.Common
	config.RPC
	BatchSize   int  `long:"batch-size" default:"10" description:"Messages per channel per round"`
	Concurrency int  `long:"concurrency" default:"5" description:"Parallel media downloads per batch"`
	Pause       int  `long:"pause" default:"60" description:"Seconds between rounds"`
	Once        bool `long:"once" description:"Run a single round and exit"`
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
		log.Fatal("history sync failed", zap.Error(err))
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

	engine := &sync.HistoryEngine{
		DB:          db,
		Transport:   transport,
		Resolver:    &media.Resolver{DB: db, MediaDir: opts.MediaDir(), Log: log},
		Log:         log,
		BatchSize:   opts.BatchSize,
		Concurrency: opts.Concurrency,
		Pause:       time.Duration(opts.Pause) * time.Second,
	}
	if opts.Once {
		_, err := engine.RunOnce(ctx)
		return err
	}
	return engine.Run(ctx)
}
