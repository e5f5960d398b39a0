// Package config holds the flag groups shared by the daemon and the sync
// commands. Everything lives under one data directory so a machine can be
// mirrored by copying a single tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

// Common is the flag group every command carries.
type Common struct {
	DataDir string `short:"d" long:"data-dir" env:"TGMIRROR_DATA_DIR" default:"./data" description:"Directory for the database, sessions and media"`
	Verbose bool   `short:"v" long:"verbose" env:"TGMIRROR_VERBOSE" description:"Enable debug logging"`
}

func (c *Common) DatabasePath() string { return filepath.Join(c.DataDir, "tgmirror.db") }
func (c *Common) SessionDir() string   { return filepath.Join(c.DataDir, "sessions") }
func (c *Common) MediaDir() string     { return filepath.Join(c.DataDir, "media") }

// EnsureDirs creates the data layout.
func (c *Common) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.SessionDir(), c.MediaDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Logger builds the process logger: human-readable in verbose mode, JSON
// otherwise.
func (c *Common) Logger() (*zap.Logger, error) {
	if c.Verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// RPC is the flag group for commands that talk to the daemon.
type RPC struct {
	Host string `long:"rpc-host" env:"TGMIRROR_RPC_HOST" default:"127.0.0.1" description:"Daemon RPC host"`
	Port int    `long:"rpc-port" env:"TGMIRROR_RPC_PORT" default:"9876" description:"Daemon RPC port"`
}

// Parse fills opts from the command line and environment. Help output
// exits cleanly; any other parse failure exits non-zero (go-flags already
// printed the message).
func Parse(opts any) {
	if _, err := flags.Parse(opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
