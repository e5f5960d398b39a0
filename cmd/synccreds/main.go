// synccreds stores an API credential and walks through the interactive
// login so the session file exists before the daemon or any sync command
// needs it.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmirror/internal/config"
	"tgmirror/internal/database"
	"tgmirror/internal/models"
	"tgmirror/internal/telegram"
)

type options struct {
	config.Common
	APIID   int    `long:"api-id" env:"TGMIRROR_API_ID" required:"true" description:"Telegram API id"`
	APIHash string `long:"api-hash" env:"TGMIRROR_API_HASH" required:"true" description:"Telegram API hash"`
	Phone   string `long:"phone" env:"TGMIRROR_PHONE" required:"true" description:"Phone number in international format"`
	Primary bool   `long:"primary" description:"Make this the primary credential"`
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
		log.Fatal("credential setup failed", zap.Error(err))
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

	cred := &models.Credential{
		APIID:       opts.APIID,
		APIHash:     opts.APIHash,
		PhoneNumber: opts.Phone,
		Primary:     opts.Primary,
	}
	id, err := db.AddCredential(cred)
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	cred.ID = id
	log.Info("credential stored", zap.Int64("id", id), zap.String("phone", opts.Phone))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := telegram.NewSession(*cred, opts.SessionDir(), opts.MediaDir(), log)
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	if sess.Authorized() {
		fmt.Println("Already authenticated.")
		return nil
	}
	if err := sess.Authenticate(ctx, terminalAuth{phone: opts.Phone}); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Println("Authenticated successfully.")
	return nil
}

// terminalAuth prompts on stdin for the code and, when the account has
// one, the 2FA password.
type terminalAuth struct {
	phone string
}

func (a terminalAuth) Phone(_ context.Context) (string, error) {
	return a.phone, nil
}

func (a terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return prompt("Enter the code you received: ")
}

func (a terminalAuth) Password(_ context.Context) (string, error) {
	return prompt("Enter your 2FA password: ")
}

func (a terminalAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (a terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("account does not exist, sign up is not supported")
}

func prompt(msg string) (string, error) {
	fmt.Print(msg)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
