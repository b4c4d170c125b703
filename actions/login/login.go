package login

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/PiotrWarzachowski/go-chat-session/internal/auth"
	"github.com/PiotrWarzachowski/go-chat-session/internal/config"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine/mqtt"
	"github.com/PiotrWarzachowski/go-chat-session/internal/events"
	"github.com/PiotrWarzachowski/go-chat-session/internal/lifecycle"
	chatlogin "github.com/PiotrWarzachowski/go-chat-session/internal/login"
	"github.com/PiotrWarzachowski/go-chat-session/internal/logging"
	"github.com/PiotrWarzachowski/go-chat-session/internal/session"
)

func loginAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	h, err := a.login(ctx, cmd)
	if err != nil {
		return explain(err)
	}
	defer h.Close()

	fmt.Printf("\n✓ Successfully logged in as %d\n", h.Uin())
	fmt.Printf("  Token saved to: %s\n", a.store.AccountDir(h.Uin()))
	return nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	lc := lifecycle.New(a.logger)
	lc.Register("storage", a.close)

	h, err := a.login(ctx, cmd)
	if err != nil {
		return errors.Join(explain(err), lc.RunAllReverse(context.Background()))
	}
	lc.Register("session", func(context.Context) error { return h.Close() })

	fmt.Printf("\n✓ Online as %d, press Ctrl-C to stop\n", h.Uin())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.RunForever(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return h.Close()
	})
	err = g.Wait()

	if ctx.Err() != nil {
		a.logger.Info("shutting down")
		err = nil
	}
	return errors.Join(explain(err), lc.RunAllReverse(context.Background()))
}

// login runs the orchestrator with the terminal as its prompt and display.
func (a *app) login(ctx context.Context, cmd *cli.Command) (*session.Handle, error) {
	uin, err := a.uin()
	if err != nil {
		return nil, err
	}

	name, err := a.method(cmd)
	if err != nil {
		return nil, err
	}

	var method chatlogin.Method
	switch name {
	case config.MethodPassword:
		protocol, err := a.protocol(cmd)
		if err != nil {
			return nil, err
		}
		method = chatlogin.PasswordMethod{
			Protocol: protocol,
			Password: a.cfg.Login.Password,
			Prompt: auth.PasswordPromptFunc(func(context.Context, int64) (string, error) {
				return promptPassword("Password: ")
			}),
		}
	default:
		method = chatlogin.QRCodeMethod{}
	}

	reporter := newQRReporter(os.Stdout)
	defer reporter.Finish()

	fmt.Printf("Logging in %d (%s)...\n", uin, method)
	return chatlogin.Login(ctx, chatlogin.Options{
		Uin:    uin,
		Method: method,
		NewEngine: mqtt.NewFactory(mqtt.Config{
			Addr:      a.cfg.Gateway.Addr,
			TLS:       a.cfg.Gateway.TLS,
			KeepAlive: a.cfg.Gateway.KeepAlive,
			Logger:    a.logger.Named("gateway"),
		}),
		DataRoot:             a.cfg.DataRoot,
		Tokens:               a.tokens,
		Captcha:              auth.CaptchaPromptFunc(promptCaptcha),
		QRDisplay:            qrFile{dir: a.store.AccountDir(uin)},
		Observer:             events.Multi(logging.NewObserver(a.logger), reporter),
		Logger:               a.logger,
		ReconnectDelay:       a.cfg.Reconnect.Delay,
		MaxReconnectAttempts: a.cfg.Reconnect.MaxAttempts,
	})
}

// explain prints what the user can do about a failed login.
func explain(err error) error {
	var rejected *auth.RejectedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rejected):
		switch rejected.Reason {
		case auth.ReasonDeviceLocked:
			fmt.Println("\n⚠ Device lock verification required")
			if rejected.VerifyURL != "" {
				fmt.Printf("  Open %s on a logged-in phone, then log in again\n", rejected.VerifyURL)
			}
		case auth.ReasonAccountFrozen:
			fmt.Println("\n❌ The account is frozen")
		case auth.ReasonTooManySMS:
			fmt.Println("\n⚠ Too many SMS requests, try again later")
		}
	case errors.Is(err, auth.ErrQRCodeCanceled):
		fmt.Println("\n❌ QR code login canceled on the phone")
	case errors.Is(err, session.ErrNonRecoverableDisconnect):
		fmt.Println("\n❌ Disconnected by the server, not reconnecting")
	}
	return err
}
