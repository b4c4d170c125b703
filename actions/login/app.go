package login

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/PiotrWarzachowski/go-chat-session/internal/config"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
	"github.com/PiotrWarzachowski/go-chat-session/internal/logging"
	"github.com/PiotrWarzachowski/go-chat-session/internal/storage"
)

// app is what every command needs: settings, a logger and the stores.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Storage
	tokens storage.TokenStore
	redis  *redis.Client
}

func setup(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStorage(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, tokens: store}
	if cfg.Storage.TokenBackend == config.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.tokens = storage.NewRedisTokenStore(a.redis, cfg.Storage.TokenTTL)
	}
	return a, nil
}

// applyFlags lets explicitly set flags win over the config file.
func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("data-root") {
		cfg.DataRoot = cmd.String("data-root")
	}
	if cmd.IsSet("uin") {
		cfg.Login.Uin = cmd.Int64("uin")
	}
	if cmd.IsSet("method") {
		cfg.Login.Method = cmd.String("method")
	}
	if cmd.IsSet("protocol") {
		cfg.Login.Protocol = cmd.String("protocol")
	}
	if cmd.IsSet("password") {
		cfg.Login.Password = cmd.String("password")
	}
	if cmd.IsSet("gateway") {
		cfg.Gateway.Addr = cmd.String("gateway")
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
}

func (a *app) close(context.Context) error {
	var err error
	if a.redis != nil {
		err = a.redis.Close()
	}
	a.logger.Sync()
	return err
}

// uin returns the configured account id, asking for one when none is set.
func (a *app) uin() (int64, error) {
	if a.cfg.Login.Uin > 0 {
		return a.cfg.Login.Uin, nil
	}
	input, err := promptInput("Account id: ")
	if err != nil {
		return 0, fmt.Errorf("failed to read account id: %w", err)
	}
	uin, err := strconv.ParseInt(input, 10, 64)
	if err != nil || uin <= 0 {
		return 0, fmt.Errorf("invalid account id %q", input)
	}
	a.cfg.Login.Uin = uin
	return uin, nil
}

// method asks for the login method unless one was chosen on the command
// line or in a config file.
func (a *app) method(cmd *cli.Command) (string, error) {
	if cmd.IsSet("method") || cmd.IsSet("config") {
		return a.cfg.Login.Method, nil
	}
	input, err := promptInput(fmt.Sprintf("Login method (%s/%s) [%s]: ",
		config.MethodQRCode, config.MethodPassword, a.cfg.Login.Method))
	if err != nil || input == "" {
		return a.cfg.Login.Method, nil
	}
	switch input = strings.ToLower(input); input {
	case config.MethodQRCode, config.MethodPassword:
		a.cfg.Login.Method = input
		return input, nil
	}
	return "", fmt.Errorf("unknown login method %q", input)
}

// protocol asks for the password-login protocol unless one was chosen on
// the command line or in a config file.
func (a *app) protocol(cmd *cli.Command) (engine.Protocol, error) {
	if cmd.IsSet("protocol") || cmd.IsSet("config") {
		return a.cfg.Protocol(), nil
	}
	input, err := promptInput(fmt.Sprintf("Protocol [%s]: ", a.cfg.Login.Protocol))
	if err != nil || input == "" {
		return a.cfg.Protocol(), nil
	}
	return engine.ParseProtocol(input)
}
