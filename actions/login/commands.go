package login

import (
	"github.com/urfave/cli/v3"
)

// GlobalFlags are shared by every command.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML config file (default: config.yaml in . or ./config)",
	},
	&cli.StringFlag{
		Name:  "data-root",
		Usage: "Directory holding one folder per account",
	},
	&cli.Int64Flag{
		Name:    "uin",
		Aliases: []string{"u"},
		Usage:   "Account id",
	},
	&cli.BoolFlag{
		Name:    "debug",
		Aliases: []string{"d"},
		Usage:   "Enable debug output",
	},
}

var loginFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "method",
		Aliases: []string{"m"},
		Usage:   "Login method when no stored token works: password or qrcode",
	},
	&cli.StringFlag{
		Name:  "protocol",
		Usage: "Client protocol for password login: ipad, android_phone, android_watch, macos, qidian",
	},
	&cli.StringFlag{
		Name:    "password",
		Aliases: []string{"p"},
		Usage:   "Account password (not recommended, use interactive prompt)",
	},
	&cli.StringFlag{
		Name:  "gateway",
		Usage: "Gateway address (host:port)",
	},
}

// LoginCommand logs in once and stores a fresh token.
var LoginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Log in to an account and save its token",
	Flags:  loginFlags,
	Action: loginAction,
}

// RunCommand logs in and keeps the session alive until interrupted.
var RunCommand = &cli.Command{
	Name:   "run",
	Usage:  "Log in and stay online, reconnecting after network failures",
	Flags:  loginFlags,
	Action: runAction,
}

var LogoutCommand = &cli.Command{
	Name:  "logout",
	Usage: "Delete the stored token of an account",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "forget-device",
			Usage: "Also delete the account's device identity",
		},
	},
	Action: logoutAction,
}

var StatusCommand = &cli.Command{
	Name:   "status",
	Usage:  "Show what is stored for one or all accounts",
	Action: statusAction,
}

var DeviceCommand = &cli.Command{
	Name:   "device",
	Usage:  "Print an account's device identity, generating it if needed",
	Action: deviceAction,
}
