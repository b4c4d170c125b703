package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/PiotrWarzachowski/go-chat-session/actions/login"
)

func main() {
	cmd := &cli.Command{
		Name:    "go-chat-session",
		Usage:   "Log chat accounts in and keep them online",
		Version: "0.1.0",
		Flags:   login.GlobalFlags,
		Action: func(context.Context, *cli.Command) error {
			fmt.Println("Chat session keeper - Use 'go-chat-session help' for available commands")
			return nil
		},
		Commands: []*cli.Command{
			login.LoginCommand,
			login.RunCommand,
			login.LogoutCommand,
			login.StatusCommand,
			login.DeviceCommand,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
