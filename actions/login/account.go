package login

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/PiotrWarzachowski/go-chat-session/internal/device"
	"github.com/PiotrWarzachowski/go-chat-session/internal/storage"
)

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	uin, err := a.uin()
	if err != nil {
		return err
	}

	if err := a.tokens.DeleteToken(ctx, uin); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	fmt.Printf("✓ Token of %d deleted\n", uin)

	if cmd.Bool("forget-device") {
		if err := a.store.Forget(uin); err != nil {
			return fmt.Errorf("failed to delete device: %w", err)
		}
		fmt.Println("  Device identity deleted")
	} else if a.store.HasDevice(uin) {
		fmt.Println("  Device identity kept for the next login")
		fmt.Println("     Use 'logout --forget-device' to remove it")
	}
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var uins []int64
	if a.cfg.Login.Uin > 0 {
		uins = []int64{a.cfg.Login.Uin}
	} else if uins, err = a.store.Accounts(); err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(uins) == 0 {
		fmt.Println("Status: No accounts")
		fmt.Println("\nUse 'go-chat-session login' to authenticate")
		return nil
	}

	for _, uin := range uins {
		state, err := a.store.State(ctx, uin, a.tokens)
		if err != nil {
			return fmt.Errorf("failed to read state of %d: %w", uin, err)
		}
		printState(state)
	}
	fmt.Printf("\n  Storage: %s\n", a.store.GetBasePath())
	return nil
}

func printState(state *storage.AccountState) {
	fmt.Printf("Account %d: %s\n", state.Uin, state.Status)
	fmt.Printf("  Device: %s\n", presence(state.DevicePresent))
	switch {
	case state.TokenCorrupt:
		fmt.Println("  Token: Corrupted (deleted on next login)")
	case state.TokenPresent && state.TokenIssuedAt > 0:
		fmt.Printf("  Token: Saved, issued %s\n", time.Unix(state.TokenIssuedAt, 0).Format(time.RFC3339))
	default:
		fmt.Printf("  Token: %s\n", presence(state.TokenPresent))
	}
}

func presence(ok bool) string {
	if ok {
		return "Saved"
	}
	return "None"
}

func deviceAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	uin, err := a.uin()
	if err != nil {
		return err
	}
	dev, err := a.store.LoadOrCreateDevice(uin)
	if err != nil {
		return err
	}
	data, err := device.ToJSON(dev)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
