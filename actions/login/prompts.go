package login

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// QRCodeFile is the name the QR image is written under in the account
// directory.
const QRCodeFile = "qrcode.png"

var stdin = bufio.NewReader(os.Stdin)

// promptInput prompts for user input
func promptInput(prompt string) (string, error) {
	fmt.Print(prompt)
	input, err := stdin.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// promptPassword prompts for password input (hidden)
func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return promptInput(prompt)
	}
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func promptCaptcha(_ context.Context, verifyURL string) (string, error) {
	fmt.Println("\n⚠ Captcha required")
	fmt.Printf("  Solve it at %s\n", verifyURL)
	ticket, err := promptInput("  Paste the ticket: ")
	if err != nil {
		return "", fmt.Errorf("failed to read captcha ticket: %w", err)
	}
	return ticket, nil
}

// qrFile shows QR codes by writing them next to the account's other files.
type qrFile struct {
	dir string
}

func (q qrFile) Show(_ context.Context, image, _ []byte) error {
	if err := os.MkdirAll(q.dir, 0700); err != nil {
		return fmt.Errorf("failed to create account directory: %w", err)
	}
	path := filepath.Join(q.dir, QRCodeFile)
	if err := os.WriteFile(path, image, 0600); err != nil {
		return fmt.Errorf("failed to write QR code: %w", err)
	}
	fmt.Printf("📷 Scan the QR code saved to %s\n", path)
	return nil
}
