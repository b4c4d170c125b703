package auth

import "context"

// CaptchaPrompt asks a human to solve the captcha at verifyURL and returns
// the resulting ticket.
type CaptchaPrompt interface {
	Ticket(ctx context.Context, verifyURL string) (string, error)
}

// CaptchaPromptFunc adapts a function to CaptchaPrompt.
type CaptchaPromptFunc func(ctx context.Context, verifyURL string) (string, error)

func (f CaptchaPromptFunc) Ticket(ctx context.Context, verifyURL string) (string, error) {
	return f(ctx, verifyURL)
}

// QRDisplay shows a login QR image to a human. sig identifies the image.
type QRDisplay interface {
	Show(ctx context.Context, image, sig []byte) error
}

// QRDisplayFunc adapts a function to QRDisplay.
type QRDisplayFunc func(ctx context.Context, image, sig []byte) error

func (f QRDisplayFunc) Show(ctx context.Context, image, sig []byte) error {
	return f(ctx, image, sig)
}

// PasswordPrompt asks for the account password. It is only consulted when a
// password login actually runs.
type PasswordPrompt interface {
	Password(ctx context.Context, uin int64) (string, error)
}

// PasswordPromptFunc adapts a function to PasswordPrompt.
type PasswordPromptFunc func(ctx context.Context, uin int64) (string, error)

func (f PasswordPromptFunc) Password(ctx context.Context, uin int64) (string, error) {
	return f(ctx, uin)
}
