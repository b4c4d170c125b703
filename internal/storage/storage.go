package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/PiotrWarzachowski/go-chat-session/internal/device"
	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

// NewStorage opens the data root, creating it if needed.
func NewStorage(dataRoot string) (*Storage, error) {
	if dataRoot == "" {
		dataRoot = DefaultDataRoot
	}

	if err := os.MkdirAll(dataRoot, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}

	s := &Storage{basePath: dataRoot}
	if err := s.loadOrGenerateKey(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadOrGenerateKey reads the data root's token key, creating one on first
// use. Tokens sealed with a lost key read back as corrupt.
func (s *Storage) loadOrGenerateKey() error {
	keyPath := filepath.Join(s.basePath, KeyFile)

	keyData, err := os.ReadFile(keyPath)
	if err == nil && len(keyData) == 32 {
		s.key = keyData
		return nil
	}

	s.key = make([]byte, 32)
	if _, err := rand.Read(s.key); err != nil {
		return fmt.Errorf("failed to generate token key: %w", err)
	}
	if err := os.WriteFile(keyPath, s.key, 0600); err != nil {
		return fmt.Errorf("failed to save token key: %w", err)
	}
	return nil
}

func (s *Storage) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Storage) open(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// GetBasePath returns the data root.
func (s *Storage) GetBasePath() string {
	return s.basePath
}

// AccountDir returns the directory holding one account's files.
func (s *Storage) AccountDir(uin int64) string {
	return filepath.Join(s.basePath, strconv.FormatInt(uin, 10))
}

func (s *Storage) ensureAccountDir(uin int64) (string, error) {
	dir := s.AccountDir(uin)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create account directory: %w", err)
	}
	return dir, nil
}

// LoadOrCreateDevice returns the account's persisted device, generating and
// saving one on first use. Fields missing from an existing file are filled
// from the account's generated device.
func (s *Storage) LoadOrCreateDevice(uin int64) (*device.Device, error) {
	dir, err := s.ensureAccountDir(uin)
	if err != nil {
		return nil, err
	}
	devicePath := filepath.Join(dir, DeviceFile)

	data, err := os.ReadFile(devicePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read device file: %w", err)
		}

		dev := device.RandomFromUin(uin)
		if err := s.SaveDevice(uin, dev); err != nil {
			return nil, err
		}
		return dev, nil
	}

	dev, err := device.FromJSON(data, device.RandomFromUin(uin))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", devicePath, err)
	}
	return dev, nil
}

// SaveDevice writes dev as the account's device.json.
func (s *Storage) SaveDevice(uin int64, dev *device.Device) error {
	dir, err := s.ensureAccountDir(uin)
	if err != nil {
		return err
	}

	data, err := device.ToJSON(dev)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, DeviceFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write device file: %w", err)
	}
	return nil
}

// LoadToken reads the account's token.json. A missing file is not an error.
func (s *Storage) LoadToken(_ context.Context, uin int64) (*engine.Token, error) {
	tokenPath := filepath.Join(s.AccountDir(uin), TokenFile)

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	plaintext, err := s.open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: account %d: %w", ErrCorruptToken, uin, err)
	}
	return decodeToken(uin, plaintext)
}

// SaveToken overwrites the account's token.json, sealed with the data
// root's key.
func (s *Storage) SaveToken(_ context.Context, uin int64, token *engine.Token) error {
	plaintext, err := encodeToken(uin, token)
	if err != nil {
		return err
	}
	data, err := s.seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	dir, err := s.ensureAccountDir(uin)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, TokenFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// DeleteToken removes the account's token.json if there is one.
func (s *Storage) DeleteToken(_ context.Context, uin int64) error {
	err := os.Remove(filepath.Join(s.AccountDir(uin), TokenFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// HasDevice reports whether the account has a device.json.
func (s *Storage) HasDevice(uin int64) bool {
	_, err := os.Stat(filepath.Join(s.AccountDir(uin), DeviceFile))
	return err == nil
}

// Forget removes every file of the account, device identity included.
func (s *Storage) Forget(uin int64) error {
	if err := os.RemoveAll(s.AccountDir(uin)); err != nil {
		return fmt.Errorf("failed to remove account directory: %w", err)
	}
	return nil
}

// Accounts lists the accounts that have a directory under the data root.
func (s *Storage) Accounts() ([]int64, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list data root: %w", err)
	}

	var uins []int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uin, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || uin <= 0 {
			continue
		}
		uins = append(uins, uin)
	}
	sort.Slice(uins, func(i, j int) bool { return uins[i] < uins[j] })
	return uins, nil
}

// State reports the stored state of an account. tokens selects where tokens
// live; nil means this store's token.json files.
func (s *Storage) State(ctx context.Context, uin int64, tokens TokenStore) (*AccountState, error) {
	if tokens == nil {
		tokens = s
	}

	state := &AccountState{
		Uin:           uin,
		Dir:           s.AccountDir(uin),
		DevicePresent: s.HasDevice(uin),
		Status:        NeverLoggedIn,
	}

	token, err := tokens.LoadToken(ctx, uin)
	switch {
	case errors.Is(err, ErrCorruptToken):
		state.TokenPresent = true
		state.TokenCorrupt = true
	case err != nil:
		return nil, err
	case token != nil:
		state.TokenPresent = true
		state.TokenIssuedAt = token.IssuedAt.Unix()
		state.Status = Disconnected
	}
	return state, nil
}

func encodeToken(uin int64, token *engine.Token) ([]byte, error) {
	if token == nil {
		return nil, errors.New("failed to marshal token: nil token")
	}
	if token.Uin != 0 && token.Uin != uin {
		return nil, fmt.Errorf("token belongs to account %d, not %d", token.Uin, uin)
	}

	stored := *token
	stored.Uin = uin
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	return data, nil
}

func decodeToken(uin int64, data []byte) (*engine.Token, error) {
	var token engine.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("%w: account %d: %w", ErrCorruptToken, uin, err)
	}
	if token.Uin != uin {
		return nil, fmt.Errorf("%w: account %d: token issued to account %d", ErrCorruptToken, uin, token.Uin)
	}
	return &token, nil
}
