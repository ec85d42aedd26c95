package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/task-reminders/internal/model"
)

const serviceName = "taskreminder"

// Keys of the secrets that may live in the keyring instead of the config file.
const (
	KeySMTPPassword    = "smtp-password"
	KeyVAPIDPrivateKey = "vapid-private-key"
)

// Known lists every key the application reads from the keyring.
var Known = []string{KeySMTPPassword, KeyVAPIDPrivateKey}

// IsKnown reports whether key is one of Known.
func IsKnown(key string) bool {
	for _, k := range Known {
		if k == key {
			return true
		}
	}
	return false
}

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store backed by the system keyring, falling back to an
// encrypted file under ~/.config/taskreminder/credentials.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/taskreminder/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("taskreminder-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns value when set, otherwise the keyring entry for key.
// A missing entry yields "" without error.
func (s *Store) Resolve(value, key string) (string, error) {
	if value != "" {
		return value, nil
	}
	v, err := s.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	return v, err
}

// Apply fills secrets missing from cfg with their keyring entries.
func (s *Store) Apply(cfg *model.AppConfig) error {
	var err error
	if cfg.Mail.SMTP.Password, err = s.Resolve(cfg.Mail.SMTP.Password, KeySMTPPassword); err != nil {
		return err
	}
	if cfg.Push.VAPIDPrivateKey, err = s.Resolve(cfg.Push.VAPIDPrivateKey, KeyVAPIDPrivateKey); err != nil {
		return err
	}
	return nil
}
