package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

const keychainService = "autoagent"

// SecretProvider abstracts credential storage so API keys never have to live
// in the config file.
type SecretProvider interface {
	Get(key string) (string, error)
	Set(key string, value string) error
	Delete(key string) error
}

type ErrSecretNotFound struct {
	Key string
	Err error
}

func (e *ErrSecretNotFound) Error() string {
	return fmt.Sprintf("secret %s not found: %s", e.Key, e.Err)
}

func (e *ErrSecretNotFound) Is(target error) bool {
	_, ok := target.(*ErrSecretNotFound)
	return ok
}

func (e *ErrSecretNotFound) Unwrap() error {
	return e.Err
}

// FileProvider stores secrets as mode 0600 files under basePath. It is the
// fallback for systems without a usable keyring.
type FileProvider struct {
	basePath string
	fs       afero.Fs
}

func NewFileProvider(basePath string, fs afero.Fs) (*FileProvider, error) {
	if err := fs.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}

	return &FileProvider{basePath: basePath, fs: fs}, nil
}

func (fp *FileProvider) Get(key string) (string, error) {
	filePath := filepath.Join(fp.basePath, key)

	data, err := afero.ReadFile(fp.fs, filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ErrSecretNotFound{Key: key, Err: err}
		}
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}

	return string(data), nil
}

func (fp *FileProvider) Set(key string, value string) error {
	filePath := filepath.Join(fp.basePath, key)

	if err := afero.WriteFile(fp.fs, filePath, []byte(value), 0600); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}

	return nil
}

func (fp *FileProvider) Delete(key string) error {
	filePath := filepath.Join(fp.basePath, key)

	if err := fp.fs.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete secret file: %w", err)
	}

	return nil
}

// KeyringProvider stores secrets in the operating system keychain.
type KeyringProvider struct{}

func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{}
}

func (k *KeyringProvider) Get(key string) (string, error) {
	secret, err := keyring.Get(keychainService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", &ErrSecretNotFound{Key: key, Err: err}
		}
		return "", err
	}
	return secret, nil
}

func (k *KeyringProvider) Set(key string, value string) error {
	return keyring.Set(keychainService, key, value)
}

func (k *KeyringProvider) Delete(key string) error {
	err := keyring.Delete(keychainService, key)
	if err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}
