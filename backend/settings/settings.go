// Package settings loads agent configuration from the user config directory
// and the environment, and turns role configs into model providers.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/autoglm/autoagent/backend/model"
)

const (
	configDirName  = "autoagent"
	configFileName = "config.yaml"
)

// ProviderKind names a supported model backend.
type ProviderKind string

const (
	ProviderZhipu     ProviderKind = "zhipu"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderDeepSeek  ProviderKind = "deepseek"
	ProviderGemini    ProviderKind = "gemini"
)

// RoleConfig configures one of the two model roles. APIKey wins over
// APIKeyRef; APIKeyRef names a secret in the credential store.
type RoleConfig struct {
	Provider  ProviderKind `yaml:"provider"`
	Model     string       `yaml:"model"`
	BaseURL   string       `yaml:"base_url,omitempty"`
	APIKey    string       `yaml:"api_key,omitempty"`
	APIKeyRef string       `yaml:"api_key_ref,omitempty"`
}

// DeviceConfig configures the ADB connection.
type DeviceConfig struct {
	ADBPath string `yaml:"adb_path,omitempty"`
	Serial  string `yaml:"serial,omitempty"`
}

// LogConfig configures file logging.
type LogConfig struct {
	Level   string `yaml:"level,omitempty"`
	File    string `yaml:"file,omitempty"`
	MaxSize int    `yaml:"max_size_mb,omitempty"`
}

type Settings struct {
	Planner RoleConfig   `yaml:"planner"`
	Worker  RoleConfig   `yaml:"worker"`
	Device  DeviceConfig `yaml:"device,omitempty"`
	Log     LogConfig    `yaml:"log,omitempty"`
}

// Default returns the settings used when no config file exists. Both roles
// point at the Zhipu open platform, mirroring the phone assistant this agent
// drives.
func Default() Settings {
	return Settings{
		Planner: RoleConfig{
			Provider: ProviderZhipu,
			Model:    "glm-4.5",
		},
		Worker: RoleConfig{
			Provider: ProviderZhipu,
			Model:    "glm-4.1v-thinking-flash",
		},
		Log: LogConfig{
			Level:   "info",
			MaxSize: 20,
		},
	}
}

// ConfigDir returns the directory holding config.yaml and the file based
// secret store.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, configDirName)
}

// Load reads settings from the config file, applies environment overrides,
// and resolves secret references. A missing file yields defaults.
func Load(fs *afero.Afero, secrets SecretProvider) (Settings, error) {
	s := Default()

	path := filepath.Join(ConfigDir(), configFileName)
	exists, err := fs.Exists(path)
	if err != nil {
		return s, fmt.Errorf("failed to probe config file: %w", err)
	}

	if exists {
		content, err := fs.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, &s); err != nil {
			return s, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnv(&s)

	if err := resolveSecrets(&s, secrets); err != nil {
		return s, err
	}

	return s, nil
}

// Save writes settings back to the config file, creating the directory as
// needed. API keys resolved from secrets are not written out.
func Save(fs *afero.Afero, s Settings) error {
	dir := ConfigDir()
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := s
	if out.Planner.APIKeyRef != "" {
		out.Planner.APIKey = ""
	}
	if out.Worker.APIKeyRef != "" {
		out.Worker.APIKey = ""
	}

	content, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	path := filepath.Join(dir, configFileName)
	if err := fs.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func applyEnv(s *Settings) {
	applyRoleEnv("AUTOAGENT_PLANNER", &s.Planner)
	applyRoleEnv("AUTOAGENT_WORKER", &s.Worker)

	if v := os.Getenv("AUTOAGENT_ADB_PATH"); v != "" {
		s.Device.ADBPath = v
	}
	if v := os.Getenv("AUTOAGENT_ADB_SERIAL"); v != "" {
		s.Device.Serial = v
	}
	if v := os.Getenv("AUTOAGENT_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
}

func applyRoleEnv(prefix string, rc *RoleConfig) {
	if v := os.Getenv(prefix + "_PROVIDER"); v != "" {
		rc.Provider = ProviderKind(strings.ToLower(v))
	}
	if v := os.Getenv(prefix + "_MODEL"); v != "" {
		rc.Model = v
	}
	if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
		rc.BaseURL = v
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		rc.APIKey = v
	}
}

func resolveSecrets(s *Settings, secrets SecretProvider) error {
	if secrets == nil {
		return nil
	}
	for _, rc := range []*RoleConfig{&s.Planner, &s.Worker} {
		if rc.APIKey != "" || rc.APIKeyRef == "" {
			continue
		}
		key, err := secrets.Get(rc.APIKeyRef)
		if err != nil {
			var notFound *ErrSecretNotFound
			if errors.As(err, &notFound) {
				continue
			}
			return fmt.Errorf("failed to resolve credential %q: %w", rc.APIKeyRef, err)
		}
		rc.APIKey = strings.TrimSpace(key)
	}
	return nil
}

// Validate reports configuration problems that would prevent the agent from
// starting.
func (s Settings) Validate() error {
	var errs []error
	for role, rc := range map[string]RoleConfig{"planner": s.Planner, "worker": s.Worker} {
		if rc.Model == "" {
			errs = append(errs, fmt.Errorf("%s: model is required", role))
		}
		if rc.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: no API key configured", role))
		}
		switch rc.Provider {
		case ProviderZhipu, ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGemini:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", role, rc.Provider))
		}
	}
	return errors.Join(errs...)
}

// BuildProvider constructs the model provider for a role config.
func BuildProvider(ctx context.Context, rc RoleConfig) (model.Provider, error) {
	var opts []model.ProviderOption
	if rc.BaseURL != "" {
		opts = append(opts, model.WithBaseURL(rc.BaseURL))
	}

	switch rc.Provider {
	case ProviderZhipu:
		return model.NewZhipuProvider(rc.APIKey, opts...)
	case ProviderOpenAI:
		return model.NewOpenAIProvider(rc.APIKey, opts...)
	case ProviderAnthropic:
		return model.NewAnthropicProvider(rc.APIKey, opts...)
	case ProviderDeepSeek:
		return model.NewDeepSeekProvider(rc.APIKey, opts...)
	case ProviderGemini:
		return model.NewGeminiProvider(ctx, rc.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", rc.Provider)
	}
}
